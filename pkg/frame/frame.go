// Package frame implements the abstract JVM frame used during path
// exploration: symbolic local variables and operand stack, each slot paired
// with the index of the instruction node that produced its value.
package frame

import (
	"fmt"
	"strings"

	"github.com/715d/jflow/pkg/jtype"
)

// NoProducer marks a value that no instruction of the method produced, such
// as a parameter or an unassigned local.
const NoProducer = -1

// Fault is the panic value raised on impossible frame operations such as
// popping an empty stack. It signals malformed input or an internal bug and
// aborts the analysis of the enclosing method.
type Fault struct {
	Msg string
}

func (f *Fault) Error() string { return "frame fault: " + f.Msg }

// Faultf panics with a *Fault.
func Faultf(format string, args ...any) {
	panic(&Fault{Msg: fmt.Sprintf(format, args...)})
}

// Frame is a symbolic snapshot of locals and operand stack. Long and double
// values take one stack entry and two local slots, the second holding Top.
//
// A Frame is owned by one exploration path at a time; branches take a Clone.
type Frame struct {
	locals   []*jtype.Type
	localSrc []int
	stack    []*jtype.Type
	stackSrc []int
}

// New returns a frame with maxLocals unassigned locals and an empty stack.
func New(maxLocals int) *Frame {
	f := &Frame{
		locals:   make([]*jtype.Type, maxLocals),
		localSrc: make([]int, maxLocals),
	}
	for i := range f.locals {
		f.locals[i] = jtype.TopType
		f.localSrc[i] = NoProducer
	}
	return f
}

// Push pushes a value produced by node src.
func (f *Frame) Push(t *jtype.Type, src int) {
	f.stack = append(f.stack, t)
	f.stackSrc = append(f.stackSrc, src)
}

// Pop removes the top value and returns it with its producer.
func (f *Frame) Pop() (*jtype.Type, int) {
	n := len(f.stack)
	if n == 0 {
		Faultf("pop from empty stack")
	}
	t, src := f.stack[n-1], f.stackSrc[n-1]
	f.stack[n-1] = nil
	f.stack = f.stack[:n-1]
	f.stackSrc = f.stackSrc[:n-1]
	return t, src
}

// PopN discards the top n values.
func (f *Frame) PopN(n int) {
	for range n {
		f.Pop()
	}
}

// Peek returns the value depth entries below the top; 0 is the top.
func (f *Frame) Peek(depth int) *jtype.Type {
	return f.stack[f.stackIndex(depth)]
}

// Producer returns the producer of the value depth entries below the top.
func (f *Frame) Producer(depth int) int {
	return f.stackSrc[f.stackIndex(depth)]
}

// SetProducer replaces the producer of the value depth entries below the top.
func (f *Frame) SetProducer(depth, src int) {
	f.stackSrc[f.stackIndex(depth)] = src
}

func (f *Frame) stackIndex(depth int) int {
	i := len(f.stack) - 1 - depth
	if depth < 0 || i < 0 {
		Faultf("peek at depth %d of stack with %d entries", depth, len(f.stack))
	}
	return i
}

// Depth returns the number of stack entries.
func (f *Frame) Depth() int { return len(f.stack) }

// ClearStack empties the operand stack.
func (f *Frame) ClearStack() {
	clear(f.stack)
	f.stack = f.stack[:0]
	f.stackSrc = f.stackSrc[:0]
}

// MaxLocals returns the number of local variable slots.
func (f *Frame) MaxLocals() int { return len(f.locals) }

// Local returns the type held by local slot i.
func (f *Frame) Local(i int) *jtype.Type {
	f.checkLocal(i)
	return f.locals[i]
}

// LocalProducer returns the producer of the value in local slot i.
func (f *Frame) LocalProducer(i int) int {
	f.checkLocal(i)
	return f.localSrc[i]
}

// SetLocal stores a value produced by src into slot i.
func (f *Frame) SetLocal(i int, t *jtype.Type, src int) {
	f.checkLocal(i)
	f.locals[i] = t
	f.localSrc[i] = src
}

func (f *Frame) checkLocal(i int) {
	if i < 0 || i >= len(f.locals) {
		Faultf("local %d out of range [0, %d)", i, len(f.locals))
	}
}

// Replace substitutes to for every occurrence of from in locals and stack,
// keeping producers. Used when a constructor initializes an object.
func (f *Frame) Replace(from, to *jtype.Type) {
	for i, t := range f.locals {
		if t.Equal(from) {
			f.locals[i] = to
		}
	}
	for i, t := range f.stack {
		if t.Equal(from) {
			f.stack[i] = to
		}
	}
}

// Clone returns an independent copy. Types are immutable and shared.
func (f *Frame) Clone() *Frame {
	return &Frame{
		locals:   append([]*jtype.Type(nil), f.locals...),
		localSrc: append([]int(nil), f.localSrc...),
		stack:    append(make([]*jtype.Type, 0, cap(f.stack)), f.stack...),
		stackSrc: append(make([]int, 0, cap(f.stackSrc)), f.stackSrc...),
	}
}

// Equal reports whether two frames hold the same types and producers.
func (f *Frame) Equal(o *Frame) bool {
	if len(f.locals) != len(o.locals) || len(f.stack) != len(o.stack) {
		return false
	}
	for i := range f.locals {
		if !f.locals[i].Equal(o.locals[i]) || f.localSrc[i] != o.localSrc[i] {
			return false
		}
	}
	for i := range f.stack {
		if !f.stack[i].Equal(o.stack[i]) || f.stackSrc[i] != o.stackSrc[i] {
			return false
		}
	}
	return true
}

func (f *Frame) String() string {
	var b strings.Builder
	b.WriteString("locals:")
	for i, t := range f.locals {
		fmt.Fprintf(&b, " %d=%s<%d", i, t, f.localSrc[i])
	}
	b.WriteString(" stack:")
	for i, t := range f.stack {
		fmt.Fprintf(&b, " %s<%d", t, f.stackSrc[i])
	}
	return b.String()
}
