package bytecode

import (
	"fmt"
	"sort"
)

// ConstructorName is the name of instance initialization methods.
const ConstructorName = "<init>"

// Handler is one exception table entry. The protected range is
// [Start, End) in code offsets.
type Handler struct {
	Start     int
	End       int
	Handler   int
	CatchType string // internal class name; empty catches everything
}

// Covers reports whether the handler protects the instruction at offset.
func (h Handler) Covers(offset int) bool {
	return offset >= h.Start && offset < h.End
}

// LineNumber maps the instructions starting at Start to a source line.
type LineNumber struct {
	Start int
	Line  int
}

// LocalVariable is one local variable table entry, valid for code offsets
// in [Start, Start+Length).
type LocalVariable struct {
	Slot       int
	Name       string
	Descriptor string
	Start      int
	Length     int
}

// Covers reports whether the entry is in scope at offset.
func (v LocalVariable) Covers(offset int) bool {
	return offset >= v.Start && offset < v.Start+v.Length
}

// Method is a decoded method body.
type Method struct {
	Class      string
	Name       string
	Descriptor string
	Static     bool
	MaxStack   int
	MaxLocals  int
	Code       []Instruction
	Handlers   []Handler
	Lines      []LineNumber
	Locals     []LocalVariable
}

// IsConstructor reports whether the method is an instance initializer.
func (m *Method) IsConstructor() bool {
	return m.Name == ConstructorName
}

// CodeLength returns the length of the code array in bytes.
func (m *Method) CodeLength() int {
	if len(m.Code) == 0 {
		return 0
	}
	last := &m.Code[len(m.Code)-1]
	return last.Offset + last.Len()
}

func (m *Method) String() string {
	return fmt.Sprintf("%s.%s%s", m.Class, m.Name, m.Descriptor)
}

// SortedLines returns the line table ordered by start offset.
func (m *Method) SortedLines() []LineNumber {
	lines := make([]LineNumber, len(m.Lines))
	copy(lines, m.Lines)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Start < lines[j].Start })
	return lines
}

// LineAt returns the source line of the instruction at offset, or -1 when the
// method has no line table entry covering it.
func (m *Method) LineAt(offset int) int {
	line := -1
	start := -1
	for _, ln := range m.Lines {
		if ln.Start <= offset && ln.Start > start {
			start = ln.Start
			line = ln.Line
		}
	}
	return line
}

// LocalAt returns the local variable table entry for slot in scope at
// offset.
func (m *Method) LocalAt(slot, offset int) (LocalVariable, bool) {
	for _, v := range m.Locals {
		if v.Slot == slot && v.Covers(offset) {
			return v, true
		}
	}
	return LocalVariable{}, false
}

// Validate checks that the method is well-formed enough to be analyzed: code
// is present, offsets are increasing and every instruction carries the
// operands its opcode needs.
func (m *Method) Validate() error {
	if len(m.Code) == 0 {
		return fmt.Errorf("method %s: no code", m)
	}
	prev := -1
	for i := range m.Code {
		in := &m.Code[i]
		if !in.Op.Valid() || in.Op == Wide {
			return fmt.Errorf("method %s: instruction %d: invalid opcode %d", m, i, in.Op)
		}
		if in.Offset <= prev {
			return fmt.Errorf("method %s: instruction %d: offset %d not increasing", m, i, in.Offset)
		}
		prev = in.Offset
		if err := in.checkOperands(); err != nil {
			return fmt.Errorf("method %s: instruction %d (%s): %w", m, i, in.Op, err)
		}
	}
	for i, h := range m.Handlers {
		if h.Start >= h.End {
			return fmt.Errorf("method %s: handler %d: empty range [%d, %d)", m, i, h.Start, h.End)
		}
	}
	return nil
}
