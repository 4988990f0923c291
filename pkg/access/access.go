// Package access defines how instruction visitors observe an exploration
// path, and provides the default visitor that resolves the receiver type
// ("access context") of field, method and array accesses.
package access

import (
	"fmt"

	"github.com/715d/jflow/pkg/bytecode"
	"github.com/715d/jflow/pkg/cflow"
	"github.com/715d/jflow/pkg/frame"
	"github.com/715d/jflow/pkg/jtype"
)

// Visitor is called for an instruction before it executes, with the frame
// of the current path. The explorer calls it until the first call for a
// node (or a same-line copy of it) returns nil.
//
// Returning *AccessContextUnavailableError cuts the current path. Any other
// error aborts the analysis of the method.
type Visitor interface {
	VisitInstruction(n *cflow.Node, f *frame.Frame) error
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(n *cflow.Node, f *frame.Frame) error

func (fn VisitorFunc) VisitInstruction(n *cflow.Node, f *frame.Frame) error { return fn(n, f) }

// AccessContextUnavailableError reports that an instruction dereferences a
// receiver that is null on the current path. Cause is the node that
// produced the null value.
type AccessContextUnavailableError struct {
	Node  int
	Cause int
}

func (e *AccessContextUnavailableError) Error() string {
	return fmt.Sprintf("node %d: receiver is null, produced by node %d", e.Node, e.Cause)
}

// CausingNode returns the node that produced the null receiver.
func (e *AccessContextUnavailableError) CausingNode() int { return e.Cause }

// ReceiverDepth returns the stack depth of the object an instruction
// dereferences, counted in stack entries from the top. ok is false for
// instructions without a receiver, including static accesses.
func ReceiverDepth(in *bytecode.Instruction, resolver *jtype.Resolver) (depth int, ok bool, err error) {
	switch op := in.Op; {
	case op == bytecode.GetField, op == bytecode.ArrayLength:
		return 0, true, nil
	case op == bytecode.PutField:
		return 1, true, nil
	case op >= bytecode.Iaload && op <= bytecode.Saload:
		return 1, true, nil
	case op >= bytecode.Iastore && op <= bytecode.Sastore:
		return 2, true, nil
	case op == bytecode.InvokeVirtual, op == bytecode.InvokeSpecial, op == bytecode.InvokeInterface:
		sig, err := resolver.Method(in.Member.Descriptor)
		if err != nil {
			return 0, false, err
		}
		return len(sig.Params), true, nil
	}
	return 0, false, nil
}

// Context returns the receiver type of the instruction at node n in frame
// f, or nil for instructions without a receiver. A null receiver yields
// *AccessContextUnavailableError.
func Context(n *cflow.Node, f *frame.Frame, resolver *jtype.Resolver) (*jtype.Type, error) {
	depth, ok, err := ReceiverDepth(n.Instr, resolver)
	if err != nil || !ok {
		return nil, err
	}
	receiver := f.Peek(depth)
	if receiver.IsNull() {
		return nil, &AccessContextUnavailableError{Node: n.Index, Cause: f.Producer(depth)}
	}
	return receiver, nil
}
