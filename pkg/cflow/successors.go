package cflow

import (
	"fmt"

	"github.com/715d/jflow/pkg/bytecode"
	"github.com/715d/jflow/pkg/frame"
	"github.com/715d/jflow/pkg/jtype"
)

// BranchTargetUnavailableError reports that the frame decides a null test
// statically: Remaining are the only real successors and Unavailable can
// not be reached from this state. Cause is the node that produced the
// tested value.
type BranchTargetUnavailableError struct {
	Node        int
	Unavailable []int
	Remaining   []int
	Cause       int
}

func (e *BranchTargetUnavailableError) Error() string {
	return fmt.Sprintf("node %d: branch targets %v unavailable, value produced by node %d", e.Node, e.Unavailable, e.Cause)
}

// CausingNode returns the node responsible for pruning the branch.
func (e *BranchTargetUnavailableError) CausingNode() int { return e.Cause }

// Successors returns the successors of node i when executed with frame f,
// which must be the frame before the instruction runs. Subroutine calls
// enter the subroutine and ret continues at the return address held in its
// local. When an ifnull or ifnonnull tests a value known to be null or
// non-null, Successors returns the remaining targets together with a
// *BranchTargetUnavailableError.
func (g *Graph) Successors(i int, f *frame.Frame) ([]int, error) {
	n := g.Node(i)
	in := n.Instr
	switch in.Op {
	case bytecode.IfNull, bytecode.IfNonNull:
		if len(n.flow) != 2 {
			return n.flow, nil
		}
		top := f.Peek(0)
		var isNull bool
		switch {
		case top.IsNull():
			isNull = true
		case top.IsNonNull():
			isNull = false
		default:
			return n.flow, nil
		}
		next, target := n.flow[0], n.flow[1]
		taken := isNull == (in.Op == bytecode.IfNull)
		remaining, unavailable := next, target
		if taken {
			remaining, unavailable = target, next
		}
		return []int{remaining}, &BranchTargetUnavailableError{
			Node:        i,
			Unavailable: []int{unavailable},
			Remaining:   []int{remaining},
			Cause:       f.Producer(0),
		}
	case bytecode.Jsr, bytecode.JsrW:
		return n.flow[len(n.flow)-1:], nil
	case bytecode.Ret:
		addr := f.Local(in.Index)
		if addr.Kind() != jtype.ReturnAddress {
			frame.Faultf("ret %d: local holds %s, not a return address", in.Index, addr)
		}
		t := addr.Target()
		if t < 0 || t >= len(g.nodes) {
			frame.Faultf("ret %d: return address %d out of range", in.Index, t)
		}
		return []int{t}, nil
	}
	return n.flow, nil
}

// StartFrame returns the frame on method entry: the receiver in slot 0 for
// instance methods (uninitialized in constructors), then the parameters.
// The receiver is known to be non-null.
func (g *Graph) StartFrame(resolver *jtype.Resolver) (*frame.Frame, error) {
	m := g.method
	sig, err := resolver.Method(m.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", m, err)
	}
	need := sig.ArgSlots()
	if !m.Static {
		need++
	}
	if need > m.MaxLocals {
		return nil, fmt.Errorf("method %s: %d parameter slots exceed max locals %d", m, need, m.MaxLocals)
	}
	f := frame.New(m.MaxLocals)
	slot := 0
	if !m.Static {
		this := jtype.NonNullObject(m.Class)
		if m.IsConstructor() {
			this = jtype.UninitializedOf(m.Class, jtype.NoTarget)
		}
		f.SetLocal(0, this, frame.NoProducer)
		slot++
	}
	for _, p := range sig.Params {
		f.SetLocal(slot, p, frame.NoProducer)
		slot += p.Size()
	}
	return f, nil
}
