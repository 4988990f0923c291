package access

import (
	"slices"

	"github.com/715d/jflow/pkg/bytecode"
	"github.com/715d/jflow/pkg/cflow"
	"github.com/715d/jflow/pkg/frame"
	"github.com/715d/jflow/pkg/jtype"
)

// Dependency is a member or type reference found in a method, with the
// receiver type inferred on the first path that reached it.
type Dependency struct {
	Node    int                 `json:"node"`
	Offset  int                 `json:"offset"`
	Line    int                 `json:"line"`
	Op      string              `json:"op"`
	Member  *bytecode.MemberRef `json:"member,omitempty"`
	Class   string              `json:"class,omitempty"`
	Context string              `json:"context,omitempty"`
}

// Collector is a Visitor that records one Dependency per visited
// instruction referencing a member or type. A Collector serves one method
// analysis at a time.
type Collector struct {
	resolver *jtype.Resolver
	deps     []Dependency
}

func NewCollector(resolver *jtype.Resolver) *Collector {
	return &Collector{resolver: resolver}
}

// VisitInstruction implements Visitor.
func (c *Collector) VisitInstruction(n *cflow.Node, f *frame.Frame) error {
	in := n.Instr
	dep := Dependency{Node: n.Index, Offset: in.Offset, Line: n.Line, Op: in.Op.String()}
	switch {
	case in.Member != nil && in.Op != bytecode.InvokeDynamic:
		dep.Member = in.Member
		dep.Class = in.Member.Owner
	case in.Class != "":
		dep.Class = in.Class
	case in.Const != nil && in.Const.Kind == bytecode.ConstClass:
		dep.Class = in.Const.Value
	}

	ctx, err := Context(n, f, c.resolver)
	if err != nil {
		return err
	}
	if ctx != nil {
		dep.Context = ctx.Initialized().Name()
	} else if dep.Member != nil {
		// static access: the owner is the context
		dep.Context = dep.Member.Owner
	}
	if dep.Class == "" && dep.Context == "" {
		return nil
	}
	c.deps = append(c.deps, dep)
	return nil
}

// Dependencies returns the recorded dependencies ordered by node.
func (c *Collector) Dependencies() []Dependency {
	deps := slices.Clone(c.deps)
	slices.SortStableFunc(deps, func(a, b Dependency) int { return a.Node - b.Node })
	return deps
}
