package cflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/715d/jflow/pkg/bytecode"
	"github.com/715d/jflow/pkg/frame"
	"github.com/715d/jflow/pkg/jtype"
)

func assemble(t *testing.T, static bool, desc, src string) *bytecode.Method {
	t.Helper()
	code, err := bytecode.AssembleString(src)
	require.NoError(t, err)
	return &bytecode.Method{
		Class:      "a/B",
		Name:       "m",
		Descriptor: desc,
		Static:     static,
		MaxLocals:  max(code.MaxLocals, 1),
		Code:       code.Instructions,
		Handlers:   code.Handlers,
		Lines:      code.Lines,
		Locals:     code.Locals,
	}
}

func build(t *testing.T, static bool, desc, src string) *Graph {
	t.Helper()
	g, err := Build(assemble(t, static, desc, src))
	require.NoError(t, err)
	return g
}

const switchSrc = `
    iload_0
    ifeq L1
    iload_0
    tableswitch 0 L1 L2 L1 default L3
L1: goto L3
L2: jsr L4
L3: return
L4: astore_1
    ret 1
`

func TestBuild_successors(t *testing.T) {
	g := build(t, true, "(I)V", switchSrc)
	require.Equal(t, 9, g.Len())

	tests := []struct {
		node  int
		flow  []int
		preds []int
	}{
		{node: 0, flow: []int{1}},
		{node: 1, flow: []int{2, 4}, preds: []int{0}},
		{node: 2, flow: []int{3}, preds: []int{1}},
		{node: 3, flow: []int{6, 4, 5}, preds: []int{2}},
		{node: 4, flow: []int{6}, preds: []int{1, 3}},
		{node: 5, flow: []int{6, 7}, preds: []int{3}},
		{node: 6, preds: []int{3, 4, 5}},
		{node: 7, flow: []int{8}, preds: []int{5}},
		{node: 8, preds: []int{7}},
	}
	for _, tt := range tests {
		n := g.Node(tt.node)
		require.Equal(t, tt.flow, n.Flow(), "flow of %s", n)
		require.Equal(t, tt.flow, n.Succs(), "succs of %s", n)
		require.Equal(t, tt.preds, n.Preds(), "preds of %s", n)
	}
	require.True(t, g.Dead().IsEmpty())

	idx, ok := g.indexOf(32)
	require.True(t, ok)
	require.Equal(t, 4, idx)
}

const handlerSrc = `
L0: aload_0
    invokevirtual java/lang/Object/hashCode()I
    pop
L1: goto L3
    iconst_0
L2: astore_1
    aload_1
    athrow
L3: return
L4: iconst_0
    goto L4
.catch java/lang/Exception from L0 to L1 using L2
`

func TestBuild_handlersAndDeadCode(t *testing.T) {
	g := build(t, false, "()V", handlerSrc)

	require.Equal(t, []int{1, 5}, g.Node(0).Succs())
	require.Equal(t, []int{1}, g.Node(0).Flow())
	require.Equal(t, []Handler{{Entry: 5, CatchType: "java/lang/Exception"}}, g.Node(1).Handlers())
	require.Empty(t, g.Node(3).Handlers())
	require.Equal(t, []int{4, 0, 1, 2}, g.Node(5).Preds())

	require.Equal(t, []uint32{4, 9, 10}, g.Dead().ToArray())
	require.True(t, g.IsDead(9))
	require.False(t, g.IsDead(5))

	// Dead returns a copy.
	g.Dead().Add(0)
	require.False(t, g.IsDead(0))

	require.Equal(t, []int{1, 0}, g.PredecessorRun(2))
	require.Empty(t, g.PredecessorRun(5))
	require.Equal(t, []int{6, 5}, g.PredecessorRun(7))
	require.Equal(t, []int{9}, g.PredecessorRun(10))
}

func TestGraph_SuccessorClosure(t *testing.T) {
	g := build(t, true, "(I)V", switchSrc)

	set := roaring.New()
	g.SuccessorClosure(2, set)
	require.Equal(t, []uint32{2, 3, 5, 7, 8}, set.ToArray())

	// Nodes already in the set count as dead predecessors.
	set = roaring.BitmapOf(1)
	g.SuccessorClosure(2, set)
	require.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8}, set.ToArray())
}

func TestBuild_sameLine(t *testing.T) {
	src := `
.line 5
L0: aload_0
    invokevirtual a/B/f()V
.line 6
L2: aload_0
    invokevirtual a/B/g()V
.line 7
    return
L1:
.line 8
    astore_1
.line 6
    aload_0
    invokevirtual a/B/g()V
.line 8
    aload_1
    athrow
.catch all from L0 to L2 using L1
`
	g := build(t, false, "()V", src)

	require.Equal(t, []int{2, 6}, g.Node(2).SameLine())
	require.Equal(t, []int{3, 7}, g.Node(3).SameLine())
	require.Equal(t, []int{2, 6}, g.Node(6).SameLine())
	require.Equal(t, []int{3, 7}, g.Node(7).SameLine())
	require.Equal(t, []int{5}, g.Node(5).SameLine())
	require.Equal(t, []int{0}, g.Node(0).SameLine())

	require.Equal(t, 6, g.Node(7).Line)
	require.Equal(t, 8, g.Node(9).Line)
	require.Equal(t, []int{5, 6}, g.Lines([]int{2, 6, 0}))

	require.Equal(t, []Handler{{Entry: 5}}, g.Node(1).Handlers())
}

func TestBuild_errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "target_past_end", src: "goto L0\nL0:"},
		{name: "falls_off_end", src: "nop"},
		{name: "empty", src: ""},
		{name: "handler_past_end", src: "L0: return\nL1:\n.catch all from L0 to L1 using L1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(assemble(t, true, "()V", tt.src))
			require.Error(t, err)
		})
	}
}

func TestGraph_Successors(t *testing.T) {
	src := `
    aload_0
    ifnull L1
    return
L1: return
`
	tests := []struct {
		name        string
		op          string
		top         *jtype.Type
		want        []int
		unavailable []int
	}{
		{name: "ifnull_null", op: "ifnull", top: jtype.NullType, want: []int{3}, unavailable: []int{2}},
		{name: "ifnull_nonnull", op: "ifnull", top: jtype.NonNullObject("a/B"), want: []int{2}, unavailable: []int{3}},
		{name: "ifnull_unknown", op: "ifnull", top: jtype.Object("a/B"), want: []int{2, 3}},
		{name: "ifnonnull_null", op: "ifnonnull", top: jtype.NullType, want: []int{2}, unavailable: []int{3}},
		{name: "ifnonnull_nonnull", op: "ifnonnull", top: jtype.NonNullObject("a/B"), want: []int{3}, unavailable: []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := build(t, true, "(Ljava/lang/Object;)V", strings.Replace(src, "ifnull", tt.op, 1))
			f := frame.New(1)
			f.Push(tt.top, 0)

			succ, err := g.Successors(1, f)
			require.Equal(t, tt.want, succ)
			if tt.unavailable == nil {
				require.NoError(t, err)
				return
			}
			var bErr *BranchTargetUnavailableError
			require.True(t, errors.As(err, &bErr))
			require.Equal(t, tt.unavailable, bErr.Unavailable)
			require.Equal(t, tt.want, bErr.Remaining)
			require.Equal(t, 0, bErr.CausingNode())
			require.Equal(t, 1, bErr.Node)
		})
	}
}

func TestGraph_SuccessorsSubroutine(t *testing.T) {
	g := build(t, true, "(I)V", switchSrc)
	f := frame.New(2)

	succ, err := g.Successors(5, f)
	require.NoError(t, err)
	require.Equal(t, []int{7}, succ)

	f.SetLocal(1, jtype.ReturnAddressOf(6), 5)
	succ, err = g.Successors(8, f)
	require.NoError(t, err)
	require.Equal(t, []int{6}, succ)

	f.SetLocal(1, jtype.IntType, 5)
	require.Panics(t, func() { _, _ = g.Successors(8, f) })
}

func TestGraph_StartFrame(t *testing.T) {
	r := jtype.NewResolver()
	m := &bytecode.Method{
		Class:      "a/B",
		Name:       "m",
		Descriptor: "(JLjava/lang/String;Z)V",
		MaxLocals:  6,
		Code:       []bytecode.Instruction{{Op: bytecode.Return}},
	}
	g, err := Build(m)
	require.NoError(t, err)
	f, err := g.StartFrame(r)
	require.NoError(t, err)
	require.True(t, f.Local(0).Equal(jtype.NonNullObject("a/B")))
	require.Equal(t, jtype.Long, f.Local(1).Kind())
	require.Equal(t, jtype.Top, f.Local(2).Kind())
	require.True(t, f.Local(3).Equal(jtype.Object("java/lang/String")))
	require.Equal(t, jtype.Int, f.Local(4).Kind())
	require.Equal(t, jtype.Top, f.Local(5).Kind())
	require.Equal(t, frame.NoProducer, f.LocalProducer(0))
	require.Zero(t, f.Depth())

	m.Name = bytecode.ConstructorName
	m.Descriptor = "()V"
	g, err = Build(m)
	require.NoError(t, err)
	f, err = g.StartFrame(r)
	require.NoError(t, err)
	require.Equal(t, jtype.Uninitialized, f.Local(0).Kind())
	require.Equal(t, jtype.NoTarget, f.Local(0).Target())

	m.Name, m.Static, m.Descriptor, m.MaxLocals = "s", true, "(JJ)V", 3
	g, err = Build(m)
	require.NoError(t, err)
	_, err = g.StartFrame(r)
	require.Error(t, err)
}

func TestGraph_Dot(t *testing.T) {
	g := build(t, false, "()V", handlerSrc)
	out := g.Dot()
	require.Contains(t, out, "digraph")
	require.Contains(t, out, "invokevirtual java/lang/Object.hashCode()I")
	require.Contains(t, out, "dashed")
	require.Contains(t, out, "lightgrey")
}
