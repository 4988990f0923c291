// Package cflow builds the instruction flow graph of a method: successor,
// predecessor and exception handler edges between instruction nodes, the
// statically dead nodes, and groups of instructions duplicated from the same
// source line.
package cflow

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/715d/jflow/pkg/bytecode"
)

// Handler is an exception handler protecting a node.
type Handler struct {
	Entry     int    // node index of the handler's first instruction
	CatchType string // internal class name; empty catches everything
}

// Node is one instruction of the graph. Edges are node indices and do not
// change after Build.
type Node struct {
	Index int
	Instr *bytecode.Instruction
	Line  int // source line, or -1

	flow     []int // control flow successors
	succs    []int // flow successors plus handler entries
	preds    []int
	handlers []Handler
	sameLine []int
}

// Flow returns the control flow successors of the node, ignoring exception
// handlers and frame contents.
func (n *Node) Flow() []int { return n.flow }

// Succs returns every successor: control flow targets followed by the
// entries of protecting handlers.
func (n *Node) Succs() []int { return n.succs }

// Preds returns every predecessor in the order edges were added.
func (n *Node) Preds() []int { return n.preds }

// Handlers returns the protecting handlers in exception table order.
func (n *Node) Handlers() []Handler { return n.handlers }

// SameLine returns the nodes compiled from the same source construct as n,
// including n itself.
func (n *Node) SameLine() []int { return n.sameLine }

// Throws reports whether the instruction may transfer control to a handler.
func (n *Node) Throws() bool { return n.Instr.Op.Throws() }

func (n *Node) String() string {
	return fmt.Sprintf("[%d] %s (p=%d,s=%d,l#=%d)", n.Index, n.Instr, len(n.preds), len(n.succs), n.Line)
}

// Graph is the instruction flow graph of one method. It is read-only after
// Build and may be shared between goroutines.
type Graph struct {
	method   *bytecode.Method
	nodes    []Node
	byOffset map[int]int
	dead     *roaring.Bitmap
}

// Build creates the flow graph of m.
func Build(m *bytecode.Method) (*Graph, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	g := &Graph{
		method:   m,
		nodes:    make([]Node, len(m.Code)),
		byOffset: make(map[int]int, len(m.Code)),
		dead:     roaring.New(),
	}
	for i := range m.Code {
		in := &m.Code[i]
		g.nodes[i] = Node{Index: i, Instr: in, Line: m.LineAt(in.Offset), sameLine: []int{i}}
		g.byOffset[in.Offset] = i
	}
	if err := g.addEdges(); err != nil {
		return nil, fmt.Errorf("method %s: %w", m, err)
	}
	g.findDeadCode()
	g.findSameLine()
	return g, nil
}

func (g *Graph) addEdges() error {
	for i := range g.nodes {
		n := &g.nodes[i]
		flow, err := g.rawSuccessors(n)
		if err != nil {
			return err
		}
		n.flow = flow
		for _, s := range flow {
			g.addEdge(i, s)
		}
	}
	for hi, h := range g.method.Handlers {
		entry, ok := g.indexOf(h.Handler)
		if !ok {
			return fmt.Errorf("handler %d: no instruction at offset %d", hi, h.Handler)
		}
		for i := range g.nodes {
			n := &g.nodes[i]
			if h.Covers(n.Instr.Offset) {
				n.handlers = append(n.handlers, Handler{Entry: entry, CatchType: h.CatchType})
				g.addEdge(i, entry)
			}
		}
	}
	return nil
}

// addEdge adds from→to and the reverse predecessor edge, once.
func (g *Graph) addEdge(from, to int) {
	n := &g.nodes[from]
	if slices.Contains(n.succs, to) {
		return
	}
	n.succs = append(n.succs, to)
	g.nodes[to].preds = append(g.nodes[to].preds, from)
}

func (g *Graph) rawSuccessors(n *Node) ([]int, error) {
	in := n.Instr
	next := func() ([]int, error) {
		if n.Index+1 >= len(g.nodes) {
			return nil, fmt.Errorf("instruction %d (%s) falls off the end of the code", n.Index, in)
		}
		return []int{n.Index + 1}, nil
	}
	switch in.Op.Flow() {
	case bytecode.FlowReturn, bytecode.FlowThrow, bytecode.FlowRet:
		return nil, nil
	case bytecode.FlowGoto:
		t, err := g.target(in, in.Target)
		if err != nil {
			return nil, err
		}
		return []int{t}, nil
	case bytecode.FlowBranch, bytecode.FlowJsr:
		// fall-through first, then the target; jsr approximates its return
		// as a fall-through
		succ, err := next()
		if err != nil {
			return nil, err
		}
		t, err := g.target(in, in.Target)
		if err != nil {
			return nil, err
		}
		if t != succ[0] {
			succ = append(succ, t)
		}
		return succ, nil
	case bytecode.FlowSwitch:
		var succ []int
		for _, off := range in.Targets() {
			t, err := g.target(in, off)
			if err != nil {
				return nil, err
			}
			if !slices.Contains(succ, t) {
				succ = append(succ, t)
			}
		}
		return succ, nil
	}
	return next()
}

func (g *Graph) target(in *bytecode.Instruction, offset int) (int, error) {
	t, ok := g.indexOf(offset)
	if !ok {
		return 0, fmt.Errorf("instruction at %d (%s): no instruction at target offset %d", in.Offset, in, offset)
	}
	return t, nil
}

// findDeadCode marks every node not reachable from the entry node. This is
// the fixpoint of "dead iff no live predecessor" with the entry always live,
// and does not depend on back edges pointing to earlier indices.
func (g *Graph) findDeadCode() {
	live := make([]bool, len(g.nodes))
	live[0] = true
	work := []int{0}
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range g.nodes[n].succs {
			if !live[s] {
				live[s] = true
				work = append(work, s)
			}
		}
	}
	for i, ok := range live {
		if !ok {
			g.dead.Add(uint32(i))
		}
	}
}

// findSameLine pairs up instruction runs that start at line table entries
// with equal line numbers and have identical opcode sequences, as produced
// by compilers that duplicate finally blocks.
func (g *Graph) findSameLine() {
	lines := g.method.SortedLines()
	if len(lines) == 0 {
		return
	}
	runs := make([][]int, len(lines))
	for k, ln := range lines {
		end := g.method.CodeLength()
		for _, next := range lines[k+1:] {
			if next.Start > ln.Start {
				end = next.Start
				break
			}
		}
		for i := range g.nodes {
			off := g.nodes[i].Instr.Offset
			if off >= ln.Start && off < end {
				runs[k] = append(runs[k], i)
			}
		}
	}
	for i := range lines {
		for j := range lines {
			if i == j || lines[i].Line != lines[j].Line || lines[i].Start == lines[j].Start {
				continue
			}
			if !g.sameOpcodes(runs[i], runs[j]) {
				continue
			}
			for k, a := range runs[i] {
				b := runs[j][k]
				n := &g.nodes[a]
				if !slices.Contains(n.sameLine, b) {
					n.sameLine = append(n.sameLine, b)
				}
			}
		}
	}
	for i := range g.nodes {
		slices.Sort(g.nodes[i].sameLine)
	}
}

func (g *Graph) sameOpcodes(a, b []int) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for k := range a {
		if g.nodes[a[k]].Instr.Op != g.nodes[b[k]].Instr.Op {
			return false
		}
	}
	return true
}

// Method returns the method the graph was built from.
func (g *Graph) Method() *bytecode.Method { return g.method }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node with index i.
func (g *Graph) Node(i int) *Node {
	if i < 0 || i >= len(g.nodes) {
		panic(fmt.Sprintf("cflow: node %d out of range [0, %d)", i, len(g.nodes)))
	}
	return &g.nodes[i]
}

// indexOf returns the node of the instruction at offset.
func (g *Graph) indexOf(offset int) (int, bool) {
	i, ok := g.byOffset[offset]
	return i, ok
}

// IsDead reports whether node i is statically unreachable.
func (g *Graph) IsDead(i int) bool { return g.dead.Contains(uint32(i)) }

// Dead returns a copy of the set of statically unreachable nodes.
func (g *Graph) Dead() *roaring.Bitmap { return g.dead.Clone() }

// PredecessorRun returns the straight-line run of nodes that must execute
// before n: its only predecessor, that node's only predecessor, and so on.
func (g *Graph) PredecessorRun(n int) []int {
	var run []int
	seen := map[int]bool{n: true}
	for {
		preds := g.nodes[n].preds
		if len(preds) != 1 || seen[preds[0]] {
			return run
		}
		n = preds[0]
		seen[n] = true
		run = append(run, n)
	}
}

// SuccessorClosure adds start to set, then every successor whose
// predecessors are all in set, until no more nodes qualify.
func (g *Graph) SuccessorClosure(start int, set *roaring.Bitmap) {
	set.Add(uint32(start))
	work := []int{start}
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
	succ:
		for _, s := range g.nodes[n].succs {
			if set.Contains(uint32(s)) {
				continue
			}
			for _, p := range g.nodes[s].preds {
				if !set.Contains(uint32(p)) {
					continue succ
				}
			}
			set.Add(uint32(s))
			work = append(work, s)
		}
	}
}

// Lines returns the sorted distinct source lines of nodes, omitting
// unknown lines.
func (g *Graph) Lines(nodes []int) []int {
	var lines []int
	for _, n := range nodes {
		if l := g.nodes[n].Line; l >= 0 && !slices.Contains(lines, l) {
			lines = append(lines, l)
		}
	}
	slices.Sort(lines)
	return lines
}
