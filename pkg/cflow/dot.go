package cflow

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/emicklei/dot"
)

// Dot renders the graph in Graphviz format. Dead nodes are grey, handler
// edges dashed.
func (g *Graph) Dot() string {
	dg := dot.NewGraph(dot.Directed)
	dg.Attr("label", g.method.String())
	nodes := make([]dot.Node, len(g.nodes))
	for i := range g.nodes {
		n := &g.nodes[i]
		label := fmt.Sprintf("[%d] @%d %s", n.Index, n.Instr.Offset, n.Instr)
		if n.Line >= 0 {
			label += fmt.Sprintf("\nline %d", n.Line)
		}
		nodes[i] = dg.Node(strconv.Itoa(i)).Label(label).Box()
		if g.IsDead(i) {
			nodes[i].Attr("style", "filled").Attr("fillcolor", "lightgrey")
		}
	}
	for i := range g.nodes {
		n := &g.nodes[i]
		for _, s := range n.flow {
			dg.Edge(nodes[i], nodes[s])
		}
		for _, h := range n.handlers {
			if slices.Contains(n.flow, h.Entry) {
				continue
			}
			e := dg.Edge(nodes[i], nodes[h.Entry]).Attr("style", "dashed")
			if h.CatchType != "" {
				e.Attr("label", h.CatchType)
			}
		}
	}
	return dg.String()
}
