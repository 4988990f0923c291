package explore

import (
	"log/slog"
	"strconv"
	"strings"
)

// Trace is the immutable list of branch decisions taken on a path, newest
// first. Paths forked from a common prefix share it.
type Trace struct {
	node  int
	succs int
	prev  *Trace
	depth int
}

// Add returns a trace extended by node, which had succs successors.
func (t *Trace) Add(node, succs int) *Trace {
	return &Trace{node: node, succs: succs, prev: t, depth: t.Len() + 1}
}

func (t *Trace) Len() int {
	if t == nil {
		return 0
	}
	return t.depth
}

// nodes returns the nodes of the trace in execution order.
func (t *Trace) nodes() []int {
	nodes := make([]int, t.Len())
	for e := t; e != nil; e = e.prev {
		nodes[e.depth-1] = e.node
	}
	return nodes
}

// String lists the entries in execution order, marking branch points with
// their successor count.
func (t *Trace) String() string {
	entries := make([]string, t.Len())
	for e := t; e != nil; e = e.prev {
		s := strconv.Itoa(e.node)
		if e.succs > 1 {
			s += "/" + strconv.Itoa(e.succs)
		}
		entries[e.depth-1] = s
	}
	return "[" + strings.Join(entries, " ") + "]"
}

// LogValue defers formatting until a record is actually emitted.
func (t *Trace) LogValue() slog.Value {
	return slog.StringValue(t.String())
}
