// Package history records, per node, the set of nodes already executed on
// some path that reached it. The exploration uses it to decide whether a
// successor can contribute anything new.
package history

import (
	"fmt"
	"strings"

	"golang.org/x/tools/container/intsets"
)

// Table maps every node of a method to the set of nodes seen on paths
// reaching it. Sets only grow while a path owns the table.
type Table struct {
	sets        []intsets.Sparse
	unmergeable bool
}

func New(nodes int) *Table {
	return &Table{sets: make([]intsets.Sparse, nodes)}
}

// Len returns the number of nodes in the table.
func (t *Table) Len() int { return len(t.sets) }

// Contains reports whether node seen was recorded at node.
func (t *Table) Contains(node, seen int) bool {
	return t.sets[node].Has(seen)
}

// Add records seen at node and reports whether it was new.
func (t *Table) Add(node, seen int) bool {
	return t.sets[node].Insert(seen)
}

// AddAll unions the set of from into the set of node and reports whether
// the set of node grew.
func (t *Table) AddAll(node, from int) bool {
	if node == from {
		return false
	}
	return t.sets[node].UnionWith(&t.sets[from])
}

// nodes returns the recorded set of node in increasing order.
func (t *Table) nodes(node int) []int {
	return t.sets[node].AppendTo(nil)
}

// Clone returns an independent copy. The unmergeable mark is not copied.
func (t *Table) Clone() *Table {
	c := New(len(t.sets))
	for i := range t.sets {
		c.sets[i].Copy(&t.sets[i])
	}
	return c
}

// Merge unions every set of o into t.
func (t *Table) Merge(o *Table) {
	if len(o.sets) != len(t.sets) {
		panic(fmt.Sprintf("history: merging tables of %d and %d nodes", len(o.sets), len(t.sets)))
	}
	for i := range t.sets {
		t.sets[i].UnionWith(&o.sets[i])
	}
}

// MarkUnmergeable records that the path owning t ended for a reason other
// than normal completion, so its knowledge must not flow into other paths.
func (t *Table) MarkUnmergeable() { t.unmergeable = true }

func (t *Table) Unmergeable() bool { return t.unmergeable }

// subsetOf reports whether every set of t is contained in the matching set
// of o.
func (t *Table) subsetOf(o *Table) bool {
	for i := range t.sets {
		if !t.sets[i].SubsetOf(&o.sets[i]) {
			return false
		}
	}
	return true
}

func (t *Table) String() string {
	var b strings.Builder
	for i := range t.sets {
		if t.sets[i].IsEmpty() {
			continue
		}
		fmt.Fprintf(&b, "%d:%s ", i, t.sets[i].String())
	}
	return strings.TrimSpace(b.String())
}
