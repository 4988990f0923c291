package explore

import (
	"iter"
	"slices"

	"github.com/715d/jflow/internal/history"
	"github.com/715d/jflow/pkg/frame"
)

// path is one pending execution context: the node to execute next with the
// frame and history of the path that reached it.
type path struct {
	node    int
	frame   *frame.Frame
	history *history.Table
	trace   *Trace
}

// queue holds pending paths. The front is the end of the slice, so the
// common depth-first push and pop are appends.
type queue struct {
	items []*path
}

func (q *queue) Len() int { return len(q.items) }

func (q *queue) PushFront(p *path) { q.items = append(q.items, p) }

func (q *queue) PushBack(p *path) { q.items = slices.Insert(q.items, 0, p) }

func (q *queue) PopFront() *path {
	p := q.items[len(q.items)-1]
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]
	return p
}

// Front returns the paths from front to back.
func (q *queue) Front() iter.Seq2[int, *path] {
	return func(yield func(int, *path) bool) {
		for i := len(q.items) - 1; i >= 0; i-- {
			if !yield(i, q.items[i]) {
				return
			}
		}
	}
}

func (q *queue) Remove(i int) *path {
	p := q.items[i]
	q.items = slices.Delete(q.items, i, i+1)
	return p
}
