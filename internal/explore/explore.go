// Package explore simulates every relevant path through a method's flow
// graph with an abstract frame, so that each instruction is presented to an
// access.Visitor with a frame from at least one path that can reach it.
//
// Exploration runs in two tiers. The fast pass shares one history table
// between all paths and usually converges in close to linear time. When it
// leaves live instructions unaccounted for, the exhaustive pass repeats the
// search with a history per path, bounded by a cutoff on the number of
// copies made.
package explore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/715d/jflow/internal/effect"
	"github.com/715d/jflow/internal/history"
	"github.com/715d/jflow/pkg/access"
	"github.com/715d/jflow/pkg/cflow"
	"github.com/715d/jflow/pkg/frame"
	"github.com/715d/jflow/pkg/jtype"
)

// DefaultCutoff bounds the number of frame and history copies of the
// exhaustive pass.
const DefaultCutoff = 0x8000

type Options struct {
	// Cutoff bounds the copies made by the exhaustive pass. Zero means
	// DefaultCutoff.
	Cutoff int
	// Exhaustive skips the fast pass.
	Exhaustive bool
	Effect     effect.Options
}

// Stats describe the work done by the last pass that ran.
type Stats struct {
	Reuse    int  `json:"reuse"`
	Copy     int  `json:"copy"`
	ExcCopy  int  `json:"excCopy"`
	MaxQueue int  `json:"maxQueue"`
	Steps    int  `json:"steps"`
	Fallback bool `json:"fallback"`
	CutOff   bool `json:"cutOff"`
}

// Result partitions the nodes of a method. The four sets are disjoint and
// together hold every node.
type Result struct {
	// Covered nodes were presented to the visitor with a usable frame, or
	// are same-line copies of such a node.
	Covered *roaring.Bitmap
	// NoContext nodes were only ever reached with a null receiver.
	NoContext *roaring.Bitmap
	// Dead nodes are unreachable, statically or because every path to
	// them depends on a branch decided by the frame.
	Dead *roaring.Bitmap
	// NotCovered nodes were not accounted for, which happens when the
	// cutoff fires.
	NotCovered *roaring.Bitmap
	Stats      Stats
}

// Explorer runs the simulation for one method. It is not safe for
// concurrent use; analyze different methods with different explorers.
type Explorer struct {
	graph    *cflow.Graph
	resolver *jtype.Resolver
	visitor  access.Visitor
	effect   *effect.Visitor
	opts     Options

	static    *roaring.Bitmap
	live      uint64
	covered   *roaring.Bitmap
	noContext *roaring.Bitmap
	dead      *roaring.Bitmap // dynamic only, disjoint from covered and static
	stats     Stats
}

// New returns an explorer of g. visitor may be nil, in which case only the
// receiver check is performed.
func New(g *cflow.Graph, resolver *jtype.Resolver, visitor access.Visitor, opts Options) *Explorer {
	if opts.Cutoff <= 0 {
		opts.Cutoff = DefaultCutoff
	}
	static := g.Dead()
	return &Explorer{
		graph:     g,
		resolver:  resolver,
		visitor:   visitor,
		effect:    effect.New(g.Method(), resolver, opts.Effect),
		opts:      opts,
		static:    static,
		live:      uint64(g.Len()) - static.GetCardinality(),
		covered:   roaring.New(),
		noContext: roaring.New(),
		dead:      roaring.New(),
	}
}

// Run explores the method. Errors are either ctx.Err(), a malformed
// descriptor, or an error returned by the visitor other than
// *access.AccessContextUnavailableError. Internal inconsistencies of the
// method body panic with *frame.Fault.
func (e *Explorer) Run(ctx context.Context) (*Result, error) {
	start, err := e.graph.StartFrame(e.resolver)
	if err != nil {
		return nil, err
	}

	if !e.opts.Exhaustive {
		if err := e.fast(ctx, start.Clone()); err != nil {
			return nil, err
		}
		slog.Debug("fast pass done", "method", e.graph.Method(), "stats", e.stats)
	}
	if e.opts.Exhaustive || e.live > e.accounted() {
		slog.Debug("falling back to exhaustive pass", "method", e.graph.Method(),
			"live", e.live, "accounted", e.accounted())
		if err := e.exhaustive(ctx, start.Clone()); err != nil {
			return nil, err
		}
		e.stats.Fallback = !e.opts.Exhaustive
		slog.Debug("exhaustive pass done", "method", e.graph.Method(), "stats", e.stats)
	}
	return e.result(), nil
}

func (e *Explorer) accounted() uint64 {
	return e.covered.GetCardinality() + e.dead.GetCardinality()
}

// fast runs the first tier: one history table shared by every path, frames
// copied for all but the first successor.
func (e *Explorer) fast(ctx context.Context, start *frame.Frame) error {
	var q queue
	e.stats = Stats{}
	h := history.New(e.graph.Len())
	cur := &path{node: 0, frame: start, history: h}

	for cur != nil && e.accounted() < e.live {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.stats.Steps++
		n := e.graph.Node(cur.node)

		if n.Throws() {
			for _, hd := range n.Handlers() {
				if enters(h, hd.Entry, n.Index) {
					e.stats.ExcCopy++
					q.PushBack(&path{node: hd.Entry, frame: e.handlerFrame(cur.frame, n, hd), history: h, trace: cur.trace})
				}
			}
		}

		succs, _, err := e.step(cur)
		var acu *access.AccessContextUnavailableError
		switch {
		case errors.As(err, &acu):
			e.cut(n, acu)
		case err != nil:
			return err
		}
		for i := len(succs) - 1; i >= 0; i-- {
			f := cur.frame
			if i == 0 {
				e.stats.Reuse++
			} else {
				f = f.Clone()
				e.stats.Copy++
			}
			if h.AddAll(succs[i], n.Index) {
				q.PushFront(&path{node: succs[i], frame: f, history: h, trace: cur.trace})
			}
		}

		cur = nil
		if q.Len() > 0 {
			e.stats.MaxQueue = max(e.stats.MaxQueue, q.Len())
			cur = q.PopFront()
		}
	}
	return nil
}

// exhaustive runs the second tier: every alternative path gets its own
// history, and histories of paths that completed normally flow into the
// path resumed next.
func (e *Explorer) exhaustive(ctx context.Context, start *frame.Frame) error {
	var q queue
	e.stats = Stats{}
	cur := &path{node: 0, frame: start, history: history.New(e.graph.Len())}

	for cur != nil && e.accounted() < e.live {
		if e.stats.Copy+e.stats.ExcCopy > e.opts.Cutoff {
			e.stats.CutOff = true
			slog.Warn("exhaustive exploration cut off", "method", e.graph.Method(), "cutoff", e.opts.Cutoff)
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e.stats.Steps++
		n := e.graph.Node(cur.node)
		h := cur.history
		terminated := true

		if n.Throws() {
			for _, hd := range n.Handlers() {
				nh := h.Clone()
				e.stats.ExcCopy++
				if enters(nh, hd.Entry, n.Index) {
					q.PushBack(&path{node: hd.Entry, frame: e.handlerFrame(cur.frame, n, hd), history: nh, trace: cur.trace})
				}
			}
		}

		succs, unproven, err := e.step(cur)
		var acu *access.AccessContextUnavailableError
		switch {
		case errors.As(err, &acu):
			if !e.cut(n, acu) {
				h.MarkUnmergeable()
			}
		case err != nil:
			return err
		case unproven:
			h.MarkUnmergeable()
		}
		for i := len(succs) - 1; i >= 0; i-- {
			f, sh := cur.frame, h
			if i == 0 {
				e.stats.Reuse++
			} else {
				f, sh = f.Clone(), h.Clone()
				e.stats.Copy++
			}
			if sh.AddAll(succs[i], n.Index) {
				q.PushFront(&path{node: succs[i], frame: f, history: sh, trace: cur.trace})
				terminated = false
			}
		}

		if q.Len() == 0 {
			// everything reachable has been explored
			rest := e.unaccounted()
			rest.AndNot(e.noContext)
			e.dead.Or(rest)
			break
		}
		e.stats.MaxQueue = max(e.stats.MaxQueue, q.Len())
		if terminated && !h.Unmergeable() {
			cur = q.PopFront()
			cur.history.Merge(h)
		} else {
			cur = e.pickBest(&q)
		}
	}
	return nil
}

// enters records in h that the handler at entry is reached from the
// throwing node and reports whether that added anything.
func enters(h *history.Table, entry, thrower int) bool {
	grew := h.AddAll(entry, thrower)
	return h.Add(entry, thrower) || grew
}

// step executes the instruction of p: it presents the node to the visitor
// unless it is covered already, computes the successors from the frame
// before the instruction and then applies the instruction to the frame.
// When the frame decides a null test, only the remaining targets are
// returned, and unproven reports that the pruned code could not be proven
// dead.
func (e *Explorer) step(p *path) (succs []int, unproven bool, err error) {
	n := e.graph.Node(p.node)
	if !e.covered.Contains(uint32(n.Index)) {
		if err := e.visit(n, p.frame); err != nil {
			return nil, false, err
		}
		same := roaring.New()
		for _, s := range n.SameLine() {
			same.Add(uint32(s))
		}
		same.AndNot(e.static)
		e.covered.Or(same)
		e.noContext.AndNot(same)
		e.dead.AndNot(same)
	}

	succs, serr := e.graph.Successors(n.Index, p.frame)
	if err := e.effect.Apply(n, p.frame); err != nil {
		return nil, false, err
	}
	p.history.Add(n.Index, n.Index)
	p.trace = p.trace.Add(n.Index, len(succs))

	var btu *cflow.BranchTargetUnavailableError
	if errors.As(serr, &btu) {
		proven := e.pruned(n, btu)
		slog.Debug("branch decided by frame", "method", e.graph.Method(), "node", n.Index,
			"unavailable", btu.Unavailable, "cause", btu.Cause, "dead", proven, "trace", p.trace)
		return btu.Remaining, !proven, nil
	}
	return succs, false, serr
}

func (e *Explorer) visit(n *cflow.Node, f *frame.Frame) error {
	if _, err := access.Context(n, f, e.resolver); err != nil {
		return err
	}
	if e.visitor == nil {
		return nil
	}
	return e.visitor.VisitInstruction(n, f)
}

// cut records that the path ended at n because of a null receiver and
// reports whether the code after n is proven dead.
func (e *Explorer) cut(n *cflow.Node, acu *access.AccessContextUnavailableError) bool {
	covered := e.covered.Contains(uint32(n.Index))
	if !covered {
		e.noContext.Add(uint32(n.Index))
	}
	slog.Debug("path cut at null receiver", "method", e.graph.Method(), "node", n.Index, "cause", acu.Cause)
	if covered || !e.precedes(acu.Cause, n.Index) {
		return false
	}
	closure := e.knownDead()
	e.graph.SuccessorClosure(n.Index, closure)
	closure.Remove(uint32(n.Index))
	e.addDead(closure)
	return true
}

// pruned records the code only reachable through the unavailable targets
// of a decided branch as dead, and reports whether that was proven.
func (e *Explorer) pruned(n *cflow.Node, btu *cflow.BranchTargetUnavailableError) bool {
	if !e.precedes(btu.Cause, n.Index) {
		return false
	}
	closure := e.knownDead()
	for _, u := range btu.Unavailable {
		if e.covered.Contains(uint32(u)) || !e.onlyReachedFrom(u, n.Index, closure) {
			continue
		}
		e.graph.SuccessorClosure(u, closure)
	}
	e.addDead(closure)
	return true
}

// precedes reports whether cause is part of the straight-line run that
// every path to node executes first.
func (e *Explorer) precedes(cause, node int) bool {
	if cause == frame.NoProducer {
		return false
	}
	for _, r := range e.graph.PredecessorRun(node) {
		if r == cause {
			return true
		}
	}
	return false
}

func (e *Explorer) onlyReachedFrom(target, from int, dead *roaring.Bitmap) bool {
	for _, p := range e.graph.Node(target).Preds() {
		if p != from && !dead.Contains(uint32(p)) {
			return false
		}
	}
	return true
}

func (e *Explorer) knownDead() *roaring.Bitmap {
	return roaring.Or(e.static, e.dead)
}

func (e *Explorer) addDead(set *roaring.Bitmap) {
	set.AndNot(e.static)
	set.AndNot(e.covered)
	e.dead.Or(set)
}

// unaccounted returns the live nodes that are neither covered nor dead.
func (e *Explorer) unaccounted() *roaring.Bitmap {
	all := roaring.New()
	all.AddRange(0, uint64(e.graph.Len()))
	all.AndNot(e.static)
	all.AndNot(e.covered)
	all.AndNot(e.dead)
	return all
}

// handlerFrame returns the frame entering handler hd when node n throws:
// the frame before n with only the caught exception on the stack.
func (e *Explorer) handlerFrame(f *frame.Frame, n *cflow.Node, hd cflow.Handler) *frame.Frame {
	hf := f.Clone()
	hf.ClearStack()
	catch := hd.CatchType
	if catch == "" {
		catch = jtype.ThrowableClass
	}
	hf.Push(jtype.NonNullObject(catch), n.Index)
	return hf
}

// pickBest removes and returns the next path to resume after a path that
// cannot share its history: preferably one entering a node never covered,
// else one entering a node not yet on its own history, else the front.
func (e *Explorer) pickBest(q *queue) *path {
	best := -1
	for i, p := range q.Front() {
		if !e.covered.Contains(uint32(p.node)) {
			best = i
			break
		}
		if best < 0 && !p.history.Contains(p.node, p.node) {
			best = i
		}
	}
	if best < 0 {
		return q.PopFront()
	}
	return q.Remove(best)
}

func (e *Explorer) result() *Result {
	noContext := e.noContext.Clone()
	noContext.AndNot(e.covered)
	dead := roaring.Or(e.static, e.dead)
	dead.AndNot(noContext)
	notCovered := roaring.New()
	notCovered.AddRange(0, uint64(e.graph.Len()))
	notCovered.AndNot(e.covered)
	notCovered.AndNot(dead)
	notCovered.AndNot(noContext)
	return &Result{
		Covered:    e.covered.Clone(),
		NoContext:  noContext,
		Dead:       dead,
		NotCovered: notCovered,
		Stats:      e.stats,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("reuse=%d copy=%d excCopy=%d maxQueue=%d steps=%d fallback=%t cutOff=%t",
		s.Reuse, s.Copy, s.ExcCopy, s.MaxQueue, s.Steps, s.Fallback, s.CutOff)
}
