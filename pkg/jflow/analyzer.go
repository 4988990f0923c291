package jflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/715d/jflow/internal/effect"
	"github.com/715d/jflow/internal/explore"
	"github.com/715d/jflow/pkg/access"
	"github.com/715d/jflow/pkg/bytecode"
	"github.com/715d/jflow/pkg/cflow"
	"github.com/715d/jflow/pkg/frame"
	"github.com/715d/jflow/pkg/jtype"
)

// DefaultCutoff is the default bound on path copies per method.
const DefaultCutoff = explore.DefaultCutoff

// AnalyzerOptions holds configuration options for the analyzer.
type AnalyzerOptions struct {
	Cutoff         int  // Bound on path copies of the exhaustive pass; zero means DefaultCutoff.
	Workers        int  // Methods analyzed in parallel; zero means one per CPU.
	Exhaustive     bool // Skip the fast pass.
	DeclaredLocals bool // Type null locals by the local variable table.
}

// Analyzer runs the analysis of methods. It is safe for concurrent use; the
// only state shared between methods is the type resolver.
type Analyzer struct {
	resolver *jtype.Resolver
	opts     AnalyzerOptions
}

// NewAnalyzer creates a new analyzer with the given options.
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	if opts.Workers <= 0 {
		opts.Workers = goruntime.NumCPU()
	}
	return &Analyzer{resolver: jtype.NewResolver(), opts: opts}
}

// Resolver returns the type resolver shared by all analyses, for decoding
// class files.
func (a *Analyzer) Resolver() *jtype.Resolver { return a.resolver }

// Analyze analyzes every method of classes on a bounded worker pool and
// returns one report per method in input order. A method that cannot be
// analyzed gets a report with Err set. When ctx is cancelled, methods not
// yet analyzed are dropped from the result and ctx.Err() is returned with
// the reports completed so far.
func (a *Analyzer) Analyze(ctx context.Context, classes []*bytecode.Class) ([]*MethodReport, error) {
	var methods []*bytecode.Method
	for _, c := range classes {
		methods = append(methods, c.Methods...)
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no methods provided")
	}

	// Each goroutine writes to its own index, so no locking is needed.
	reports := make([]*MethodReport, len(methods))
	var failed atomic.Int64

	var wg errgroup.Group
	wg.SetLimit(a.opts.Workers)
	for idx, m := range methods {
		wg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			rep, err := a.AnalyzeMethod(ctx, m, access.NewCollector(a.resolver))
			var merr *MethodError
			switch {
			case errors.As(err, &merr):
				failed.Add(1)
				slog.Error("method analysis failed", "method", m, "error", merr.Err)
				rep = &MethodReport{Class: m.Class, Method: m.Name + m.Descriptor, Err: merr}
			case err != nil:
				return nil
			}
			reports[idx] = rep
			return nil
		})
	}
	_ = wg.Wait()

	done := reports[:0]
	for _, rep := range reports {
		if rep != nil {
			done = append(done, rep)
		}
	}
	slog.Debug("analysis completed", "methods", len(done), "failed", failed.Load())
	return done, ctx.Err()
}

// AnalyzeMethod analyzes one method, presenting its instructions to v. v
// may be nil; when it is an *access.Collector, the report lists the
// dependencies it recorded. Malformed methods and faults during the
// simulation yield a *MethodError; cancellation yields ctx.Err().
func (a *Analyzer) AnalyzeMethod(ctx context.Context, m *bytecode.Method, v access.Visitor) (rep *MethodReport, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fault, ok := r.(*frame.Fault)
		if !ok {
			// Any other panic is still confined to this method.
			fault = &frame.Fault{Msg: fmt.Sprint(r)}
			slog.Error("method analysis panicked", "method", m, "panic", r)
		}
		rep, err = nil, &MethodError{Method: m.String(), Err: fault}
	}()

	g, err := cflow.Build(m)
	if err != nil {
		return nil, &MethodError{Method: m.String(), Err: err}
	}
	ex := explore.New(g, a.resolver, v, explore.Options{
		Cutoff:     a.opts.Cutoff,
		Exhaustive: a.opts.Exhaustive,
		Effect:     effect.Options{DeclaredLocals: a.opts.DeclaredLocals},
	})
	res, err := ex.Run(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, &MethodError{Method: m.String(), Err: err}
	}

	rep = &MethodReport{
		Class:      m.Class,
		Method:     m.Name + m.Descriptor,
		Nodes:      g.Len(),
		NoContext:  finding(g, res.NoContext),
		Dead:       finding(g, res.Dead),
		NotCovered: finding(g, res.NotCovered),
		Stats:      res.Stats,
	}
	if c, ok := v.(*access.Collector); ok {
		rep.Dependencies = c.Dependencies()
	}
	logReport(m, rep)
	return rep, nil
}

func finding(g *cflow.Graph, set *roaring.Bitmap) Finding {
	if set.IsEmpty() {
		return Finding{}
	}
	nodes := make([]int, 0, set.GetCardinality())
	it := set.Iterator()
	for it.HasNext() {
		nodes = append(nodes, int(it.Next()))
	}
	return Finding{Nodes: nodes, Lines: g.Lines(nodes)}
}

func logReport(m *bytecode.Method, rep *MethodReport) {
	slog.Debug("method analyzed", "method", m, "nodes", rep.Nodes, "stats", rep.Stats)
	if !rep.NoContext.Empty() {
		slog.Info("guaranteed null dereference", "class", m.Class, "method", m,
			"nodes", rep.NoContext.Nodes, "lines", rep.NoContext.Lines)
	}
	if !rep.Dead.Empty() {
		slog.Info("guaranteed dead code", "class", m.Class, "method", m,
			"nodes", rep.Dead.Nodes, "lines", rep.Dead.Lines)
	}
	if !rep.NotCovered.Empty() {
		slog.Warn("instructions not covered", "class", m.Class, "method", m,
			"nodes", rep.NotCovered.Nodes, "lines", rep.NotCovered.Lines)
	}
}
