// Package main implements the CLI driver for the jflow analyzer.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/715d/jflow/pkg/cflow"
	"github.com/715d/jflow/pkg/jflow"
)

// Config holds all command-line configuration options.
type Config struct {
	Files          []string // class files: yaml listings or txtar archives of them
	Verbose        bool     // enables debug logging and dependency listings
	JSON           bool     // enables JSON output format
	Workers        int      // methods analyzed in parallel
	Cutoff         int      // bound on path copies per method
	Exhaustive     bool     // skip the fast pass
	DeclaredLocals bool     // type null locals by the local variable table
	FailOnFindings bool     // exit with exitFindings when anything is reported
	Profile        bool     // enables CPU and memory profiling
	Method         string   // graph: method selector
	Color          bool     // set in setup when stdout is a terminal
}

const (
	exitFindings = 1
	exitError    = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jflow",
		Short: "Simulate JVM method bodies and report unreachable instructions",
		Long: `jflow walks every relevant path through the methods of JVM classes with a
symbolic frame. It collects the member and type dependencies found on those
paths and reports:
- Instructions that dereference null on every path reaching them
- Instructions no execution can reach
- Instructions left uncovered when the exploration was cut off`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		Version:            version,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("jflow version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")

	analyzeCmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Analyze every method of the given classes",
		Example: `  jflow analyze Foo.yaml                  # Analyze one class
  jflow analyze classes.txtar --json      # JSON report of an archive
  jflow analyze --exhaustive --cutoff 1024 Foo.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAnalyze,
	}
	analyzeCmd.Flags().IntVar(&cfg.Workers, "workers", 0, "Methods analyzed in parallel (0 means one per CPU)")
	analyzeCmd.Flags().IntVar(&cfg.Cutoff, "cutoff", jflow.DefaultCutoff, "Bound on path copies per method")
	analyzeCmd.Flags().BoolVar(&cfg.Exhaustive, "exhaustive", false, "Skip the fast pass")
	analyzeCmd.Flags().BoolVar(&cfg.DeclaredLocals, "declared-locals", false, "Type null locals by the local variable table")
	analyzeCmd.Flags().BoolVar(&cfg.FailOnFindings, "fail-on-findings", false, "Exit with status 1 when any instruction is reported")

	graphCmd := &cobra.Command{
		Use:   "graph FILE",
		Short: "Print the flow graph of one method in Graphviz format",
		Example: `  jflow graph Foo.yaml --method 'run()V' | dot -Tsvg > run.svg`,
		Args: cobra.ExactArgs(1),
		RunE: runGraph,
	}
	graphCmd.Flags().StringVarP(&cfg.Method, "method", "m", "", "Method selector: name, name(desc) or class.name(desc)")
	_ = graphCmd.MarkFlagRequired("method")

	rootCmd.AddCommand(analyzeCmd, graphCmd)
	return rootCmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg.Files = args
	start := time.Now()

	analyzer := jflow.NewAnalyzer(jflow.AnalyzerOptions{
		Cutoff:         cfg.Cutoff,
		Workers:        cfg.Workers,
		Exhaustive:     cfg.Exhaustive,
		DeclaredLocals: cfg.DeclaredLocals,
	})
	slog.Info("loading classes", "files", cfg.Files)
	classes, err := jflow.LoadFiles(cmd.Context(), cfg.Files, analyzer.Resolver())
	if err != nil {
		return errWithCode(err, exitError)
	}
	slog.Info("loaded classes", "num", len(classes))

	// On cancellation the completed reports are still printed.
	reports, analyzeErr := analyzer.Analyze(cmd.Context(), classes)
	if analyzeErr != nil && len(reports) == 0 {
		return errWithCode(fmt.Errorf("analyze: %w", analyzeErr), exitError)
	}
	result := newResult(reports, time.Since(start))
	slog.Info("analysis completed", "dur", result.Stats.AnalysisDuration)

	var out string
	if cfg.JSON {
		out, err = formatJSONOutput(result)
		if err != nil {
			return errWithCode(fmt.Errorf("format results: %w", err), exitError)
		}
	} else {
		out = formatTextOutput(result, &cfg)
	}
	fmt.Fprint(cmd.OutOrStdout(), out)

	if analyzeErr != nil {
		return errWithCode(fmt.Errorf("analyze: %w", analyzeErr), exitError)
	}
	if result.Stats.Errors > 0 {
		return errWithCode(nil, exitError)
	}
	if cfg.FailOnFindings && result.Stats.WithFindings > 0 {
		return errWithCode(nil, exitFindings)
	}
	return nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	analyzer := jflow.NewAnalyzer(jflow.AnalyzerOptions{})
	classes, err := jflow.LoadFiles(cmd.Context(), args, analyzer.Resolver())
	if err != nil {
		return errWithCode(err, exitError)
	}
	m, err := jflow.FindMethod(classes, cfg.Method)
	if err != nil {
		return errWithCode(err, exitError)
	}
	g, err := cflow.Build(m)
	if err != nil {
		return errWithCode(fmt.Errorf("build graph: %w", err), exitError)
	}
	fmt.Fprintln(cmd.OutOrStdout(), g.Dot())
	return nil
}

var cpuProfile *os.File

func setup(cmd *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		cfg.Color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	if !cfg.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error { return e.err }

