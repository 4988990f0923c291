package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/logrusorgru/aurora"

	"github.com/715d/jflow/pkg/jflow"
)

// Result is the output of one analyze run.
type Result struct {
	Reports []*jflow.MethodReport `json:"reports"`
	Stats   struct {
		Methods          int           `json:"methods"`
		WithFindings     int           `json:"with_findings"`
		Errors           int           `json:"errors"`
		CutOff           int           `json:"cut_off"`
		Fallback         int           `json:"fallback"`
		AnalysisDuration time.Duration `json:"analysis_duration"`
	} `json:"stats"`
}

func newResult(reports []*jflow.MethodReport, dur time.Duration) *Result {
	r := &Result{Reports: reports}
	r.Stats.AnalysisDuration = dur
	for _, rep := range reports {
		r.Stats.Methods++
		switch {
		case rep.Err != nil:
			r.Stats.Errors++
			continue
		case rep.HasFindings():
			r.Stats.WithFindings++
		}
		if rep.Stats.CutOff {
			r.Stats.CutOff++
		}
		if rep.Stats.Fallback {
			r.Stats.Fallback++
		}
	}
	return r
}

type jOutput struct {
	*Result
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func formatJSONOutput(result *Result) (string, error) {
	data, err := json.MarshalIndent(jOutput{
		Result:    result,
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling json output: %w", err)
	}
	return string(data) + "\n", nil
}

// formatTextOutput lists the methods with findings or errors, grouped by
// class. Verbose output also lists every method's dependencies.
func formatTextOutput(result *Result, cfg *Config) string {
	au := aurora.NewAurora(cfg.Color)
	var output strings.Builder

	if cfg.Verbose {
		slog.Info("",
			"methods", result.Stats.Methods,
			"with_findings", result.Stats.WithFindings,
			"errors", result.Stats.Errors,
			"cut_off", result.Stats.CutOff,
			"fallback", result.Stats.Fallback,
			"analysis_duration", result.Stats.AnalysisDuration.String())
	}

	class := ""
	for _, rep := range result.Reports {
		if rep.Err == nil && !rep.HasFindings() && (!cfg.Verbose || len(rep.Dependencies) == 0) {
			continue
		}
		if rep.Class != class {
			class = rep.Class
			fmt.Fprintf(&output, "%s\n", au.Bold(class))
		}
		fmt.Fprintf(&output, "  %s\n", rep.Method)
		if rep.Err != nil {
			fmt.Fprintf(&output, "    %s %v\n", au.Red("error:"), rep.Err.Err)
			continue
		}
		writeFinding(&output, au.Red("null dereference"), rep.NoContext)
		writeFinding(&output, au.Yellow("dead code"), rep.Dead)
		writeFinding(&output, au.Magenta("not covered"), rep.NotCovered)
		if cfg.Verbose {
			for _, d := range rep.Dependencies {
				target := d.Class
				if d.Member != nil {
					target = d.Member.String()
				}
				fmt.Fprintf(&output, "    %s [%d] %s %s", au.Cyan("uses"), d.Node, d.Op, target)
				if d.Context != "" {
					fmt.Fprintf(&output, " on %s", d.Context)
				}
				output.WriteString("\n")
			}
		}
	}

	if output.Len() == 0 {
		slog.Info("no findings")
	}
	return output.String()
}

func writeFinding(b *strings.Builder, label aurora.Value, f jflow.Finding) {
	if f.Empty() {
		return
	}
	fmt.Fprintf(b, "    %s: nodes %s", label, joinInts(f.Nodes))
	if len(f.Lines) > 0 {
		fmt.Fprintf(b, " lines %s", joinInts(f.Lines))
	}
	b.WriteString("\n")
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}
