package harness

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/jflow/pkg/jflow"
)

// ConfigurationResult represents the result of running a single configuration.
type ConfigurationResult struct {
	// Configuration is the configuration that was run.
	Configuration Configuration

	// Reports are the raw reports of the analyzer.
	Reports []*jflow.MethodReport

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	TestCase             *TestCase
	ConfigurationResults []ConfigurationResult
	Success              bool
	Message              string
}

// Run executes a test case with all its configurations.
func Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Configurations, "test case has no configurations")

	var results []ConfigurationResult
	allSuccess := true
	for _, cfg := range tc.Configurations {
		cr := runConfiguration(t, tc, cfg)
		results = append(results, *cr)
		if !cr.Success {
			allSuccess = false
		}
	}

	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.Configurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.Configurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

func runConfiguration(t *testing.T, tc *TestCase, cfg Configuration) *ConfigurationResult {
	t.Helper()
	a := jflow.NewAnalyzer(cfg.Options())
	classes, err := jflow.LoadArchive(tc.Archive, tc.Name, a.Resolver())
	require.NoError(t, err)

	reports, err := a.Analyze(t.Context(), classes)
	require.NoError(t, err)

	cr := &ConfigurationResult{Configuration: cfg, Reports: reports}
	validateResults(cr, cfg.Methods, reports)
	return cr
}

func validateResults(cr *ConfigurationResult, expected map[string]ExpectedMethod, reports []*jflow.MethodReport) {
	seen := make(map[string]bool)
	var details []string
	for _, rep := range reports {
		key := rep.Class + "." + rep.Method
		seen[key] = true
		exp, listed := expected[key]
		if !listed {
			if rep.Err != nil || rep.HasFindings() {
				details = append(details, fmt.Sprintf("%s: unexpected findings: %s", key, describe(rep)))
			}
			continue
		}
		details = append(details, compareMethod(key, exp, rep)...)
	}

	var missing []string
	for key := range expected {
		if !seen[key] {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	for _, key := range missing {
		details = append(details, "Expected method not analyzed: "+key)
	}

	cr.Success = len(details) == 0
	cr.Details = details
	if cr.Success {
		cr.Message = fmt.Sprintf("All %d methods matched", len(reports))
	} else {
		cr.Message = fmt.Sprintf("Test failed: %d mismatches", len(details))
	}
}

func compareMethod(key string, exp ExpectedMethod, rep *jflow.MethodReport) []string {
	var details []string
	if exp.Error != "" || rep.Err != nil {
		if rep.Err == nil || !strings.Contains(rep.Err.Error(), exp.Error) || exp.Error == "" {
			details = append(details, fmt.Sprintf("%s: error %v, want error containing %q", key, rep.Err, exp.Error))
		}
		return details
	}

	check := func(what string, want, got []int) {
		if !slices.Equal(want, got) {
			details = append(details, fmt.Sprintf("%s: %s nodes %v, want %v", key, what, got, want))
		}
	}
	check("no-context", exp.NoContext, rep.NoContext.Nodes)
	check("dead", exp.Dead, rep.Dead.Nodes)
	check("not-covered", exp.NotCovered, rep.NotCovered.Nodes)

	if exp.Fallback != nil && *exp.Fallback != rep.Stats.Fallback {
		details = append(details, fmt.Sprintf("%s: fallback %t, want %t", key, rep.Stats.Fallback, *exp.Fallback))
	}

	var got []string
	for _, d := range rep.Dependencies {
		got = append(got, strconv.Itoa(d.Node)+":"+d.Context)
	}
	for _, want := range exp.Dependencies {
		if !slices.Contains(got, want) {
			details = append(details, fmt.Sprintf("%s: missing dependency %s, got %v", key, want, got))
		}
	}
	return details
}

func describe(rep *jflow.MethodReport) string {
	if rep.Err != nil {
		return rep.Err.Error()
	}
	return fmt.Sprintf("no-context %v, dead %v, not-covered %v",
		rep.NoContext.Nodes, rep.Dead.Nodes, rep.NotCovered.Nodes)
}
