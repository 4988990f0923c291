// Package harness runs fixture-driven integration tests of the analyzer.
// Each fixture is a txtar archive holding class files and an expected.yaml
// describing the findings of every configuration to run.
package harness

import "github.com/715d/jflow/pkg/jflow"

// Configuration is one set of analyzer options with its expectations.
type Configuration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	Exhaustive     bool `yaml:"exhaustive,omitempty"`
	DeclaredLocals bool `yaml:"declared_locals,omitempty"`
	Cutoff         int  `yaml:"cutoff,omitempty"`

	// Methods lists the expected report of each method, keyed by
	// "class.name(descriptor)". Methods not listed must have no findings.
	Methods map[string]ExpectedMethod `yaml:"methods"`
}

// Options converts the configuration to analyzer options.
func (c Configuration) Options() jflow.AnalyzerOptions {
	return jflow.AnalyzerOptions{
		Cutoff:         c.Cutoff,
		Exhaustive:     c.Exhaustive,
		DeclaredLocals: c.DeclaredLocals,
		Workers:        2,
	}
}

// ExpectedMethod describes the report expected for one method. Node lists
// are compared exactly; nil lists must be empty in the report.
type ExpectedMethod struct {
	NoContext  []int `yaml:"no_context,omitempty"`
	Dead       []int `yaml:"dead,omitempty"`
	NotCovered []int `yaml:"not_covered,omitempty"`

	// Fallback, when set, is compared with whether the exhaustive pass
	// had to run.
	Fallback *bool `yaml:"fallback,omitempty"`

	// Error is a substring of the expected method error.
	Error string `yaml:"error,omitempty"`

	// Dependencies lists "node:context" pairs that must all be reported.
	Dependencies []string `yaml:"dependencies,omitempty"`
}
