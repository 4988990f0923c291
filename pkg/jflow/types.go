// Package jflow analyzes decoded JVM methods: it simulates every relevant
// path through each method with an abstract frame, collects the member and
// type dependencies found on those paths, and reports the instructions that
// can only dereference null, are dead, or could not be covered.
package jflow

import (
	"fmt"

	"github.com/715d/jflow/internal/explore"
	"github.com/715d/jflow/pkg/access"
)

// Stats describe the exploration work done for one method.
type Stats = explore.Stats

// Finding is a set of instructions with the source lines they belong to.
type Finding struct {
	Nodes []int `json:"nodes,omitempty"`
	Lines []int `json:"lines,omitempty"`
}

// Empty reports whether the finding holds no instructions.
func (f Finding) Empty() bool { return len(f.Nodes) == 0 }

// MethodReport is the outcome of analyzing one method.
type MethodReport struct {
	Class  string `json:"class"`
	Method string `json:"method"` // name followed by descriptor
	Nodes  int    `json:"nodes"`

	// NoContext holds instructions that dereference null on every path
	// reaching them.
	NoContext Finding `json:"noContext"`
	// Dead holds instructions no execution can reach.
	Dead Finding `json:"dead"`
	// NotCovered holds instructions the exploration gave up on.
	NotCovered Finding `json:"notCovered"`

	Dependencies []access.Dependency `json:"dependencies,omitempty"`
	Stats        Stats               `json:"stats"`

	// Err is set when the method could not be analyzed. All other fields
	// except Class and Method are then zero.
	Err *MethodError `json:"error,omitempty"`
}

// HasFindings reports whether any instruction was not covered normally.
func (r *MethodReport) HasFindings() bool {
	return !r.NoContext.Empty() || !r.Dead.Empty() || !r.NotCovered.Empty()
}

// MethodError reports a method whose body is malformed, so that its
// analysis was abandoned. Analysis of other methods is unaffected.
type MethodError struct {
	Method string
	Err    error
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("analyze %s: %v", e.Method, e.Err)
}

func (e *MethodError) Unwrap() error { return e.Err }

// MarshalText lets reports carry the error message in JSON output.
func (e *MethodError) MarshalText() ([]byte, error) {
	return []byte(e.Error()), nil
}
