package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/715d/jflow/pkg/jflow"
)

const sampleClass = `
class: demo/Sample
methods:
  - name: ok
    descriptor: ()V
    static: true
    code: |
          return
  - name: broken
    descriptor: ()V
    static: true
    code: |
      .line 10
          aconst_null
          getfield demo/Sample/next Ldemo/Sample;
      .line 11
          pop
          return
`

func writeClass(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Sample.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg = Config{}
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestAnalyzeCommand(t *testing.T) {
	path := writeClass(t, sampleClass)

	tests := []struct {
		name     string
		args     []string
		wantCode int // 0 means no error
		want     []string
	}{
		{
			name: "text",
			args: []string{"analyze", path},
			want: []string{
				"demo/Sample\n",
				"  broken()V\n",
				"    null dereference: nodes 1 lines 10\n",
				"    dead code: nodes 2,3 lines 11\n",
			},
		},
		{
			name:     "fail on findings",
			args:     []string{"analyze", "--fail-on-findings", path},
			wantCode: exitFindings,
			want:     []string{"broken()V"},
		},
		{
			name:     "missing file",
			args:     []string{"analyze", filepath.Join(t.TempDir(), "nope.yaml")},
			wantCode: exitError,
		},
		{
			name: "graph",
			args: []string{"graph", path, "--method", "broken"},
			want: []string{"digraph", "aconst_null", "getfield demo/Sample.next"},
		},
		{
			name:     "graph unknown method",
			args:     []string{"graph", path, "-m", "missing"},
			wantCode: exitError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if tt.wantCode == 0 {
				require.NoError(t, err)
			} else {
				var cErr *codedError
				require.True(t, errors.As(err, &cErr), "got %v", err)
				require.Equal(t, tt.wantCode, cErr.code)
			}
			for _, w := range tt.want {
				require.Contains(t, out, w)
			}
		})
	}
}

func TestAnalyzeCommand_JSON(t *testing.T) {
	path := writeClass(t, sampleClass)

	out, err := execute(t, "analyze", "--json", "--workers", "1", path)
	require.NoError(t, err)

	var got struct {
		Reports []jflow.MethodReport `json:"reports"`
		Stats   struct {
			Methods      int `json:"methods"`
			WithFindings int `json:"with_findings"`
			Fallback     int `json:"fallback"`
		} `json:"stats"`
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "dev", got.Version)
	require.Equal(t, 2, got.Stats.Methods)
	require.Equal(t, 1, got.Stats.WithFindings)
	require.Equal(t, 1, got.Stats.Fallback)
	require.Len(t, got.Reports, 2)
	require.Equal(t, "ok()V", got.Reports[0].Method)
	require.Equal(t, []int{1}, got.Reports[1].NoContext.Nodes)
	require.Equal(t, []int{2, 3}, got.Reports[1].Dead.Nodes)
}

func TestFormatTextOutput(t *testing.T) {
	reports := []*jflow.MethodReport{
		{Class: "a/A", Method: "clean()V"},
		{Class: "a/A", Method: "cut()V", NotCovered: jflow.Finding{Nodes: []int{4, 5}}},
		{Class: "a/B", Method: "bad()V", Err: &jflow.MethodError{Method: "a/B.bad()V", Err: errors.New("no code")}},
	}
	res := newResult(reports, time.Second)
	require.Equal(t, 3, res.Stats.Methods)
	require.Equal(t, 1, res.Stats.WithFindings)
	require.Equal(t, 1, res.Stats.Errors)

	got := formatTextOutput(res, &Config{})
	require.Equal(t, "a/A\n"+
		"  cut()V\n"+
		"    not covered: nodes 4,5\n"+
		"a/B\n"+
		"  bad()V\n"+
		"    error: no code\n", got)
}
