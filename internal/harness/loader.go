package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
	yaml "gopkg.in/yaml.v3"

	"github.com/715d/jflow/pkg/jflow"
)

// TestCase is one fixture archive.
type TestCase struct {
	// Name is the archive file name without extension.
	Name string `yaml:"-"`

	// Description is the archive comment.
	Description string `yaml:"-"`

	Archive *txtar.Archive `yaml:"-"`

	// Configurations defines the analyzer configurations to test.
	Configurations []Configuration `yaml:"configurations"`
}

// LoadTestCase reads a fixture archive and its expected.yaml member.
func LoadTestCase(t *testing.T, path string) *TestCase {
	t.Helper()
	a, err := txtar.ParseFile(path)
	require.NoError(t, err)

	tc := &TestCase{
		Name:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Description: strings.TrimSpace(string(a.Comment)),
		Archive:     a,
	}
	var expected []byte
	for _, f := range a.Files {
		if f.Name == jflow.ExpectedFile {
			expected = f.Data
		}
	}
	require.NotNil(t, expected, "%s: missing %s", path, jflow.ExpectedFile)
	require.NoError(t, yaml.Unmarshal(expected, tc))
	return tc
}

// DiscoverTestCases returns the fixtures in root, in name order.
func DiscoverTestCases(t *testing.T, root string) []*TestCase {
	t.Helper()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)

	var testCases []*TestCase
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txtar" {
			continue
		}
		testCases = append(testCases, LoadTestCase(t, filepath.Join(root, entry.Name())))
	}
	return testCases
}
