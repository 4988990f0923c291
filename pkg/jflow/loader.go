package jflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/txtar"

	"github.com/715d/jflow/pkg/bytecode"
	"github.com/715d/jflow/pkg/jtype"
)

// ExpectedFile is the txtar member holding test expectations. It is not a
// class file.
const ExpectedFile = "expected.yaml"

// LoadFile loads the classes of a YAML class file, or of every YAML member
// of a txtar archive.
func LoadFile(path string, resolver *jtype.Resolver) ([]*bytecode.Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		c, err := bytecode.DecodeClass(data, resolver)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return []*bytecode.Class{c}, nil
	case ".txtar":
		return LoadArchive(txtar.Parse(data), path, resolver)
	default:
		return nil, fmt.Errorf("%s: unsupported file type %q", path, ext)
	}
}

// LoadArchive decodes the class files held in archive a. name is used in
// error messages.
func LoadArchive(a *txtar.Archive, name string, resolver *jtype.Resolver) ([]*bytecode.Class, error) {
	var classes []*bytecode.Class
	for _, f := range a.Files {
		if f.Name == ExpectedFile || !isClassFile(f.Name) {
			continue
		}
		c, err := bytecode.DecodeClass(f.Data, resolver)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", name, f.Name, err)
		}
		classes = append(classes, c)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("%s: no class files in archive", name)
	}
	return classes, nil
}

func isClassFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// LoadFiles loads all paths concurrently and returns their classes in path
// order.
func LoadFiles(ctx context.Context, paths []string, resolver *jtype.Resolver) ([]*bytecode.Class, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files provided")
	}
	results := make([][]*bytecode.Class, len(paths))
	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(8)
	for idx, path := range paths {
		wg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			classes, err := LoadFile(path, resolver)
			if err != nil {
				return err
			}
			results[idx] = classes
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("loading classes: %w", err)
	}

	var all []*bytecode.Class
	for _, classes := range results {
		all = append(all, classes...)
	}
	return all, nil
}

// FindMethod returns the method of classes selected by sel, which is a
// method name optionally followed by its descriptor, and optionally
// qualified by the internal class name: "run", "run()V" or "a/B.run()V".
// A name without descriptor must be unambiguous.
func FindMethod(classes []*bytecode.Class, sel string) (*bytecode.Method, error) {
	class := ""
	if i := strings.LastIndex(sel, "."); i >= 0 && !strings.Contains(sel[:i], "(") {
		class, sel = sel[:i], sel[i+1:]
	}
	name, desc := sel, ""
	if i := strings.Index(sel, "("); i >= 0 {
		name, desc = sel[:i], sel[i:]
	}

	var found []*bytecode.Method
	for _, c := range classes {
		if class != "" && c.Name != class {
			continue
		}
		for _, m := range c.Methods {
			if m.Name == name && (desc == "" || m.Descriptor == desc) {
				found = append(found, m)
			}
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("method %q not found", sel)
	case 1:
		return found[0], nil
	}
	var names []string
	for _, m := range found {
		names = append(names, m.String())
	}
	return nil, fmt.Errorf("method %q is ambiguous: %s", sel, strings.Join(names, ", "))
}
