// Package testutil keeps the public engine layered: pkg/ never reaches into
// internal/, and each pkg/ layer imports only the layers below it.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// Layers lists the pkg/ packages from the bottom up.
var Layers = []string{"ordered", "thing", "cache", "txn", "transport", "session"}

// HigherLayers returns the layers above layer. An unknown layer has none.
func HigherLayers(layer string) []string {
	i := slices.Index(Layers, layer)
	if i < 0 {
		return nil
	}
	return slices.Clone(Layers[i+1:])
}

// AssertLayer fails t when a non-test file in dir imports internal/ or a
// layer above layer.
func AssertLayer(t testing.TB, dir, layer string) {
	t.Helper()
	AssertNoDirectImports(t, dir, InternalImportForbidden, "pkg must not import internal")
	if higher := HigherLayers(layer); len(higher) > 0 {
		AssertNoDirectImports(t, dir, LayerImportForbidden(higher...), fmt.Sprintf("%s must not import %s", layer, strings.Join(higher, ", ")))
	}
}

// AssertNoTransitiveDependency fails t when `go list -deps pattern` reports a
// package matching forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	out, err := goListDeps(pattern)
	if err != nil {
		t.Fatalf("go list -deps %s: %v\n%s", pattern, err, out)
	}
	report(t, "transitive dependency", reason, matching(strings.Split(string(out), "\n"), forbidden))
}

// AssertNoDirectImports fails t when a non-test file directly in dir imports
// a path matching forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	report(t, "direct import", reason, viols)
}

// LayerImportForbidden matches imports of the named pkg/ layers.
func LayerImportForbidden(layers ...string) func(path string) bool {
	return func(path string) bool {
		path, _, _ = strings.Cut(path, "@")
		for _, layer := range layers {
			if strings.HasSuffix(path, "/pkg/"+layer) {
				return true
			}
		}
		return false
	}
}

// InternalImportForbidden matches any path with an internal segment.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/") || strings.HasSuffix(path, "/internal")
}

var goListDeps = func(pattern string) ([]byte, error) {
	return exec.Command("go", "list", "-deps", pattern).CombinedOutput()
}

func matching(paths []string, forbidden func(string) bool) []string {
	var out []string
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" && forbidden(p) {
			out = append(out, p)
		}
	}
	return out
}

func directImportViolations(dir string, forbidden func(path string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".go" || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			if p := strings.Trim(imp.Path.Value, `"`); forbidden(p) {
				viols = append(viols, p+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalf interface {
	Fatalf(format string, args ...any)
}

func report(t fatalf, what, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden %s (%s):\n%s", what, reason, strings.Join(viols, "\n"))
	}
}
