package domain

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// TestDomainImportsStandardLibraryOnly keeps the domain model importable by
// every storage backend: no module packages and no third-party modules.
func TestDomainImportsStandardLibraryOnly(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for _, spec := range file.Imports {
			path, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				t.Fatalf("%s: bad import %s", name, spec.Path.Value)
			}
			if !isStandardLibrary(path) {
				t.Errorf("%s imports %s; the domain package may only use the standard library", name, path)
			}
		}
	}
}

// isStandardLibrary applies the go command's rule: standard packages have no
// dot in their first path element. The module path is dot-free, so it is
// rejected explicitly.
func isStandardLibrary(path string) bool {
	first, _, _ := strings.Cut(path, "/")
	return !strings.Contains(first, ".") && first != "restorationcore"
}

func TestIsStandardLibrary(t *testing.T) {
	cases := map[string]bool{
		"time":                          true,
		"encoding/json":                 true,
		"restorationcore/internal/core": false,
		"github.com/google/uuid":        false,
		"gopkg.in/yaml.v3":              false,
	}
	for path, want := range cases {
		if got := isStandardLibrary(path); got != want {
			t.Fatalf("isStandardLibrary(%q) = %v, want %v", path, got, want)
		}
	}
}
