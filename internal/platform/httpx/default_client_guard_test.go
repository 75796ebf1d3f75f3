// SPDX-License-Identifier: MIT

package httpx

import (
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// moduleRoot walks up from the package directory to go.mod.
func moduleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, dir, parent, "go.mod not found")
		dir = parent
	}
}

// Platform requests must carry the cookie jar, timeout and tracing that
// NewClient installs, so production code may neither use the net/http
// package helpers nor build its own http.Client.
func TestPlatformTrafficUsesNewClient(t *testing.T) {
	root := moduleRoot(t)
	helpers := []string{"DefaultClient", "Get", "Head", "Post", "PostForm"}
	self, err := filepath.Abs(".")
	require.NoError(t, err)

	var violations []string
	fset := token.NewFileSet()
	for _, dir := range []string{"internal", "cmd"} {
		err := filepath.WalkDir(filepath.Join(root, dir), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			file, err := parser.ParseFile(fset, path, nil, 0)
			if err != nil {
				return err
			}
			inHTTPX := filepath.Dir(path) == self
			ast.Inspect(file, func(n ast.Node) bool {
				switch n := n.(type) {
				case *ast.SelectorExpr:
					if id, ok := n.X.(*ast.Ident); ok && id.Name == "http" && slices.Contains(helpers, n.Sel.Name) {
						violations = append(violations, fset.Position(n.Pos()).String()+": http."+n.Sel.Name)
					}
				case *ast.CompositeLit:
					sel, ok := n.Type.(*ast.SelectorExpr)
					if !ok || inHTTPX {
						return true
					}
					if id, ok := sel.X.(*ast.Ident); ok && id.Name == "http" && sel.Sel.Name == "Client" {
						violations = append(violations, fset.Position(n.Pos()).String()+": http.Client literal")
					}
				}
				return true
			})
			return nil
		})
		require.NoError(t, err)
	}

	slices.Sort(violations)
	require.Empty(t, violations, "build platform clients with httpx.NewClient")
}
