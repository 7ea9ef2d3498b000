package plan

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// FindTestFunctions takes a package path and working directory, and returns the
// Test function names declared in the package's _test.go files.
func FindTestFunctions(pkgPath string, workingDir string) ([]string, error) {
	relPath, err := packageDir(pkgPath, workingDir)
	if err != nil {
		return nil, err
	}

	pkgDir := filepath.Join(workingDir, relPath)
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var testFunctions []string
	fset := token.NewFileSet()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}

		filePath := filepath.Join(pkgDir, entry.Name())
		f, err := parser.ParseFile(fset, filePath, nil, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}

		for _, decl := range f.Decls {
			funcDecl, ok := decl.(*ast.FuncDecl)
			if !ok || funcDecl.Recv != nil {
				continue
			}
			if isTestFunc(funcDecl) {
				testFunctions = append(testFunctions, funcDecl.Name.Name)
			}
		}
	}

	return testFunctions, nil
}

// packageDir maps a relative or module-qualified package path to a
// directory relative to workingDir.
func packageDir(pkgPath, workingDir string) (string, error) {
	if pkgPath == "." || strings.HasPrefix(pkgPath, "./") {
		return strings.TrimPrefix(pkgPath, "./"), nil
	}

	goModPath := filepath.Join(workingDir, "go.mod")
	goModContent, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}

	modFile, err := modfile.Parse(goModPath, goModContent, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if modFile.Module == nil || modFile.Module.Mod.Path == "" {
		return "", fmt.Errorf("could not find module name in go.mod")
	}
	moduleName := modFile.Module.Mod.Path

	if pkgPath != moduleName && !strings.HasPrefix(pkgPath, moduleName+"/") {
		return "", fmt.Errorf("package %s is not in module %s", pkgPath, moduleName)
	}

	relPath := strings.TrimPrefix(strings.TrimPrefix(pkgPath, moduleName), "/")
	if relPath == "" {
		relPath = "."
	}
	return relPath, nil
}

// isTestFunc reports whether fn has the shape go test runs: TestXxx with a
// single *testing.T parameter. TestMain is excluded.
func isTestFunc(fn *ast.FuncDecl) bool {
	name := fn.Name.Name
	if !strings.HasPrefix(name, "Test") || name == "TestMain" {
		return false
	}
	// Testfoo is not a test; the rune after "Test" must not be lower case
	if rest := name[len("Test"):]; rest != "" {
		if r := rest[0]; r >= 'a' && r <= 'z' {
			return false
		}
	}
	params := fn.Type.Params
	if params == nil || len(params.List) != 1 || len(params.List[0].Names) > 1 {
		return false
	}
	star, ok := params.List[0].Type.(*ast.StarExpr)
	if !ok {
		return false
	}
	sel, ok := star.X.(*ast.SelectorExpr)
	return ok && sel.Sel.Name == "T"
}
