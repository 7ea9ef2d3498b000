package plan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-witness/types"
)

const loginTests = `package login_test

import "testing"

func TestMain(m *testing.M) {}

func TestLogin(t *testing.T) {}

func TestLogout(t *testing.T) {}

func Testlowercase(t *testing.T) {}

func TestHelper(name string) {}

func BenchmarkLogin(b *testing.B) {}

type suite struct{}

func (suite) TestMethod(t *testing.T) {}
`

const checkoutTests = `package checkout_test

import "testing"

func TestCart(t *testing.T) {}

func TestPayment(t *testing.T) {}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// setupModule lays out:
//
//	go.mod
//	tests/login/login_test.go
//	tests/checkout/checkout_test.go
//	tests/checkout/testdata/fixture_test.go (ignored)
//	tools/helper.go (no tests)
//	.cache/x_test.go (ignored)
//	nested/go.mod + nested/n_test.go (ignored)
func setupModule(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "go.mod"), "module example.com/uitests\n\ngo 1.22\n")
	writeFile(t, filepath.Join(dir, "tests", "login", "login_test.go"), loginTests)
	writeFile(t, filepath.Join(dir, "tests", "checkout", "checkout_test.go"), checkoutTests)
	writeFile(t, filepath.Join(dir, "tests", "checkout", "testdata", "fixture_test.go"), checkoutTests)
	writeFile(t, filepath.Join(dir, "tools", "helper.go"), "package tools\n")
	writeFile(t, filepath.Join(dir, ".cache", "x_test.go"), checkoutTests)
	writeFile(t, filepath.Join(dir, "nested", "go.mod"), "module example.com/nested\n")
	writeFile(t, filepath.Join(dir, "nested", "n_test.go"), checkoutTests)
	return dir
}

func TestFindTestFunctions(t *testing.T) {
	dir := setupModule(t)

	tests := []struct {
		name     string
		pkgPath  string
		expected []string
	}{
		{name: "relative path", pkgPath: "./tests/login", expected: []string{"TestLogin", "TestLogout"}},
		{name: "module path", pkgPath: "example.com/uitests/tests/checkout", expected: []string{"TestCart", "TestPayment"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, err := FindTestFunctions(tt.pkgPath, dir)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.expected, names)
		})
	}
}

func TestFindTestFunctionsErrors(t *testing.T) {
	tests := []struct {
		name    string
		pkgPath string
		setup   func(t *testing.T, dir string)
		wantErr string
	}{
		{
			name:    "missing go.mod for module path",
			pkgPath: "example.com/uitests/pkg",
			wantErr: "failed to read go.mod",
		},
		{
			name:    "invalid go.mod",
			pkgPath: "example.com/uitests/pkg",
			setup: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, "go.mod"), "invalid content")
			},
			wantErr: "failed to parse go.mod",
		},
		{
			name:    "package not in module",
			pkgPath: "example.com/other/pkg",
			setup: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, "go.mod"), "module example.com/uitests\n")
			},
			wantErr: "package example.com/other/pkg is not in module example.com/uitests",
		},
		{
			name:    "module prefix is not a path prefix",
			pkgPath: "example.com/uitestsextra/pkg",
			setup: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, "go.mod"), "module example.com/uitests\n")
			},
			wantErr: "is not in module",
		},
		{
			name:    "relative path not found",
			pkgPath: "./nonexistent",
			wantErr: "failed to read package directory",
		},
		{
			name:    "unparseable test file",
			pkgPath: "./broken",
			setup: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, "broken", "a_test.go"), "package broken\nfunc TestA(")
			},
			wantErr: "failed to parse a_test.go",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.setup != nil {
				tt.setup(t, dir)
			}
			_, err := FindTestFunctions(tt.pkgPath, dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := setupModule(t)

	p, err := Discover(dir)
	require.NoError(t, err)

	var pkgs []string
	for _, e := range p.Tests {
		pkgs = append(pkgs, e.Package)
		assert.Empty(t, e.Name)
	}
	assert.ElementsMatch(t, []string{"./tests/checkout", "./tests/login"}, pkgs)
}

func TestDiscover_RootPackage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "root_test.go"), checkoutTests)

	p, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, p.Tests, 1)
	assert.Equal(t, ".", p.Tests[0].Package)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	writeFile(t, path, `
tests:
  - package: ./tests/login
    name: TestLogin
    timeout: 90s
  - package: ./tests/checkout
    exclude: [TestPayment]
`)

	p, err := Load(path)
	require.NoError(t, err)
	require.Len(t, p.Tests, 2)
	assert.Equal(t, "TestLogin", p.Tests[0].Name)
	require.NotNil(t, p.Tests[0].Timeout)
	assert.Equal(t, 90*time.Second, *p.Tests[0].Timeout)
	assert.Nil(t, p.Tests[1].Timeout)
	assert.Equal(t, []string{"TestPayment"}, p.Tests[1].Exclude)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "bad yaml", content: "tests: [", wantErr: "parsing plan file"},
		{name: "missing package", content: "tests:\n  - name: TestA\n", wantErr: "has no package"},
		{name: "negative timeout", content: "tests:\n  - package: ./a\n    timeout: -1s\n", wantErr: "negative timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "plan.yaml")
			writeFile(t, path, tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading plan file")
}

func TestBuild_FromPlanFile(t *testing.T) {
	dir := setupModule(t)
	path := filepath.Join(dir, "plan.yaml")
	writeFile(t, path, `
tests:
  - package: ./tests/login
    name: TestLogin
    timeout: 90s
  - package: ./tests/checkout
    exclude: [TestPayment]
  - package: ./tests/login
    name: TestLogin
`)

	tests, err := Build(Config{WorkDir: dir, File: path, DefaultTimeout: 5 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, []types.TestCase{
		{Identity: types.NewTestIdentity("./tests/login", "TestLogin"), Timeout: 90 * time.Second},
		{Identity: types.NewTestIdentity("./tests/checkout", "TestCart"), Timeout: 5 * time.Minute},
	}, tests)
}

func TestBuild_Discovered(t *testing.T) {
	dir := setupModule(t)

	tests, err := Build(Config{WorkDir: dir, DefaultTimeout: time.Minute})
	require.NoError(t, err)

	var names []string
	for _, tc := range tests {
		names = append(names, tc.Identity.String())
		assert.Equal(t, time.Minute, tc.Timeout)
	}
	assert.ElementsMatch(t, []string{
		"./tests/login.TestLogin",
		"./tests/login.TestLogout",
		"./tests/checkout.TestCart",
		"./tests/checkout.TestPayment",
	}, names)
}

func TestBuild_RequiresWorkDir(t *testing.T) {
	_, err := Build(Config{})
	require.Error(t, err)
}
