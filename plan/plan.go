// Package plan decides which tests a run executes: either a YAML test plan
// or every Test function discovered under the test directory.
package plan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-witness/types"
)

// Entry is one line of a test plan. An entry without a name selects every
// Test function in the package.
type Entry struct {
	Name    string         `yaml:"name,omitempty"`
	Package string         `yaml:"package"`
	Timeout *time.Duration `yaml:"timeout,omitempty"`
	Exclude []string       `yaml:"exclude,omitempty"`
}

// Plan is the set of tests a run executes, in order.
type Plan struct {
	Tests []Entry `yaml:"tests"`
}

// Config controls how a plan is loaded and resolved.
type Config struct {
	Log log.Logger
	// WorkDir is the module directory go test runs in.
	WorkDir string
	// File is an optional YAML plan. Without it every package under WorkDir
	// that has _test.go files is planned.
	File           string
	DefaultTimeout time.Duration
}

// Load reads a YAML test plan.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}
	for i, e := range p.Tests {
		if e.Package == "" {
			return nil, fmt.Errorf("plan entry %d has no package", i)
		}
		if e.Timeout != nil && *e.Timeout < 0 {
			return nil, fmt.Errorf("plan entry %d has a negative timeout", i)
		}
	}
	return &p, nil
}

// Discover plans every package under workDir that contains _test.go files.
// Hidden directories, vendor, testdata and underscore-prefixed directories
// are skipped, matching the go tool.
func Discover(workDir string) (*Plan, error) {
	var p Plan
	err := filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != workDir && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") ||
			name == "vendor" || name == "testdata") {
			return filepath.SkipDir
		}
		// nested modules are not part of this module's packages
		if path != workDir {
			if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
				return filepath.SkipDir
			}
		}

		hasTests, err := containsTestFiles(path)
		if err != nil {
			return err
		}
		if !hasTests {
			return nil
		}
		rel, err := filepath.Rel(workDir, path)
		if err != nil {
			return err
		}
		pkg := "."
		if rel != "." {
			pkg = "./" + filepath.ToSlash(rel)
		}
		p.Tests = append(p.Tests, Entry{Package: pkg})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering test packages: %w", err)
	}
	return &p, nil
}

func containsTestFiles(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), "_test.go") {
			return true, nil
		}
	}
	return false, nil
}

// Build loads or discovers the plan and resolves it into test cases.
func Build(cfg Config) ([]types.TestCase, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}

	var (
		p   *Plan
		err error
	)
	if cfg.File != "" {
		p, err = Load(cfg.File)
	} else {
		p, err = Discover(cfg.WorkDir)
	}
	if err != nil {
		return nil, err
	}

	tests, err := p.Resolve(cfg.WorkDir, cfg.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	cfg.Log.Debug("Test plan resolved", "file", cfg.File, "entries", len(p.Tests), "tests", len(tests))
	return tests, nil
}

// Resolve expands package entries into one test case per Test function.
// Repeated identities keep their first occurrence.
func (p *Plan) Resolve(workDir string, defaultTimeout time.Duration) ([]types.TestCase, error) {
	var out []types.TestCase
	seen := make(map[types.TestIdentity]bool)

	add := func(pkg, name string, timeout time.Duration) {
		id := types.NewTestIdentity(pkg, name)
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, types.TestCase{Identity: id, Timeout: timeout})
	}

	for _, e := range p.Tests {
		timeout := defaultTimeout
		if e.Timeout != nil {
			timeout = *e.Timeout
		}

		if e.Name != "" {
			add(e.Package, e.Name, timeout)
			continue
		}

		names, err := FindTestFunctions(e.Package, workDir)
		if err != nil {
			return nil, fmt.Errorf("listing tests in %s: %w", e.Package, err)
		}
		excluded := make(map[string]bool, len(e.Exclude))
		for _, x := range e.Exclude {
			excluded[x] = true
		}
		for _, name := range names {
			if !excluded[name] {
				add(e.Package, name, timeout)
			}
		}
	}
	return out, nil
}
