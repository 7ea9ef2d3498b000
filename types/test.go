package types

import (
	"fmt"
	"strings"
	"time"
)

// TestStatus represents the terminal outcome of a test
type TestStatus string

const (
	TestStatusPass TestStatus = "pass"
	TestStatusFail TestStatus = "fail"
	TestStatusSkip TestStatus = "skip"
)

// TestIdentity uniquely names a test definition across all of its attempts.
type TestIdentity struct {
	Package  string `json:"package" yaml:"package"`
	FuncName string `json:"func" yaml:"name"`
}

// NewTestIdentity builds an identity from a package path and a test function name.
func NewTestIdentity(pkg, funcName string) TestIdentity {
	return TestIdentity{Package: pkg, FuncName: funcName}
}

// String returns the fully qualified name, eg. "./tests/login.TestLogin".
func (id TestIdentity) String() string {
	if id.Package == "" {
		return id.FuncName
	}
	return fmt.Sprintf("%s.%s", id.Package, id.FuncName)
}

// DisplayName is the short name shown in reports and used for artifact file names.
func (id TestIdentity) DisplayName() string {
	if id.FuncName != "" {
		return id.FuncName
	}
	pkgParts := strings.Split(id.Package, "/")
	return pkgParts[len(pkgParts)-1]
}

// IsZero reports whether the identity carries no name at all
func (id TestIdentity) IsZero() bool {
	return id.Package == "" && id.FuncName == ""
}

// TestVerdict is the single final outcome recorded for a test identity.
type TestVerdict struct {
	Identity    TestIdentity `json:"identity"`
	DisplayName string       `json:"display_name"`
	Status      TestStatus   `json:"status"`
	Attempts    int          `json:"attempts"`
	Retries     int          `json:"retries"`
	Cause       string       `json:"cause,omitempty"`
	Screenshot  string       `json:"screenshot,omitempty"`
	Video       string       `json:"video,omitempty"`
	RecordedAt  time.Time    `json:"recorded_at"`
}

// RetriesFromAttempts converts an execution count into the number of retries it implies.
func RetriesFromAttempts(attempts int) int {
	if attempts <= 1 {
		return 0
	}
	return attempts - 1
}

// TestCase is one planned test: the identity to run and its per-execution timeout.
type TestCase struct {
	Identity TestIdentity
	// Timeout bounds a single execution. Zero means the runner default.
	Timeout time.Duration
}
