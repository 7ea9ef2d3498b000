package witness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-witness/exitcodes"
	"github.com/ethereum-optimism/infra/op-witness/types"
)

// Stage names where a run broke down before it could produce verdicts.
type Stage string

const (
	StageConfig Stage = "config" // flags, test directory or plan file
	StageSetup  Stage = "setup"  // building the plan, report, tracker or executor
	StageRun    Stage = "run"    // driving the tests, including interruption
)

// RuntimeError means op-witness itself failed, so the verdicts of the run
// cannot be relied on. It exits with code 2.
type RuntimeError struct {
	Stage Stage
	Err   error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Stage, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func (e *RuntimeError) ExitCode() int {
	return exitcodes.RuntimeErr
}

// Interrupted reports whether the run was cancelled rather than broken.
func (e *RuntimeError) Interrupted() bool {
	return errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}

// NewConfigError reports unusable configuration: a missing test directory,
// an unreadable plan file or out of range capture settings.
func NewConfigError(err error) *RuntimeError {
	return &RuntimeError{Stage: StageConfig, Err: err}
}

// NewSetupError reports a failure assembling the run before any test started.
func NewSetupError(err error) *RuntimeError {
	return &RuntimeError{Stage: StageSetup, Err: err}
}

// NewRunError reports a run that stopped before every test had a verdict.
func NewRunError(err error) *RuntimeError {
	return &RuntimeError{Stage: StageRun, Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError is returned by a completed run in which at least one
// test ended with a failed verdict. It exits with code 1.
type TestFailureError struct {
	Summary types.RunSummary
	Failed  []string // display names, in first-start order
}

// NewTestFailureError collects the failed tests out of verdicts.
func NewTestFailureError(summary types.RunSummary, verdicts []types.TestVerdict) *TestFailureError {
	e := &TestFailureError{Summary: summary}
	for _, v := range verdicts {
		if v.Status == types.TestStatusFail {
			e.Failed = append(e.Failed, v.DisplayName)
		}
	}
	return e
}

func (e *TestFailureError) Error() string {
	msg := fmt.Sprintf("%d of %d tests failed", e.Summary.Failed, e.Summary.Total)
	if len(e.Failed) > 0 {
		msg += ": " + strings.Join(e.Failed, ", ")
	}
	return msg
}

func (e *TestFailureError) ExitCode() int {
	return exitcodes.TestFailure
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
