package witness

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-witness/exitcodes"
	"github.com/ethereum-optimism/infra/op-witness/types"
)

func TestRuntimeError_Stages(t *testing.T) {
	cause := errors.New("test directory /ui does not exist")

	tests := []struct {
		name    string
		err     *RuntimeError
		stage   Stage
		message string
	}{
		{name: "config", err: NewConfigError(cause), stage: StageConfig, message: "config error: test directory /ui does not exist"},
		{name: "setup", err: NewSetupError(cause), stage: StageSetup, message: "setup error: test directory /ui does not exist"},
		{name: "run", err: NewRunError(cause), stage: StageRun, message: "run error: test directory /ui does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.stage, tt.err.Stage)
			assert.Equal(t, tt.message, tt.err.Error())
			assert.ErrorIs(t, tt.err, cause)
			assert.Equal(t, exitcodes.RuntimeErr, tt.err.ExitCode())
			assert.False(t, tt.err.Interrupted())
		})
	}
}

func TestRuntimeError_Interrupted(t *testing.T) {
	err := NewRunError(fmt.Errorf("run interrupted: %w", context.Canceled))
	assert.True(t, err.Interrupted())

	err = NewRunError(fmt.Errorf("run interrupted: %w", context.DeadlineExceeded))
	assert.True(t, err.Interrupted())
}

func TestIsRuntimeError_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("starting lifecycle: %w", NewSetupError(errors.New("no go binary")))
	assert.True(t, IsRuntimeError(wrapped))
	assert.False(t, IsTestFailureError(wrapped))
	assert.False(t, IsRuntimeError(nil))
	assert.False(t, IsRuntimeError(errors.New("plain")))
}

func TestTestFailureError_NamesFailedTests(t *testing.T) {
	verdicts := []types.TestVerdict{
		{DisplayName: "TestLogin", Status: types.TestStatusPass},
		{DisplayName: "TestCheckout", Status: types.TestStatusFail},
		{DisplayName: "TestLegacy", Status: types.TestStatusSkip},
		{DisplayName: "TestSearch", Status: types.TestStatusFail},
	}
	summary := types.RunSummary{Total: 4, Passed: 1, Failed: 2, Skipped: 1}

	err := NewTestFailureError(summary, verdicts)
	assert.Equal(t, []string{"TestCheckout", "TestSearch"}, err.Failed)
	assert.Equal(t, "2 of 4 tests failed: TestCheckout, TestSearch", err.Error())
	assert.Equal(t, exitcodes.TestFailure, err.ExitCode())

	var target *TestFailureError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &target)
	assert.Equal(t, 2, target.Summary.Failed)
	assert.False(t, IsRuntimeError(err))
}

func TestTestFailureError_WithoutVerdicts(t *testing.T) {
	err := NewTestFailureError(types.RunSummary{Total: 3, Failed: 1}, nil)
	assert.Equal(t, "1 of 3 tests failed", err.Error())
}
