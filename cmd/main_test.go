package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	witness "github.com/ethereum-optimism/infra/op-witness"
	"github.com/ethereum-optimism/infra/op-witness/exitcodes"
	"github.com/ethereum-optimism/infra/op-witness/types"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: exitcodes.Success},
		{name: "failed tests", err: witness.NewTestFailureError(types.RunSummary{Total: 1, Failed: 1}, nil), want: exitcodes.TestFailure},
		{name: "wrapped failed tests", err: fmt.Errorf("lifecycle: %w", witness.NewTestFailureError(types.RunSummary{Failed: 1}, nil)), want: exitcodes.TestFailure},
		{name: "bad config", err: witness.NewConfigError(errors.New("missing testdir")), want: exitcodes.RuntimeErr},
		{name: "interrupted", err: witness.NewRunError(errors.New("run interrupted")), want: exitcodes.RuntimeErr},
		{name: "unclassified", err: errors.New("flag provided but not defined"), want: exitcodes.RuntimeErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
