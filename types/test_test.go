package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTestIdentity(t *testing.T) {
	tests := []struct {
		name        string
		id          TestIdentity
		wantString  string
		wantDisplay string
	}{
		{
			name:        "package and function",
			id:          NewTestIdentity("./tests/login", "TestLogin"),
			wantString:  "./tests/login.TestLogin",
			wantDisplay: "TestLogin",
		},
		{
			name:        "function only",
			id:          NewTestIdentity("", "TestCheckout"),
			wantString:  "TestCheckout",
			wantDisplay: "TestCheckout",
		},
		{
			name:        "package only",
			id:          NewTestIdentity("github.com/acme/ui/tests/cart", ""),
			wantString:  "github.com/acme/ui/tests/cart.",
			wantDisplay: "cart",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantString, tt.id.String())
			assert.Equal(t, tt.wantDisplay, tt.id.DisplayName())
		})
	}
	assert.True(t, TestIdentity{}.IsZero())
}

func TestRetriesFromAttempts(t *testing.T) {
	assert.Equal(t, 0, RetriesFromAttempts(0))
	assert.Equal(t, 0, RetriesFromAttempts(1))
	assert.Equal(t, 1, RetriesFromAttempts(2))
	assert.Equal(t, 4, RetriesFromAttempts(5))
}

func TestSummarize(t *testing.T) {
	now := time.Date(2025, 3, 4, 14, 5, 0, 0, time.UTC)
	verdicts := []TestVerdict{
		{Status: TestStatusPass, Attempts: 1},
		{Status: TestStatusPass, Attempts: 2, Retries: 1},
		{Status: TestStatusFail, Attempts: 2, Retries: 1},
		{Status: TestStatusSkip, Attempts: 1},
		{Status: TestStatusFail, Attempts: 1, Retries: -1},
	}

	s := Summarize(verdicts, now)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Passed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 2, s.Retries)
	assert.Equal(t, TestStatusFail, s.Status())
	assert.Equal(t, now, s.ExecutionDate)

	empty := Summarize(nil, now)
	assert.Equal(t, 0, empty.Total)
	assert.Equal(t, TestStatusPass, empty.Status())
}
