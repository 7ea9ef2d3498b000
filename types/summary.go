package types

import (
	"fmt"
	"time"
)

// RunSummary aggregates the verdicts of one run.
type RunSummary struct {
	ExecutionDate time.Time `json:"execution_date"`
	Total         int       `json:"total"`
	Passed        int       `json:"passed"`
	Failed        int       `json:"failed"`
	Skipped       int       `json:"skipped"`
	Retries       int       `json:"retries"`
}

// Summarize counts verdicts by status. Retries is the sum of per-test retries.
func Summarize(verdicts []TestVerdict, executedAt time.Time) RunSummary {
	s := RunSummary{ExecutionDate: executedAt, Total: len(verdicts)}
	for _, v := range verdicts {
		switch v.Status {
		case TestStatusPass:
			s.Passed++
		case TestStatusFail:
			s.Failed++
		case TestStatusSkip:
			s.Skipped++
		}
		if v.Retries > 0 {
			s.Retries += v.Retries
		}
	}
	return s
}

// Status returns fail if any test failed, pass otherwise
func (s RunSummary) Status() TestStatus {
	if s.Failed > 0 {
		return TestStatusFail
	}
	return TestStatusPass
}

func (s RunSummary) String() string {
	return fmt.Sprintf("Total: %d, Passed: %d, Failed: %d, Skipped: %d, Retries: %d",
		s.Total, s.Passed, s.Failed, s.Skipped, s.Retries)
}
