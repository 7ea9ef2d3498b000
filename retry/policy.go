// Package retry decides whether a failed or skipped test gets another execution.
package retry

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-witness/types"
)

// DefaultMaxAttempts allows one retry after the first execution.
const DefaultMaxAttempts = 2

// Decision is the classification of a test's current attempt.
type Decision struct {
	Attempt   int  // executions started so far
	Remaining int  // executions still allowed
	Final     bool // true when no further execution will happen
}

// Policy tracks executions per test identity against a run-wide maximum.
type Policy struct {
	maxAttempts int
	log         log.Logger

	mu       sync.Mutex
	attempts map[types.TestIdentity]int
}

// NewPolicy creates a policy. maxAttempts below 1 is treated as 1 (no retries).
func NewPolicy(maxAttempts int, logger log.Logger) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = log.New()
	}
	return &Policy{
		maxAttempts: maxAttempts,
		log:         logger.New("component", "retry"),
		attempts:    make(map[types.TestIdentity]int),
	}
}

// MaxAttempts returns the configured execution limit.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether another execution of id is permitted.
func (p *Policy) ShouldRetry(id types.TestIdentity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[id] < p.maxAttempts
}

// CurrentAttempt returns the number of executions started for id.
func (p *Policy) CurrentAttempt(id types.TestIdentity) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[id]
}

// RecordAttempt registers the start of an execution and returns the new count.
// The count never exceeds the maximum.
func (p *Policy) RecordAttempt(id types.TestIdentity) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.attempts[id]
	if n >= p.maxAttempts {
		p.log.Warn("Attempt beyond retry limit, not counted", "test", id.String(), "attempts", n, "max", p.maxAttempts)
		return n
	}
	n++
	p.attempts[id] = n
	return n
}

// Classify returns the decision for id's current attempt in a single read.
func (p *Policy) Classify(id types.TestIdentity) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.attempts[id]
	remaining := p.maxAttempts - n
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Attempt:   n,
		Remaining: remaining,
		Final:     remaining == 0,
	}
}
