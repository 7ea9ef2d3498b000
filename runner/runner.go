package runner

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-witness/metrics"
	"github.com/ethereum-optimism/infra/op-witness/retry"
	"github.com/ethereum-optimism/infra/op-witness/tracker"
	"github.com/ethereum-optimism/infra/op-witness/types"
)

// Config holds configuration for creating a new runner
type Config struct {
	Log      log.Logger
	RunID    string
	Executor TestExecutor
	Listener tracker.Listener
	// Policy must be the same policy the listener classifies with.
	Policy *retry.Policy
	// Concurrency is the number of tests executed at once. Zero picks a
	// value from the CPU count.
	Concurrency int
	Serial      bool
}

// Runner drives the host framework for every planned test and reports each
// execution to the lifecycle listener.
type Runner struct {
	log         log.Logger
	runID       string
	executor    TestExecutor
	listener    tracker.Listener
	policy      *retry.Policy
	concurrency int
	tracer      trace.Tracer
}

// RunStats describes a finished run from the runner's side.
type RunStats struct {
	RunID      string
	Tests      int
	Executions int
	Duration   time.Duration
}

// NewTestRunner creates a new test runner instance
func NewTestRunner(cfg Config) (*Runner, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Listener == nil {
		return nil, fmt.Errorf("listener is required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("retry policy is required")
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency cannot be negative")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}

	concurrency := cfg.Concurrency
	if cfg.Serial {
		concurrency = 1
	} else if concurrency == 0 {
		concurrency = determineConcurrency()
	}
	if concurrency > MaxReasonableConcurrency {
		cfg.Log.Warn("Very high concurrency requested", "concurrency", concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}

	return &Runner{
		log:         cfg.Log.New("component", "runner", "run_id", cfg.RunID),
		runID:       cfg.RunID,
		executor:    cfg.Executor,
		listener:    cfg.Listener,
		policy:      cfg.Policy,
		concurrency: concurrency,
		tracer:      otel.Tracer("test runner"),
	}, nil
}

func determineConcurrency() int {
	return min(max(runtime.NumCPU(), 1), MaxReasonableConcurrency)
}

// Concurrency returns the number of tests executed at once.
func (r *Runner) Concurrency() int {
	return r.concurrency
}

// Run executes every test, bracketed by OnRunStart and OnRunFinish. A
// failed or skipped test is executed again while the retry policy allows.
// Cancelling ctx stops new executions; the run is still finished so
// pending tests receive a verdict.
func (r *Runner) Run(ctx context.Context, tests []types.TestCase) (RunStats, error) {
	ctx, span := r.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run_id", r.runID),
		attribute.Int("tests", len(tests)),
	))
	defer span.End()

	start := time.Now()
	tests = dedupe(r.log, tests)
	stats := RunStats{RunID: r.runID, Tests: len(tests)}

	callbackCtx := context.WithoutCancel(ctx)
	r.listener.OnRunStart(callbackCtx)

	r.log.Info("Starting test execution", "tests", len(tests), "concurrency", r.concurrency,
		"max_attempts", r.policy.MaxAttempts())

	executions := make([]int, len(tests))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, tc := range tests {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			executions[i] = r.runTest(ctx, tc)
			return nil
		})
	}
	_ = g.Wait()

	r.listener.OnRunFinish(callbackCtx)

	for _, n := range executions {
		stats.Executions += n
	}
	stats.Duration = time.Since(start)
	r.log.Info("Test execution finished", "tests", stats.Tests, "executions", stats.Executions,
		"duration", stats.Duration)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "run interrupted")
		return stats, fmt.Errorf("run interrupted: %w", err)
	}
	return stats, nil
}

// runTest executes one test until it passes or the policy is exhausted and
// returns the number of executions started.
func (r *Runner) runTest(ctx context.Context, tc types.TestCase) (executions int) {
	id := tc.Identity
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Recovered from panic while running test", "test", id.String(), "panic", rec,
				"stack", string(debug.Stack()))
			metrics.RecordError("runner.panic")
		}
	}()

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("test %s", id.FuncName), trace.WithAttributes(
		attribute.String("package", id.Package),
	))
	defer span.End()

	callbackCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return executions
		}
		executions++
		r.listener.OnTestStart(callbackCtx, id)

		outcome := r.executeAttempt(ctx, tc, executions)
		switch outcome.Status {
		case types.TestStatusPass:
			r.listener.OnTestPass(callbackCtx, id)
			return executions
		case types.TestStatusSkip:
			r.listener.OnTestSkip(callbackCtx, id)
		default:
			span.SetStatus(codes.Error, "test failed")
			r.listener.OnTestFail(callbackCtx, id, outcome.Cause)
		}

		if !r.policy.ShouldRetry(id) {
			return executions
		}
	}
}

func (r *Runner) executeAttempt(ctx context.Context, tc types.TestCase, attempt int) Outcome {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("attempt %d", attempt))
	defer span.End()

	r.log.Info("Running test", "test", tc.Identity.String(), "attempt", attempt)
	outcome, err := r.executor.Execute(ctx, tc)
	if err != nil {
		r.log.Error("Test execution error", "test", tc.Identity.String(), "attempt", attempt, "err", err)
		metrics.RecordErrorDetails("runner.execute", err)
		span.RecordError(err)
		return Outcome{Status: types.TestStatusFail, Cause: err}
	}
	span.SetAttributes(attribute.String("status", string(outcome.Status)))
	r.log.Debug("Test execution finished", "test", tc.Identity.String(), "attempt", attempt,
		"status", outcome.Status, "duration", outcome.Duration)
	return outcome
}

// dedupe drops repeated identities; one identity gets exactly one verdict.
func dedupe(logger log.Logger, tests []types.TestCase) []types.TestCase {
	seen := make(map[types.TestIdentity]struct{}, len(tests))
	out := make([]types.TestCase, 0, len(tests))
	for _, tc := range tests {
		if _, ok := seen[tc.Identity]; ok {
			logger.Warn("Duplicate test in plan, ignoring", "test", tc.Identity.String())
			continue
		}
		seen[tc.Identity] = struct{}{}
		out = append(out, tc)
	}
	return out
}
