// Package witness wires the test lifecycle orchestrator into a run-once
// cliapp service: it plans the tests, drives them through go test with
// retries, captures evidence around failures and writes the run artifacts.
package witness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-witness/capture"
	"github.com/ethereum-optimism/infra/op-witness/plan"
	"github.com/ethereum-optimism/infra/op-witness/recorder"
	"github.com/ethereum-optimism/infra/op-witness/reporting"
	"github.com/ethereum-optimism/infra/op-witness/retry"
	"github.com/ethereum-optimism/infra/op-witness/runner"
	"github.com/ethereum-optimism/infra/op-witness/tracker"
	"github.com/ethereum-optimism/infra/op-witness/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// Witness implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = (*Witness)(nil)

// Witness runs a planned set of UI tests once and reports a verdict per test.
type Witness struct {
	config  *Config
	version string
	log     log.Logger
	runID   string
	out     io.Writer

	tests   []types.TestCase
	tracker *tracker.Tracker
	runner  *runner.Runner

	stats   runner.RunStats
	summary types.RunSummary

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// Option customizes a Witness.
type Option func(*options)

type options struct {
	out      io.Writer
	executor runner.TestExecutor
	recorder tracker.Recorder
	capturer tracker.Screenshotter
}

// WithOutput sends the results table to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithExecutor replaces the go test executor.
func WithExecutor(e runner.TestExecutor) Option {
	return func(o *options) { o.executor = e }
}

// WithRecorder replaces the ffmpeg recording session.
func WithRecorder(r tracker.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithCapturer replaces the display screenshot capturer.
func WithCapturer(c tracker.Screenshotter) Option {
	return func(o *options) { o.capturer = c }
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error), opts ...Option) (*Witness, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		config.Log = log.New()
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	runID := uuid.New().String()
	logger := config.Log.New("run_id", runID)

	logger.Debug("Creating witness with config",
		"testDir", config.TestDir,
		"plan", config.PlanFile,
		"maxAttempts", config.MaxAttempts,
		"capture", config.Capture.Enabled,
		"screenshots", config.Screenshots)

	tests, err := plan.Build(plan.Config{
		Log:            logger,
		WorkDir:        config.TestDir,
		File:           config.PlanFile,
		DefaultTimeout: config.DefaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build test plan: %w", err)
	}

	policy := retry.NewPolicy(config.MaxAttempts, logger)

	report, err := reporting.NewReport(reporting.ReportConfig{
		Dir:      config.ReportsDir,
		Title:    config.ReportTitle,
		Author:   config.ReportAuthor,
		Category: config.ReportCategory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}

	// leave the interfaces nil, not typed-nil, when capture is off
	var rec tracker.Recorder
	var shots tracker.Screenshotter
	if config.Capture.Enabled {
		rec = o.recorder
		if rec == nil {
			rec = newRecorder(config, logger)
		}
		if config.Screenshots {
			shots = o.capturer
			if shots == nil {
				shots = newCapturer(config, logger)
			}
		}
	}

	tr, err := tracker.New(tracker.Config{
		Log:            logger,
		RunID:          runID,
		Policy:         policy,
		Recorder:       rec,
		Capturer:       shots,
		CaptureEnabled: config.Capture.Enabled,
		Report:         report,
		Summary:        reporting.NewSummaryExporter(config.ReportsDir, nil),
		VerdictsDir:    config.ReportsDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}

	executor := o.executor
	if executor == nil {
		executor, err = runner.NewTestExecutor(runner.ExecutorConfig{
			TestDir:        config.TestDir,
			DefaultTimeout: config.DefaultTimeout,
			GoBinary:       config.GoBinary,
			Log:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create test executor: %w", err)
		}
	}

	testRunner, err := runner.NewTestRunner(runner.Config{
		Log:         logger,
		RunID:       runID,
		Executor:    executor,
		Listener:    tr,
		Policy:      policy,
		Concurrency: config.Concurrency,
		Serial:      config.Serial,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}
	logger.Info("witness.New: planned tests and created runner", "tests", len(tests))

	return &Witness{
		config:           config,
		version:          version,
		log:              logger,
		runID:            runID,
		out:              o.out,
		tests:            tests,
		tracker:          tr,
		runner:           testRunner,
		shutdownCallback: shutdownCallback,
	}, nil
}

func newRecorder(config *Config, logger log.Logger) *recorder.Recorder {
	return recorder.New(recorder.Config{
		Log:         logger,
		VideoDir:    config.VideoDir,
		Binary:      config.Capture.FFmpeg,
		Display:     config.Capture.Display,
		VideoSize:   config.Capture.VideoSize,
		Framerate:   config.Capture.Framerate,
		CRF:         config.Capture.CRF,
		Warmup:      config.Capture.Warmup,
		StopTimeout: config.Capture.StopTimeout,
		Force:       config.Capture.Force,
	})
}

func newCapturer(config *Config, logger log.Logger) *capture.Capturer {
	display := config.Capture.Display
	if display == "" {
		display = os.Getenv("DISPLAY")
	}
	if display == "" {
		display = recorder.DefaultDisplay
	}
	return capture.New(capture.Config{
		Log: logger,
		Driver: &capture.DisplayDriver{
			Binary:    config.Capture.FFmpeg,
			Display:   display,
			VideoSize: config.Capture.VideoSize,
		},
		Dir: config.ScreenshotDir,
	})
}

// RunID identifies this run in logs, metrics and verdicts.json.
func (w *Witness) RunID() string {
	return w.runID
}

// Summary returns the run summary once Start has returned.
func (w *Witness) Summary() types.RunSummary {
	return w.summary
}

// Start runs every planned test once, with retries, and returns a
// TestFailureError when any test ends failed.
// Start implements the cliapp.Lifecycle interface.
func (w *Witness) Start(ctx context.Context) error {
	w.running.Store(true)
	w.log.Info("Starting op-witness", "version", w.version, "tests", len(w.tests))

	stats, err := w.runner.Run(ctx, w.tests)
	w.stats = stats
	w.summary = w.tracker.Summary()

	reporting.PrintResultsTable(w.out, w.tracker.Verdicts(), w.summary, stats.Duration)
	fmt.Fprintln(w.out, w.summary.String())

	if err != nil {
		w.log.Error("Runtime error running tests", "error", err)
		return NewRunError(err)
	}

	w.log.Info("Test run completed", "status", w.summary.Status(), "executions", stats.Executions)
	if w.summary.Failed > 0 {
		w.log.Warn("Test run completed with failures, returning exit code 1")
		return NewTestFailureError(w.summary, w.tracker.Verdicts())
	}

	go func() {
		w.shutdownCallback(nil)
	}()
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (w *Witness) Stop(ctx context.Context) error {
	w.log.Info("Stopping op-witness")
	w.running.Store(false)
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (w *Witness) Stopped() bool {
	return !w.running.Load()
}
