// Package tracker turns host test-framework lifecycle events into exactly one
// verdict per test, coordinating retries, evidence capture and reporting.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-witness/capture"
	"github.com/ethereum-optimism/infra/op-witness/metrics"
	"github.com/ethereum-optimism/infra/op-witness/reporting"
	"github.com/ethereum-optimism/infra/op-witness/retry"
	"github.com/ethereum-optimism/infra/op-witness/types"
)

// Listener is the lifecycle contract the host adapter drives.
type Listener interface {
	OnRunStart(ctx context.Context)
	OnTestStart(ctx context.Context, id types.TestIdentity)
	OnTestPass(ctx context.Context, id types.TestIdentity)
	OnTestFail(ctx context.Context, id types.TestIdentity, cause error)
	OnTestSkip(ctx context.Context, id types.TestIdentity)
	OnRunFinish(ctx context.Context)
}

// Recorder is the recording session the tracker drives.
type Recorder interface {
	Start(ctx context.Context, testName string)
	Stop(ctx context.Context)
	Discard()
	ForceCleanup()
	IsActive() bool
	CurrentArtifactPath() string
}

// Screenshotter captures failure screenshots.
type Screenshotter interface {
	Available() bool
	Capture(ctx context.Context, testName string) (*capture.Screenshot, error)
}

var _ Listener = (*Tracker)(nil)

// Config wires a Tracker. Recorder and Capturer may be nil.
type Config struct {
	Log            log.Logger
	RunID          string
	Policy         *retry.Policy
	Recorder       Recorder
	Capturer       Screenshotter
	CaptureEnabled bool
	Report         *reporting.Report
	Summary        *reporting.SummaryExporter
	// VerdictsDir receives verdicts.json on finish when set.
	VerdictsDir string
	Now         func() time.Time
}

// Tracker implements Listener. One lock guards the state table, retry
// classification and the recording slot, so concurrent callbacks for
// different identities never interleave their decisions.
type Tracker struct {
	cfg Config
	log log.Logger

	mu       sync.Mutex
	table    *stateTable
	recOwner *types.TestIdentity
	started  time.Time
	finished bool
	summary  types.RunSummary
}

func New(cfg Config) (*Tracker, error) {
	if cfg.Policy == nil {
		return nil, fmt.Errorf("retry policy is required")
	}
	if cfg.Report == nil {
		return nil, fmt.Errorf("report is required")
	}
	if cfg.Summary == nil {
		return nil, fmt.Errorf("summary exporter is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:   cfg,
		log:   cfg.Log.New("component", "tracker", "run_id", cfg.RunID),
		table: newStateTable(),
	}, nil
}

func (t *Tracker) OnRunStart(ctx context.Context) {
	defer t.recoverCallback("OnRunStart", types.TestIdentity{})
	t.mu.Lock()
	defer t.mu.Unlock()

	t.started = t.cfg.Now()
	t.log.Info("Test execution started", "max_attempts", t.cfg.Policy.MaxAttempts(), "capture", t.cfg.CaptureEnabled)
}

func (t *Tracker) OnTestStart(ctx context.Context, id types.TestIdentity) {
	defer t.recoverCallback("OnTestStart", id)
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.table.getOrCreate(id)
	if st.phase.Terminal() {
		t.log.Warn("Start after final verdict, ignoring", "test", id.String(), "phase", st.phase)
		return
	}

	first := st.phase == PhaseNotStarted
	if first {
		st.entry = t.cfg.Report.CreateEntry(id.String(), st.displayName)
		st.entry.Info("Test started: " + st.displayName)
		t.log.Info("Test started", "test", id.String())
	} else {
		st.entry.Info("Retrying test: " + st.displayName)
		t.log.Info("Retrying test", "test", id.String())
	}

	attempt := t.cfg.Policy.RecordAttempt(id)
	metrics.RecordAttempt(t.cfg.RunID, !first)
	st.phase = PhaseRunning
	t.log.Debug("Attempt recorded", "test", id.String(), "attempt", attempt)

	t.startRecording(ctx, st)
}

func (t *Tracker) OnTestPass(ctx context.Context, id types.TestIdentity) {
	defer t.recoverCallback("OnTestPass", id)
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.running(id, "pass")
	if !ok {
		return
	}

	st.completed = true
	attempts := t.cfg.Policy.CurrentAttempt(id)
	retries := types.RetriesFromAttempts(attempts)
	if retries > 0 {
		st.entry.Pass(fmt.Sprintf("%s passed after %d retry attempt(s).", st.displayName, retries))
	} else {
		st.entry.Pass(st.displayName + " passed successfully.")
	}

	if t.ownsRecording(id) {
		t.cfg.Recorder.Stop(ctx)
		t.cfg.Recorder.Discard()
		t.recOwner = nil
	}
	t.dropEarlyVideo(st)

	t.recordVerdict(st, types.TestStatusPass, attempts, "", "", "")
}

func (t *Tracker) OnTestFail(ctx context.Context, id types.TestIdentity, cause error) {
	defer t.recoverCallback("OnTestFail", id)
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.running(id, "fail")
	if !ok {
		return
	}

	st.lastOutcome = types.TestStatusFail
	st.lastCause = causeText(cause)

	decision := t.cfg.Policy.Classify(id)
	if !decision.Final {
		st.phase = PhaseRetryPending
		st.entry.Info(fmt.Sprintf("%s failed (attempt %d), will retry...", st.displayName, decision.Attempt))
		t.log.Info("Test failed, will retry", "test", id.String(), "attempt", decision.Attempt, "remaining", decision.Remaining)
		return
	}

	t.finalizeFailure(ctx, st, decision.Attempt, true)
}

func (t *Tracker) OnTestSkip(ctx context.Context, id types.TestIdentity) {
	defer t.recoverCallback("OnTestSkip", id)
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.table.get(id)
	if ok && st.completed {
		t.log.Debug("Ignoring skip after successful completion", "test", id.String())
		return
	}
	st, ok = t.running(id, "skip")
	if !ok {
		return
	}

	st.lastOutcome = types.TestStatusSkip
	decision := t.cfg.Policy.Classify(id)
	if !decision.Final {
		st.phase = PhaseRetryPending
		st.entry.Info(fmt.Sprintf("%s skipped (attempt %d), will retry...", st.displayName, decision.Attempt))
		t.log.Info("Test skipped, will retry", "test", id.String(), "attempt", decision.Attempt)
		return
	}

	t.finalizeSkip(ctx, st, decision.Attempt)
}

// OnRunFinish closes identities still waiting for a retry with their last
// outcome, releases the recording slot, then writes the report and summary.
func (t *Tracker) OnRunFinish(ctx context.Context) {
	defer t.recoverCallback("OnRunFinish", types.TestIdentity{})
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		t.log.Warn("Run already finished")
		return
	}
	t.finished = true

	for _, st := range t.table.pending() {
		attempts := t.cfg.Policy.CurrentAttempt(st.id)
		t.log.Warn("Test has no final verdict at run end, using last outcome",
			"test", st.id.String(), "phase", st.phase, "outcome", st.lastOutcome)
		switch st.lastOutcome {
		case types.TestStatusSkip:
			t.finalizeSkip(ctx, st, attempts)
		case types.TestStatusFail:
			t.finalizeFailure(ctx, st, attempts, false)
		default:
			st.lastCause = "test did not report an outcome"
			t.finalizeFailure(ctx, st, attempts, false)
		}
	}

	if t.cfg.Recorder != nil {
		t.cfg.Recorder.ForceCleanup()
	}
	t.recOwner = nil

	if path, err := t.cfg.Report.Flush(); err != nil {
		t.log.Error("Failed to write report", "err", err)
		metrics.RecordErrorDetails("report.flush", err)
	} else {
		t.log.Info("Report generated", "path", path)
	}

	verdicts := t.table.verdicts()
	summary, err := t.cfg.Summary.Export(verdicts)
	if err != nil {
		t.log.Error("Failed to write test summary", "err", err)
		metrics.RecordErrorDetails("summary.export", err)
	} else {
		t.log.Info("Test summary exported", "path", t.cfg.Summary.Path(), "summary", summary.String())
	}
	t.summary = summary

	if t.cfg.VerdictsDir != "" {
		if _, err := reporting.WriteVerdicts(t.cfg.VerdictsDir, t.cfg.RunID, summary, verdicts); err != nil {
			t.log.Error("Failed to write verdicts", "err", err)
			metrics.RecordErrorDetails("verdicts.write", err)
		}
	}

	metrics.RecordRun(t.cfg.RunID, summary, t.cfg.Now().Sub(t.started))
}

// Verdicts returns the verdicts recorded so far in first-start order.
func (t *Tracker) Verdicts() []types.TestVerdict {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.table.verdicts()
}

// Verdict returns the verdict for id, if one was recorded.
func (t *Tracker) Verdict(id types.TestIdentity) (types.TestVerdict, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.table.get(id)
	if !ok || st.verdict == nil {
		return types.TestVerdict{}, false
	}
	return *st.verdict, true
}

// Phase returns id's lifecycle phase.
func (t *Tracker) Phase(id types.TestIdentity) Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.table.get(id)
	if !ok {
		return PhaseNotStarted
	}
	return st.phase
}

// Summary returns the summary computed by OnRunFinish.
func (t *Tracker) Summary() types.RunSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// running returns id's state if an outcome event is acceptable for it.
func (t *Tracker) running(id types.TestIdentity, event string) (*testState, bool) {
	st, ok := t.table.get(id)
	if !ok || st.phase == PhaseNotStarted {
		t.log.Warn("Outcome for a test that never started, ignoring", "test", id.String(), "event", event)
		return nil, false
	}
	if st.phase.Terminal() {
		t.log.Warn("Outcome after final verdict, ignoring", "test", id.String(), "event", event, "phase", st.phase)
		return nil, false
	}
	if st.phase == PhaseRetryPending {
		t.log.Warn("Outcome without a new start, accepting", "test", id.String(), "event", event)
	}
	return st, true
}

func (t *Tracker) startRecording(ctx context.Context, st *testState) {
	if !t.cfg.CaptureEnabled || t.cfg.Recorder == nil {
		return
	}
	t.releaseExitedRecording()
	if t.ownsRecording(st.id) {
		t.log.Debug("Recording already running for test", "test", st.id.String())
		return
	}
	if t.recOwner != nil {
		t.log.Debug("Recording slot busy", "test", st.id.String(), "owner", t.recOwner.String())
		return
	}
	t.cfg.Recorder.Start(ctx, st.displayName)
	if t.cfg.Recorder.IsActive() {
		id := st.id
		t.recOwner = &id
	}
}

// releaseExitedRecording frees the slot when the owner's recording process
// is gone, keeping its artifact for the owner's verdict.
func (t *Tracker) releaseExitedRecording() {
	if t.recOwner == nil || t.cfg.Recorder.IsActive() {
		return
	}
	owner := *t.recOwner
	if st, ok := t.table.get(owner); ok {
		st.earlyVideo = t.cfg.Recorder.CurrentArtifactPath()
	}
	t.log.Warn("Recording ended before its test finished, releasing slot", "owner", owner.String())
	t.recOwner = nil
}

// dropEarlyVideo deletes a kept early artifact of a test that did not fail.
func (t *Tracker) dropEarlyVideo(st *testState) {
	if st.earlyVideo == "" {
		return
	}
	if err := os.Remove(st.earlyVideo); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.log.Warn("Failed to delete recording", "test", st.id.String(), "path", st.earlyVideo, "err", err)
	}
	st.earlyVideo = ""
}

func (t *Tracker) ownsRecording(id types.TestIdentity) bool {
	return t.recOwner != nil && *t.recOwner == id && t.cfg.Recorder != nil
}

// finalizeFailure keeps the recording, attempts a screenshot and records a Failed verdict.
func (t *Tracker) finalizeFailure(ctx context.Context, st *testState, attempts int, screenshot bool) {
	retries := types.RetriesFromAttempts(attempts)

	var video string
	if t.ownsRecording(st.id) {
		t.cfg.Recorder.Stop(ctx)
		video = t.cfg.Recorder.CurrentArtifactPath()
		t.recOwner = nil
	}
	if video == "" {
		video = st.earlyVideo
	}

	var shotPath, shotB64 string
	if screenshot {
		shotPath, shotB64 = t.screenshot(ctx, st)
	}

	st.entry.Fail(fmt.Sprintf("%s failed after %d retry attempt(s).", st.displayName, retries))
	if shotB64 != "" {
		st.entry.AttachScreenshot(shotB64, "Failure Screenshot")
	}
	if video != "" {
		st.entry.Info("Screen recording saved: " + video)
	}
	if st.lastCause != "" {
		st.entry.Fail(st.lastCause)
	}

	t.log.Error("Test failed", "test", st.id.String(), "attempts", attempts, "video", video, "screenshot", shotPath)
	t.recordVerdict(st, types.TestStatusFail, attempts, st.lastCause, shotPath, video)
}

func (t *Tracker) finalizeSkip(ctx context.Context, st *testState, attempts int) {
	if t.ownsRecording(st.id) {
		t.cfg.Recorder.Stop(ctx)
		t.cfg.Recorder.Discard()
		t.recOwner = nil
	}
	t.dropEarlyVideo(st)
	st.entry.Skip(st.displayName + " was skipped and not retried.")
	t.log.Info("Test skipped", "test", st.id.String())
	t.recordVerdict(st, types.TestStatusSkip, attempts, "", "", "")
}

func (t *Tracker) screenshot(ctx context.Context, st *testState) (path string, b64 string) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("Recovered from panic while capturing screenshot", "test", st.id.String(), "panic", r)
			metrics.RecordError("capture.panic")
			path, b64 = "", ""
		}
	}()
	if t.cfg.Capturer == nil || !t.cfg.Capturer.Available() {
		t.log.Warn("Driver unavailable, no screenshot captured", "test", st.id.String())
		return "", ""
	}
	shot, err := t.cfg.Capturer.Capture(ctx, st.displayName)
	if err != nil {
		t.log.Warn("Failed to capture screenshot", "test", st.id.String(), "err", err)
		return "", ""
	}
	return shot.Path, shot.Base64
}

func (t *Tracker) recordVerdict(st *testState, status types.TestStatus, attempts int, cause, screenshot, video string) {
	if st.verdict != nil {
		t.log.Error("Verdict already recorded, keeping the first", "test", st.id.String(), "existing", st.verdict.Status, "new", status)
		return
	}
	retries := types.RetriesFromAttempts(attempts)
	if status == types.TestStatusSkip {
		// a skipped test is not counted as retried however often it ran
		retries = 0
	}
	st.verdict = &types.TestVerdict{
		Identity:    st.id,
		DisplayName: st.displayName,
		Status:      status,
		Attempts:    attempts,
		Retries:     retries,
		Cause:       cause,
		Screenshot:  screenshot,
		Video:       video,
		RecordedAt:  t.cfg.Now(),
	}
	switch status {
	case types.TestStatusPass:
		st.phase = PhasePassed
	case types.TestStatusFail:
		st.phase = PhaseFailed
	case types.TestStatusSkip:
		st.phase = PhaseSkipped
	}
	metrics.RecordVerdict(t.cfg.RunID, status)
}

// recoverCallback keeps a panic inside a callback from reaching the host framework.
func (t *Tracker) recoverCallback(callback string, id types.TestIdentity) {
	if r := recover(); r != nil {
		t.log.Error("Recovered from panic in lifecycle callback",
			"callback", callback, "test", id.String(), "panic", r, "stack", string(debug.Stack()))
		metrics.RecordError("tracker.panic")
	}
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return stripansi.Strip(err.Error())
}
