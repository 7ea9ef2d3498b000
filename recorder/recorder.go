// Package recorder manages the single screen recording session of a run.
//
// At most one session exists at a time. Every operation is safe to call in
// any state; failures are logged and never returned, since evidence capture
// must not change a test's outcome.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-witness/logging"
	"github.com/ethereum-optimism/infra/op-witness/metrics"
)

const (
	DefaultBinary      = "ffmpeg"
	DefaultDisplay     = ":99"
	DefaultVideoSize   = "1920x1080"
	DefaultFramerate   = 10
	DefaultCRF         = 35
	DefaultWarmup      = 2 * time.Second
	DefaultStopTimeout = 5 * time.Second
	DefaultKillTimeout = 2 * time.Second

	timestampLayout = "20060102_150405"
	videoExtension  = ".mp4"
)

// Config configures a Recorder. Zero values select the defaults above,
// except Warmup: zero or negative means no warm-up wait.
type Config struct {
	Log          log.Logger
	VideoDir     string
	Binary       string
	Display      string
	VideoSize    string
	Framerate    int
	CRF          int
	Warmup       time.Duration
	StopTimeout  time.Duration
	KillTimeout  time.Duration
	ProbeTimeout time.Duration
	// Force enables recording outside a detected pipeline environment.
	Force    bool
	Lookup   LookupFunc
	Launcher Launcher
	Prober   Prober
	Now      func() time.Time
}

// Recorder owns the recording session.
type Recorder struct {
	cfg Config
	log log.Logger

	mu       sync.Mutex
	proc     Process
	boundTo  string
	artifact string
	started  time.Time
}

// New creates a recorder, filling unset config fields with defaults.
func New(cfg Config) *Recorder {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.VideoDir == "" {
		cfg.VideoDir = filepath.Join("reports", "videos")
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Lookup == nil {
		cfg.Lookup = os.LookupEnv
	}
	if cfg.Display == "" {
		if d, ok := cfg.Lookup("DISPLAY"); ok && d != "" {
			cfg.Display = d
		} else {
			cfg.Display = DefaultDisplay
		}
	}
	if cfg.VideoSize == "" {
		cfg.VideoSize = DefaultVideoSize
	}
	if cfg.Framerate <= 0 {
		cfg.Framerate = DefaultFramerate
	}
	if cfg.CRF <= 0 {
		cfg.CRF = DefaultCRF
	}
	if cfg.Warmup < 0 {
		cfg.Warmup = 0
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	if cfg.Launcher == nil {
		cfg.Launcher = &ExecLauncher{}
	}
	if cfg.Prober == nil {
		cfg.Prober = &ExecProber{Binary: cfg.Binary, Timeout: cfg.ProbeTimeout}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{
		cfg: cfg,
		log: cfg.Log.New("component", "recorder"),
	}
}

// Start begins recording for testName and waits for the warm-up period.
// It does nothing when a session is active or capture is unavailable.
func (r *Recorder) Start(ctx context.Context, testName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reapExited()
	if r.proc != nil {
		r.log.Warn("Recording already active, not starting another", "active", r.boundTo, "requested", testName)
		return
	}
	if !r.cfg.Force && !InPipeline(r.cfg.Lookup) {
		r.log.Debug("Not in a pipeline environment, recording disabled", "test", testName)
		metrics.RecordRecording("skipped")
		return
	}
	if err := r.cfg.Prober.Probe(ctx); err != nil {
		r.log.Info("Screen recording unavailable", "test", testName, "err", err)
		metrics.RecordRecording("unavailable")
		return
	}

	now := r.cfg.Now()
	artifact := r.artifactPath(testName, now)
	if err := os.MkdirAll(filepath.Dir(artifact), 0755); err != nil {
		r.log.Error("Failed to create video directory", "dir", filepath.Dir(artifact), "err", err)
		metrics.RecordErrorDetails("recorder.mkdir", err)
		return
	}

	proc, err := r.cfg.Launcher.Launch(ctx, r.cfg.Binary, r.args(artifact))
	if err != nil {
		r.log.Error("Failed to start screen recording", "test", testName, "err", err)
		metrics.RecordErrorDetails("recorder.launch", err)
		return
	}

	r.proc = proc
	r.boundTo = testName
	r.artifact = artifact
	r.started = now
	metrics.RecordRecording("started")
	metrics.SetRecordingActive(true)
	r.log.Info("Recording started", "test", testName, "path", artifact)

	if r.cfg.Warmup > 0 {
		select {
		case <-time.After(r.cfg.Warmup):
		case <-ctx.Done():
		case <-proc.Done():
			r.log.Warn("Recording process exited during warm-up", "test", testName)
		}
	}
}

// Stop ends the active session and keeps its artifact. The process is asked
// to finish gracefully, then killed if it does not exit in time. The session
// is cleared on every path.
func (r *Recorder) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reapExited()
	if r.proc == nil {
		r.log.Debug("No active recording to stop")
		return
	}

	proc, testName, started := r.proc, r.boundTo, r.started
	defer r.clearSession()

	if err := proc.Interrupt(); err != nil {
		r.log.Warn("Failed to request graceful stop", "test", testName, "err", err)
	}

	if !r.wait(ctx, proc, r.cfg.StopTimeout) {
		r.log.Warn("Recording did not stop in time, killing", "test", testName, "timeout", r.cfg.StopTimeout)
		if err := proc.Kill(); err != nil {
			r.log.Error("Failed to kill recording process", "test", testName, "err", err)
			metrics.RecordErrorDetails("recorder.kill", err)
		}
		metrics.RecordRecording("killed")
		if !r.wait(context.Background(), proc, r.cfg.KillTimeout) {
			r.log.Error("Recording process did not exit after kill", "test", testName)
		}
	}

	r.inspectArtifact(testName, r.cfg.Now().Sub(started))
}

// Discard deletes the current artifact and its directory if left empty.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.artifact == "" {
		return
	}
	artifact := r.artifact
	r.artifact = ""

	if err := os.Remove(artifact); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.log.Warn("Failed to delete recording", "path", artifact, "err", err)
		return
	}
	removeIfEmpty(filepath.Dir(artifact))
	metrics.RecordRecording("discarded")
	r.log.Debug("Recording discarded", "path", artifact)
}

// ForceCleanup kills any process and resets all session state.
func (r *Recorder) ForceCleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proc != nil {
		r.log.Warn("Force stopping recording", "test", r.boundTo)
		if err := r.proc.Kill(); err != nil {
			r.log.Debug("Kill during cleanup failed", "err", err)
		}
		select {
		case <-r.proc.Done():
		case <-time.After(r.cfg.KillTimeout):
		}
		metrics.RecordRecording("killed")
	}
	r.clearSession()
	r.artifact = ""
}

// IsActive reports whether a recording process is running.
func (r *Recorder) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reapExited()
	return r.proc != nil
}

// BoundTo returns the test name the active session records, or "".
func (r *Recorder) BoundTo() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reapExited()
	return r.boundTo
}

// reapExited clears a session whose process exited on its own, eg. ffmpeg
// crashing or losing the display. Whatever it wrote stays available through
// CurrentArtifactPath. The caller holds r.mu.
func (r *Recorder) reapExited() {
	if r.proc == nil {
		return
	}
	select {
	case <-r.proc.Done():
	default:
		return
	}
	testName, started := r.boundTo, r.started
	r.log.Warn("Recording process exited unexpectedly", "test", testName)
	metrics.RecordRecording("exited")
	r.clearSession()
	r.inspectArtifact(testName, r.cfg.Now().Sub(started))
}

// CurrentArtifactPath returns the last session's output path, or "" once
// discarded, cleaned up or deleted for being empty.
func (r *Recorder) CurrentArtifactPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifact
}

func (r *Recorder) clearSession() {
	r.proc = nil
	r.boundTo = ""
	r.started = time.Time{}
	metrics.SetRecordingActive(false)
}

func (r *Recorder) wait(ctx context.Context, proc Process, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-proc.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// inspectArtifact deletes an empty output file and logs the size otherwise.
func (r *Recorder) inspectArtifact(testName string, elapsed time.Duration) {
	info, err := os.Stat(r.artifact)
	if err != nil {
		r.log.Warn("Recording file not found after stop", "test", testName, "path", r.artifact)
		r.artifact = ""
		return
	}
	if info.Size() == 0 {
		r.log.Warn("Recording file is empty, deleting", "test", testName, "path", r.artifact)
		_ = os.Remove(r.artifact)
		removeIfEmpty(filepath.Dir(r.artifact))
		r.artifact = ""
		return
	}
	metrics.RecordRecording("kept")
	r.log.Info("Recording saved", "test", testName, "path", r.artifact, "size", FormatSize(info.Size()), "elapsed", elapsed.Round(time.Millisecond))
}

func (r *Recorder) artifactPath(testName string, now time.Time) string {
	ts := now.Format(timestampLayout)
	name := fmt.Sprintf("%s_%s%s", logging.SafeFilename(testName), ts, videoExtension)
	return filepath.Join(r.cfg.VideoDir, ts, name)
}

func (r *Recorder) args(output string) []string {
	return []string{
		"-f", "x11grab",
		"-video_size", r.cfg.VideoSize,
		"-framerate", strconv.Itoa(r.cfg.Framerate),
		"-i", r.cfg.Display,
		"-codec:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-crf", strconv.Itoa(r.cfg.CRF),
		"-y", output,
	}
}

func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = os.Remove(dir)
}

// FormatSize renders a byte count as B, KB or MB.
func FormatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.2f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
	}
}
