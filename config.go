package witness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-witness/flags"
)

// CaptureConfig holds the evidence capture settings.
type CaptureConfig struct {
	Enabled     bool          // Master switch for recordings and screenshots
	Force       bool          // Record even outside a detected CI pipeline
	Display     string        // X display; empty selects $DISPLAY, then :99
	FFmpeg      string        // Recording utility binary
	VideoSize   string        // Captured area, eg. 1920x1080
	Framerate   int           // Recording frame rate
	CRF         int           // x264 constant rate factor
	Warmup      time.Duration // Recorder initialization delay
	StopTimeout time.Duration // Graceful stop bound before the recorder is killed
}

// Config holds the application configuration
type Config struct {
	TestDir        string
	PlanFile       string        // Optional YAML test plan; empty discovers every test
	GoBinary       string        // Path to the Go binary
	MaxAttempts    int           // Executions per test including the first
	DefaultTimeout time.Duration // Timeout of one execution, can be overridden by the plan
	Serial         bool          // Whether to run tests serially instead of in parallel
	Concurrency    int           // Number of concurrent test workers (0 = auto-determine)
	ReportsDir     string
	ReportTitle    string
	ReportAuthor   string
	ReportCategory string
	ScreenshotDir  string
	VideoDir       string
	Screenshots    bool // Capture a screenshot on a final failure
	Capture        CaptureConfig
	Log            log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	testDir := ctx.String(flags.TestDir.Name)
	if testDir == "" {
		return nil, errors.New("test directory is required")
	}

	cfg := &Config{
		TestDir:        testDir,
		PlanFile:       ctx.String(flags.Plan.Name),
		GoBinary:       ctx.String(flags.GoBinary.Name),
		MaxAttempts:    ctx.Int(flags.MaxAttempts.Name),
		DefaultTimeout: ctx.Duration(flags.DefaultTimeout.Name),
		Serial:         ctx.Bool(flags.Serial.Name),
		Concurrency:    ctx.Int(flags.Concurrency.Name),
		ReportsDir:     ctx.String(flags.ReportsDir.Name),
		ReportTitle:    ctx.String(flags.ReportTitle.Name),
		ReportAuthor:   ctx.String(flags.ReportAuthor.Name),
		ReportCategory: ctx.String(flags.ReportCategory.Name),
		ScreenshotDir:  ctx.String(flags.ScreenshotDir.Name),
		VideoDir:       ctx.String(flags.VideoDir.Name),
		Screenshots:    ctx.Bool(flags.Screenshots.Name),
		Capture: CaptureConfig{
			Enabled:     ctx.Bool(flags.CaptureEnabled.Name),
			Force:       ctx.Bool(flags.CaptureForce.Name),
			Display:     ctx.String(flags.CaptureDisplay.Name),
			FFmpeg:      ctx.String(flags.CaptureFFmpeg.Name),
			VideoSize:   ctx.String(flags.CaptureVideoSize.Name),
			Framerate:   ctx.Int(flags.CaptureFramerate.Name),
			CRF:         ctx.Int(flags.CaptureCRF.Name),
			Warmup:      ctx.Duration(flags.CaptureWarmup.Name),
			StopTimeout: ctx.Duration(flags.CaptureStopTimeout.Name),
		},
		Log: log,
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check validates the configuration values.
func (c *Config) Check() error {
	if c.TestDir == "" {
		return errors.New("test directory is required")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max-attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("default-timeout cannot be negative")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency cannot be negative")
	}
	if c.ReportsDir == "" {
		return errors.New("reports directory is required")
	}
	if c.Capture.Enabled {
		if c.Capture.Framerate <= 0 {
			return fmt.Errorf("capture framerate must be positive")
		}
		// the recorder treats 0 as unset, so lossless is not selectable
		if c.Capture.CRF < 1 || c.Capture.CRF > 51 {
			return fmt.Errorf("capture crf must be between 1 and 51, got %d", c.Capture.CRF)
		}
		if c.Capture.Warmup < 0 || c.Capture.StopTimeout < 0 {
			return fmt.Errorf("capture durations cannot be negative")
		}
	}
	return nil
}

// resolvePaths makes every path absolute and verifies the inputs exist.
func (c *Config) resolvePaths() error {
	absTestDir, err := filepath.Abs(c.TestDir)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", c.TestDir, err)
	}
	info, err := os.Stat(absTestDir)
	if err != nil {
		return fmt.Errorf("test directory '%s': %w", absTestDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("test directory '%s' is not a directory", absTestDir)
	}
	c.TestDir = absTestDir

	if c.PlanFile != "" {
		absPlan, err := filepath.Abs(c.PlanFile)
		if err != nil {
			return fmt.Errorf("failed to resolve absolute path for plan '%s': %w", c.PlanFile, err)
		}
		if _, err := os.Stat(absPlan); err != nil {
			return fmt.Errorf("plan file '%s': %w", absPlan, err)
		}
		c.PlanFile = absPlan
	}

	for _, p := range []*string{&c.ReportsDir, &c.ScreenshotDir, &c.VideoDir} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("failed to resolve absolute path for '%s': %w", *p, err)
		}
		*p = abs
	}
	return nil
}
