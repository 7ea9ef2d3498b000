package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_WITNESS"

func prefixEnvVars(name string) []string {
	return opservice.PrefixEnvVar(EnvVarPrefix, name)
}

var (
	TestDir = &cli.StringFlag{
		Name:     "testdir",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("TESTDIR"),
		Usage:    "Path to the Go module holding the UI tests",
	}
)

// Execution
var (
	Plan = &cli.StringFlag{
		Name:    "plan",
		Value:   "",
		EnvVars: prefixEnvVars("PLAN"),
		Usage:   "Path to a YAML test plan. When omitted every Test function under testdir is run.",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: prefixEnvVars("GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	MaxAttempts = &cli.IntFlag{
		Name:    "max-attempts",
		Value:   2,
		EnvVars: prefixEnvVars("MAX_ATTEMPTS"),
		Usage:   "Maximum executions per test, including the first. 1 disables retries.",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   10 * time.Minute,
		EnvVars: prefixEnvVars("DEFAULT_TIMEOUT"),
		Usage:   "Timeout for a single test execution unless the plan overrides it",
	}
	Serial = &cli.BoolFlag{
		Name:    "serial",
		Value:   false,
		EnvVars: prefixEnvVars("SERIAL"),
		Usage:   "Run tests one at a time",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: prefixEnvVars("CONCURRENCY"),
		Usage:   "Number of tests executed at once (0 = based on CPU count)",
	}
)

// Artifacts
var (
	ReportsDir = &cli.StringFlag{
		Name:    "reports-dir",
		Value:   "reports",
		EnvVars: prefixEnvVars("REPORTS_DIR"),
		Usage:   "Directory for the HTML report, test summary and verdicts",
	}
	ReportTitle = &cli.StringFlag{
		Name:    "report-title",
		Value:   "UI Automation Execution Results",
		EnvVars: prefixEnvVars("REPORT_TITLE"),
		Usage:   "Title of the HTML report",
	}
	ReportAuthor = &cli.StringFlag{
		Name:    "report-author",
		Value:   "QA",
		EnvVars: prefixEnvVars("REPORT_AUTHOR"),
		Usage:   "Author label attached to every report entry",
	}
	ReportCategory = &cli.StringFlag{
		Name:    "report-category",
		Value:   "Regression",
		EnvVars: prefixEnvVars("REPORT_CATEGORY"),
		Usage:   "Category label attached to every report entry",
	}
	ScreenshotDir = &cli.StringFlag{
		Name:    "screenshot-dir",
		Value:   "reports/screenshots",
		EnvVars: prefixEnvVars("SCREENSHOT_DIR"),
		Usage:   "Directory for failure screenshots",
	}
	VideoDir = &cli.StringFlag{
		Name:    "video-dir",
		Value:   "reports/videos",
		EnvVars: prefixEnvVars("VIDEO_DIR"),
		Usage:   "Directory for screen recordings",
	}
	Screenshots = &cli.BoolFlag{
		Name:    "screenshots",
		Value:   true,
		EnvVars: prefixEnvVars("SCREENSHOTS"),
		Usage:   "Capture a screenshot when a test finally fails",
	}
)

// Capture
var (
	CaptureEnabled = &cli.BoolFlag{
		Name:    "capture.enabled",
		Value:   true,
		EnvVars: prefixEnvVars("CAPTURE_ENABLED"),
		Usage:   "Enable evidence capture (screenshots and recordings) around failures",
	}
	CaptureForce = &cli.BoolFlag{
		Name:    "capture.force",
		Value:   false,
		EnvVars: prefixEnvVars("CAPTURE_FORCE"),
		Usage:   "Record even when no CI pipeline is detected",
	}
	CaptureDisplay = &cli.StringFlag{
		Name:    "capture.display",
		Value:   "",
		EnvVars: prefixEnvVars("CAPTURE_DISPLAY"),
		Usage:   "X display to record. Defaults to $DISPLAY, then :99.",
	}
	CaptureFFmpeg = &cli.StringFlag{
		Name:    "capture.ffmpeg",
		Value:   "ffmpeg",
		EnvVars: prefixEnvVars("CAPTURE_FFMPEG"),
		Usage:   "Path to the ffmpeg binary used for recordings and screenshots",
	}
	CaptureVideoSize = &cli.StringFlag{
		Name:    "capture.video-size",
		Value:   "1920x1080",
		EnvVars: prefixEnvVars("CAPTURE_VIDEO_SIZE"),
		Usage:   "Size of the captured display area",
	}
	CaptureFramerate = &cli.IntFlag{
		Name:    "capture.framerate",
		Value:   10,
		EnvVars: prefixEnvVars("CAPTURE_FRAMERATE"),
		Usage:   "Recording frame rate",
	}
	CaptureCRF = &cli.IntFlag{
		Name:    "capture.crf",
		Value:   35,
		EnvVars: prefixEnvVars("CAPTURE_CRF"),
		Usage:   "x264 constant rate factor for recordings (1-51, lower is better quality)",
	}
	CaptureWarmup = &cli.DurationFlag{
		Name:    "capture.warmup",
		Value:   2 * time.Second,
		EnvVars: prefixEnvVars("CAPTURE_WARMUP"),
		Usage:   "Time given to the recorder to initialize before the test proceeds",
	}
	CaptureStopTimeout = &cli.DurationFlag{
		Name:    "capture.stop-timeout",
		Value:   5 * time.Second,
		EnvVars: prefixEnvVars("CAPTURE_STOP_TIMEOUT"),
		Usage:   "Time the recorder gets to finalize a video before it is killed",
	}
)

// Service
var (
	HealthzEnabled = &cli.BoolFlag{
		Name:    "healthz.enabled",
		Value:   false,
		EnvVars: prefixEnvVars("HEALTHZ_ENABLED"),
		Usage:   "Serve /healthz while the run is in progress",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0",
		EnvVars: prefixEnvVars("HEALTHZ_ADDR"),
		Usage:   "Healthz listening address",
	}
	HealthzPort = &cli.IntFlag{
		Name:    "healthz.port",
		Value:   8080,
		EnvVars: prefixEnvVars("HEALTHZ_PORT"),
		Usage:   "Healthz listening port",
	}
)

// Log file
var (
	LogFile = &cli.StringFlag{
		Name:    "log.file",
		Value:   "",
		EnvVars: prefixEnvVars("LOG_FILE"),
		Usage:   "Also write logs to this file, rotated by size",
	}
	LogFileMaxSize = &cli.IntFlag{
		Name:    "log.file.max-size",
		Value:   100,
		EnvVars: prefixEnvVars("LOG_FILE_MAX_SIZE"),
		Usage:   "Maximum size in megabytes of the log file before it is rotated",
	}
	LogFileMaxBackups = &cli.IntFlag{
		Name:    "log.file.max-backups",
		Value:   5,
		EnvVars: prefixEnvVars("LOG_FILE_MAX_BACKUPS"),
		Usage:   "Number of rotated log files to keep",
	}
	LogFileMaxAge = &cli.IntFlag{
		Name:    "log.file.max-age",
		Value:   14,
		EnvVars: prefixEnvVars("LOG_FILE_MAX_AGE"),
		Usage:   "Days to keep rotated log files",
	}
)

var requiredFlags = []cli.Flag{
	TestDir,
}

var optionalFlags = []cli.Flag{
	Plan,
	GoBinary,
	MaxAttempts,
	DefaultTimeout,
	Serial,
	Concurrency,
	ReportsDir,
	ReportTitle,
	ReportAuthor,
	ReportCategory,
	ScreenshotDir,
	VideoDir,
	Screenshots,
	CaptureEnabled,
	CaptureForce,
	CaptureDisplay,
	CaptureFFmpeg,
	CaptureVideoSize,
	CaptureFramerate,
	CaptureCRF,
	CaptureWarmup,
	CaptureStopTimeout,
	HealthzEnabled,
	HealthzAddr,
	HealthzPort,
	LogFile,
	LogFileMaxSize,
	LogFileMaxBackups,
	LogFileMaxAge,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
