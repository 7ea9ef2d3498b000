package runner

import "time"

// Test execution constants
const (
	// DefaultTestTimeout is the default timeout for a single test execution
	DefaultTestTimeout = 10 * time.Minute

	// Default go binary name
	DefaultGoBinary = "go"

	// Test command arguments
	TestCommand = "test"
	JSONFlag    = "-json"
	VerboseFlag = "-v"
	TimeoutFlag = "-timeout"
	CountFlag   = "-count"
	RunFlag     = "-run"

	// Test count to disable caching
	DisableCacheCount = "1"

	// parentTimeoutGrace lets the child process hit its own -timeout before
	// the parent context kills it.
	parentTimeoutGrace = 200 * time.Millisecond

	// MaxReasonableConcurrency caps auto-determined concurrency to avoid resource exhaustion
	MaxReasonableConcurrency = 32
)

// Test event actions emitted by test2json
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)
