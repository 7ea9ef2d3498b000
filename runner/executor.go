package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-witness/logging"
	"github.com/ethereum-optimism/infra/op-witness/types"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
)

var _ TestExecutor = (*testExecutor)(nil)

// TestExecutor runs one execution of one test through the host framework.
type TestExecutor interface {
	Execute(ctx context.Context, tc types.TestCase) (Outcome, error)
}

// CmdBuilder creates the host process. The returned func releases anything
// the builder allocated.
type CmdBuilder func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func())

// testExecutor implements TestExecutor by invoking go test -json.
type testExecutor struct {
	testDir        string
	defaultTimeout time.Duration
	goBinary       string
	cmdBuilder     CmdBuilder
	outputParser   OutputParser
	log            log.Logger
}

// ExecutorConfig configures NewTestExecutor.
type ExecutorConfig struct {
	TestDir        string
	DefaultTimeout time.Duration
	GoBinary       string
	// Env is appended to the inherited environment of every test process.
	Env          []string
	CmdBuilder   CmdBuilder
	OutputParser OutputParser
	Log          log.Logger
}

// NewTestExecutor creates a new test executor
func NewTestExecutor(cfg ExecutorConfig) (TestExecutor, error) {
	if cfg.TestDir == "" {
		return nil, fmt.Errorf("testDir cannot be empty")
	}
	if cfg.GoBinary == "" {
		cfg.GoBinary = DefaultGoBinary
	}
	if cfg.DefaultTimeout < 0 {
		return nil, fmt.Errorf("default timeout cannot be negative")
	}
	if cfg.OutputParser == nil {
		cfg.OutputParser = NewOutputParser()
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.CmdBuilder == nil {
		cfg.CmdBuilder = defaultCmdBuilder(cfg.TestDir, cfg.Env)
	}

	return &testExecutor{
		testDir:        cfg.TestDir,
		defaultTimeout: cfg.DefaultTimeout,
		goBinary:       cfg.GoBinary,
		cmdBuilder:     cfg.CmdBuilder,
		outputParser:   cfg.OutputParser,
		log:            cfg.Log.New("component", "executor"),
	}, nil
}

func defaultCmdBuilder(dir string, extraEnv []string) CmdBuilder {
	return func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
		cmd := exec.CommandContext(ctx, name, arg...)
		cmd.Dir = dir
		env := append(os.Environ(), extraEnv...)
		// propagate the attempt span to the test process
		cmd.Env = telemetry.InstrumentEnvironment(ctx, env)
		return cmd, func() {}
	}
}

// Execute runs a single test once. The returned error is reserved for
// problems running the host process at all; test failures are Outcomes.
func (e *testExecutor) Execute(ctx context.Context, tc types.TestCase) (Outcome, error) {
	if tc.Identity.Package == "" {
		return Outcome{}, fmt.Errorf("package cannot be empty")
	}
	if tc.Identity.FuncName == "" {
		return Outcome{}, fmt.Errorf("test function name cannot be empty")
	}

	timeout := e.timeoutFor(tc)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+parentTimeoutGrace)
		defer cancel()
	}

	args := e.buildTestArgs(tc.Identity, timeout)
	cmd, cleanup := e.cmdBuilder(ctx, e.goBinary, args...)
	defer cleanup()

	stdoutFile, err := os.CreateTemp("", "op-witness-exec-stdout-*.log")
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create stdout temp file: %w", err)
	}
	stdoutPath := stdoutFile.Name()
	defer func() {
		_ = stdoutFile.Close()
		_ = os.Remove(stdoutPath)
	}()

	stdoutTail := logging.NewTailBuffer(logging.DefaultTailBytes)
	var stderrBuf bytes.Buffer
	cmd.Stdout = io.MultiWriter(stdoutFile, stdoutTail)
	cmd.Stderr = &stderrBuf

	e.log.Debug("Running test command",
		"dir", cmd.Dir,
		"test", tc.Identity.String(),
		"command", cmd.String(),
		"timeout", timeout)

	startTime := time.Now()
	runErr := cmd.Run()
	duration := time.Since(startTime)

	_ = stdoutFile.Sync()
	if _, err := stdoutFile.Seek(0, io.SeekStart); err != nil {
		return Outcome{}, fmt.Errorf("failed to read stdout: %w", err)
	}
	outcome := e.outputParser.Parse(stdoutFile, tc.Identity.FuncName)
	outcome.Duration = duration

	if ctx.Err() == context.DeadlineExceeded || (timeout > 0 && duration >= timeout && outcome.Status != types.TestStatusPass) {
		outcome.Status = types.TestStatusFail
		outcome.TimedOut = true
		outcome.Cause = fmt.Errorf("test timed out after %v", timeout)
		return outcome, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return outcome, ctx.Err()
	}

	if runErr != nil {
		stderr := strings.TrimSpace(stripansi.Strip(stderrBuf.String()))
		exitErr := &exec.ExitError{}
		switch {
		case errors.As(runErr, &exitErr) && exitErr.ExitCode() == 1 && outcome.Status != types.TestStatusPass:
			// expected test failure
		case errors.As(runErr, &exitErr) && exitErr.ExitCode() == 2:
			outcome.Status = types.TestStatusFail
			outcome.Cause = fmt.Errorf("test compilation failed: %s", stderr)
		case errors.As(runErr, &exitErr):
			outcome.Status = types.TestStatusFail
			outcome.Cause = fmt.Errorf("test execution failed with exit code %d: %s", exitErr.ExitCode(), stderr)
		default:
			return outcome, fmt.Errorf("failed to run test: %w", runErr)
		}
	}

	if outcome.Status == types.TestStatusFail && outcome.Cause == nil {
		outcome.Cause = errNoOutcome
	}
	if outcome.Status == types.TestStatusFail && stdoutTail.TotalBytes() > 0 {
		e.log.Debug("Test output tail", "test", tc.Identity.String(), "truncated", stdoutTail.Truncated(),
			"output", stripansi.Strip(stdoutTail.String()))
	}
	return outcome, nil
}

func (e *testExecutor) timeoutFor(tc types.TestCase) time.Duration {
	if tc.Timeout > 0 {
		return tc.Timeout
	}
	return e.defaultTimeout
}

func (e *testExecutor) buildTestArgs(id types.TestIdentity, timeout time.Duration) []string {
	args := []string{TestCommand, JSONFlag, CountFlag, DisableCacheCount, VerboseFlag}
	if timeout > 0 {
		args = append(args, TimeoutFlag, timeout.String())
	}
	args = append(args, id.Package, RunFlag, fmt.Sprintf("^%s$", id.FuncName))
	return args
}
