package runner

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-witness/types"
)

var (
	errNoOutput   = errors.New("no test output")
	errNoOutcome  = errors.New("test did not report an outcome")
	errNoTestsRun = errors.New("no tests to run")
)

// readBufferSize is the initial read buffer. Lines longer than this are
// still read whole; UI drivers routinely log base64 screenshots.
const readBufferSize = 64 * 1024

// TestEvent represents a single event from the go test JSON output
type TestEvent struct {
	Time    time.Time // Time the event occurred
	Action  string    // The action taken (run, pause, cont, pass, fail, skip, output)
	Package string    // The package being tested
	Test    string    // The test function name (may be empty for package events)
	Output  string    // Output text (may be empty)
	Elapsed float64   // Elapsed time in seconds for the specific action
}

// Outcome is the host framework's verdict for one execution of one test.
type Outcome struct {
	Status   types.TestStatus
	Cause    error
	Duration time.Duration
	TimedOut bool
}

// OutputParser turns a go test JSON stream into an Outcome.
type OutputParser interface {
	Parse(output io.Reader, funcName string) Outcome
}

type outputParser struct{}

// NewOutputParser creates a new output parser
func NewOutputParser() OutputParser {
	return &outputParser{}
}

// parseState accumulates the events of one test2json stream.
type parseState struct {
	funcName      string
	status        types.TestStatus
	sawEvents     bool
	pkgFailed     bool
	pkgPassed     bool
	noTests       bool
	start, end    time.Time
	elapsed       float64
	testOutput    strings.Builder
	packageOutput strings.Builder
}

func (s *parseState) apply(event TestEvent) {
	s.sawEvents = true
	switch {
	case event.Test == s.funcName:
		switch event.Action {
		case ActionRun, ActionStart:
			s.start = event.Time
		case ActionPass, ActionFail, ActionSkip:
			s.status = types.TestStatus(event.Action)
			s.end = event.Time
			s.elapsed = event.Elapsed
		case ActionOutput:
			appendLine(&s.testOutput, event.Output)
		}
	case strings.HasPrefix(event.Test, s.funcName+"/"):
		if event.Action == ActionOutput {
			appendLine(&s.testOutput, event.Output)
		}
	case event.Test == "":
		switch event.Action {
		case ActionFail:
			s.pkgFailed = true
		case ActionPass:
			s.pkgPassed = true
		case ActionOutput:
			if strings.Contains(event.Output, "no tests to run") {
				s.noTests = true
			}
			appendLine(&s.packageOutput, event.Output)
		}
	}
}

// Parse reads test2json events for funcName. Subtest output is folded into
// the failure cause; subtest verdicts never decide the outcome. Lines of any
// length are read whole.
func (p *outputParser) Parse(output io.Reader, funcName string) Outcome {
	state := &parseState{funcName: funcName}
	var readErr error

	reader := bufio.NewReaderSize(output, readBufferSize)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if event, perr := parseTestEvent(line); perr == nil {
				state.apply(event)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	result := Outcome{Status: state.status}
	if d := calculateTestDuration(state.start, state.end); d > 0 {
		result.Duration = d
	} else if state.elapsed > 0 {
		result.Duration = time.Duration(state.elapsed * float64(time.Second))
	}

	testOutput, packageOutput := state.testOutput.String(), state.packageOutput.String()
	switch {
	case state.status == types.TestStatusFail:
		result.Cause = causeFrom(testOutput, packageOutput, errNoOutcome)
	case state.status != "":
		// pass and skip carry no cause
	case readErr != nil:
		result.Status = types.TestStatusFail
		result.Cause = fmt.Errorf("failed to read test output: %w", readErr)
	case !state.sawEvents:
		result.Status = types.TestStatusFail
		result.Cause = errNoOutput
	case state.noTests || (state.pkgPassed && !state.pkgFailed):
		result.Status = types.TestStatusSkip
		result.Cause = errNoTestsRun
	default:
		result.Status = types.TestStatusFail
		result.Cause = causeFrom(testOutput, packageOutput, errNoOutcome)
	}
	return result
}

func parseTestEvent(line []byte) (TestEvent, error) {
	var event TestEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return event, err
	}
	return event, nil
}

func appendLine(b *strings.Builder, line string) {
	line = strings.TrimSpace(stripansi.Strip(line))
	if line == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(line)
}

func causeFrom(testOutput, packageOutput string, fallback error) error {
	if testOutput != "" {
		return fmt.Errorf("%s", testOutput)
	}
	if packageOutput != "" {
		return fmt.Errorf("%s", packageOutput)
	}
	return fallback
}

func calculateTestDuration(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	duration := end.Sub(start)
	if duration < 0 {
		return 0
	}
	return duration
}
