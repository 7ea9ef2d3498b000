package runner

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-witness/types"
)

func events(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\n"))
}

func TestOutputParser_Parse(t *testing.T) {
	tests := []struct {
		name      string
		output    *strings.Reader
		funcName  string
		status    types.TestStatus
		causeHas  string
		causeNone bool
	}{
		{
			name: "pass",
			output: events(
				`{"Time":"2025-03-04T14:05:00Z","Action":"run","Package":"ex/ui","Test":"TestLogin"}`,
				`{"Time":"2025-03-04T14:05:00Z","Action":"output","Package":"ex/ui","Test":"TestLogin","Output":"=== RUN   TestLogin\n"}`,
				`{"Time":"2025-03-04T14:05:02Z","Action":"pass","Package":"ex/ui","Test":"TestLogin","Elapsed":2}`,
				`{"Time":"2025-03-04T14:05:02Z","Action":"pass","Package":"ex/ui","Elapsed":2.1}`,
			),
			funcName:  "TestLogin",
			status:    types.TestStatusPass,
			causeNone: true,
		},
		{
			name: "fail collects output",
			output: events(
				`{"Action":"run","Package":"ex/ui","Test":"TestLogin"}`,
				`{"Action":"output","Package":"ex/ui","Test":"TestLogin","Output":"    login_test.go:12: \u001b[31melement not found\u001b[0m\n"}`,
				`{"Action":"output","Package":"ex/ui","Test":"TestLogin","Output":"--- FAIL: TestLogin (0.01s)\n"}`,
				`{"Action":"fail","Package":"ex/ui","Test":"TestLogin"}`,
				`{"Action":"fail","Package":"ex/ui"}`,
			),
			funcName: "TestLogin",
			status:   types.TestStatusFail,
			causeHas: "login_test.go:12: element not found",
		},
		{
			name: "subtest failure output folds into cause",
			output: events(
				`{"Action":"run","Package":"ex/ui","Test":"TestForm"}`,
				`{"Action":"run","Package":"ex/ui","Test":"TestForm/email"}`,
				`{"Action":"output","Package":"ex/ui","Test":"TestForm/email","Output":"    form_test.go:30: Error: invalid email\n"}`,
				`{"Action":"fail","Package":"ex/ui","Test":"TestForm/email"}`,
				`{"Action":"fail","Package":"ex/ui","Test":"TestForm"}`,
			),
			funcName: "TestForm",
			status:   types.TestStatusFail,
			causeHas: "Error: invalid email",
		},
		{
			name: "skip",
			output: events(
				`{"Action":"run","Package":"ex/ui","Test":"TestLegacy"}`,
				`{"Action":"output","Package":"ex/ui","Test":"TestLegacy","Output":"    legacy_test.go:8: browser not supported\n"}`,
				`{"Action":"skip","Package":"ex/ui","Test":"TestLegacy"}`,
				`{"Action":"pass","Package":"ex/ui"}`,
			),
			funcName:  "TestLegacy",
			status:    types.TestStatusSkip,
			causeNone: true,
		},
		{
			name: "no tests to run",
			output: events(
				`{"Action":"start","Package":"ex/ui"}`,
				`{"Action":"output","Package":"ex/ui","Output":"testing: warning: no tests to run\n"}`,
				`{"Action":"output","Package":"ex/ui","Output":"ok  \tex/ui\t0.01s [no tests to run]\n"}`,
				`{"Action":"pass","Package":"ex/ui"}`,
			),
			funcName: "TestMissing",
			status:   types.TestStatusSkip,
			causeHas: "no tests to run",
		},
		{
			name: "build failure reported at package level",
			output: events(
				`{"Action":"start","Package":"ex/ui"}`,
				`{"Action":"output","Package":"ex/ui","Output":"FAIL\tex/ui [build failed]\n"}`,
				`{"Action":"fail","Package":"ex/ui"}`,
			),
			funcName: "TestLogin",
			status:   types.TestStatusFail,
			causeHas: "build failed",
		},
		{
			name: "panic without terminal test event",
			output: events(
				`{"Action":"run","Package":"ex/ui","Test":"TestCrash"}`,
				`{"Action":"output","Package":"ex/ui","Test":"TestCrash","Output":"panic: runtime error: nil map\n"}`,
				`{"Action":"fail","Package":"ex/ui"}`,
			),
			funcName: "TestCrash",
			status:   types.TestStatusFail,
			causeHas: "panic: runtime error",
		},
		{
			name:     "no output",
			output:   events(),
			funcName: "TestLogin",
			status:   types.TestStatusFail,
			causeHas: "no test output",
		},
		{
			name:     "garbage lines ignored",
			output:   events("not json", "also not json"),
			funcName: "TestLogin",
			status:   types.TestStatusFail,
			causeHas: "no test output",
		},
		{
			name: "other tests ignored",
			output: events(
				`{"Action":"run","Package":"ex/ui","Test":"TestLoginAdmin"}`,
				`{"Action":"fail","Package":"ex/ui","Test":"TestLoginAdmin"}`,
				`{"Action":"run","Package":"ex/ui","Test":"TestLogin"}`,
				`{"Action":"pass","Package":"ex/ui","Test":"TestLogin"}`,
			),
			funcName:  "TestLogin",
			status:    types.TestStatusPass,
			causeNone: true,
		},
	}

	p := NewOutputParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Parse(tt.output, tt.funcName)
			assert.Equal(t, tt.status, out.Status)
			if tt.causeNone {
				assert.NoError(t, out.Cause)
				return
			}
			require.Error(t, out.Cause)
			assert.Contains(t, out.Cause.Error(), tt.causeHas)
			assert.NotContains(t, out.Cause.Error(), "\x1b[")
		})
	}
}

func TestOutputParser_Duration(t *testing.T) {
	p := NewOutputParser()

	out := p.Parse(events(
		`{"Time":"2025-03-04T14:05:00Z","Action":"run","Package":"ex/ui","Test":"TestLogin"}`,
		`{"Time":"2025-03-04T14:05:03Z","Action":"pass","Package":"ex/ui","Test":"TestLogin","Elapsed":3}`,
	), "TestLogin")
	assert.Equal(t, 3*time.Second, out.Duration)

	out = p.Parse(events(
		`{"Action":"pass","Package":"ex/ui","Test":"TestLogin","Elapsed":1.5}`,
	), "TestLogin")
	assert.Equal(t, 1500*time.Millisecond, out.Duration)
}

func TestOutputParser_LongLines(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	out := NewOutputParser().Parse(events(
		`{"Action":"output","Package":"ex/ui","Test":"TestLogin","Output":"`+long+`"}`,
		`{"Action":"fail","Package":"ex/ui","Test":"TestLogin"}`,
	), "TestLogin")
	assert.Equal(t, types.TestStatusFail, out.Status)
	require.Error(t, out.Cause)
	assert.Len(t, out.Cause.Error(), len(long))
}

func TestOutputParser_OversizedLineKeepsVerdict(t *testing.T) {
	screenshot := strings.Repeat("A", 5*1024*1024)
	out := NewOutputParser().Parse(events(
		`{"Action":"run","Package":"ex/ui","Test":"TestUI"}`,
		`{"Action":"output","Package":"ex/ui","Test":"TestUI","Output":"screenshot: `+screenshot+`\n"}`,
		`{"Action":"pass","Package":"ex/ui","Test":"TestUI","Elapsed":1.5}`,
		`{"Action":"pass","Package":"ex/ui","Elapsed":1.6}`,
	), "TestUI")
	assert.Equal(t, types.TestStatusPass, out.Status)
	assert.NoError(t, out.Cause)
	assert.Equal(t, 1500*time.Millisecond, out.Duration)
}

func TestOutputParser_ReadErrorIsReported(t *testing.T) {
	stream := io.MultiReader(
		strings.NewReader(`{"Action":"run","Package":"ex/ui","Test":"TestUI"}`+"\n"),
		iotest.ErrReader(errors.New("pipe closed")),
	)
	out := NewOutputParser().Parse(stream, "TestUI")
	assert.Equal(t, types.TestStatusFail, out.Status)
	require.Error(t, out.Cause)
	assert.Contains(t, out.Cause.Error(), "failed to read test output")
	assert.Contains(t, out.Cause.Error(), "pipe closed")
}

func TestOutputParser_ReadErrorAfterVerdict(t *testing.T) {
	stream := io.MultiReader(
		strings.NewReader(`{"Action":"pass","Package":"ex/ui","Test":"TestUI"}`+"\n"),
		iotest.ErrReader(errors.New("pipe closed")),
	)
	out := NewOutputParser().Parse(stream, "TestUI")
	assert.Equal(t, types.TestStatusPass, out.Status)
	assert.NoError(t, out.Cause)
}
