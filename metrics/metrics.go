package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-witness/types"
)

const (
	MetricsNamespace = "witness"
)

var (
	Debug                bool = true
	validResults              = []types.TestStatus{types.TestStatusPass, types.TestStatusFail, types.TestStatusSkip}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "verdicts_total",
		Help:      "Count of final test verdicts",
	}, []string{
		"run_id",
		"result",
	})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "attempts_total",
		Help:      "Count of test executions, including retries",
	}, []string{
		"run_id",
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "retries_total",
		Help:      "Count of test retries",
	}, []string{
		"run_id",
	})

	recordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "recordings_total",
		Help:      "Count of screen recordings by outcome",
	}, []string{
		"outcome",
	})

	recordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "recording_active",
		Help:      "1 while a screen recording session is running",
	})

	screenshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "screenshots_total",
		Help:      "Count of failure screenshots by outcome",
	}, []string{
		"outcome",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Counts of the last run by result",
	}, []string{
		"run_id",
		"result",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the test run",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordVerdict(runID string, result types.TestStatus) {
	if !isValidResult(result) {
		log.Error("RecordVerdict - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "verdicts_total",
			"run_id", runID,
			"result", result)
	}
	verdictsTotal.WithLabelValues(runID, string(result)).Inc()
}

// RecordAttempt counts one execution; retry is true for every execution after the first.
func RecordAttempt(runID string, retry bool) {
	attemptsTotal.WithLabelValues(runID).Inc()
	if retry {
		retriesTotal.WithLabelValues(runID).Inc()
	}
}

// RecordRecording counts a recording lifecycle event (started, kept, discarded, killed, skipped).
func RecordRecording(outcome string) {
	recordingsTotal.WithLabelValues(outcome).Inc()
}

func SetRecordingActive(active bool) {
	if active {
		recordingActive.Set(1)
		return
	}
	recordingActive.Set(0)
}

// RecordScreenshot counts a screenshot attempt (captured, failed, unavailable).
func RecordScreenshot(outcome string) {
	screenshotsTotal.WithLabelValues(outcome).Inc()
}

func RecordRun(runID string, summary types.RunSummary, duration time.Duration) {
	runResults.WithLabelValues(runID, "total").Set(float64(summary.Total))
	runResults.WithLabelValues(runID, string(types.TestStatusPass)).Set(float64(summary.Passed))
	runResults.WithLabelValues(runID, string(types.TestStatusFail)).Set(float64(summary.Failed))
	runResults.WithLabelValues(runID, string(types.TestStatusSkip)).Set(float64(summary.Skipped))
	runResults.WithLabelValues(runID, "retries").Set(float64(summary.Retries))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
