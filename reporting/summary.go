package reporting

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/infra/op-witness/types"
)

const (
	SummaryFilename = "test_summary.txt"

	// SummaryDateLayout renders eg. "2025-03-04 02:05 PM".
	SummaryDateLayout = "2006-01-02 03:04 PM"
)

// SummaryExporter writes the key=value run summary consumed by pipelines.
type SummaryExporter struct {
	path string
	now  func() time.Time
}

func NewSummaryExporter(dir string, now func() time.Time) *SummaryExporter {
	if now == nil {
		now = time.Now
	}
	return &SummaryExporter{
		path: filepath.Join(dir, SummaryFilename),
		now:  now,
	}
}

// Path returns the summary file location.
func (s *SummaryExporter) Path() string {
	return s.path
}

// Export summarizes verdicts and overwrites the summary file.
func (s *SummaryExporter) Export(verdicts []types.TestVerdict) (types.RunSummary, error) {
	summary := types.Summarize(verdicts, s.now())
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return summary, fmt.Errorf("failed to create summary directory: %w", err)
	}
	if err := os.WriteFile(s.path, FormatSummary(summary), 0644); err != nil {
		return summary, fmt.Errorf("failed to write summary: %w", err)
	}
	return summary, nil
}

// FormatSummary renders the summary file contents.
func FormatSummary(s types.RunSummary) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Execution_date=%s\n", s.ExecutionDate.Format(SummaryDateLayout))
	fmt.Fprintf(&buf, "Total_tests=%d\n", s.Total)
	fmt.Fprintf(&buf, "Passed=%d\n", s.Passed)
	fmt.Fprintf(&buf, "Failed=%d\n", s.Failed)
	fmt.Fprintf(&buf, "Retries=%d\n", s.Retries)
	fmt.Fprintf(&buf, "Skipped=%d\n", s.Skipped)
	return buf.Bytes()
}
