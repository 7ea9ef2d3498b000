package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-witness/types"
)

// PrintResultsTable writes a one-row-per-test results table followed by the run totals.
func PrintResultsTable(w io.Writer, verdicts []types.TestVerdict, summary types.RunSummary, duration time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Test Execution Results (%s)", formatDuration(duration)))

	t.AppendHeader(table.Row{
		"Test", "Package", "Attempts", "Retries", "Status", "Evidence", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Package", WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Attempts", Align: text.AlignRight},
		{Name: "Retries", Align: text.AlignRight},
		{Name: "Evidence", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, v := range verdicts {
		t.AppendRow(table.Row{
			v.DisplayName,
			v.Identity.Package,
			v.Attempts,
			v.Retries,
			getResultString(v.Status),
			evidence(v),
			ExtractKeyErrorMessage(v.Cause),
		})
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d tests", summary.Total),
		"",
		summary.Retries,
		fmt.Sprintf("%d pass / %d fail / %d skip", summary.Passed, summary.Failed, summary.Skipped),
		"",
		"",
	})
	t.Render()
}

func evidence(v types.TestVerdict) string {
	var parts []string
	if v.Screenshot != "" {
		parts = append(parts, v.Screenshot)
	}
	if v.Video != "" {
		parts = append(parts, v.Video)
	}
	return strings.Join(parts, "\n")
}

// ExtractKeyErrorMessage picks the most informative line of a failure cause.
func ExtractKeyErrorMessage(cause string) string {
	cause = strings.TrimSpace(stripansi.Strip(cause))
	if cause == "" {
		return ""
	}

	for _, pattern := range []string{"panic:", "Error:", "Error Trace:", "expected", "Expected", "got:", "want:"} {
		idx := strings.Index(cause, pattern)
		if idx == -1 {
			continue
		}
		start := idx
		for start > 0 && cause[start-1] != '\n' {
			start--
		}
		end := len(cause)
		if nl := strings.Index(cause[idx:], "\n"); nl != -1 {
			end = idx + nl
		}
		return truncate(strings.TrimSpace(cause[start:end]), 120)
	}

	if idx := strings.Index(cause, "\n"); idx != -1 {
		return truncate(cause[:idx], 120)
	}
	return truncate(cause, 120)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// getResultString returns a symbol-prefixed string representing the test result
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}

// formatDuration formats a duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
