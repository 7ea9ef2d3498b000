package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum-optimism/infra/op-witness/types"
)

const VerdictsFilename = "verdicts.json"

type verdictsFile struct {
	RunID    string              `json:"run_id"`
	Summary  types.RunSummary    `json:"summary"`
	Verdicts []types.TestVerdict `json:"verdicts"`
}

// WriteVerdicts dumps every verdict of a run as JSON into dir.
func WriteVerdicts(dir, runID string, summary types.RunSummary, verdicts []types.TestVerdict) (string, error) {
	if verdicts == nil {
		verdicts = []types.TestVerdict{}
	}
	data, err := json.MarshalIndent(verdictsFile{
		RunID:    runID,
		Summary:  summary,
		Verdicts: verdicts,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal verdicts: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create verdicts directory: %w", err)
	}
	path := filepath.Join(dir, VerdictsFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write verdicts: %w", err)
	}
	return path, nil
}
