package recorder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// PipelineSignals are environment variables whose presence marks a CI run.
var PipelineSignals = []string{"CI", "AZURE_PIPELINES", "BUILD_ID", "AGENT_ID"}

const DefaultProbeTimeout = 2 * time.Second

// LookupFunc has the signature of os.LookupEnv
type LookupFunc func(key string) (string, bool)

// InPipeline reports whether any pipeline signal is present.
func InPipeline(lookup LookupFunc) bool {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, key := range PipelineSignals {
		if _, ok := lookup(key); ok {
			return true
		}
	}
	return false
}

// Prober checks whether the capture utility can be invoked.
type Prober interface {
	Probe(ctx context.Context) error
}

// ExecProber runs "<binary> -version" with a deadline.
type ExecProber struct {
	Binary  string
	Timeout time.Duration
}

func (p *ExecProber) Probe(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Binary, "-version")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s probe timed out after %v", p.Binary, timeout)
		}
		return fmt.Errorf("%s not available: %w", p.Binary, err)
	}
	return nil
}
