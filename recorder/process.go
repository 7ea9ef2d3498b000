package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/ethereum-optimism/infra/op-witness/logging"
)

// Process is a running capture process owned by the recorder.
type Process interface {
	// Interrupt asks the process to finalize its output and exit.
	Interrupt() error
	// Kill terminates the process immediately.
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// Launcher starts capture processes.
type Launcher interface {
	Launch(ctx context.Context, binary string, args []string) (Process, error)
}

var _ Launcher = (*ExecLauncher)(nil)

// ExecLauncher starts real OS processes. The graceful stop request is a "q"
// line on the process's stdin, which ffmpeg treats as "finish and exit".
type ExecLauncher struct {
	// OutputTailBytes bounds how much combined output is retained per process.
	OutputTailBytes int
}

func (l *ExecLauncher) Launch(_ context.Context, binary string, args []string) (Process, error) {
	// The process outlives the caller's context; the recorder owns its lifetime.
	cmd := exec.Command(binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	output := logging.NewTailBuffer(l.OutputTailBytes)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to start %s: %w", binary, err)
	}

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		output: output,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *logging.TailBuffer

	stdinOnce sync.Once
	done      chan struct{}
	waitErr   error
}

func (p *execProcess) Interrupt() error {
	var err error
	p.stdinOnce.Do(func() {
		if _, werr := io.WriteString(p.stdin, "q\n"); werr != nil {
			err = fmt.Errorf("failed to send stop request: %w", werr)
		}
		_ = p.stdin.Close()
	})
	return err
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	err := p.cmd.Process.Kill()
	p.stdinOnce.Do(func() { _ = p.stdin.Close() })
	return err
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

// Output returns the tail of the process's combined output.
func (p *execProcess) Output() string {
	return p.output.String()
}

// Err returns the exit error once Done is closed.
func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}
