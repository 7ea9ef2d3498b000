// Package recordertest provides in-memory capture processes for tests.
package recordertest

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/ethereum-optimism/infra/op-witness/recorder"
)

var (
	_ recorder.Launcher = (*Launcher)(nil)
	_ recorder.Prober   = (*Prober)(nil)
)

// Launcher records launches and hands out fake processes. The fake writes
// Payload to the output path (the last argument) when interrupted.
type Launcher struct {
	Payload []byte
	// IgnoreInterrupt makes processes exit only when killed.
	IgnoreInterrupt bool
	Err             error

	mu        sync.Mutex
	Launches  [][]string
	Processes []*Process
}

func (l *Launcher) Launch(_ context.Context, binary string, args []string) (recorder.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	l.Launches = append(l.Launches, append([]string{binary}, args...))
	p := &Process{
		output:          args[len(args)-1],
		payload:         l.Payload,
		ignoreInterrupt: l.IgnoreInterrupt,
		done:            make(chan struct{}),
	}
	l.Processes = append(l.Processes, p)
	return p, nil
}

// LaunchCount returns how many processes were started
func (l *Launcher) LaunchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Launches)
}

// Last returns the most recent process or nil.
func (l *Launcher) Last() *Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.Processes) == 0 {
		return nil
	}
	return l.Processes[len(l.Processes)-1]
}

type Process struct {
	output          string
	payload         []byte
	ignoreInterrupt bool

	mu          sync.Mutex
	interrupted bool
	killed      bool
	done        chan struct{}
	closeOnce   sync.Once
}

func (p *Process) Interrupt() error {
	p.mu.Lock()
	p.interrupted = true
	p.mu.Unlock()
	if p.ignoreInterrupt {
		return nil
	}
	p.exit()
	return nil
}

func (p *Process) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// Exit ends the process on its own, as when ffmpeg crashes or loses the
// display. Whatever Payload holds is left in the output file.
func (p *Process) Exit() {
	p.exit()
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) Interrupted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupted
}

func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *Process) exit() {
	p.closeOnce.Do(func() {
		_ = os.WriteFile(p.output, p.payload, 0644)
		close(p.done)
	})
}

// Prober returns Err from every probe.
type Prober struct {
	Err error

	mu    sync.Mutex
	Calls int
}

func (p *Prober) Probe(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++
	return p.Err
}

// ErrUnavailable is a convenient probe failure.
var ErrUnavailable = errors.New("ffmpeg: executable file not found in $PATH")

// PipelineEnv is a lookup that reports a CI run.
func PipelineEnv(key string) (string, bool) {
	if key == "CI" {
		return "true", true
	}
	return "", false
}

// LocalEnv is a lookup with no environment at all.
func LocalEnv(string) (string, bool) {
	return "", false
}
