package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/Iron-Ham/expensebridge/internal/errors"
)

// State is the lifecycle state of a worker process.
type State int

const (
	// StateSpawned means the command was built but has not started.
	StateSpawned State = iota
	// StateRunning means the child is alive.
	StateRunning
	// StateTerminating means a termination signal was sent and reap is pending.
	StateTerminating
	// StateReaped means the child exited and was waited on.
	StateReaped
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateReaped:
		return "reaped"
	default:
		return "unknown"
	}
}

// Process is a live worker bound to one session.
//
// WriteLine is called only from the session's command path, which the
// gateway serializes. Output has a single reader, the session's relay.
type Process interface {
	// WriteLine writes text followed by a newline and flushes it to the
	// child's stdin. Returns ErrProcessNotRunning once the child has exited.
	WriteLine(text string) error

	// Output returns the read end of the merged stdout/stderr stream. It
	// yields io.EOF after the child and every inheritor of the pipe exit.
	// Closing it unblocks a pending read.
	Output() io.ReadCloser

	// Alive reports whether the child has not yet exited.
	Alive() bool

	// Done is closed when the child has exited and been reaped.
	Done() <-chan struct{}

	// Terminate signals the child once and blocks until it is reaped. It
	// returns immediately for a child that already exited and is safe to
	// call more than once.
	Terminate() error

	// PID returns the child's process id, or 0 if unknown.
	PID() int

	// ExitErr returns how the child ended, or nil while it runs or after a
	// clean exit.
	ExitErr() error
}

// Spawner creates worker processes.
type Spawner interface {
	Spawn(ctx context.Context) (Process, error)
}

// Config holds the configuration for spawning workers.
type Config struct {
	// Command is the argv of the worker. Command[0] is resolved via PATH.
	Command []string

	// Dir is the working directory of the worker. Empty means the
	// gateway's own working directory.
	Dir string

	// Env is appended to the gateway's environment.
	Env []string
}

// Validate checks that the Config has all required fields set.
func (c Config) Validate() error {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return errors.ErrEmptyCommand
	}
	return nil
}

// ExecSpawner spawns workers with os/exec.
type ExecSpawner struct {
	config Config
}

// NewExecSpawner returns a Spawner for config.
func NewExecSpawner(config Config) *ExecSpawner {
	return &ExecSpawner{config: config}
}

// Spawn starts a new worker. The context only bounds the start itself; the
// worker outlives it and is stopped with Terminate.
func (s *ExecSpawner) Spawn(ctx context.Context) (Process, error) {
	return Start(ctx, s.config)
}

// ExecProcess is a worker started with os/exec.
type ExecProcess struct {
	argv []string
	cmd  *exec.Cmd

	writeMu sync.Mutex
	stdin   io.WriteCloser
	in      *bufio.Writer
	out     *os.File

	mu      sync.Mutex
	state   State
	waitErr error

	exited   chan struct{}
	termOnce sync.Once
	termErr  error
}

// Start spawns the worker described by config and starts its reaper.
func Start(ctx context.Context, config Config) (*ExecProcess, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(config.Command[0], config.Command[1:]...)
	cmd.Dir = config.Dir
	if len(config.Env) > 0 {
		cmd.Env = append(os.Environ(), config.Env...)
	}

	p := &ExecProcess{
		argv:   config.Command,
		cmd:    cmd,
		state:  StateSpawned,
		exited: make(chan struct{}),
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, errors.NewProcessError("failed to create output pipe", err).WithCommand(p.argv)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, errors.NewProcessError("failed to create input pipe", err).WithCommand(p.argv)
	}

	if err := cmd.Start(); err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, errors.NewProcessError("failed to start worker", err).WithCommand(p.argv)
	}
	// The child holds its own copy of the write end; ours must go so the
	// reader sees EOF when the child exits.
	_ = outW.Close()

	p.stdin = stdin
	p.in = bufio.NewWriter(stdin)
	p.out = outR
	p.setState(StateRunning)

	go p.reap()

	return p, nil
}

func (p *ExecProcess) reap() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.waitErr = err
	p.state = StateReaped
	p.mu.Unlock()

	close(p.exited)
}

func (p *ExecProcess) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State returns the current lifecycle state.
func (p *ExecProcess) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitErr implements Process.
func (p *ExecProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// WriteLine implements Process.
func (p *ExecProcess) WriteLine(text string) error {
	if !p.Alive() {
		return errors.ErrProcessNotRunning
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.in.WriteString(text + "\n"); err != nil {
		p.in.Reset(p.stdin)
		return errors.NewProcessError("write failed", err).WithPID(p.PID())
	}
	if err := p.in.Flush(); err != nil {
		p.in.Reset(p.stdin)
		return errors.NewProcessError("flush failed", err).WithPID(p.PID())
	}
	return nil
}

// Output implements Process.
func (p *ExecProcess) Output() io.ReadCloser {
	return p.out
}

// Alive implements Process.
func (p *ExecProcess) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Done implements Process.
func (p *ExecProcess) Done() <-chan struct{} {
	return p.exited
}

// Terminate implements Process.
func (p *ExecProcess) Terminate() error {
	if !p.Alive() {
		return nil
	}

	p.termOnce.Do(func() {
		p.mu.Lock()
		if p.state == StateRunning {
			p.state = StateTerminating
		}
		p.mu.Unlock()

		if err := signalTerminate(p.cmd.Process); err != nil {
			p.termErr = errors.NewProcessError("failed to signal worker", err).
				WithPID(p.PID()).
				WithCommand(p.argv)
		}
	})
	if p.termErr != nil {
		return p.termErr
	}

	<-p.exited
	return nil
}

// PID implements Process.
func (p *ExecProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// String describes the process for logs.
func (p *ExecProcess) String() string {
	return fmt.Sprintf("worker[pid=%d state=%s]", p.PID(), p.State())
}
