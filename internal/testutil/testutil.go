// Package testutil provides testing utilities for expensebridge tests.
//
// The helpers here let gateway and server tests run real expense-tracker
// sessions without spawning processes: PipeProcess runs the tracker's command
// loop on a goroutine behind the worker.Process contract, and
// RecordingChannel captures everything the gateway sends to a client.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bridgeerrors "github.com/Iron-Ham/expensebridge/internal/errors"
	"github.com/Iron-Ham/expensebridge/internal/expense"
	"github.com/Iron-Ham/expensebridge/internal/worker"
)

// DefaultWait bounds the polling helpers.
const DefaultWait = 5 * time.Second

var fakePIDs atomic.Int64

// PipeProcess runs the expense tracker in-process over io.Pipe.
//
// Writes go to the tracker's input, the tracker's output is readable from
// Output, and Terminate ends the tracker the way a signal ends a worker:
// input and output are closed and the call waits for the loop to return.
type PipeProcess struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	cancel   context.CancelFunc
	exited   chan struct{}
	termOnce sync.Once
	writeMu  sync.Mutex
	pid      int
	runErr   error
}

var _ worker.Process = (*PipeProcess)(nil)

// NewPipeProcess starts a tracker session storing data in dataDir.
func NewPipeProcess(dataDir string) *PipeProcess {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	p := &PipeProcess{
		inR:    inR,
		inW:    inW,
		outR:   outR,
		outW:   outW,
		cancel: cancel,
		exited: make(chan struct{}),
		pid:    int(fakePIDs.Add(1)) + 100000,
	}

	go func() {
		p.runErr = expense.Run(ctx, inR, outW, expense.Options{DataDir: dataDir})
		_ = outW.Close()
		_ = inR.Close()
		close(p.exited)
	}()

	return p
}

// WriteLine implements worker.Process.
func (p *PipeProcess) WriteLine(text string) error {
	if !p.Alive() {
		return bridgeerrors.ErrProcessNotRunning
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := io.WriteString(p.inW, text+"\n")
	return err
}

// Output implements worker.Process.
func (p *PipeProcess) Output() io.ReadCloser {
	return p.outR
}

// Alive implements worker.Process.
func (p *PipeProcess) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Done implements worker.Process.
func (p *PipeProcess) Done() <-chan struct{} {
	return p.exited
}

// Terminate implements worker.Process.
func (p *PipeProcess) Terminate() error {
	p.termOnce.Do(func() {
		p.cancel()
		_ = p.inW.Close()
		_ = p.outW.Close()
	})
	<-p.exited
	return nil
}

// PID implements worker.Process.
func (p *PipeProcess) PID() int {
	return p.pid
}

// ExitErr implements worker.Process.
func (p *PipeProcess) ExitErr() error {
	select {
	case <-p.exited:
		return p.runErr
	default:
		return nil
	}
}

// PipeSpawner is a worker.Spawner that hands out PipeProcess values sharing
// one data directory.
type PipeSpawner struct {
	DataDir string

	// Err, when set, makes Spawn fail with it.
	Err error

	mu        sync.Mutex
	processes []*PipeProcess
}

var _ worker.Spawner = (*PipeSpawner)(nil)

// NewPipeSpawner returns a PipeSpawner over a fresh temporary data directory.
func NewPipeSpawner(t *testing.T) *PipeSpawner {
	t.Helper()
	return &PipeSpawner{DataDir: t.TempDir()}
}

// Spawn implements worker.Spawner.
func (s *PipeSpawner) Spawn(ctx context.Context) (worker.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	p := NewPipeProcess(s.DataDir)

	s.mu.Lock()
	s.processes = append(s.processes, p)
	s.mu.Unlock()
	return p, nil
}

// Processes returns every process spawned so far.
func (s *PipeSpawner) Processes() []*PipeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*PipeProcess(nil), s.processes...)
}

// ErrChannelClosed is returned by a closed RecordingChannel.
var ErrChannelClosed = errors.New("channel closed")

// RecordingChannel records every message sent to a client.
type RecordingChannel struct {
	mu     sync.Mutex
	sent   []string
	closed bool
}

// Send records text. It fails once the channel is closed.
func (c *RecordingChannel) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.sent = append(c.sent, text)
	return nil
}

// Close makes further sends fail, like a client that went away.
func (c *RecordingChannel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Messages returns a copy of the recorded messages.
func (c *RecordingChannel) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Text returns the recorded messages concatenated.
func (c *RecordingChannel) Text() string {
	return strings.Join(c.Messages(), "")
}

// WaitForMessage waits until a message equal to want has been recorded.
func (c *RecordingChannel) WaitForMessage(t *testing.T, want string) {
	t.Helper()
	if !poll(func() bool {
		for _, m := range c.Messages() {
			if m == want {
				return true
			}
		}
		return false
	}) {
		t.Fatalf("message %q not received; got %q", want, c.Messages())
	}
}

// WaitForText waits until the concatenated messages contain substr.
func (c *RecordingChannel) WaitForText(t *testing.T, substr string) {
	t.Helper()
	if !poll(func() bool { return strings.Contains(c.Text(), substr) }) {
		t.Fatalf("text %q not received; got %q", substr, c.Text())
	}
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers, such as a
// logger shared by several goroutines.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func poll(cond func() bool) bool {
	deadline := time.Now().Add(DefaultWait)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
