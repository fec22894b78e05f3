// Package session holds the live client sessions of the gateway.
//
// A Session binds one client connection to one worker process, its output
// relay and its backlog. The Registry maps session ids to sessions; it is the
// only shared mutable state in the gateway and is guarded by a single
// read/write mutex. Per-session work (writing a command, tearing down a
// worker) happens under the session's own lock, never under the registry's,
// so sessions do not serialize behind each other.
package session

import (
	"sync"
	"time"

	"github.com/Iron-Ham/expensebridge/internal/capture"
	"github.com/Iron-Ham/expensebridge/internal/errors"
	"github.com/Iron-Ham/expensebridge/internal/relay"
	"github.com/Iron-Ham/expensebridge/internal/worker"
)

// Session is one client connection bound to one worker.
type Session struct {
	ID        string
	CreatedAt time.Time

	process worker.Process
	relay   *relay.Relay
	backlog *capture.Backlog

	// mu serializes the input path and teardown.
	mu     sync.Mutex
	closed bool
}

// New creates a Session. The relay is not started.
func New(id string, proc worker.Process, r *relay.Relay, backlog *capture.Backlog) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		process:   proc,
		relay:     r,
		backlog:   backlog,
	}
}

// Process returns the session's worker.
func (s *Session) Process() worker.Process {
	return s.process
}

// Backlog returns the lines relayed so far.
func (s *Session) Backlog() *capture.Backlog {
	return s.backlog
}

// Relay returns the session's output relay.
func (s *Session) Relay() *relay.Relay {
	return s.relay
}

// Alive reports whether the session is open and its worker still running.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.process.Alive()
}

// WriteCommand writes one command line to the worker.
//
// Returns ErrNoActiveSession if the session was closed, ErrSessionExpired if
// the worker has exited, or the worker's write error.
func (s *Session) WriteCommand(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrNoActiveSession
	}
	if !s.process.Alive() {
		return errors.ErrSessionExpired
	}
	return s.process.WriteLine(text)
}

// Close terminates the worker, waits for it to be reaped and then stops the
// relay. Commands arriving during or after Close see ErrNoActiveSession.
// Only the first call does any work.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.process.Terminate()
	s.mu.Unlock()

	if s.relay != nil {
		s.relay.Stop()
	}
	return err
}
