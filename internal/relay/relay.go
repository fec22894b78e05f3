// Package relay forwards a worker's output to its session.
//
// A Relay runs one goroutine per session. It reads the worker's merged
// stdout/stderr stream line by line and hands each line to exactly two
// sinks: the session's backlog and the session's client channel. It never
// writes to the worker and never touches another session.
package relay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Iron-Ham/expensebridge/internal/capture"
	"github.com/Iron-Ham/expensebridge/internal/errors"
	"github.com/Iron-Ham/expensebridge/internal/logging"
)

// maxConsecutiveSendFailures is the threshold after which send failures are
// logged again at error level.
const maxConsecutiveSendFailures = 10

// Sink receives relayed output. The gateway's client channel satisfies it.
type Sink interface {
	Send(text string) error
}

// Relay drains one worker output stream into a backlog and a sink.
//
// Thread Safety: Start, Stop, Done and Err are safe for concurrent use.
type Relay struct {
	src     io.Reader
	backlog *capture.Backlog
	sink    Sink
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}

	mu           sync.Mutex
	err          error
	lines        int
	sendFailures int
}

// New creates a Relay reading src. If src is an io.Closer, Stop closes it to
// unblock a pending read. A nil logger discards log output.
func New(src io.Reader, backlog *capture.Backlog, sink Sink, logger *logging.Logger) *Relay {
	if logger == nil {
		logger = logging.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		src:     src,
		backlog: backlog,
		sink:    sink,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the forwarding goroutine. Subsequent calls are no-ops.
func (r *Relay) Start() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

// Stop cancels forwarding, closes the source and waits for the goroutine to
// exit. Lines read after Stop are discarded. Safe to call more than once, and
// before Start.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		if c, ok := r.src.(io.Closer); ok {
			_ = c.Close()
		}
		// Make sure Done closes even if Start was never called.
		r.startOnce.Do(func() { close(r.done) })
	})
	<-r.done
}

// Done is closed when the forwarding goroutine has exited.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Err returns the read error that ended forwarding, or nil after a clean
// end-of-stream or Stop.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Lines returns the number of lines forwarded so far.
func (r *Relay) Lines() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lines
}

func (r *Relay) run() {
	defer close(r.done)

	reader := bufio.NewReader(r.src)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			r.forward(line)
		}
		if err == nil {
			continue
		}

		if err == io.EOF || r.ctx.Err() != nil {
			r.logger.Debug("relay finished", "lines", r.Lines())
			return
		}

		r.mu.Lock()
		r.err = fmt.Errorf("%w: %w", errors.ErrRelayFailed, err)
		r.mu.Unlock()

		r.logger.Warn("relay read failed", "error", err.Error())
		msg := fmt.Sprintf("Error reading output: %v\n", err)
		r.backlog.Push(msg)
		r.send(msg)
		return
	}
}

func (r *Relay) forward(line string) {
	if r.ctx.Err() != nil {
		return
	}

	r.backlog.Push(line)
	r.send(line)

	r.mu.Lock()
	r.lines++
	r.mu.Unlock()
}

// send delivers text to the sink. Failures are logged and swallowed so the
// worker never blocks on a full pipe.
func (r *Relay) send(text string) {
	err := r.sink.Send(text)

	r.mu.Lock()
	if err == nil {
		r.sendFailures = 0
		r.mu.Unlock()
		return
	}
	r.sendFailures++
	failures := r.sendFailures
	r.mu.Unlock()

	switch failures {
	case 1:
		r.logger.Warn("relay send failed", "error", err.Error())
	case maxConsecutiveSendFailures:
		r.logger.Error("relay send keeps failing", "failures", failures, "error", err.Error())
	}
}
