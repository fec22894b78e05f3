package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/expensebridge/internal/capture"
	"github.com/Iron-Ham/expensebridge/internal/errors"
	"github.com/Iron-Ham/expensebridge/internal/event"
	"github.com/Iron-Ham/expensebridge/internal/logging"
	"github.com/Iron-Ham/expensebridge/internal/relay"
	"github.com/Iron-Ham/expensebridge/internal/session"
	"github.com/Iron-Ham/expensebridge/internal/util"
	"github.com/Iron-Ham/expensebridge/internal/worker"
)

// Client-visible messages.
const (
	MsgWelcome        = "Welcome to the Expense Tracker!\n"
	MsgSessionActive  = "Error: Session already active.\n"
	MsgNoSession      = "Error: No active session found. Please refresh the page.\n"
	MsgSessionExpired = "Error: Session expired. Please refresh the page.\n"
)

// MsgConnectFailed is sent when a worker cannot be spawned.
func MsgConnectFailed(err error) string {
	return fmt.Sprintf("Error establishing connection: %v\n", err)
}

// MsgCommandFailed is sent when a command cannot be written to a live worker.
func MsgCommandFailed(err error) string {
	return fmt.Sprintf("Error processing command: %v\n", err)
}

// maxLoggedCommand bounds the command text copied into log records.
const maxLoggedCommand = 80

// finalOutputLines is how much of the backlog is logged when a session ends.
const finalOutputLines = 5

// Channel delivers text to one client.
type Channel interface {
	Send(text string) error
}

// Gateway owns the session registry and the per-session lifecycle.
type Gateway struct {
	spawner      worker.Spawner
	registry     *session.Registry
	bus          *event.Bus
	logger       *logging.Logger
	backlogLines int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger *logging.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithEventBus sets the bus lifecycle events are published on.
func WithEventBus(bus *event.Bus) Option {
	return func(g *Gateway) {
		if bus != nil {
			g.bus = bus
		}
	}
}

// WithBacklogLines sets how many relayed lines each session retains.
func WithBacklogLines(n int) Option {
	return func(g *Gateway) {
		g.backlogLines = n
	}
}

// New creates a Gateway that spawns workers with spawner.
func New(spawner worker.Spawner, opts ...Option) *Gateway {
	g := &Gateway{
		spawner:      spawner,
		registry:     session.NewRegistry(),
		bus:          event.NewBus(),
		logger:       logging.NopLogger(),
		backlogLines: capture.DefaultBacklogLines,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Bus returns the event bus lifecycle events are published on.
func (g *Gateway) Bus() *event.Bus {
	return g.bus
}

// Sessions returns the number of live sessions.
func (g *Gateway) Sessions() int {
	return g.registry.Len()
}

// SessionIDs returns the live session ids in sorted order.
func (g *Gateway) SessionIDs() []string {
	return g.registry.IDs()
}

// Session returns the live session for id.
func (g *Gateway) Session(id string) (*session.Session, bool) {
	return g.registry.Get(id)
}

// Connect spawns a worker for id, registers the session, greets the client
// on ch and starts relaying the worker's output to ch.
//
// If id is already registered the client is told so, the existing worker is
// kept and ErrSessionExists is returned. If the worker cannot be spawned the
// client gets the spawn error and nothing is registered.
func (g *Gateway) Connect(ctx context.Context, id string, ch Channel) error {
	logger := g.logger.WithSession(id)

	if g.registry.Has(id) {
		err := errors.NewSessionError("connect rejected", errors.ErrSessionExists).
			WithSessionID(id).
			WithSeverity(errors.SeverityWarning)
		logError(logger, "connect for active session", err)
		g.reply(logger, ch, MsgSessionActive)
		return err
	}

	proc, spawnErr := g.spawner.Spawn(ctx)
	if spawnErr != nil {
		err := errors.NewSessionError("connect failed", fmt.Errorf("%w: %w", errors.ErrSpawnFailed, spawnErr)).WithSessionID(id)
		logError(logger, "failed to spawn worker", err)
		g.reply(logger, ch, MsgConnectFailed(spawnErr))
		return err
	}

	backlog := capture.NewBacklog(g.backlogLines)
	r := relay.New(proc.Output(), backlog, ch, logger.WithComponent("relay"))
	s := session.New(id, proc, r, backlog)

	if insertErr := g.registry.Insert(s); insertErr != nil {
		// Lost a race with a concurrent Connect for the same id.
		_ = proc.Terminate()
		r.Stop()
		err := errors.NewSessionError("connect rejected", insertErr).
			WithSessionID(id).
			WithSeverity(errors.SeverityWarning)
		logError(logger, "connect lost registration race", err, "pid", proc.PID())
		g.reply(logger, ch, MsgSessionActive)
		return err
	}

	g.reply(logger, ch, MsgWelcome)
	r.Start()
	go g.watchRelay(id, r)

	logger.Info("session started", "pid", proc.PID())
	g.bus.Publish(event.NewSessionStartedEvent(id, proc.PID()))
	return nil
}

func (g *Gateway) watchRelay(id string, r *relay.Relay) {
	<-r.Done()
	if err := r.Err(); err != nil {
		g.bus.Publish(event.NewRelayFailedEvent(id, err))
	}
}

// Command writes text as one line to the worker of id. Failures are
// reported to the client on ch and returned.
func (g *Gateway) Command(id string, ch Channel, text string) error {
	logger := g.logger.WithSession(id)

	s, ok := g.registry.Get(id)
	if !ok {
		return g.reject(logger, ch, id, MsgNoSession, errors.ErrNoActiveSession)
	}

	err := s.WriteCommand(text)
	switch {
	case err == nil:
		logger.Debug("command forwarded", "command", util.TruncateString(text, maxLoggedCommand))
		return nil
	case errors.Is(err, errors.ErrNoActiveSession):
		return g.reject(logger, ch, id, MsgNoSession, err)
	case errors.Is(err, errors.ErrSessionExpired):
		return g.reject(logger, ch, id, MsgSessionExpired, err)
	default:
		return g.reject(logger, ch, id, MsgCommandFailed(err), err)
	}
}

// reject reports a failed command to the client. Lookup failures are the
// client's problem and log as warnings; write failures log as errors.
func (g *Gateway) reject(logger *logging.Logger, ch Channel, id, msg string, cause error) error {
	err := errors.NewSessionError("command rejected", cause).WithSessionID(id)
	if errors.Is(cause, errors.ErrNoActiveSession) || errors.Is(cause, errors.ErrSessionExpired) {
		err = err.WithSeverity(errors.SeverityWarning)
	}
	logError(logger, "command rejected", err)
	g.reply(logger, ch, msg)
	g.bus.Publish(event.NewCommandRejectedEvent(id, cause))
	return err
}

// Disconnect ends the session for id: the worker is terminated and reaped,
// then the relay is stopped and awaited. Unknown ids are ignored, so calling
// it twice is safe.
func (g *Gateway) Disconnect(id string) error {
	s, ok := g.registry.Remove(id)
	if !ok {
		return nil
	}
	return g.teardown(s)
}

func (g *Gateway) teardown(s *session.Session) error {
	logger := g.logger.WithSession(s.ID)

	closeErr := s.Close()
	var err error
	if closeErr != nil {
		err = errors.NewSessionError("disconnect", closeErr).WithSessionID(s.ID)
		logError(logger, "failed to terminate worker", err)
	}

	duration := time.Since(s.CreatedAt)
	lines := s.Relay().Lines()
	dropped := s.Backlog().Dropped()
	exit := "ok"
	if exitErr := s.Process().ExitErr(); exitErr != nil {
		exit = exitErr.Error()
	}
	logger.Info("session ended",
		"duration_ms", duration.Milliseconds(),
		"relayed_lines", lines,
		"dropped_lines", dropped,
		"exit", exit)
	logger.Debug("final output", "tail", s.Backlog().Tail(finalOutputLines))
	g.bus.Publish(event.NewSessionEndedEvent(s.ID, duration, lines, dropped, closeErr))

	return err
}

// Shutdown tears down every live session concurrently and waits for all of
// them.
func (g *Gateway) Shutdown() {
	sessions := g.registry.RemoveAll()
	if len(sessions) == 0 {
		return
	}
	g.logger.Info("shutting down sessions", "count", len(sessions))

	var wg conc.WaitGroup
	for _, s := range sessions {
		wg.Go(func() {
			_ = g.teardown(s)
		})
	}
	wg.Wait()
}

func (g *Gateway) reply(logger *logging.Logger, ch Channel, text string) {
	if err := ch.Send(text); err != nil {
		logger.Warn("failed to send to client", "error", err.Error())
	}
}

// logError records err at the level its severity calls for.
func logError(logger *logging.Logger, msg string, err error, args ...any) {
	args = append(args, "error", err.Error())
	switch errors.GetSeverity(err) {
	case errors.SeverityDebug:
		logger.Debug(msg, args...)
	case errors.SeverityInfo:
		logger.Info(msg, args...)
	case errors.SeverityWarning:
		logger.Warn(msg, args...)
	default:
		logger.Error(msg, args...)
	}
}
