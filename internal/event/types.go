package event

import "time"

// Event types published by the gateway.
const (
	TypeSessionStarted  = "session.started"
	TypeSessionEnded    = "session.ended"
	TypeCommandRejected = "command.rejected"
	TypeRelayFailed     = "relay.failed"
)

// Event is the interface that all events implement.
type Event interface {
	// EventType returns the "category.action" identifier of the event.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// SessionID returns the session the event belongs to.
	SessionID() string
}

type baseEvent struct {
	eventType string
	timestamp time.Time
	sessionID string
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }
func (e baseEvent) SessionID() string    { return e.sessionID }

func newBaseEvent(eventType, sessionID string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
		sessionID: sessionID,
	}
}

// SessionStartedEvent is emitted after a session's worker is spawned and
// registered.
type SessionStartedEvent struct {
	baseEvent
	PID int
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(sessionID string, pid int) SessionStartedEvent {
	return SessionStartedEvent{
		baseEvent: newBaseEvent(TypeSessionStarted, sessionID),
		PID:       pid,
	}
}

// SessionEndedEvent is emitted after a session's worker is reaped and its
// relay has stopped.
type SessionEndedEvent struct {
	baseEvent
	Duration     time.Duration
	RelayedLines int
	DroppedLines int
	TerminateErr error
}

// NewSessionEndedEvent creates a SessionEndedEvent.
func NewSessionEndedEvent(sessionID string, duration time.Duration, relayed, dropped int, terminateErr error) SessionEndedEvent {
	return SessionEndedEvent{
		baseEvent:    newBaseEvent(TypeSessionEnded, sessionID),
		Duration:     duration,
		RelayedLines: relayed,
		DroppedLines: dropped,
		TerminateErr: terminateErr,
	}
}

// CommandRejectedEvent is emitted when a command is not delivered to a
// worker: no session, an expired session, or a failed write.
type CommandRejectedEvent struct {
	baseEvent
	Reason error
}

// NewCommandRejectedEvent creates a CommandRejectedEvent.
func NewCommandRejectedEvent(sessionID string, reason error) CommandRejectedEvent {
	return CommandRejectedEvent{
		baseEvent: newBaseEvent(TypeCommandRejected, sessionID),
		Reason:    reason,
	}
}

// RelayFailedEvent is emitted when a session's output relay ends with a
// read error.
type RelayFailedEvent struct {
	baseEvent
	Err error
}

// NewRelayFailedEvent creates a RelayFailedEvent.
func NewRelayFailedEvent(sessionID string, err error) RelayFailedEvent {
	return RelayFailedEvent{
		baseEvent: newBaseEvent(TypeRelayFailed, sessionID),
		Err:       err,
	}
}
