// Package errors provides centralized error definitions and error handling utilities
// for expensebridge. It defines the per-session failure taxonomy of the gateway,
// domain error types carrying session and process context, and classification
// helpers.
//
// # Error Types
//
// Domain-specific errors:
//   - SessionError: failures scoped to one client session (spawn, lookup, relay)
//   - ProcessError: failures of a worker process (write, signal, reap)
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewSessionError("command rejected", errors.ErrNoActiveSession).
//	    WithSessionID("6f1c...")
//
//	err := errors.NewProcessError("write failed", cause).WithPID(4242)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrSessionExpired) { ... }
//
//	var sessionErr *errors.SessionError
//	if errors.As(err, &sessionErr) { ... }
//
// # Containment
//
// None of the errors in this package are fatal to the gateway. Each one is
// reported as text on the affected session's channel and logged; other sessions
// never observe it.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrNoActiveSession indicates a command arrived for an unknown or removed session.
	ErrNoActiveSession = New("no active session")
	// ErrSessionExpired indicates the session's worker has already exited.
	ErrSessionExpired = New("session expired")
	// ErrSessionExists indicates a second connect for an id that is still registered.
	ErrSessionExists = New("session already active")
	// ErrSpawnFailed indicates the worker process could not be created.
	ErrSpawnFailed = New("worker spawn failed")
	// ErrRelayFailed indicates the output relay hit an I/O error.
	ErrRelayFailed = New("output relay failed")
)

// Process-related sentinel errors
var (
	// ErrProcessNotRunning indicates an operation needs a live worker process.
	ErrProcessNotRunning = New("process not running")
	// ErrEmptyCommand indicates the worker command line is empty.
	ErrEmptyCommand = New("empty worker command")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// BridgeError is the base interface for all expensebridge errors.
type BridgeError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	severity   Severity
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents a failure scoped to a single client session.
//
// Example:
//
//	err := errors.NewSessionError("command rejected", errors.ErrNoActiveSession)
//	err = err.WithSessionID("abc123")
//	fmt.Println(err) // "session error [session=abc123]: command rejected: no active session"
type SessionError struct {
	baseError
	SessionID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	prefix := "session error"
	if e.SessionID != "" {
		prefix = fmt.Sprintf("session error [session=%s]", e.SessionID)
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// ProcessError represents a failure of a worker process.
type ProcessError struct {
	baseError
	PID     int
	Command string
}

// NewProcessError creates a new ProcessError.
func NewProcessError(message string, cause error) *ProcessError {
	return &ProcessError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithPID adds the process id to the error context.
func (e *ProcessError) WithPID(pid int) *ProcessError {
	e.PID = pid
	return e
}

// WithCommand adds the command line to the error context.
func (e *ProcessError) WithCommand(argv []string) *ProcessError {
	e.Command = strings.Join(argv, " ")
	return e
}

// Error returns the formatted error message.
func (e *ProcessError) Error() string {
	var parts []string
	if e.PID != 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.PID))
	}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("cmd=%q", e.Command))
	}

	prefix := "process error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("process error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var bridgeErr BridgeError
	if As(err, &bridgeErr) {
		return bridgeErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement BridgeError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var bridgeErr BridgeError
	if As(err, &bridgeErr) {
		return bridgeErr.Severity()
	}
	return SeverityError
}

// IsSessionScoped reports whether err belongs to the per-session taxonomy
// (no session, expired, duplicate, spawn or relay failure).
func IsSessionScoped(err error) bool {
	return Is(err, ErrNoActiveSession) || Is(err, ErrSessionExpired) ||
		Is(err, ErrSessionExists) || Is(err, ErrSpawnFailed) || Is(err, ErrRelayFailed)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
