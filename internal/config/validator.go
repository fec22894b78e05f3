package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/expensebridge/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "server.port")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels, as written in config
// files.
func ValidLogLevels() []string {
	levels := logging.ValidLevels()
	for i, l := range levels {
		levels[i] = strings.ToLower(l)
	}
	return levels
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateWorker()...)
	errors = append(errors, c.validateRelay()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be between 1 and 65535",
		})
	}

	if c.Server.StaticDir == "" {
		errors = append(errors, ValidationError{
			Field:   "server.static_dir",
			Value:   c.Server.StaticDir,
			Message: "must not be empty",
		})
	}

	for i, origin := range c.Server.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("server.allowed_origins[%d]", i),
				Value:   origin,
				Message: "must not be blank",
			})
		}
	}

	if c.Server.PingIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "server.ping_interval_seconds",
			Value:   c.Server.PingIntervalSeconds,
			Message: "must be positive",
		})
	}

	// A pong must be able to arrive before the read deadline lapses
	if c.Server.PongTimeoutSeconds <= c.Server.PingIntervalSeconds {
		errors = append(errors, ValidationError{
			Field:   "server.pong_timeout_seconds",
			Value:   c.Server.PongTimeoutSeconds,
			Message: "must be greater than server.ping_interval_seconds",
		})
	}

	return errors
}

func (c *Config) validateWorker() []ValidationError {
	var errors []ValidationError

	if len(c.Worker.Command) > 0 && strings.TrimSpace(c.Worker.Command[0]) == "" {
		errors = append(errors, ValidationError{
			Field:   "worker.command",
			Value:   c.Worker.Command,
			Message: "program name must not be blank",
		})
	}

	if len(c.Worker.Command) == 0 && c.Worker.DataDir == "" {
		errors = append(errors, ValidationError{
			Field:   "worker.data_dir",
			Value:   c.Worker.DataDir,
			Message: "must be set when worker.command is empty",
		})
	}

	return errors
}

func (c *Config) validateRelay() []ValidationError {
	var errors []ValidationError

	if c.Relay.BacklogLines <= 0 {
		errors = append(errors, ValidationError{
			Field:   "relay.backlog_lines",
			Value:   c.Relay.BacklogLines,
			Message: "must be positive",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
