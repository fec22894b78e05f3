// Package logging provides structured logging for the expensebridge gateway
// and its workers.
//
// Log records are JSON objects produced by log/slog. Child loggers carry
// persistent attributes such as the session id, so every line emitted while
// serving one connection can be filtered out of a shared log:
//
//	logger, err := logging.NewLogger(cfg.Logging.File, cfg.Logging.Level, logging.RotationConfig{
//	    MaxSizeMB:  cfg.Logging.MaxSizeMB,
//	    MaxBackups: cfg.Logging.MaxBackups,
//	    Compress:   cfg.Logging.Compress,
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithSession(id).Info("session started", "pid", pid)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"session started","session_id":"6f1c...","pid":4242}
//
// When a file path is configured the records go through a [RotatingWriter],
// which rolls the file over once it passes a size limit and keeps a fixed
// number of numbered backups, optionally gzip compressed. Without a path the
// records go to stderr.
//
// All types in this package are safe for concurrent use.
package logging
