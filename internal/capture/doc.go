// Package capture retains the recent output of a session's worker.
//
// The primary component is Backlog, a thread-safe bounded FIFO of output
// lines. The output relay pushes every line it forwards to the client into
// the session's backlog, so the tail of a worker's output can be inspected
// (for logging at teardown, or in tests) without re-reading the process.
// When the backlog is full the oldest line is dropped.
package capture
