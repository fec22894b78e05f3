// Package gateway binds client connections to worker processes.
//
// The Gateway is transport-agnostic: the WebSocket server (or a test) calls
// Connect when a client asks for a session, Command for every line the
// client enters, and Disconnect when the connection goes away. Each session
// gets its own worker, output relay and backlog; failures are reported as
// text on the affected client's channel and never reach other sessions.
//
// # Messages
//
// The client-visible strings are part of the protocol and exported as
// constants (MsgWelcome, MsgNoSession, ...). Error texts that embed a cause
// are built by the Msg* helper functions.
//
// # Concurrency
//
// Handlers run on the callers' goroutines. The registry lock is held only
// for map operations; writes to a worker and its teardown are serialized by
// the session's own lock, so a slow worker blocks only its own client.
package gateway
