// Package event provides a pub-sub event bus for session lifecycle events.
//
// The gateway publishes an event whenever a session starts, ends, or has a
// command rejected. Observers such as the lifecycle logger installed by the
// serve command subscribe to the bus instead of being called directly, so
// the gateway does not depend on them.
//
// # Main Types
//
//   - [Event]: interface implemented by all events (EventType, Timestamp, SessionID)
//   - [Bus]: synchronous, thread-safe dispatcher
//   - [Handler]: function type for event handlers
//
// # Event Types
//
//   - [SessionStartedEvent] ("session.started")
//   - [SessionEndedEvent] ("session.ended")
//   - [CommandRejectedEvent] ("command.rejected")
//   - [RelayFailedEvent] ("relay.failed")
//
// # Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//	bus.Subscribe(event.TypeSessionEnded, func(e event.Event) {
//	    ended := e.(event.SessionEndedEvent)
//	    fmt.Println(ended.SessionID(), ended.Duration)
//	})
//
// Handlers run on the publishing goroutine. A panicking handler is recovered
// and logged; the remaining handlers still run.
package event
