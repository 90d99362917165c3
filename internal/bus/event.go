package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds in use:
//
//	thread.state_changed  payload thread.StateChange
//	thread.loaded         payload chat ID string
//	thread.message        payload backend.Message
//	thread.load_error     payload error string
//	thread.feed_error     payload error string
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
