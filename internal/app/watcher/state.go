// Package watcher maintains a persistent, auto-reconnecting connection to a
// Plex server's notification stream and surfaces significant player-state
// changes through a caller-supplied callback.
package watcher

// State represents the connection lifecycle state.
type State int

const (
	StateStarting     State = iota // Connection attempt in progress
	StateConnected                 // Stream is open and being read
	StateDisconnected              // Stream dropped, a retry is pending
	StateStopped                   // Terminal: explicit close or permanent error
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SignalConnectionState is the event type used when the callback reports a
// connection state transition rather than a server notification.
const SignalConnectionState = "plexwebsocket_state"

// Callback receives events in stream order. For connection-state signals
// eventType is SignalConnectionState, data is the new State and reason is
// the error that caused the transition, or nil. For server notifications
// eventType is the message's own type string and data is the full decoded
// notification container.
//
// Callbacks run synchronously on the stream goroutine and must not block.
type Callback func(eventType string, data any, reason error)
