// Package playback provides the playback controller: a lifecycle state machine
// that drives a serial task queue over a media backend.
package playback

// State represents the playback state.
type State int

const (
	StateUninitialized State = iota // Setup has not completed
	StateReady                      // Source connected, never started
	StatePlaying                    // Source started and context running
	StatePaused                     // Source started, output suspended
	StateDestroyed                  // Terminal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}
