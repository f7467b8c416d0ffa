package playback

// EventType represents a playback event type.
type EventType int

const (
	EventReady     EventType = iota // Source connected to its decoded buffer
	EventStarted                    // Source started for the first time
	EventResumed                    // Suspended output resumed
	EventPaused                     // Output suspended
	EventReset                      // Source rebuilt
	EventStopped                    // Source rebuilt and left paused
	EventEnded                      // Non-looping source reached its end
	EventFailed                     // Fetch or decode failed
	EventDestroyed                  // Controller torn down
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventReady:
		return "ready"
	case EventStarted:
		return "started"
	case EventResumed:
		return "resumed"
	case EventPaused:
		return "paused"
	case EventReset:
		return "reset"
	case EventStopped:
		return "stopped"
	case EventEnded:
		return "ended"
	case EventFailed:
		return "failed"
	case EventDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type  EventType
	Src   string
	State State // State after the event
	Err   error // Set for EventFailed
}
