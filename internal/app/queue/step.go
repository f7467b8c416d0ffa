package queue

import (
	"context"
	"sync/atomic"
)

// Kind tags a step so callers can identify it without comparing functions.
type Kind int

const (
	KindSetup      Kind = iota // Generic setup work
	KindGate                   // Wait for the interaction gate
	KindFetch                  // Fetch raw bytes
	KindDecode                 // Decode raw bytes
	KindConnect                // Connect source to the gain stage
	KindPlay                   // Resume or start playback
	KindPause                  // Suspend playback
	KindDisconnect             // Disconnect the source
	KindRecreate               // Build a fresh source node
	KindVolume                 // Apply pending volume
	KindLoop                   // Apply pending loop mode
	KindNotify                 // Emit a notification
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindSetup:
		return "setup"
	case KindGate:
		return "gate"
	case KindFetch:
		return "fetch"
	case KindDecode:
		return "decode"
	case KindConnect:
		return "connect"
	case KindPlay:
		return "play"
	case KindPause:
		return "pause"
	case KindDisconnect:
		return "disconnect"
	case KindRecreate:
		return "recreate"
	case KindVolume:
		return "volume"
	case KindLoop:
		return "loop"
	case KindNotify:
		return "notify"
	default:
		return "unknown"
	}
}

const (
	stepPending int32 = iota
	stepRunning
	stepDone
	stepCancelled
)

// Step is a single unit of queued work.
type Step struct {
	Kind Kind
	Name string
	Run  func(ctx context.Context) error

	state atomic.Int32
}

// NewStep creates a step. An empty name falls back to the kind.
func NewStep(kind Kind, name string, run func(ctx context.Context) error) *Step {
	if name == "" {
		name = kind.String()
	}
	return &Step{Kind: kind, Name: name, Run: run}
}

// begin moves the step to running. It fails if the step was cancelled or already ran.
func (s *Step) begin() bool {
	return s.state.CompareAndSwap(stepPending, stepRunning)
}

func (s *Step) finish() {
	s.state.Store(stepDone)
}

// cancel marks a pending step so it never runs.
func (s *Step) cancel() bool {
	return s.state.CompareAndSwap(stepPending, stepCancelled)
}

// Started reports whether the step has begun (or finished) running.
func (s *Step) Started() bool {
	st := s.state.Load()
	return st == stepRunning || st == stepDone
}

// Cancelled reports whether the step was cancelled before it ran.
func (s *Step) Cancelled() bool {
	return s.state.Load() == stepCancelled
}
