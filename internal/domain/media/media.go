// Package media defines the audio backend capabilities the playback
// controller drives: contexts, gain and source nodes, and decoded buffers.
package media

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrAlreadyStarted = errors.New("source already started")
	ErrNoBuffer       = errors.New("source has no buffer")
	ErrClosed         = errors.New("context closed")
	ErrNotConnectable = errors.New("node cannot be connected to target")
)

// ContextState represents the state of an audio context.
type ContextState int

const (
	StateSuspended ContextState = iota // Output halted
	StateRunning                       // Output running
	StateClosed                        // Released
)

// String returns the string representation of the state.
func (s ContextState) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connectable is anything that can feed another node.
type Connectable interface {
	Connect(dst Node) error
}

// Node is a stage of the audio graph.
type Node interface {
	Connectable
	Disconnect() error
}

// GainNode scales the signal passing through it.
type GainNode interface {
	Node
	Gain() float64
	SetGain(v float64)
}

// SourceNode emits a decoded buffer. It is single-use: Start may be called
// at most once per node.
type SourceNode interface {
	Node
	Start() error
	Loop() bool
	SetLoop(loop bool)
	Buffer() Buffer
	SetBuffer(b Buffer)
	// OnEnded registers a callback fired once, on a backend goroutine, when
	// playback reaches the end of a non-looping buffer.
	OnEnded(fn func())
}

// Buffer is decoded, uncompressed sample data.
type Buffer interface {
	SampleRate() int
	Channels() int
	Frames() int
	Duration() time.Duration
}

// Decoder turns encoded bytes into a Buffer at a given sample rate.
type Decoder interface {
	Decode(ctx context.Context, data []byte, sampleRate int) (Buffer, error)
}

// Context owns a graph of nodes and the output they feed.
type Context interface {
	State() ContextState
	SampleRate() int
	Resume(ctx context.Context) error
	Suspend(ctx context.Context) error
	Close() error
	Destination() Node
	CreateGain() (GainNode, error)
	CreateBufferSource() (SourceNode, error)
	DecodeAudioData(ctx context.Context, data []byte) (Buffer, error)
}

// Backend creates contexts.
type Backend interface {
	Name() string
	NewContext(ctx context.Context) (Context, error)
}
