// Package gate provides the one-shot user interaction gate.
package gate

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Kind is a user interaction event type.
type Kind int

const (
	PointerDown Kind = iota
	PointerUp
	KeyDown
	KeyUp
	Click
	TouchStart
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case PointerDown:
		return "pointerdown"
	case PointerUp:
		return "pointerup"
	case KeyDown:
		return "keydown"
	case KeyUp:
		return "keyup"
	case Click:
		return "click"
	case TouchStart:
		return "touchstart"
	default:
		return "unknown"
	}
}

// ParseKind parses an event name such as "keydown".
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pointerdown":
		return PointerDown, nil
	case "pointerup":
		return PointerUp, nil
	case "keydown":
		return KeyDown, nil
	case "keyup":
		return KeyUp, nil
	case "click":
		return Click, nil
	case "touchstart":
		return TouchStart, nil
	default:
		return 0, errors.Newf("unknown interaction event: %q", name)
	}
}

// DefaultKinds are the events that open a gate created without explicit kinds.
var DefaultKinds = []Kind{PointerDown, PointerUp, KeyDown, KeyUp}

// Gate resolves once, on the first qualifying interaction, and never re-arms.
type Gate struct {
	kinds map[Kind]bool
	once  sync.Once
	done  chan struct{}
}

// New creates a gate that opens on any of kinds (DefaultKinds when empty).
func New(kinds ...Kind) *Gate {
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	g := &Gate{
		kinds: make(map[Kind]bool, len(kinds)),
		done:  make(chan struct{}),
	}
	for _, k := range kinds {
		g.kinds[k] = true
	}
	return g
}

// Opened returns a gate that is already open, for hosts without an
// interaction requirement.
func Opened() *Gate {
	g := New()
	g.open(KeyDown)
	return g
}

// Signal reports an interaction. It returns true if the event qualifies;
// only the first qualifying event opens the gate.
func (g *Gate) Signal(kind Kind) bool {
	if !g.kinds[kind] {
		return false
	}
	g.open(kind)
	return true
}

func (g *Gate) open(kind Kind) {
	g.once.Do(func() {
		zlog.Debug().Msgf("gate: opened by %s", kind)
		close(g.done)
	})
}

// Done is closed once the gate has opened.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Open reports whether the gate has opened.
func (g *Gate) Open() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
