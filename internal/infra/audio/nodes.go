package audio

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/cuebox/internal/domain/media"
)

// destination is the terminal node of a context.
type destination struct{}

func (d *destination) Connect(media.Node) error {
	return errors.Wrap(media.ErrNotConnectable, "destination has no outputs")
}

func (d *destination) Disconnect() error { return nil }

// gainNode scales everything routed through it. Backends read the gain on
// their output path.
type gainNode struct {
	mu     sync.RWMutex
	gain   float64
	output media.Node
}

func newGainNode() *gainNode {
	return &gainNode{gain: 1}
}

func (g *gainNode) Connect(dst media.Node) error {
	if err := checkTarget(dst); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.output = dst
	return nil
}

func (g *gainNode) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.output = nil
	return nil
}

func (g *gainNode) Gain() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gain
}

func (g *gainNode) SetGain(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gain = v
}

// level returns the effective gain of the chain starting at g.
func (g *gainNode) level() float64 {
	g.mu.RLock()
	gain, out := g.gain, g.output
	g.mu.RUnlock()

	if next, ok := out.(*gainNode); ok && next != g {
		return gain * next.level()
	}
	return gain
}

// checkTarget accepts only nodes built by this package.
func checkTarget(dst media.Node) error {
	switch dst.(type) {
	case *gainNode, *destination:
		return nil
	default:
		return errors.Wrapf(media.ErrNotConnectable, "unsupported target %T", dst)
	}
}

// levelOf returns the gain applied to a source connected to dst.
func levelOf(dst media.Node) float64 {
	if g, ok := dst.(*gainNode); ok {
		return g.level()
	}
	return 1
}

// pcmOf unwraps a buffer produced by a decoder.
func pcmOf(b media.Buffer) (*media.PCM, error) {
	if b == nil {
		return nil, media.ErrNoBuffer
	}
	pcm, ok := b.(*media.PCM)
	if !ok {
		return nil, errors.Newf("unsupported buffer type %T", b)
	}
	return pcm, nil
}
