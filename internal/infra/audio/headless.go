package audio

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuebox/internal/domain/media"
)

// Headless is a backend without an output device. Sources advance on a
// virtual clock and fire their ended callbacks on timers.
type Headless struct {
	settings HeadlessSettings
	decoder  media.Decoder
}

// NewHeadless creates a headless backend.
func NewHeadless(s HeadlessSettings, dec media.Decoder) *Headless {
	if s.SampleRate <= 0 {
		s.SampleRate = 48000
	}
	if s.Speed <= 0 {
		s.Speed = 1
	}
	return &Headless{settings: s, decoder: dec}
}

// Name returns the backend name.
func (h *Headless) Name() string { return BackendHeadless }

// NewContext creates a running context.
func (h *Headless) NewContext(ctx context.Context) (media.Context, error) {
	return &headlessContext{
		backend: h,
		state:   media.StateRunning,
		dest:    &destination{},
		sources: make(map[*headlessSource]struct{}),
	}, nil
}

// headlessContext guards its sources; lock order is context then source.
type headlessContext struct {
	backend *Headless
	dest    *destination

	mu      sync.Mutex
	state   media.ContextState
	sources map[*headlessSource]struct{}
}

func (c *headlessContext) State() media.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *headlessContext) SampleRate() int { return c.backend.settings.SampleRate }

func (c *headlessContext) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == media.StateClosed {
		return media.ErrClosed
	}
	c.state = media.StateRunning
	for s := range c.sources {
		s.mu.Lock()
		s.runLocked()
		s.mu.Unlock()
	}
	return nil
}

func (c *headlessContext) Suspend(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == media.StateClosed {
		return media.ErrClosed
	}
	c.state = media.StateSuspended
	for s := range c.sources {
		s.mu.Lock()
		s.haltLocked()
		s.mu.Unlock()
	}
	return nil
}

func (c *headlessContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = media.StateClosed
	for s := range c.sources {
		s.mu.Lock()
		s.haltLocked()
		s.mu.Unlock()
	}
	c.sources = make(map[*headlessSource]struct{})
	return nil
}

func (c *headlessContext) Destination() media.Node { return c.dest }

func (c *headlessContext) CreateGain() (media.GainNode, error) {
	if c.State() == media.StateClosed {
		return nil, media.ErrClosed
	}
	return newGainNode(), nil
}

func (c *headlessContext) CreateBufferSource() (media.SourceNode, error) {
	if c.State() == media.StateClosed {
		return nil, media.ErrClosed
	}
	return &headlessSource{ctx: c}, nil
}

func (c *headlessContext) DecodeAudioData(ctx context.Context, data []byte) (media.Buffer, error) {
	buf, err := c.backend.decoder.Decode(ctx, data, c.SampleRate())
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode audio data")
	}
	return buf, nil
}

// headlessSource tracks its playback position against the wall clock.
type headlessSource struct {
	ctx *headlessContext

	mu        sync.Mutex
	buffer    media.Buffer
	loop      bool
	output    media.Node
	started   bool
	ended     bool
	running   bool
	since     time.Time
	position  time.Duration
	timer     *time.Timer
	gen       int
	callbacks []func()
}

func (s *headlessSource) Connect(dst media.Node) error {
	if err := checkTarget(dst); err != nil {
		return err
	}
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.output = dst
	s.ctx.sources[s] = struct{}{}
	if s.ctx.state == media.StateRunning {
		s.runLocked()
	}
	return nil
}

func (s *headlessSource) Disconnect() error {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.haltLocked()
	s.output = nil
	delete(s.ctx.sources, s)
	return nil
}

func (s *headlessSource) Start() error {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return media.ErrAlreadyStarted
	}
	if s.buffer == nil {
		return media.ErrNoBuffer
	}
	if s.ctx.state == media.StateClosed {
		return media.ErrClosed
	}
	s.started = true
	if s.ctx.state == media.StateRunning {
		s.runLocked()
	}
	return nil
}

func (s *headlessSource) Loop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

func (s *headlessSource) SetLoop(loop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasRunning := s.running
	s.haltLocked()
	s.loop = loop
	if wasRunning {
		s.runLocked()
	}
}

func (s *headlessSource) Buffer() media.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

func (s *headlessSource) SetBuffer(b media.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = b
}

func (s *headlessSource) OnEnded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Position returns how far into the buffer playback is.
func (s *headlessSource) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.advanceLocked()
	}
	return s.position
}

func (s *headlessSource) duration() time.Duration {
	if s.buffer == nil {
		return 0
	}
	return s.buffer.Duration()
}

// runLocked starts the clock if the source is started, connected and not
// yet ended.
func (s *headlessSource) runLocked() {
	if s.running || !s.started || s.ended || s.output == nil {
		return
	}
	s.running = true
	s.since = time.Now()
	s.gen++
	if s.loop {
		return
	}

	remaining := s.duration() - s.position
	if remaining < 0 {
		remaining = 0
	}
	gen := s.gen
	wait := time.Duration(float64(remaining) / s.ctx.backend.settings.Speed)
	s.timer = time.AfterFunc(wait, func() { s.end(gen) })
}

func (s *headlessSource) haltLocked() {
	if !s.running {
		return
	}
	s.advanceLocked()
	s.running = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *headlessSource) advanceLocked() {
	now := time.Now()
	s.position += time.Duration(float64(now.Sub(s.since)) * s.ctx.backend.settings.Speed)
	s.since = now

	d := s.duration()
	switch {
	case d <= 0:
		s.position = 0
	case s.loop:
		s.position %= d
	case s.position > d:
		s.position = d
	}
}

// end fires the ended callbacks unless the timer was superseded.
func (s *headlessSource) end(gen int) {
	s.mu.Lock()
	if gen != s.gen || s.ended {
		s.mu.Unlock()
		return
	}
	s.advanceLocked()
	s.ended = true
	s.running = false
	s.timer = nil
	callbacks := s.callbacks
	s.callbacks = nil
	played := s.position
	s.mu.Unlock()

	zlog.Debug().Msgf("audio: headless source ended at %v", played)
	for _, fn := range callbacks {
		fn()
	}
}
