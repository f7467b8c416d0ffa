//go:build !nocgo
// +build !nocgo

package audio

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ebitengine/oto/v3"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuebox/internal/domain/media"
)

const (
	otoChannels     = 2
	otoReadyTimeout = 5 * time.Second
)

// oto allows one device context per process.
var (
	otoOnce   sync.Once
	otoDevice *oto.Context
	otoRate   int
	otoErr    error
)

func openDevice(s OtoSettings) (*oto.Context, int, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   s.SampleRate,
			ChannelCount: otoChannels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   time.Duration(s.BufferSizeMs) * time.Millisecond,
		}
		zlog.Debug().Msgf("audio: opening oto device: rate=%d buffer=%v", op.SampleRate, op.BufferSize)

		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			otoErr = errors.Wrap(err, "failed to create oto context")
			return
		}
		select {
		case <-ready:
		case <-time.After(otoReadyTimeout):
			otoErr = errors.New("oto context initialization timeout")
			return
		}
		otoDevice = ctx
		otoRate = s.SampleRate
	})
	return otoDevice, otoRate, otoErr
}

// Oto plays through the system audio device.
type Oto struct {
	device  *oto.Context
	rate    int
	decoder media.Decoder
}

// NewOto opens the audio device. Later calls reuse the device opened first.
func NewOto(s OtoSettings, dec media.Decoder) (*Oto, error) {
	device, rate, err := openDevice(s)
	if err != nil {
		return nil, err
	}
	if rate != s.SampleRate {
		zlog.Warn().Msgf("audio: oto device already open at %dHz, ignoring %dHz", rate, s.SampleRate)
	}
	return &Oto{device: device, rate: rate, decoder: dec}, nil
}

// Name returns the backend name.
func (o *Oto) Name() string { return BackendOto }

// NewContext creates a running context on the shared device.
func (o *Oto) NewContext(ctx context.Context) (media.Context, error) {
	return &otoContext{
		backend: o,
		state:   media.StateRunning,
		dest:    &destination{},
		sources: make(map[*otoSource]struct{}),
	}, nil
}

type otoContext struct {
	backend *Oto
	dest    *destination

	mu      sync.Mutex
	state   media.ContextState
	sources map[*otoSource]struct{}
}

func (c *otoContext) State() media.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *otoContext) SampleRate() int { return c.backend.rate }

func (c *otoContext) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == media.StateClosed {
		return media.ErrClosed
	}
	c.state = media.StateRunning
	for s := range c.sources {
		s.play()
	}
	return nil
}

func (c *otoContext) Suspend(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == media.StateClosed {
		return media.ErrClosed
	}
	c.state = media.StateSuspended
	for s := range c.sources {
		s.pause()
	}
	return nil
}

func (c *otoContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = media.StateClosed
	for s := range c.sources {
		s.release()
	}
	c.sources = make(map[*otoSource]struct{})
	return nil
}

func (c *otoContext) Destination() media.Node { return c.dest }

func (c *otoContext) CreateGain() (media.GainNode, error) {
	if c.State() == media.StateClosed {
		return nil, media.ErrClosed
	}
	return newGainNode(), nil
}

func (c *otoContext) CreateBufferSource() (media.SourceNode, error) {
	if c.State() == media.StateClosed {
		return nil, media.ErrClosed
	}
	return &otoSource{ctx: c}, nil
}

func (c *otoContext) DecodeAudioData(ctx context.Context, data []byte) (media.Buffer, error) {
	buf, err := c.backend.decoder.Decode(ctx, data, c.backend.rate)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode audio data")
	}
	return buf, nil
}

// otoSource is the io.Reader behind one oto.Player.
type otoSource struct {
	ctx *otoContext

	mu        sync.Mutex
	buffer    media.Buffer
	pcm       *media.PCM
	loop      bool
	output    media.Node
	player    *oto.Player
	frame     int
	ended     bool
	callbacks []func()
}

func (s *otoSource) Connect(dst media.Node) error {
	if err := checkTarget(dst); err != nil {
		return err
	}
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()

	s.mu.Lock()
	s.output = dst
	s.mu.Unlock()

	s.ctx.sources[s] = struct{}{}
	if s.ctx.state == media.StateRunning {
		s.play()
	}
	return nil
}

func (s *otoSource) Disconnect() error {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()

	s.release()
	s.mu.Lock()
	s.output = nil
	s.mu.Unlock()
	delete(s.ctx.sources, s)
	return nil
}

func (s *otoSource) Start() error {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()

	s.mu.Lock()
	if s.player != nil {
		s.mu.Unlock()
		return media.ErrAlreadyStarted
	}
	if s.ctx.state == media.StateClosed {
		s.mu.Unlock()
		return media.ErrClosed
	}
	pcm, err := pcmOf(s.buffer)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.pcm = pcm
	s.player = s.ctx.backend.device.NewPlayer(s)
	connected := s.output != nil
	s.mu.Unlock()

	if connected && s.ctx.state == media.StateRunning {
		s.play()
	}
	return nil
}

func (s *otoSource) Loop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

func (s *otoSource) SetLoop(loop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = loop
}

func (s *otoSource) Buffer() media.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

func (s *otoSource) SetBuffer(b media.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = b
}

func (s *otoSource) OnEnded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

func (s *otoSource) play() {
	s.mu.Lock()
	p := s.player
	ready := s.output != nil && !s.ended
	s.mu.Unlock()
	if p != nil && ready {
		p.Play()
	}
}

func (s *otoSource) pause() {
	s.mu.Lock()
	p := s.player
	s.mu.Unlock()
	if p != nil {
		p.Pause()
	}
}

func (s *otoSource) release() {
	s.mu.Lock()
	p := s.player
	s.mu.Unlock()
	if p == nil {
		return
	}
	p.Pause()
	if err := p.Close(); err != nil {
		zlog.Warn().Err(err).Msg("audio: failed to close oto player")
	}
}

// Read renders float32 little-endian stereo frames with the current gain.
func (s *otoSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.ended || s.pcm == nil {
		s.mu.Unlock()
		return 0, io.EOF
	}

	level := float32(levelOf(s.output))
	samples := s.pcm.Samples()
	channels := s.pcm.Channels()
	frames := s.pcm.Frames()

	const frameBytes = otoChannels * 4
	n := 0
	for n+frameBytes <= len(p) {
		if s.frame >= frames {
			if !s.loop || frames == 0 {
				break
			}
			s.frame = 0
		}
		base := s.frame * channels
		left := samples[base]
		right := left
		if channels > 1 {
			right = samples[base+1]
		}
		binary.LittleEndian.PutUint32(p[n:], math.Float32bits(left*level))
		binary.LittleEndian.PutUint32(p[n+4:], math.Float32bits(right*level))
		n += frameBytes
		s.frame++
	}

	if n > 0 {
		s.mu.Unlock()
		return n, nil
	}

	s.ended = true
	callbacks := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	// Read runs on the device goroutine; callbacks must not block it.
	go func() {
		for _, fn := range callbacks {
			fn()
		}
	}()
	return 0, io.EOF
}
