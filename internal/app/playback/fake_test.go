package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/cuebox/internal/domain/media"
)

// fakeBackend records every call the controller makes.
type fakeBackend struct {
	mu       sync.Mutex
	contexts []*fakeContext
	decodes  atomic.Int32
	starts   atomic.Int32
	log      []string

	decodeErr error
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) NewContext(ctx context.Context) (media.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ac := &fakeContext{backend: b, state: media.StateRunning}
	b.contexts = append(b.contexts, ac)
	b.record("context")
	return ac, nil
}

func (b *fakeBackend) record(entry string) {
	b.log = append(b.log, entry)
}

func (b *fakeBackend) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.log...)
}

func (b *fakeBackend) context(i int) *fakeContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contexts[i]
}

type fakeContext struct {
	backend *fakeBackend
	state   media.ContextState
	sources []*fakeSource
	gain    *fakeGain
}

func (c *fakeContext) State() media.ContextState {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	return c.state
}

func (c *fakeContext) SampleRate() int { return 48000 }

func (c *fakeContext) Resume(ctx context.Context) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.state = media.StateRunning
	c.backend.record("resume")
	return nil
}

func (c *fakeContext) Suspend(ctx context.Context) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.state = media.StateSuspended
	c.backend.record("suspend")
	return nil
}

func (c *fakeContext) Close() error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.state = media.StateClosed
	c.backend.record("close")
	return nil
}

func (c *fakeContext) Destination() media.Node { return &fakeDestination{} }

func (c *fakeContext) CreateGain() (media.GainNode, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.gain = &fakeGain{backend: c.backend, gain: 1}
	c.backend.record("gain")
	return c.gain, nil
}

func (c *fakeContext) CreateBufferSource() (media.SourceNode, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	s := &fakeSource{backend: c.backend}
	c.sources = append(c.sources, s)
	c.backend.record("source")
	return s, nil
}

func (c *fakeContext) DecodeAudioData(ctx context.Context, data []byte) (media.Buffer, error) {
	c.backend.decodes.Add(1)
	if c.backend.decodeErr != nil {
		return nil, c.backend.decodeErr
	}
	return media.NewPCM(48000, 2, make([]float32, len(data)*2)), nil
}

func (c *fakeContext) lastSource() *fakeSource {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	return c.sources[len(c.sources)-1]
}

func (c *fakeContext) sourceCount() int {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	return len(c.sources)
}

func (c *fakeContext) gainValue() float64 {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.gain == nil {
		return -1
	}
	return c.gain.gain
}

type fakeDestination struct{}

func (d *fakeDestination) Connect(media.Node) error { return nil }
func (d *fakeDestination) Disconnect() error        { return nil }

type fakeGain struct {
	backend *fakeBackend
	gain    float64
}

func (g *fakeGain) Connect(media.Node) error { return nil }
func (g *fakeGain) Disconnect() error        { return nil }
func (g *fakeGain) Gain() float64 {
	g.backend.mu.Lock()
	defer g.backend.mu.Unlock()
	return g.gain
}
func (g *fakeGain) SetGain(v float64) {
	g.backend.mu.Lock()
	defer g.backend.mu.Unlock()
	g.gain = v
}

type fakeSource struct {
	backend   *fakeBackend
	started   bool
	loop      bool
	buffer    media.Buffer
	connected int
	ended     []func()
}

func (s *fakeSource) Connect(media.Node) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.connected++
	s.backend.record("connect")
	return nil
}

func (s *fakeSource) Disconnect() error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.record("disconnect")
	return nil
}

func (s *fakeSource) Start() error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	if s.started {
		return media.ErrAlreadyStarted
	}
	if s.buffer == nil {
		return media.ErrNoBuffer
	}
	s.started = true
	s.backend.starts.Add(1)
	s.backend.record("start")
	return nil
}

func (s *fakeSource) Loop() bool {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	return s.loop
}

func (s *fakeSource) SetLoop(loop bool) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.loop = loop
}

func (s *fakeSource) Buffer() media.Buffer {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	return s.buffer
}

func (s *fakeSource) SetBuffer(b media.Buffer) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.buffer = b
}

func (s *fakeSource) OnEnded(fn func()) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.ended = append(s.ended, fn)
}

// finish fires the ended callbacks on another goroutine, like a real backend.
func (s *fakeSource) finish() {
	s.backend.mu.Lock()
	fns := s.ended
	s.ended = nil
	s.backend.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, fn := range fns {
			fn()
		}
	}()
	<-done
}

// countingFetcher counts fetches and can block or fail.
type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *countingFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("encoded:" + locator), nil
}

var errNetwork = errors.New("connection refused")

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
