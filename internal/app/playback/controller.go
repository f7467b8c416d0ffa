package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuebox/internal/app/queue"
	"github.com/osa030/cuebox/internal/app/signal"
	"github.com/osa030/cuebox/internal/domain/media"
)

// Errors
var (
	ErrSetupFailed = errors.New("playback setup failed")
	ErrDestroyed   = errors.New("controller destroyed")
)

const eventBufferSize = 16

// Controller plays a single audio asset. Every public operation is turned
// into steps on a serial queue, so operations issued concurrently run one at
// a time in call order. After Destroy all operations are no-ops.
type Controller struct {
	mu sync.RWMutex

	opts  Options
	deps  Deps
	queue *queue.Queue

	// Resource handles, owned by this controller only.
	audioCtx media.Context
	gain     media.GainNode
	source   media.SourceNode
	data     []byte
	buffer   media.Buffer

	// Lifecycle flags
	started    bool
	playing    bool
	ready      bool
	failed     bool
	closing    bool
	destroyed  bool
	blurPaused bool

	// Values waiting for their node to exist
	pendingVolume float64
	pendingLoop   bool

	endedCallbacks []func()

	unsubscribe func()

	destroyOnce sync.Once
	closed      chan struct{}
	destroyDone chan struct{}

	// Events
	eventMu     sync.Mutex
	eventCh     chan Event
	eventClosed bool
}

// New creates a controller and seeds its queue with the setup sequence.
// Nothing runs until the first operation (or immediately with Autoplay).
func New(opts Options, deps Deps) (*Controller, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if opts.PauseOnBlur && deps.Bus == nil {
		return nil, errors.New("playback: pause on blur requires a signal bus")
	}

	c := &Controller{
		opts:          opts,
		deps:          deps,
		pendingVolume: *opts.Volume,
		pendingLoop:   opts.Loop,
		closed:        make(chan struct{}),
		destroyDone:   make(chan struct{}),
		eventCh:       make(chan Event, eventBufferSize),
	}

	c.queue = queue.New(
		queue.NewStep(queue.KindGate, "wait-for-interaction", c.waitForInteraction),
		queue.NewStep(queue.KindSetup, "create-context", c.createContext),
		queue.NewStep(queue.KindSetup, "create-gain", c.createGain),
		c.volumeStep(),
		c.recreateStep(),
		c.loopStep(),
		queue.NewStep(queue.KindFetch, "fetch", c.fetchData),
		queue.NewStep(queue.KindDecode, "decode", c.decodeData),
		c.connectStep(),
	)

	if opts.PauseOnBlur {
		c.unsubscribe = deps.Bus.Subscribe(signal.Listeners{
			Blur:  c.onBlur,
			Focus: c.onFocus,
		})
	}

	if opts.Autoplay {
		c.queue.Enqueue(c.playStep())
		go c.kick()
	}

	zlog.Debug().Msgf("playback: controller created: src=%s volume=%.2f loop=%t autoplay=%t",
		opts.Src, c.pendingVolume, opts.Loop, opts.Autoplay)

	return c, nil
}

// Events returns the event channel. It is closed after Destroy.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Src returns the asset locator.
func (c *Controller) Src() string {
	return c.opts.Src
}

// Play resumes a suspended context or starts the source for the first time.
func (c *Controller) Play(ctx context.Context) error {
	if c.inactive() {
		return nil
	}
	c.queue.Enqueue(c.playStep())
	return c.execute(ctx)
}

// Pause suspends output. A play step still waiting at the tail of the queue
// is cancelled instead of being run.
func (c *Controller) Pause(ctx context.Context) error {
	if c.inactive() {
		return nil
	}
	if c.queue.CancelTail(queue.KindPlay) {
		zlog.Debug().Msgf("playback: cancelled pending play: src=%s", c.opts.Src)
	}
	c.queue.Enqueue(c.pauseStep())
	return c.execute(ctx)
}

// Reset rebuilds the source from the start of the decoded buffer and keeps
// the current playing or paused intent.
func (c *Controller) Reset(ctx context.Context) error {
	if c.inactive() {
		return nil
	}

	wasPlaying := c.Playing()
	var steps []*queue.Step
	if wasPlaying {
		steps = append(steps, c.pauseStep())
	}
	steps = append(steps,
		c.disconnectStep(),
		c.recreateStep(),
		c.loopStep(),
		c.connectStep(),
	)
	if wasPlaying {
		steps = append(steps, c.playStep())
	}
	steps = append(steps, c.notifyStep(EventReset))

	c.queue.Enqueue(steps...)
	return c.execute(ctx)
}

// Stop rebuilds the source and always leaves playback paused.
func (c *Controller) Stop(ctx context.Context) error {
	if c.inactive() {
		return nil
	}
	c.queue.Enqueue(
		c.pauseStep(),
		c.disconnectStep(),
		c.recreateStep(),
		c.loopStep(),
		c.connectStep(),
		c.notifyStep(EventStopped),
	)
	return c.execute(ctx)
}

// Fetch runs only the memoized byte fetch, independent of playback setup.
func (c *Controller) Fetch(ctx context.Context) error {
	if c.inactive() {
		return nil
	}
	if _, err := c.fetchBytes(ctx); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			c.fail(err)
			c.destroyAfterFailure(context.WithoutCancel(ctx))
		}
		return err
	}
	return nil
}

// Destroy tears the controller down. It is idempotent and safe to call
// concurrently; every caller waits for the same teardown.
func (c *Controller) Destroy(ctx context.Context) error {
	c.destroyOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		close(c.closed)
		go c.teardown()
	})

	select {
	case <-c.destroyDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnEnded registers a one-shot callback fired when the current source ends.
// Callbacks are re-attached to the new source after Reset and Stop.
func (c *Controller) OnEnded(fn func()) {
	if fn == nil || c.inactive() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endedCallbacks = append(c.endedCallbacks, fn)
	if c.source != nil {
		c.source.OnEnded(fn)
	}
}

// Playing reports whether audio is being output.
func (c *Controller) Playing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playing
}

// Destroyed reports whether the controller has been torn down.
func (c *Controller) Destroyed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.destroyed
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	switch {
	case c.destroyed:
		return StateDestroyed
	case c.playing:
		return StatePlaying
	case c.started:
		return StatePaused
	case c.ready:
		return StateReady
	default:
		return StateUninitialized
	}
}

// Volume returns the requested volume.
func (c *Controller) Volume() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingVolume
}

// SetVolume sets the volume, clamped to [0, 1]. It is applied as soon as the
// gain node exists.
func (c *Controller) SetVolume(v float64) {
	if c.inactive() {
		return
	}
	c.mu.Lock()
	c.pendingVolume = clamp(v)
	c.mu.Unlock()

	c.queue.Enqueue(c.volumeStep())
	go c.kick()
}

// Loop returns the requested loop mode.
func (c *Controller) Loop() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingLoop
}

// SetLoop sets the loop mode. It is applied as soon as the source exists.
func (c *Controller) SetLoop(loop bool) {
	if c.inactive() {
		return
	}
	c.mu.Lock()
	c.pendingLoop = loop
	c.mu.Unlock()

	c.queue.Enqueue(c.loopStep())
	go c.kick()
}

// execute drains the queue and waits for the result until ctx is done. A
// caller that gives up leaves the drain running; its steps still apply.
func (c *Controller) execute(ctx context.Context) error {
	result := make(chan error, 1)
	go func() { result <- c.drain(ctx) }()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "playback %s", c.opts.Src)
	}
}

// drain runs one queue drain. A fetch or decode failure destroys the
// controller once the drain has returned.
func (c *Controller) drain(ctx context.Context) error {
	err := c.queue.Execute(ctx)
	if c.hasFailed() {
		c.destroyAfterFailure(context.WithoutCancel(ctx))
	}
	if err != nil {
		return errors.Wrapf(err, "playback %s", c.opts.Src)
	}
	return nil
}

func (c *Controller) destroyAfterFailure(ctx context.Context) {
	if err := c.Destroy(ctx); err != nil {
		zlog.Warn().Err(err).Msgf("playback: destroy after failure interrupted: src=%s", c.opts.Src)
	}
}

// kick drains the queue for operations that do not wait for the result.
func (c *Controller) kick() {
	if err := c.execute(context.Background()); err != nil {
		zlog.Warn().Err(err).Msg("playback: background drain failed")
	}
}

// fail poisons the controller: later steps become no-ops and the current
// batch is stopped.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	already := c.failed
	c.failed = true
	c.mu.Unlock()

	c.queue.Stop()
	if !already {
		zlog.Error().Err(err).Msgf("playback: unrecoverable failure: src=%s", c.opts.Src)
		c.sendEvent(Event{Type: EventFailed, Src: c.opts.Src, State: c.State(), Err: err})
	}
}

func (c *Controller) hasFailed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failed
}

// inactive reports whether public operations must be ignored.
func (c *Controller) inactive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.destroyed || c.closing
}

// teardown runs the final pause and disconnect, then releases every handle.
func (c *Controller) teardown() {
	defer close(c.destroyDone)

	if c.unsubscribe != nil {
		c.unsubscribe()
	}

	c.queue.Replace(c.pauseStep(), c.disconnectStep())
	if err := c.queue.Execute(context.Background()); err != nil {
		zlog.Warn().Err(err).Msgf("playback: teardown step failed: src=%s", c.opts.Src)
	}

	c.mu.Lock()
	c.destroyed = true
	c.started = false
	c.playing = false
	if c.audioCtx != nil {
		if err := c.audioCtx.Close(); err != nil {
			zlog.Warn().Err(err).Msgf("playback: failed to close context: src=%s", c.opts.Src)
		}
	}
	c.audioCtx = nil
	c.gain = nil
	c.source = nil
	c.data = nil
	c.buffer = nil
	c.endedCallbacks = nil
	c.mu.Unlock()

	zlog.Debug().Msgf("playback: controller destroyed: src=%s", c.opts.Src)
	c.sendEvent(Event{Type: EventDestroyed, Src: c.opts.Src, State: StateDestroyed})

	c.eventMu.Lock()
	c.eventClosed = true
	close(c.eventCh)
	c.eventMu.Unlock()
}

// onBlur pauses playback and remembers that the blur did it.
func (c *Controller) onBlur(signal.Event) {
	c.mu.Lock()
	if !c.playing || c.closing || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.blurPaused = true
	c.mu.Unlock()

	go func() {
		if err := c.Pause(context.Background()); err != nil {
			zlog.Warn().Err(err).Msgf("playback: pause on blur failed: src=%s", c.opts.Src)
		}
	}()
}

// onFocus resumes playback only if it was paused by a blur.
func (c *Controller) onFocus(signal.Event) {
	c.mu.Lock()
	resume := c.blurPaused && !c.closing && !c.destroyed
	c.blurPaused = false
	c.mu.Unlock()
	if !resume {
		return
	}

	go func() {
		if err := c.Play(context.Background()); err != nil {
			zlog.Warn().Err(err).Msgf("playback: resume on focus failed: src=%s", c.opts.Src)
		}
	}()
}

// sendEvent sends an event without blocking.
func (c *Controller) sendEvent(e Event) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	if c.eventClosed {
		return
	}
	select {
	case c.eventCh <- e:
	default:
		// Channel full, drop event
	}
}

func (c *Controller) String() string {
	return fmt.Sprintf("playback(%s, %s)", c.opts.Src, c.State())
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
