package playback

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuebox/internal/app/memo"
	"github.com/osa030/cuebox/internal/app/queue"
	"github.com/osa030/cuebox/internal/domain/media"
)

// Setup and playback steps turn into no-ops once the controller failed or
// Destroy was called. Pause and disconnect keep working so teardown can release
// the graph.

func (c *Controller) live() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.failed && !c.closing && !c.destroyed
}

func (c *Controller) waitForInteraction(ctx context.Context) error {
	if c.deps.Gate == nil || !c.live() {
		return nil
	}
	select {
	case <-c.deps.Gate.Done():
		return nil
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) createContext(ctx context.Context) error {
	if !c.live() {
		return nil
	}
	ac, err := c.deps.Backend.NewContext(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to create audio context")
	}

	c.mu.Lock()
	c.audioCtx = ac
	c.mu.Unlock()
	return nil
}

func (c *Controller) createGain(ctx context.Context) error {
	if !c.live() {
		return nil
	}
	c.mu.RLock()
	ac := c.audioCtx
	c.mu.RUnlock()

	gain, err := ac.CreateGain()
	if err != nil {
		return errors.Wrap(err, "failed to create gain node")
	}

	var out media.Connectable = gain
	if c.opts.ExtendGraph != nil {
		out, err = c.opts.ExtendGraph(ac, gain)
		if err != nil {
			return errors.Wrap(err, "failed to extend audio graph")
		}
		if out == nil {
			return errors.Wrap(media.ErrNotConnectable, "extend graph hook returned nil")
		}
	}
	if err := out.Connect(ac.Destination()); err != nil {
		return errors.Wrap(err, "failed to connect to destination")
	}

	c.mu.Lock()
	c.gain = gain
	c.mu.Unlock()
	return nil
}

func (c *Controller) volumeStep() *queue.Step {
	return queue.NewStep(queue.KindVolume, "apply-volume", func(ctx context.Context) error {
		if !c.live() {
			return nil
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.gain != nil {
			c.gain.SetGain(c.pendingVolume)
		}
		return nil
	})
}

func (c *Controller) loopStep() *queue.Step {
	return queue.NewStep(queue.KindLoop, "apply-loop", func(ctx context.Context) error {
		if !c.live() {
			return nil
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.source != nil {
			c.source.SetLoop(c.pendingLoop)
		}
		return nil
	})
}

// recreateStep builds a fresh source node. The previous node is dropped,
// never reused.
func (c *Controller) recreateStep() *queue.Step {
	return queue.NewStep(queue.KindRecreate, "create-source", func(ctx context.Context) error {
		if !c.live() {
			return nil
		}
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.audioCtx == nil {
			return nil
		}
		src, err := c.audioCtx.CreateBufferSource()
		if err != nil {
			return errors.Wrap(err, "failed to create buffer source")
		}
		src.OnEnded(c.endedHandler(src))
		for _, fn := range c.endedCallbacks {
			src.OnEnded(fn)
		}
		c.source = src
		c.started = false
		c.ready = false
		return nil
	})
}

// endedHandler updates state when src finishes, unless src was replaced.
func (c *Controller) endedHandler(src media.SourceNode) func() {
	return func() {
		c.mu.Lock()
		if c.source != src || c.destroyed {
			c.mu.Unlock()
			return
		}
		c.playing = false
		state := c.stateLocked()
		c.mu.Unlock()

		zlog.Debug().Msgf("playback: source ended: src=%s", c.opts.Src)
		c.sendEvent(Event{Type: EventEnded, Src: c.opts.Src, State: state})
	}
}

// fetchBytes returns the memoized raw bytes for the controller's source.
func (c *Controller) fetchBytes(ctx context.Context) ([]byte, error) {
	return c.deps.Bytes.Do(ctx, c.opts.Src, fetchProducer(c.deps.Fetcher, c.opts.Src))
}

func fetchProducer(f Fetcher, src string) memo.Producer[[]byte] {
	return func(ctx context.Context) ([]byte, error) {
		data, err := f.Fetch(ctx, src)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch %s", src)
		}
		return data, nil
	}
}

func (c *Controller) fetchData(ctx context.Context) error {
	if !c.live() {
		return nil
	}
	data, err := c.fetchBytes(ctx)
	if err != nil {
		c.fail(err)
		return errors.Mark(err, ErrSetupFailed)
	}

	c.mu.Lock()
	c.data = data
	c.mu.Unlock()
	return nil
}

func (c *Controller) decodeData(ctx context.Context) error {
	if !c.live() {
		return nil
	}
	c.mu.RLock()
	ac := c.audioCtx
	data := c.data
	c.mu.RUnlock()
	if ac == nil {
		return nil
	}

	// Decoded buffers depend on the output rate, so the rate is part of the key.
	key := fmt.Sprintf("%s@%d", c.opts.Src, ac.SampleRate())
	buf, err := c.deps.Buffers.Do(ctx, key, func(ctx context.Context) (media.Buffer, error) {
		b, err := ac.DecodeAudioData(ctx, data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s", c.opts.Src)
		}
		return b, nil
	})
	if err != nil {
		c.fail(err)
		return errors.Mark(err, ErrSetupFailed)
	}

	c.mu.Lock()
	c.buffer = buf
	c.mu.Unlock()
	return nil
}

// connectStep wires the source to the gain node. A source is connected at
// most once: only while its buffer slot is still empty.
func (c *Controller) connectStep() *queue.Step {
	return queue.NewStep(queue.KindConnect, "connect", func(ctx context.Context) error {
		if !c.live() {
			return nil
		}
		c.mu.Lock()
		if c.source == nil || c.gain == nil || c.buffer == nil || c.source.Buffer() != nil {
			c.mu.Unlock()
			return nil
		}
		c.source.SetBuffer(c.buffer)
		if err := c.source.Connect(c.gain); err != nil {
			c.mu.Unlock()
			return errors.Wrap(err, "failed to connect source")
		}
		c.ready = true
		state := c.stateLocked()
		c.mu.Unlock()

		c.sendEvent(Event{Type: EventReady, Src: c.opts.Src, State: state})
		return nil
	})
}

func (c *Controller) playStep() *queue.Step {
	return queue.NewStep(queue.KindPlay, "play", func(ctx context.Context) error {
		if !c.live() {
			return nil
		}
		c.mu.RLock()
		ac := c.audioCtx
		c.mu.RUnlock()
		if ac == nil {
			return nil
		}

		var event *Event
		if ac.State() == media.StateSuspended {
			if err := ac.Resume(ctx); err != nil {
				return errors.Wrap(err, "failed to resume context")
			}
			c.mu.Lock()
			if c.started {
				c.playing = true
				event = &Event{Type: EventResumed, Src: c.opts.Src, State: c.stateLocked()}
			}
			c.mu.Unlock()
		}

		c.mu.Lock()
		if !c.started && c.source != nil {
			if err := c.source.Start(); err != nil {
				c.mu.Unlock()
				return errors.Wrap(err, "failed to start source")
			}
			c.started = true
			c.playing = true
			event = &Event{Type: EventStarted, Src: c.opts.Src, State: c.stateLocked()}
		}
		c.mu.Unlock()

		if event != nil {
			c.sendEvent(*event)
		}
		return nil
	})
}

func (c *Controller) pauseStep() *queue.Step {
	return queue.NewStep(queue.KindPause, "pause", func(ctx context.Context) error {
		c.mu.RLock()
		ac := c.audioCtx
		destroyed := c.destroyed
		c.mu.RUnlock()
		if destroyed || ac == nil || ac.State() != media.StateRunning {
			return nil
		}

		if err := ac.Suspend(ctx); err != nil {
			return errors.Wrap(err, "failed to suspend context")
		}

		c.mu.Lock()
		wasPlaying := c.playing
		c.playing = false
		state := c.stateLocked()
		c.mu.Unlock()

		if wasPlaying {
			c.sendEvent(Event{Type: EventPaused, Src: c.opts.Src, State: state})
		}
		return nil
	})
}

// disconnectStep detaches the source. The next play starts a fresh source.
func (c *Controller) disconnectStep() *queue.Step {
	return queue.NewStep(queue.KindDisconnect, "disconnect", func(ctx context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.destroyed {
			return nil
		}
		if c.source != nil {
			if err := c.source.Disconnect(); err != nil {
				return errors.Wrap(err, "failed to disconnect source")
			}
		}
		c.started = false
		c.playing = false
		return nil
	})
}

// notifyStep emits an event once the preceding steps have run.
func (c *Controller) notifyStep(t EventType) *queue.Step {
	return queue.NewStep(queue.KindNotify, "notify-"+t.String(), func(ctx context.Context) error {
		if !c.live() {
			return nil
		}
		c.sendEvent(Event{Type: t, Src: c.opts.Src, State: c.State()})
		return nil
	})
}
