// Package queue provides a serial task queue with cooperative cancellation.
package queue

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// token is the cancellation token of a single drain.
type token struct {
	stopped atomic.Bool
}

// Queue runs steps one at a time in enqueue order.
// Steps must not call Execute on their own queue.
type Queue struct {
	mu    sync.Mutex
	steps []*Step

	// slot admits a single drain at a time.
	slot chan struct{}

	// active is the token of the running drain, nil when idle.
	active *token
}

// New creates a queue seeded with steps.
func New(steps ...*Step) *Queue {
	return &Queue{
		steps: slices.Clone(steps),
		slot:  make(chan struct{}, 1),
	}
}

// Enqueue appends steps to the tail of the queue.
func (q *Queue) Enqueue(steps ...*Step) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steps = append(q.steps, steps...)
}

// Replace cancels every pending step and installs steps in their place.
// Steps of a running batch that have not started are skipped.
func (q *Queue) Replace(steps ...*Step) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, s := range q.steps {
		s.cancel()
	}
	q.steps = slices.Clone(steps)
}

// CancelTail cancels the last pending step if it has the given kind and has
// not started yet.
func (q *Queue) CancelTail(kind Kind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.steps)
	if n == 0 {
		return false
	}
	tail := q.steps[n-1]
	if tail.Kind != kind || !tail.cancel() {
		return false
	}
	q.steps = q.steps[:n-1]
	return true
}

// Stop asks the running drain to end its batch after the current step.
// The remaining steps stay queued for the next Execute. Stop is a no-op when
// no drain is running.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active != nil {
		q.active.stopped.Store(true)
	}
}

// Len returns the number of queued steps, including those of a running batch
// that have not finished.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.steps)
}

// Pending returns the kinds of queued steps in order.
func (q *Queue) Pending() []Kind {
	q.mu.Lock()
	defer q.mu.Unlock()

	kinds := make([]Kind, 0, len(q.steps))
	for _, s := range q.steps {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

// Running reports whether a drain is in progress.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active != nil
}

// Execute drains the queue. If another drain is running, Execute waits for it
// to finish first; ctx only bounds that wait. Steps run with a context that
// is detached from ctx cancellation.
//
// A failing step ends the batch and discards the steps behind it; the error
// is returned wrapped with the step name.
func (q *Queue) Execute(ctx context.Context) error {
	select {
	case q.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-q.slot }()

	return q.drain(context.WithoutCancel(ctx))
}

func (q *Queue) drain(ctx context.Context) error {
	tok := &token{}

	q.mu.Lock()
	batch := slices.Clone(q.steps)
	q.active = tok
	q.mu.Unlock()

	done := make(map[*Step]struct{}, len(batch))
	var err error

	for i, s := range batch {
		if tok.stopped.Load() {
			zlog.Debug().Msgf("queue: stopped with %d steps left in batch", len(batch)-i)
			break
		}
		if !s.begin() {
			// Cancelled while waiting in the batch.
			done[s] = struct{}{}
			continue
		}

		stepErr := run(ctx, s)
		s.finish()
		done[s] = struct{}{}

		if stepErr != nil {
			rest := batch[i+1:]
			for _, r := range rest {
				r.cancel()
				done[r] = struct{}{}
			}
			zlog.Warn().Err(stepErr).Msgf("queue: step %s failed, discarded %d steps", s.Name, len(rest))
			err = errors.Wrapf(stepErr, "step %s", s.Name)
			break
		}
	}

	q.mu.Lock()
	q.steps = slices.DeleteFunc(q.steps, func(s *Step) bool {
		_, ok := done[s]
		return ok
	})
	q.active = nil
	q.mu.Unlock()

	return err
}

// run executes a single step, turning a panic into an error.
func run(ctx context.Context, s *Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
		}
	}()
	if s.Run == nil {
		return nil
	}
	return s.Run(ctx)
}
