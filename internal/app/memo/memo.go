// Package memo provides a keyed single-flight cache for expensive asynchronous work.
package memo

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// Producer computes the value for a key.
type Producer[T any] func(ctx context.Context) (T, error)

// Memo caches the pending or settled result of a producer per key.
// Entries live for the lifetime of the Memo; failures are cached as well
// and are never retried.
type Memo[T any] struct {
	mu    sync.Mutex
	cache map[string]*Future[T]
}

// New creates an empty memo.
func New[T any]() *Memo[T] {
	return &Memo[T]{
		cache: make(map[string]*Future[T]),
	}
}

// Future returns the future for key, starting producer if this is the first
// request for key. Every call for the same key returns the same *Future.
func (m *Memo[T]) Future(ctx context.Context, key string, producer Producer[T]) *Future[T] {
	m.mu.Lock()
	if f, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return f
	}
	f := newFuture[T]()
	m.cache[key] = f
	m.mu.Unlock()

	// Producers run detached from the first caller's cancellation.
	detached := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.settle(zero, errors.Newf("memo: producer for %q panicked: %v", key, r))
			}
		}()
		f.settle(producer(detached))
	}()
	return f
}

// Wrap binds key and producer and returns a callable that waits for the
// memoized result.
func (m *Memo[T]) Wrap(key string, producer Producer[T]) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return m.Future(ctx, key, producer).Wait(ctx)
	}
}

// Do is shorthand for Future(...).Wait(ctx).
func (m *Memo[T]) Do(ctx context.Context, key string, producer Producer[T]) (T, error) {
	return m.Future(ctx, key, producer).Wait(ctx)
}

// Peek returns the future for key without starting anything.
func (m *Memo[T]) Peek(key string) (*Future[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.cache[key]
	return f, ok
}

// Len returns the number of keys ever requested.
func (m *Memo[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}
