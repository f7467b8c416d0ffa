// Package signal provides the process-wide focus/blur broadcast bus.
package signal

import (
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// EventType is the kind of visibility change.
type EventType int

const (
	EventFocus EventType = iota // Host regained focus
	EventBlur                   // Host lost focus
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventFocus:
		return "focus"
	case EventBlur:
		return "blur"
	default:
		return "unknown"
	}
}

// Event is a focus or blur notification.
type Event struct {
	Type EventType
	At   time.Time
}

// Handler receives a single event.
type Handler func(Event)

// Listeners is the pair of handlers registered by a subscriber. Either may be nil.
type Listeners struct {
	Focus Handler
	Blur  Handler
}

// subscription represents a subscriber's registration.
type subscription struct {
	id        string
	listeners Listeners
}

// Bus fans focus/blur events out to subscribers.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe registers listeners and returns a function that removes them.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(l Listeners) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.subscriptions[id] = &subscription{id: id, listeners: l}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscriptions, id)
	}
}

// Dispatch delivers e to every current subscriber. A panicking handler is
// recovered and logged; it never prevents delivery to the others.
func (b *Bus) Dispatch(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	// Copy subscriptions to avoid holding lock during delivery
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		var h Handler
		switch e.Type {
		case EventFocus:
			h = sub.listeners.Focus
		case EventBlur:
			h = sub.listeners.Blur
		}
		if h == nil {
			continue
		}
		deliver(sub.id, h, e)
	}
}

// Focus dispatches a focus event.
func (b *Bus) Focus() {
	b.Dispatch(Event{Type: EventFocus})
}

// Blur dispatches a blur event.
func (b *Bus) Blur() {
	b.Dispatch(Event{Type: EventBlur})
}

// Count returns the number of active subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

func deliver(id string, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Warn().Msgf("signal: %s handler %s panicked: %v", e.Type, id, r)
		}
	}()
	h(e)
}
