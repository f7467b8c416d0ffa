package playback

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/osa030/cuebox/internal/app/gate"
	"github.com/osa030/cuebox/internal/app/memo"
	"github.com/osa030/cuebox/internal/app/signal"
	"github.com/osa030/cuebox/internal/domain/media"
)

// ExtendGraph splices extra stages between the gain node and the destination.
// The returned value is connected to the destination.
type ExtendGraph func(ac media.Context, node media.GainNode) (media.Connectable, error)

// Options configures a controller.
type Options struct {
	Src         string   `validate:"required"`
	Loop        bool     // default false
	Volume      *float64 `default:"1" validate:"omitempty,gte=0,lte=1"`
	Autoplay    bool
	PauseOnBlur bool
	ExtendGraph ExtendGraph `validate:"-"`
}

// Float returns a pointer to v, for Options.Volume.
func Float(v float64) *float64 {
	return &v
}

// normalize applies defaults and validates the options.
func (o *Options) normalize() error {
	if err := defaults.Set(o); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(o); err != nil {
		return errors.Wrap(err, "invalid playback options")
	}
	return nil
}

// Fetcher retrieves the raw bytes behind a locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, locator string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, locator string) ([]byte, error) {
	return f(ctx, locator)
}

// Deps are the collaborators shared between controllers.
type Deps struct {
	Backend media.Backend
	Fetcher Fetcher
	// Gate is awaited before the context is created. Nil means no gate.
	Gate *gate.Gate
	// Bus is required only when Options.PauseOnBlur is set.
	Bus *signal.Bus
	// Bytes and Buffers are the process-wide fetch and decode caches.
	// Nil memos are replaced with private ones.
	Bytes   *memo.Memo[[]byte]
	Buffers *memo.Memo[media.Buffer]
}

func (d *Deps) validate() error {
	if d.Backend == nil {
		return errors.New("playback: backend is required")
	}
	if d.Fetcher == nil {
		return errors.New("playback: fetcher is required")
	}
	if d.Bytes == nil {
		d.Bytes = memo.New[[]byte]()
	}
	if d.Buffers == nil {
		d.Buffers = memo.New[media.Buffer]()
	}
	return nil
}
