//go:build nocgo
// +build nocgo

package audio

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/cuebox/internal/domain/media"
)

// Oto is unavailable in nocgo builds.
type Oto struct{}

// NewOto always fails in nocgo builds.
func NewOto(s OtoSettings, dec media.Decoder) (*Oto, error) {
	return nil, errors.New("audio device not available in nocgo build")
}

// Name returns the backend name.
func (o *Oto) Name() string { return BackendOto }

// NewContext always fails in nocgo builds.
func (o *Oto) NewContext(ctx context.Context) (media.Context, error) {
	return nil, errors.New("audio device not available in nocgo build")
}
