// Package audio provides the media backends: a real output device through
// oto and a headless backend driven by a virtual clock.
package audio

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/cuebox/internal/domain/media"
)

// Backend names
const (
	BackendHeadless = "headless"
	BackendOto      = "oto"
)

// ErrUnknownBackend is returned for unsupported backend names.
var ErrUnknownBackend = errors.New("unknown audio backend")

// HeadlessSettings configures the headless backend.
type HeadlessSettings struct {
	SampleRate int `mapstructure:"sample_rate" default:"48000" validate:"gte=8000,lte=192000"`
	// Speed scales the virtual clock. 2 plays a buffer in half its duration.
	Speed float64 `mapstructure:"speed" default:"1" validate:"gt=0"`
}

// OtoSettings configures the oto backend.
type OtoSettings struct {
	SampleRate   int `mapstructure:"sample_rate" default:"48000" validate:"oneof=44100 48000"`
	BufferSizeMs int `mapstructure:"buffer_size_ms" default:"50" validate:"gte=0,lte=1000"`
}

// NewBackend creates the named backend. Settings are decoded from a
// free-form map, as found in the configuration file.
func NewBackend(name string, settings map[string]any, dec media.Decoder) (media.Backend, error) {
	if dec == nil {
		return nil, errors.New("audio: decoder is required")
	}

	switch strings.ToLower(name) {
	case BackendHeadless, "":
		var s HeadlessSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, errors.Wrap(err, "invalid headless settings")
		}
		return NewHeadless(s, dec), nil
	case BackendOto:
		var s OtoSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, errors.Wrap(err, "invalid oto settings")
		}
		o, err := NewOto(s, dec)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", name)
	}
}

// decodeSettings fills out from settings, then applies defaults and validates.
func decodeSettings(settings map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create settings decoder")
	}
	if err := dec.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
