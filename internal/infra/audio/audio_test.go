package audio

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackend_Headless(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		wantRate int
		wantErr  bool
	}{
		{name: "defaults", settings: nil, wantRate: 48000},
		{name: "explicit rate", settings: map[string]any{"sample_rate": 44100, "speed": 2.0}, wantRate: 44100},
		{name: "string values", settings: map[string]any{"sample_rate": "22050"}, wantRate: 22050},
		{name: "rate out of range", settings: map[string]any{"sample_rate": 100}, wantErr: true},
		{name: "unknown key", settings: map[string]any{"volume": 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBackend(BackendHeadless, tt.settings, &silence{length: time.Second})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, BackendHeadless, b.Name())

			h, ok := b.(*Headless)
			require.True(t, ok)
			assert.Equal(t, tt.wantRate, h.settings.SampleRate)
		})
	}
}

func TestNewBackend_Errors(t *testing.T) {
	_, err := NewBackend("alsa", nil, &silence{})
	assert.True(t, errors.Is(err, ErrUnknownBackend))

	_, err = NewBackend(BackendHeadless, nil, nil)
	assert.Error(t, err)

	_, err = NewBackend(BackendOto, map[string]any{"sample_rate": 22050}, &silence{})
	assert.Error(t, err, "oto only accepts 44100 or 48000")
}
