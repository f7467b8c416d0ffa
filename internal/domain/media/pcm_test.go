package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPCM(t *testing.T) {
	tests := []struct {
		name         string
		rate         int
		channels     int
		samples      int
		wantFrames   int
		wantChannels int
		wantDuration time.Duration
	}{
		{name: "stereo one second", rate: 48000, channels: 2, samples: 96000, wantFrames: 48000, wantChannels: 2, wantDuration: time.Second},
		{name: "mono half second", rate: 8000, channels: 1, samples: 4000, wantFrames: 4000, wantChannels: 1, wantDuration: 500 * time.Millisecond},
		{name: "channels defaulted", rate: 100, channels: 0, samples: 10, wantFrames: 10, wantChannels: 1, wantDuration: 100 * time.Millisecond},
		{name: "zero rate", rate: 0, channels: 2, samples: 4, wantFrames: 2, wantChannels: 2, wantDuration: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPCM(tt.rate, tt.channels, make([]float32, tt.samples))
			assert.Equal(t, tt.wantFrames, p.Frames())
			assert.Equal(t, tt.wantChannels, p.Channels())
			assert.Equal(t, tt.wantDuration, p.Duration())
			assert.Equal(t, tt.rate, p.SampleRate())
		})
	}
}

func TestContextState_String(t *testing.T) {
	assert.Equal(t, "suspended", StateSuspended.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ContextState(9).String())
}
