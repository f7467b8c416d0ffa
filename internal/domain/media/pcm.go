package media

import "time"

// PCM is an interleaved float32 sample buffer. It is immutable once built and
// may be shared by any number of source nodes.
type PCM struct {
	rate     int
	channels int
	samples  []float32
}

// NewPCM wraps interleaved samples.
func NewPCM(rate, channels int, samples []float32) *PCM {
	if channels <= 0 {
		channels = 1
	}
	return &PCM{rate: rate, channels: channels, samples: samples}
}

// SampleRate returns the sample rate in Hz.
func (p *PCM) SampleRate() int { return p.rate }

// Channels returns the number of interleaved channels.
func (p *PCM) Channels() int { return p.channels }

// Frames returns the number of sample frames.
func (p *PCM) Frames() int { return len(p.samples) / p.channels }

// Duration returns the playback length.
func (p *PCM) Duration() time.Duration {
	if p.rate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.rate)
}

// Samples returns the interleaved samples. Callers must not modify them.
func (p *PCM) Samples() []float32 { return p.samples }

var _ Buffer = (*PCM)(nil)
