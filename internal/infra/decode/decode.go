// Package decode turns encoded audio bytes into PCM buffers.
package decode

import (
	"bytes"
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuebox/internal/domain/media"
)

// Errors
var (
	ErrUnknownFormat = errors.New("unknown audio format")
	ErrEmpty         = errors.New("no audio data")
)

// Format is an encoded container type.
type Format int

const (
	FormatUnknown Format = iota
	FormatMP3
	FormatWAV
	FormatFLAC
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatMP3:
		return "mp3"
	case FormatWAV:
		return "wav"
	case FormatFLAC:
		return "flac"
	default:
		return "unknown"
	}
}

const (
	resampleQuality = 4
	chunkFrames     = 4096
	outputChannels  = 2
)

// Sniff detects the container from its leading bytes.
func Sniff(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 && string(data[8:12]) == "WAVE":
		return FormatWAV
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG frame sync
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// Decoder implements media.Decoder with beep.
type Decoder struct{}

// New creates a decoder.
func New() *Decoder {
	return &Decoder{}
}

// Decode decodes data and resamples it to sampleRate. The result is always
// interleaved stereo.
func (d *Decoder) Decode(ctx context.Context, data []byte, sampleRate int) (media.Buffer, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	format := Sniff(data)
	streamer, f, err := open(format, data)
	if err != nil {
		return nil, err
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if sampleRate > 0 && int(f.SampleRate) != sampleRate {
		s = beep.Resample(resampleQuality, f.SampleRate, beep.SampleRate(sampleRate), streamer)
	} else {
		sampleRate = int(f.SampleRate)
	}

	samples, err := drain(ctx, s, streamer.Len())
	if err != nil {
		return nil, err
	}
	if err := streamer.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", format)
	}

	zlog.Debug().Msgf("decode: %s %dHz -> %dHz, %d frames", format, f.SampleRate, sampleRate, len(samples)/outputChannels)
	return media.NewPCM(sampleRate, outputChannels, samples), nil
}

func open(format Format, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	var (
		s   beep.StreamSeekCloser
		f   beep.Format
		err error
	)
	switch format {
	case FormatMP3:
		s, f, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case FormatWAV:
		s, f, err = wav.Decode(bytes.NewReader(data))
	case FormatFLAC:
		s, f, err = flac.Decode(bytes.NewReader(data))
	default:
		return nil, beep.Format{}, ErrUnknownFormat
	}
	if err != nil {
		return nil, beep.Format{}, errors.Wrapf(err, "failed to open %s stream", format)
	}
	return s, f, nil
}

// drain reads s to the end into interleaved float32 samples.
func drain(ctx context.Context, s beep.Streamer, hint int) ([]float32, error) {
	out := make([]float32, 0, max(hint, 0)*outputChannels)
	buf := make([][2]float64, chunkFrames)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			out = append(out, float32(frame[0]), float32(frame[1]))
		}
		if !ok {
			return out, nil
		}
	}
}
