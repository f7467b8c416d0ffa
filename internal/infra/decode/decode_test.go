package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/cuebox/internal/domain/media"
)

// sineWAV builds a 16-bit mono PCM WAV file.
func sineWAV(t *testing.T, rate, frames int) []byte {
	t.Helper()

	var pcm bytes.Buffer
	for i := range frames {
		v := int16(math.Sin(2*math.Pi*440*float64(i)/float64(rate)) * 0.5 * math.MaxInt16)
		require.NoError(t, binary.Write(&pcm, binary.LittleEndian, v))
	}

	var b bytes.Buffer
	write := func(v any) { require.NoError(t, binary.Write(&b, binary.LittleEndian, v)) }
	b.WriteString("RIFF")
	write(uint32(36 + pcm.Len()))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	write(uint32(16))
	write(uint16(1)) // PCM
	write(uint16(1)) // mono
	write(uint32(rate))
	write(uint32(rate * 2))
	write(uint16(2))
	write(uint16(16))
	b.WriteString("data")
	write(uint32(pcm.Len()))
	b.Write(pcm.Bytes())
	return b.Bytes()
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{name: "wav", data: []byte("RIFF\x00\x00\x00\x00WAVEfmt "), want: FormatWAV},
		{name: "riff but not wave", data: []byte("RIFF\x00\x00\x00\x00AVI "), want: FormatUnknown},
		{name: "flac", data: []byte("fLaC\x00\x00"), want: FormatFLAC},
		{name: "mp3 with id3", data: []byte("ID3\x04\x00"), want: FormatMP3},
		{name: "mp3 frame sync", data: []byte{0xFF, 0xFB, 0x90, 0x00}, want: FormatMP3},
		{name: "text", data: []byte("<html>"), want: FormatUnknown},
		{name: "empty", data: nil, want: FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff(tt.data))
		})
	}
}

func TestFormat_String(t *testing.T) {
	assert.Equal(t, "mp3", FormatMP3.String())
	assert.Equal(t, "wav", FormatWAV.String())
	assert.Equal(t, "flac", FormatFLAC.String())
	assert.Equal(t, "unknown", FormatUnknown.String())
}

func TestDecoder_WAV(t *testing.T) {
	data := sineWAV(t, 8000, 800)

	buf, err := New().Decode(context.Background(), data, 8000)
	require.NoError(t, err)

	assert.Equal(t, 8000, buf.SampleRate())
	assert.Equal(t, 2, buf.Channels())
	assert.Equal(t, 800, buf.Frames())

	pcm, ok := buf.(*media.PCM)
	require.True(t, ok)
	samples := pcm.Samples()
	// Mono input is duplicated to both channels.
	for i := 0; i < len(samples); i += 2 {
		require.Equal(t, samples[i], samples[i+1])
	}
}

func TestDecoder_Resamples(t *testing.T) {
	data := sineWAV(t, 8000, 800)

	buf, err := New().Decode(context.Background(), data, 16000)
	require.NoError(t, err)

	assert.Equal(t, 16000, buf.SampleRate())
	assert.InDelta(t, 1600, buf.Frames(), 16)
	assert.InDelta(t, 0.1, buf.Duration().Seconds(), 0.01)
}

func TestDecoder_KeepsSourceRateWhenUnset(t *testing.T) {
	buf, err := New().Decode(context.Background(), sineWAV(t, 22050, 100), 0)
	require.NoError(t, err)
	assert.Equal(t, 22050, buf.SampleRate())
}

func TestDecoder_Errors(t *testing.T) {
	_, err := New().Decode(context.Background(), nil, 48000)
	assert.True(t, errors.Is(err, ErrEmpty))

	_, err = New().Decode(context.Background(), []byte("not audio at all"), 48000)
	assert.True(t, errors.Is(err, ErrUnknownFormat))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New().Decode(ctx, sineWAV(t, 8000, 800), 8000)
	assert.ErrorIs(t, err, context.Canceled)
}
