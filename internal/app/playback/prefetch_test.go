package playback

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/cuebox/internal/app/memo"
)

func TestPrefetch(t *testing.T) {
	fetcher := &countingFetcher{}
	bytes := memo.New[[]byte]()

	err := Prefetch(context.Background(), fetcher, bytes, "a.mp3", "b.mp3", "a.mp3", "")
	require.NoError(t, err)

	assert.Equal(t, int32(2), fetcher.calls.Load())
	assert.Equal(t, 2, bytes.Len())

	c := newTestController(t, Options{Src: "a.mp3"}, Deps{Backend: &fakeBackend{}, Fetcher: fetcher, Bytes: bytes})
	require.NoError(t, c.Play(context.Background()))
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestPrefetch_Error(t *testing.T) {
	fetcher := &countingFetcher{err: errNetwork}

	err := Prefetch(context.Background(), fetcher, memo.New[[]byte](), "a.mp3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errNetwork))
}
