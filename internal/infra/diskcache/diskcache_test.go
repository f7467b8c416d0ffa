package diskcache

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	c, err := New(Config{Dir: t.TempDir(), CompressionLevel: 3})
	require.NoError(t, err)

	value := bytes.Repeat([]byte("cuebox"), 1000)
	require.NoError(t, c.Put("https://example.com/a.mp3", value))

	got, ok := c.Get("https://example.com/a.mp3")
	require.True(t, ok)
	assert.Equal(t, value, got)
	assert.Less(t, c.Size(), int64(len(value)), "entries are compressed")

	_, ok = c.Get("https://example.com/b.mp3")
	assert.False(t, ok)
}

func TestCache_Overwrite(t *testing.T) {
	c, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, c.Put("k", []byte("one")))
	require.NoError(t, c.Put("k", []byte("two")))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("two"), got)
}

func TestCache_Delete(t *testing.T) {
	c, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, c.Put("k", []byte("v")))
	require.NoError(t, c.Delete("k"))
	require.NoError(t, c.Delete("k"))

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(c.path("k"), []byte("garbage"), 0o644))

	_, ok := c.Get("k")
	assert.False(t, ok)
	_, err = os.Stat(c.path("k"))
	assert.True(t, os.IsNotExist(err))
}

func TestCache_EvictsOldest(t *testing.T) {
	c, err := New(Config{Dir: t.TempDir(), MaxBytes: 64})
	require.NoError(t, err)

	require.NoError(t, c.Put("old", []byte("first entry payload")))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(c.path("old"), past, past))

	require.NoError(t, c.Put("new", []byte("second entry payload, a little longer")))

	_, ok := c.Get("new")
	assert.True(t, ok)
	if c.Size() > 64 {
		t.Fatalf("cache exceeds capacity: %d", c.Size())
	}
}

func TestCache_ItemTooLarge(t *testing.T) {
	c, err := New(Config{Dir: t.TempDir(), MaxBytes: 8})
	require.NoError(t, err)

	// Random-ish bytes do not compress below the limit.
	value := make([]byte, 256)
	for i := range value {
		value[i] = byte(i * 31)
	}
	err = c.Put("big", value)
	assert.True(t, errors.Is(err, ErrItemTooLarge))
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
