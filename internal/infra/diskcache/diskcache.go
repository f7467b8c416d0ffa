// Package diskcache stores fetched asset bytes on disk, zstd-compressed.
package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	zlog "github.com/rs/zerolog/log"
)

const fileExt = ".zst"

// Errors
var (
	ErrItemTooLarge = errors.New("item exceeds cache capacity")
)

// Config configures the cache.
type Config struct {
	Dir string
	// CompressionLevel is a zstd level (1-22).
	CompressionLevel int
	// MaxBytes caps the on-disk size. Zero means unbounded.
	MaxBytes int64
}

// Cache is a directory of compressed entries keyed by the sha256 of the
// locator. It has no index: the file name is the key.
type Cache struct {
	dir      string
	maxBytes int64

	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New opens (and creates) a cache directory.
func New(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("diskcache: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}

	level := cfg.CompressionLevel
	if level <= 0 {
		level = 3
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd decoder")
	}

	return &Cache{
		dir:      cfg.Dir,
		maxBytes: cfg.MaxBytes,
		encoder:  enc,
		decoder:  dec,
	}, nil
}

// Get returns the bytes stored for key. A corrupt entry is removed and
// reported as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	path := c.path(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	data, err := c.decoder.DecodeAll(raw, nil)
	c.mu.Unlock()
	if err != nil {
		zlog.Warn().Err(err).Msgf("diskcache: dropping corrupt entry: key=%s", key)
		_ = os.Remove(path)
		return nil, false
	}
	return data, true
}

// Put stores value under key, replacing any previous entry.
func (c *Cache) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	compressed := c.encoder.EncodeAll(value, nil)
	size := int64(len(compressed))
	if c.maxBytes > 0 && size > c.maxBytes {
		return ErrItemTooLarge
	}

	// Write to a temp file and rename so readers never see partial entries.
	tmp, err := os.CreateTemp(c.dir, "put-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to write cache entry")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to close cache entry")
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to commit cache entry")
	}

	if c.maxBytes > 0 {
		c.evictLocked(c.path(key))
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *Cache) Delete(key string) error {
	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete cache entry")
	}
	return nil
}

// Size returns the total on-disk size of all entries.
func (c *Cache) Size() int64 {
	var total int64
	for _, e := range c.entries() {
		total += e.size
	}
	return total
}

type entry struct {
	path  string
	size  int64
	mtime int64
}

func (c *Cache) entries() []entry {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}
	out := make([]entry, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() || filepath.Ext(d.Name()) != fileExt {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		out = append(out, entry{
			path:  filepath.Join(c.dir, d.Name()),
			size:  info.Size(),
			mtime: info.ModTime().UnixNano(),
		})
	}
	return out
}

// evictLocked removes the oldest entries until the cache fits, never
// removing keep.
func (c *Cache) evictLocked(keep string) {
	entries := c.entries()
	var total int64
	for _, e := range entries {
		total += e.size
	}
	if total <= c.maxBytes {
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime < entries[j].mtime })
	for _, e := range entries {
		if total <= c.maxBytes {
			break
		}
		if e.path == keep {
			continue
		}
		if err := os.Remove(e.path); err != nil {
			continue
		}
		total -= e.size
		zlog.Debug().Msgf("diskcache: evicted %s", filepath.Base(e.path))
	}
}

func (c *Cache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+fileExt)
}
