package embedder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/bilgeai/yksai-go/internal/rag"
)

// Binary cache file format: magic, then a big-endian uint32 entry count,
// then per entry a uint16 key length, the key bytes, a uint32 dimension, and
// the vector as little-endian float32 values. The whole file is rewritten on
// every flush; there are no in-place updates.
const (
	cacheMagic = "YKSEC1"

	// flushInterval is how many new entries accumulate before the cache is
	// persisted. Losing up to flushInterval-1 entries on crash only costs
	// re-embedding, never correctness.
	flushInterval = 10
)

// Cache is a persistent content-hash-keyed embedding store. All methods are
// safe for concurrent use. A missing or corrupt cache file is treated as an
// empty cache; persistence failures are logged and never propagate.
type Cache struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	entries map[string][]float32
	pending int
}

// OpenCache loads the cache at path, starting empty when the file is missing
// or unreadable. Pass an empty path for a purely in-memory cache.
func OpenCache(path string, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{
		path:    path,
		log:     log,
		entries: make(map[string][]float32),
	}
	if path == "" {
		return c
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("embedder: cache file unreadable, starting empty",
				slog.String("path", path), slog.String("error", err.Error()))
		}
		return c
	}

	entries, err := decodeCache(data)
	if err != nil {
		log.Warn("embedder: cache file corrupt, starting empty",
			slog.String("path", path), slog.String("error", err.Error()))
		return c
	}
	c.entries = entries
	log.Debug("embedder: cache loaded",
		slog.String("path", path), slog.Int("entries", len(entries)))
	return c
}

// Get returns the cached vector for key, or nil when absent.
func (c *Cache) Get(key string) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

// Put stores a vector under key and flushes to disk every flushInterval
// inserts. Overwriting an existing key does not count toward the interval.
func (c *Cache) Put(key string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	c.mu.Lock()
	_, existed := c.entries[key]
	c.entries[key] = vector
	if !existed {
		c.pending++
	}
	shouldFlush := c.pending >= flushInterval
	if shouldFlush {
		c.pending = 0
	}
	snapshot := map[string][]float32(nil)
	if shouldFlush {
		snapshot = c.snapshotLocked()
	}
	c.mu.Unlock()

	if shouldFlush {
		c.persist(snapshot)
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush persists the cache immediately regardless of the pending count.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.pending = 0
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.persist(snapshot)
}

// snapshotLocked copies the entry map. Caller must hold mu.
func (c *Cache) snapshotLocked() map[string][]float32 {
	out := make(map[string][]float32, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// persist writes the snapshot atomically via a temp file and rename.
// Failures are logged, never returned: the cache is an optimization.
func (c *Cache) persist(entries map[string][]float32) {
	if c.path == "" {
		return
	}

	data, err := encodeCache(entries)
	if err != nil {
		c.log.Warn("embedder: cache encode failed", slog.String("error", err.Error()))
		return
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".embcache-*")
	if err != nil {
		c.log.Warn("embedder: cache temp file failed", slog.String("error", err.Error()))
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		c.log.Warn("embedder: cache write failed", slog.String("error", err.Error()))
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		c.log.Warn("embedder: cache close failed", slog.String("error", err.Error()))
		return
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		c.log.Warn("embedder: cache rename failed", slog.String("error", err.Error()))
		return
	}
}

// encodeCache serializes entries into the binary cache format.
func encodeCache(entries map[string][]float32) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(cacheMagic)
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(entries))); err != nil {
		return nil, err
	}
	for key, vec := range entries {
		if len(key) > math.MaxUint16 {
			return nil, fmt.Errorf("key too long: %d bytes", len(key))
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(key))); err != nil {
			return nil, err
		}
		buf.WriteString(key)
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(vec))); err != nil {
			return nil, err
		}
		for _, f := range vec {
			if err := binary.Write(&buf, binary.LittleEndian, math.Float32bits(f)); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// decodeCache parses the binary cache format. Any structural inconsistency
// returns an error so the caller can discard the file wholesale.
func decodeCache(data []byte) (map[string][]float32, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(cacheMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != cacheMagic {
		return nil, fmt.Errorf("bad magic %q", magic)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}

	entries := make(map[string][]float32, count)
	for i := uint32(0); i < count; i++ {
		var keyLen uint16
		if err := binary.Read(r, binary.BigEndian, &keyLen); err != nil {
			return nil, fmt.Errorf("entry %d: read key length: %w", i, err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("entry %d: read key: %w", i, err)
		}

		var dim uint32
		if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
			return nil, fmt.Errorf("entry %d: read dimension: %w", i, err)
		}
		vec := make([]float32, dim)
		for j := range vec {
			var bits uint32
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return nil, fmt.Errorf("entry %d: read value %d: %w", i, j, err)
			}
			vec[j] = math.Float32frombits(bits)
		}
		entries[string(key)] = vec
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("trailing %d bytes after %d entries", r.Len(), count)
	}
	return entries, nil
}

// CachingEmbedder wraps an Embedder with the persistent cache: texts whose
// content hash is cached skip the provider entirely, and a single provider
// call covers all misses in a batch.
type CachingEmbedder struct {
	inner rag.Embedder
	cache *Cache
}

// NewCachingEmbedder wraps inner with cache. A nil cache yields an in-memory
// cache.
func NewCachingEmbedder(inner rag.Embedder, cache *Cache) *CachingEmbedder {
	if cache == nil {
		cache = OpenCache("", nil)
	}
	return &CachingEmbedder{inner: inner, cache: cache}
}

// Embed returns embeddings for texts, serving cached entries and embedding
// only the misses. The returned slice is parallel to the input slice.
func (e *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missTexts []string
	var missIdx []int
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = rag.ContentHash(t)
		if vec := e.cache.Get(keys[i]); vec != nil {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", len(missTexts), len(vectors))
	}

	for j, vec := range vectors {
		i := missIdx[j]
		out[i] = vec
		e.cache.Put(keys[i], vec)
	}
	return out, nil
}

// Flush persists the underlying cache. Call on shutdown.
func (e *CachingEmbedder) Flush() { e.cache.Flush() }
