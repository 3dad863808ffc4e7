// Package cache stores fully processed extraction results under a
// content-addressed key.
//
// A key covers the input (its bytes, or a file's absolute path, mtime and
// size), the declared MIME type and the canonical JSON of the extraction
// config, so two calls share
// an entry only when they would produce the same result. Entries live in a
// bounded in-memory LRU tier; an optional Store (SQLiteStore) persists them
// across processes. Stored results are deep copies: callers can mutate what
// Get returns.
//
// Failed extractions are never cached; the engine only calls Put on success.
package cache

import (
	"container/list"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
)

const keyVersion = "kreuzberg-cache-v2"

// Input identifies what is extracted: either Data or a file Path, with the
// caller's declared MIME type ("" when it will be detected).
type Input struct {
	Path string
	Data []byte
	MIME string
}

// Key digests input and cfg with BLAKE2b-256. A file input is keyed by its
// absolute path, modification time and size, so editing the file changes
// the key. A nil cfg is keyed as config.Default().
func Key(in Input, cfg *config.ExtractionConfig) (string, error) {
	canon, err := cfg.Canonical()
	if err != nil {
		return "", kerr.Wrap(kerr.KindCache, err, "canonical config")
	}
	h, _ := blake2b.New256(nil)
	h.Write([]byte(keyVersion))
	h.Write([]byte{0})
	h.Write(canon)
	h.Write([]byte{0})

	if in.Path != "" {
		abs, err := filepath.Abs(in.Path)
		if err != nil {
			return "", kerr.IO(err, "resolve path")
		}
		st, err := os.Stat(abs)
		if err != nil {
			return "", kerr.IO(err, "stat "+in.Path)
		}
		h.Write([]byte("file\x00"))
		h.Write([]byte(abs))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(st.ModTime().UnixNano(), 10)))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(st.Size(), 10)))
	} else {
		h.Write([]byte("bytes\x00"))
		h.Write(in.Data)
	}
	h.Write([]byte("\x00mime\x00"))
	h.Write([]byte(in.MIME))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Store is a persistent tier behind the memory cache.
type Store interface {
	Load(ctx context.Context, key string) (*document.Result, bool, error)
	Save(ctx context.Context, key string, res *document.Result, size int64) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (entries int64, sizeBytes int64, err error)
}

// Stats are cumulative counters since creation or the last Clear.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Entries   int64 `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
	Writes    int64 `json:"writes"`
	Evictions int64 `json:"evictions"`

	PersistentEntries   int64 `json:"persistent_entries,omitempty"`
	PersistentSizeBytes int64 `json:"persistent_size_bytes,omitempty"`
}

// Config configures a Cache.
type Config struct {
	// MaxEntries bounds the memory tier (default 1024).
	MaxEntries int `json:"max_entries" yaml:"max_entries"`

	// Store is the optional persistent tier.
	Store Store `json:"-" yaml:"-"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type entry struct {
	key  string
	res  *document.Result
	size int64
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg Config

	mu    sync.Mutex
	lru   *list.List
	items map[string]*list.Element
	stats Stats
}

// New creates a Cache.
func New(cfg Config) *Cache {
	cfg.defaults()
	return &Cache{
		cfg:   cfg,
		lru:   list.New(),
		items: make(map[string]*list.Element),
	}
}

// Get returns a copy of the cached result for key. A hit in the persistent
// tier is promoted to memory. Store errors are logged and count as misses.
func (c *Cache) Get(ctx context.Context, key string) (*document.Result, bool) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.lru.MoveToFront(el)
		c.stats.Hits++
		res := el.Value.(*entry).res.Clone()
		c.mu.Unlock()
		return res, true
	}
	c.mu.Unlock()

	if c.cfg.Store != nil {
		res, ok, err := c.cfg.Store.Load(ctx, key)
		if err != nil {
			c.cfg.Logger.Warn("cache: load", "key", key, "error", err)
		}
		if ok {
			size := sizeOf(res)
			c.mu.Lock()
			c.stats.Hits++
			c.insertLocked(key, res.Clone(), size)
			c.mu.Unlock()
			return res, true
		}
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	return nil, false
}

// Put stores a copy of res under key in every tier.
func (c *Cache) Put(ctx context.Context, key string, res *document.Result) error {
	if res == nil {
		return kerr.New(kerr.KindCache, "nil result")
	}
	stored := res.Clone()
	size := sizeOf(stored)

	c.mu.Lock()
	c.insertLocked(key, stored, size)
	c.stats.Writes++
	c.mu.Unlock()

	if c.cfg.Store != nil {
		if err := c.cfg.Store.Save(ctx, key, stored, size); err != nil {
			return kerr.Wrap(kerr.KindCache, err, "persist")
		}
	}
	return nil
}

func (c *Cache) insertLocked(key string, res *document.Result, size int64) {
	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry)
		c.stats.SizeBytes += size - old.size
		old.res, old.size = res, size
		c.lru.MoveToFront(el)
		return
	}
	c.items[key] = c.lru.PushFront(&entry{key: key, res: res, size: size})
	c.stats.Entries++
	c.stats.SizeBytes += size
	for c.lru.Len() > c.cfg.MaxEntries {
		oldest := c.lru.Back()
		e := oldest.Value.(*entry)
		c.lru.Remove(oldest)
		delete(c.items, e.key)
		c.stats.Entries--
		c.stats.SizeBytes -= e.size
		c.stats.Evictions++
	}
}

// Stats returns a snapshot of the counters, including the persistent tier
// when one is configured.
func (c *Cache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	s := c.stats
	c.mu.Unlock()
	if c.cfg.Store != nil {
		n, size, err := c.cfg.Store.Count(ctx)
		if err != nil {
			c.cfg.Logger.Warn("cache: count", "error", err)
		}
		s.PersistentEntries, s.PersistentSizeBytes = n, size
	}
	return s
}

// Clear drops every entry in every tier and resets the counters.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.lru.Init()
	clear(c.items)
	c.stats = Stats{}
	c.mu.Unlock()

	if c.cfg.Store != nil {
		if err := c.cfg.Store.Clear(ctx); err != nil {
			return kerr.Wrap(kerr.KindCache, err, "clear")
		}
	}
	c.cfg.Logger.Debug("cache: cleared")
	return nil
}

func sizeOf(res *document.Result) int64 {
	data, err := json.Marshal(res)
	if err != nil {
		return int64(len(res.Content))
	}
	return int64(len(data))
}

func encode(res *document.Result) ([]byte, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("cache: encode: %w", err)
	}
	return data, nil
}
