// Package cache implements the shader cache: a content-addressed map from
// pipeline or shader hash to compiled binary, with a reservation protocol
// that lets exactly one builder compile a given key at a time.
//
// Ready entries live in a bounded LRU memory tier. When a Store is attached,
// committed entries are also persisted under their compact hash and loaded
// lazily on a memory miss.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/pipec/internal/checksum"
	"github.com/mattjoyce/pipec/internal/log"
	"github.com/mattjoyce/pipec/internal/metrics"
)

var (
	// ErrUnknown marks an entry that exists but cannot be read back.
	ErrUnknown = errors.New("unknown cache entry")

	// ErrNotReserved is returned when Insert or Reset is called with a handle
	// that does not hold the reservation of its key.
	ErrNotReserved = errors.New("cache entry not reserved by handle")

	// ErrInvalidData is returned by Deserialize for malformed input.
	ErrInvalidData = errors.New("invalid cache data")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache closed")

	// ErrCorrupt is returned by stores for entries failing their checksum.
	ErrCorrupt = errors.New("corrupt cache entry")
)

// DefaultMemoryEntries bounds the memory tier when Options leaves it unset.
const DefaultMemoryEntries = 4096

// State is the state of one cache key.
type State int

const (
	Unavailable State = iota
	Compiling
	Ready
)

func (s State) String() string {
	switch s {
	case Unavailable:
		return "unavailable"
	case Compiling:
		return "compiling"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Store is the persistent tier. Keys are compact hashes formatted with
// checksum.FormatCompact.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Lister is implemented by stores that can enumerate their entries.
type Lister interface {
	ForEach(ctx context.Context, fn func(key string, data []byte) error) error
}

type entry struct {
	key   uint64
	state State
	data  []byte
	sum   [32]byte
	done  chan struct{}
}

// Handle refers to one looked up or reserved entry.
type Handle struct {
	e       *entry
	private bool
}

// Key returns the compact hash of the entry.
func (h *Handle) Key() uint64 { return h.e.key }

// Options configures a Cache.
type Options struct {
	Mode          Mode
	Store         Store
	MemoryEntries int
	Metrics       *metrics.Metrics
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Mode    Mode   `json:"mode"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Pending int    `json:"pending"`
}

// Cache is safe for concurrent use.
type Cache struct {
	mode    Mode
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	ready   *lru.Cache[uint64, *entry]
	pending map[uint64]*entry
	hits    uint64
	misses  uint64
	bytes   int64
	closed  bool
}

// New returns an empty cache. A Store is only used in the disk modes.
func New(opts Options) (*Cache, error) {
	size := opts.MemoryEntries
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	c := &Cache{
		mode:    opts.Mode,
		metrics: opts.Metrics,
		logger:  log.WithComponent("cache"),
		pending: make(map[uint64]*entry),
	}
	if opts.Mode.Persistent() {
		c.store = opts.Store
	}

	ready, err := lru.NewWithEvict[uint64, *entry](size, c.evicted)
	if err != nil {
		return nil, fmt.Errorf("create memory tier: %w", err)
	}
	c.ready = ready
	return c, nil
}

// evicted runs with c.mu held, from inside the LRU.
func (c *Cache) evicted(_ uint64, e *entry) {
	c.bytes -= int64(len(e.data))
	e.data = nil
	e.state = Unavailable
}

// Mode returns the mode the cache was created with.
func (c *Cache) Mode() Mode { return c.mode }

// FindOrReserve looks up key. It returns Ready with a handle to pass to
// Retrieve, or Compiling when the caller now holds the reservation and must
// call Insert or Reset. While another caller holds the reservation,
// FindOrReserve waits for it to be resolved or for ctx to be done.
func (c *Cache) FindOrReserve(ctx context.Context, key checksum.Hash) (State, *Handle, error) {
	k := key.Compact64()
	if c.mode == ModeDisable {
		return Compiling, &Handle{e: &entry{key: k, state: Compiling}, private: true}, nil
	}

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return Unavailable, nil, ErrClosed
		}
		if e, ok := c.ready.Get(k); ok {
			c.hits++
			c.mu.Unlock()
			c.metrics.CacheLookup(metrics.LookupHit)
			return Ready, &Handle{e: e}, nil
		}
		if e, ok := c.pending[k]; ok {
			done := e.done
			c.mu.Unlock()
			c.metrics.CacheLookup(metrics.LookupWait)
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return Unavailable, nil, ctx.Err()
			}
		}

		e := &entry{key: k, state: Compiling, done: make(chan struct{})}
		c.pending[k] = e
		c.mu.Unlock()

		// The reservation is held while the store is read, so concurrent
		// finders of the same key wait instead of loading it twice.
		if data, ok := c.load(ctx, k); ok {
			c.commit(e, data)
			c.mu.Lock()
			c.hits++
			c.mu.Unlock()
			c.metrics.CacheLookup(metrics.LookupHit)
			return Ready, &Handle{e: e}, nil
		}

		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		c.metrics.CacheLookup(metrics.LookupMiss)
		return Compiling, &Handle{e: e}, nil
	}
}

func (c *Cache) load(ctx context.Context, k uint64) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	name := checksum.FormatCompact(k)
	data, ok, err := c.store.Get(ctx, name)
	if err != nil {
		c.metrics.CacheLookup(metrics.LookupCorrupt)
		c.logger.Warn("persistent cache entry unreadable, rebuilding", "key", name, "error", err)
		return nil, false
	}
	return data, ok
}

// commit moves a reserved entry to the memory tier and wakes its waiters.
func (c *Cache) commit(e *entry, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.data = data
	e.sum = blake3.Sum256(data)
	e.state = Ready
	delete(c.pending, e.key)
	c.ready.Add(e.key, e)
	c.bytes += int64(len(data))
	close(e.done)
}

// Retrieve returns the binary of a Ready handle. The returned slice must not
// be modified. On ErrUnknown the entry has been dropped and the caller should
// look the key up again.
func (c *Cache) Retrieve(h *Handle) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := h.e
	if e.state != Ready || e.data == nil {
		return nil, fmt.Errorf("%s: %w", checksum.FormatCompact(e.key), ErrUnknown)
	}
	if blake3.Sum256(e.data) != e.sum {
		c.ready.Remove(e.key)
		c.metrics.CacheLookup(metrics.LookupCorrupt)
		return nil, fmt.Errorf("%s: checksum mismatch: %w", checksum.FormatCompact(e.key), ErrUnknown)
	}
	return e.data, nil
}

// Insert commits data for a key reserved by h. The data is copied. Failing to
// persist the entry is logged and does not fail the insert.
func (c *Cache) Insert(ctx context.Context, h *Handle, data []byte) error {
	if h.private {
		return nil
	}

	c.mu.Lock()
	if c.pending[h.e.key] != h.e {
		c.mu.Unlock()
		return fmt.Errorf("insert %s: %w", checksum.FormatCompact(h.e.key), ErrNotReserved)
	}
	c.mu.Unlock()

	buf := append([]byte(nil), data...)
	c.commit(h.e, buf)

	if c.store != nil {
		name := checksum.FormatCompact(h.e.key)
		if err := c.store.Put(ctx, name, buf); err != nil {
			c.logger.Warn("failed to persist cache entry", "key", name, "error", err)
		}
	}
	return nil
}

// Reset abandons the reservation held by h. The next FindOrReserve of the
// key reserves it again.
func (c *Cache) Reset(h *Handle) error {
	if h.private {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := h.e
	if c.pending[e.key] != e {
		return fmt.Errorf("reset %s: %w", checksum.FormatCompact(e.key), ErrNotReserved)
	}
	delete(c.pending, e.key)
	e.state = Unavailable
	close(e.done)
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Mode:    c.mode,
		Hits:    c.hits,
		Misses:  c.misses,
		Entries: c.ready.Len(),
		Bytes:   c.bytes,
		Pending: len(c.pending),
	}
}

// Clear drops every Ready entry from memory and from the store. Reservations
// in progress are unaffected.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.ready.Purge()
	c.mu.Unlock()

	if c.store != nil {
		return c.store.Clear(ctx)
	}
	return nil
}

// Close closes the store. Pending reservations may still be reset.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.store != nil {
		return c.store.Close()
	}
	return nil
}
