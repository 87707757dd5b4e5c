package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/pipec/internal/checksum"
)

func key(s string) checksum.Hash {
	return checksum.FromBuffer([]byte(s))
}

func newRuntime(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Options{Mode: ModeRuntime})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	puts   int
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	d, ok := s.data[key]
	return d, ok, nil
}

func (s *memStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.data[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string][]byte{}
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) ForEach(_ context.Context, fn func(string, []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.data {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func TestInsertRetrieveIdentity(t *testing.T) {
	c := newRuntime(t)
	ctx := context.Background()

	state, h, err := c.FindOrReserve(ctx, key("pipeline"))
	require.NoError(t, err)
	require.Equal(t, Compiling, state)

	blob := []byte("compiled binary")
	require.NoError(t, c.Insert(ctx, h, blob))
	blob[0] = 'X'

	state, h, err = c.FindOrReserve(ctx, key("pipeline"))
	require.NoError(t, err)
	require.Equal(t, Ready, state)

	got, err := c.Retrieve(h)
	require.NoError(t, err)
	assert.Equal(t, []byte("compiled binary"), got)
}

func TestFindOrReserveExclusive(t *testing.T) {
	c := newRuntime(t)
	ctx := context.Background()
	const builders = 16
	blob := []byte("the one true binary")

	var compiling atomic.Int32
	results := make([][]byte, builders)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < builders; i++ {
		g.Go(func() error {
			state, h, err := c.FindOrReserve(gctx, key("shared"))
			if err != nil {
				return err
			}
			if state == Compiling {
				compiling.Add(1)
				// Let the other builders pile up behind the reservation.
				time.Sleep(20 * time.Millisecond)
				results[i] = blob
				return c.Insert(gctx, h, blob)
			}
			data, err := c.Retrieve(h)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), compiling.Load())
	for i, r := range results {
		assert.Equal(t, blob, r, "builder %d", i)
	}
	st := c.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, uint64(1), st.Misses)
}

func TestResetLeavesKeyRetryable(t *testing.T) {
	c := newRuntime(t)
	ctx := context.Background()

	state, h, err := c.FindOrReserve(ctx, key("fails"))
	require.NoError(t, err)
	require.Equal(t, Compiling, state)
	require.NoError(t, c.Reset(h))

	state, h2, err := c.FindOrReserve(ctx, key("fails"))
	require.NoError(t, err)
	assert.Equal(t, Compiling, state)
	assert.ErrorIs(t, c.Insert(ctx, h, []byte("stale")), ErrNotReserved)
	require.NoError(t, c.Insert(ctx, h2, []byte("ok")))
}

func TestWaiterTakesOverAfterReset(t *testing.T) {
	c := newRuntime(t)
	ctx := context.Background()

	_, h, err := c.FindOrReserve(ctx, key("k"))
	require.NoError(t, err)

	got := make(chan State, 1)
	go func() {
		state, h2, err := c.FindOrReserve(ctx, key("k"))
		if err == nil && state == Compiling {
			_ = c.Reset(h2)
		}
		got <- state
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Reset(h))

	select {
	case state := <-got:
		assert.Equal(t, Compiling, state)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Reset")
	}
}

func TestFindOrReserveHonorsContext(t *testing.T) {
	c := newRuntime(t)

	_, h, err := c.FindOrReserve(context.Background(), key("k"))
	require.NoError(t, err)
	defer func() { _ = c.Reset(h) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = c.FindOrReserve(ctx, key("k"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDisableModeNeverStores(t *testing.T) {
	c, err := New(Options{Mode: ModeDisable})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		state, h, err := c.FindOrReserve(ctx, key("k"))
		require.NoError(t, err)
		assert.Equal(t, Compiling, state)
		require.NoError(t, c.Insert(ctx, h, []byte("data")))
	}
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestEvictedHandleIsUnknown(t *testing.T) {
	c, err := New(Options{Mode: ModeRuntime, MemoryEntries: 1})
	require.NoError(t, err)
	ctx := context.Background()

	_, h, err := c.FindOrReserve(ctx, key("a"))
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, h, []byte("a")))

	state, ha, err := c.FindOrReserve(ctx, key("a"))
	require.NoError(t, err)
	require.Equal(t, Ready, state)

	_, h, err = c.FindOrReserve(ctx, key("b"))
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, h, []byte("b")))

	_, err = c.Retrieve(ha)
	assert.ErrorIs(t, err, ErrUnknown)

	state, _, err = c.FindOrReserve(ctx, key("a"))
	require.NoError(t, err)
	assert.Equal(t, Compiling, state)
}

func TestStoreBackedCache(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	c, err := New(Options{Mode: ModeDisk, Store: store})
	require.NoError(t, err)
	_, h, err := c.FindOrReserve(ctx, key("persisted"))
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, h, []byte("bits")))
	assert.Equal(t, 1, store.puts)
	assert.Contains(t, store.data, checksum.FormatCompact(key("persisted").Compact64()))

	// A fresh cache over the same store loads the entry lazily.
	c2, err := New(Options{Mode: ModeDisk, Store: store})
	require.NoError(t, err)
	state, h, err := c2.FindOrReserve(ctx, key("persisted"))
	require.NoError(t, err)
	require.Equal(t, Ready, state)
	got, err := c2.Retrieve(h)
	require.NoError(t, err)
	assert.Equal(t, []byte("bits"), got)
	assert.Equal(t, uint64(1), c2.Stats().Hits)
}

func TestStoreErrorIsAMiss(t *testing.T) {
	store := newMemStore()
	store.getErr = ErrCorrupt

	c, err := New(Options{Mode: ModeDisk, Store: store})
	require.NoError(t, err)
	state, h, err := c.FindOrReserve(context.Background(), key("k"))
	require.NoError(t, err)
	assert.Equal(t, Compiling, state)
	require.NoError(t, c.Reset(h))
}

func TestRuntimeModeIgnoresStore(t *testing.T) {
	store := newMemStore()
	c, err := New(Options{Mode: ModeRuntime, Store: store})
	require.NoError(t, err)
	ctx := context.Background()

	_, h, err := c.FindOrReserve(ctx, key("k"))
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, h, []byte("v")))
	assert.Equal(t, 0, store.puts)
}

func TestSerializeRoundTrip(t *testing.T) {
	src := newRuntime(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, h, err := src.FindOrReserve(ctx, key(name))
		require.NoError(t, err)
		require.NoError(t, src.Insert(ctx, h, []byte("binary "+name)))
	}

	var buf bytes.Buffer
	require.NoError(t, src.Serialize(ctx, &buf))

	dst := newRuntime(t)
	n, err := dst.Deserialize(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	state, h, err := dst.FindOrReserve(ctx, key("b"))
	require.NoError(t, err)
	require.Equal(t, Ready, state)
	got, err := dst.Retrieve(h)
	require.NoError(t, err)
	assert.Equal(t, []byte("binary b"), got)
}

func TestSerializeIncludesStoreEntries(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, checksum.FormatCompact(key("on disk").Compact64()), []byte("disk")))

	c, err := New(Options{Mode: ModeDisk, Store: store})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, c.Serialize(ctx, &buf))

	dst := newRuntime(t)
	n, err := dst.Deserialize(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPersistWritesImportedEntries(t *testing.T) {
	ctx := context.Background()
	src := newRuntime(t)
	_, h, err := src.FindOrReserve(ctx, key("imported"))
	require.NoError(t, err)
	require.NoError(t, src.Insert(ctx, h, []byte("elf")))
	var buf bytes.Buffer
	require.NoError(t, src.Serialize(ctx, &buf))

	store := newMemStore()
	dst, err := New(Options{Mode: ModeDisk, Store: store})
	require.NoError(t, err)
	_, err = dst.Deserialize(&buf)
	require.NoError(t, err)
	assert.Empty(t, store.data)

	n, err := dst.Persist(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte("elf"), store.data[checksum.FormatCompact(key("imported").Compact64())])

	n, err = newRuntime(t).Persist(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeserializeRejectsBadInput(t *testing.T) {
	src := newRuntime(t)
	ctx := context.Background()
	_, h, err := src.FindOrReserve(ctx, key("a"))
	require.NoError(t, err)
	require.NoError(t, src.Insert(ctx, h, []byte("payload")))

	var buf bytes.Buffer
	require.NoError(t, src.Serialize(ctx, &buf))
	good := buf.Bytes()

	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0xFF

	badMagic := append([]byte(nil), good...)
	copy(badMagic, "XXXX")

	tests := []struct {
		name string
		data []byte
	}{
		{"corrupt payload", corrupt},
		{"bad magic", badMagic},
		{"truncated", good[:len(good)-3]},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := newRuntime(t)
			_, err := dst.Deserialize(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrInvalidData)
			assert.Equal(t, 0, dst.Stats().Entries)
		})
	}
}

func TestClosedCache(t *testing.T) {
	c, err := New(Options{Mode: ModeRuntime})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, _, err = c.FindOrReserve(context.Background(), key("k"))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeDisable, ModeRuntime, ModeDisk, ModeForceDisk} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("sometimes")
	assert.Error(t, err)
	assert.True(t, ModeForceDisk.Persistent())
	assert.False(t, ModeRuntime.Persistent())
}
