package compctx

import (
	"errors"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/pipec/internal/backend"
	"github.com/mattjoyce/pipec/internal/backend/mocks"
	"github.com/mattjoyce/pipec/internal/gpu"
)

type fakeState struct {
	mu     sync.Mutex
	resets int
	closed bool
}

func (s *fakeState) GfxIP() gpu.GfxIPVersion { return gpu.GfxIPVersion{Major: 8} }
func (s *fakeState) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}
func (s *fakeState) Close() error {
	s.closed = true
	return nil
}

func fakeFactory(created *[]*fakeState) StateFactory {
	var mu sync.Mutex
	return func(gpu.GfxIPVersion) (backend.State, error) {
		st := &fakeState{}
		mu.Lock()
		*created = append(*created, st)
		mu.Unlock()
		return st, nil
	}
}

func TestPoolReusesReleasedContext(t *testing.T) {
	var created []*fakeState
	p := NewPool(gpu.GfxIPVersion{Major: 8}, fakeFactory(&created), nil)

	c1, err := p.Acquire()
	require.NoError(t, err)
	p.Release(c1)

	c2, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Len(t, created, 1)
	assert.Equal(t, 1, created[0].resets)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 1, p.InUse())
	p.Release(c2)
}

func TestPoolDoubleReleaseIgnored(t *testing.T) {
	var created []*fakeState
	p := NewPool(gpu.GfxIPVersion{Major: 8}, fakeFactory(&created), nil)

	c1, err := p.Acquire()
	require.NoError(t, err)
	p.Release(c1)
	p.Release(c1)
	assert.Equal(t, 1, created[0].resets)
	assert.Equal(t, 0, p.InUse())

	// One free entry: the second acquire must create a new context.
	c2, err := p.Acquire()
	require.NoError(t, err)
	c3, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.NotSame(t, c2, c3)
	assert.Equal(t, 1, created[0].resets)
	p.Release(c2)
	p.Release(c3)
}

func TestPoolGrowsWhenAllBusy(t *testing.T) {
	var created []*fakeState
	p := NewPool(gpu.GfxIPVersion{Major: 8}, fakeFactory(&created), nil)

	c1, err := p.Acquire()
	require.NoError(t, err)
	c2, err := p.Acquire()
	require.NoError(t, err)

	assert.NotSame(t, c1, c2)
	assert.Equal(t, 0, c1.ID())
	assert.Equal(t, 1, c2.ID())
	assert.Equal(t, 2, p.InUse())

	p.Release(c1)
	p.Release(c2)
	assert.Equal(t, 2, p.Len(), "pool does not shrink")
	assert.Equal(t, 0, p.InUse())
}

func TestPoolCloseWhileInUse(t *testing.T) {
	var created []*fakeState
	p := NewPool(gpu.GfxIPVersion{Major: 8}, fakeFactory(&created), nil)

	c, err := p.Acquire()
	require.NoError(t, err)

	assert.ErrorIs(t, p.Close(), ErrContextInUse)
	assert.False(t, created[0].closed)

	p.Release(c)
	require.NoError(t, p.Close())
	assert.True(t, created[0].closed)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolFactoryError(t *testing.T) {
	boom := errors.New("no device")
	p := NewPool(gpu.GfxIPVersion{Major: 8}, func(gpu.GfxIPVersion) (backend.State, error) {
		return nil, boom
	}, nil)

	_, err := p.Acquire()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.Len())
}

func TestPoolConcurrentAcquire(t *testing.T) {
	var created []*fakeState
	p := NewPool(gpu.GfxIPVersion{Major: 8}, fakeFactory(&created), nil)

	var (
		mu   sync.Mutex
		seen = map[*Context]int{}
	)
	var g errgroup.Group
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			c, err := p.Acquire()
			if err != nil {
				return err
			}
			mu.Lock()
			seen[c]++
			if seen[c] > 1 {
				mu.Unlock()
				return errors.New("context handed out twice")
			}
			mu.Unlock()

			mu.Lock()
			seen[c]--
			mu.Unlock()
			p.Release(c)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, p.InUse())
	assert.LessOrEqual(t, p.Len(), 64)
	require.NoError(t, p.Close())
}

func TestPoolWithMockState(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockState(ctrl)
	st.EXPECT().Reset().Times(1)
	st.EXPECT().Close().Return(errors.New("close failed"))

	p := NewPool(gpu.GfxIPVersion{Major: 9}, func(gpu.GfxIPVersion) (backend.State, error) {
		return st, nil
	}, nil)

	c, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, st, c.State())
	assert.Equal(t, uint32(9), c.GfxIP().Major)
	p.Release(c)

	assert.EqualError(t, p.Close(), "close failed")
}
