package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestServiceSetupOnce(t *testing.T) {
	var setups, teardowns int
	s := NewService(
		func() error { setups++; return nil },
		func() error { teardowns++; return nil },
	)

	require.NoError(t, s.Retain())
	require.NoError(t, s.Retain())
	assert.Equal(t, 1, setups)
	assert.Equal(t, 2, s.Refs())

	require.NoError(t, s.Release())
	assert.Equal(t, 0, teardowns)
	require.NoError(t, s.Release())
	assert.Equal(t, 1, teardowns)

	// A later retain sets up again.
	require.NoError(t, s.Retain())
	assert.Equal(t, 2, setups)
}

func TestServiceSetupFailure(t *testing.T) {
	boom := errors.New("boom")
	s := NewService(func() error { return boom }, nil)

	assert.ErrorIs(t, s.Retain(), boom)
	assert.Equal(t, 0, s.Refs())
	assert.ErrorIs(t, s.Release(), ErrNotRetained)
}

func TestServiceConcurrent(t *testing.T) {
	var setups int
	s := NewService(func() error { setups++; return nil }, nil)

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(s.Retain)
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, setups)
	assert.Equal(t, 32, s.Refs())
}

func TestDefaultService(t *testing.T) {
	assert.Same(t, DefaultService(), DefaultService())
}
