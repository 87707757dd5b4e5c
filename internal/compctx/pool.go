// Package compctx pools compilation contexts. A context wraps one backend
// session and is reused across builds to avoid repeated backend setup.
package compctx

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/mattjoyce/pipec/internal/backend"
	"github.com/mattjoyce/pipec/internal/gpu"
	"github.com/mattjoyce/pipec/internal/metrics"
)

var (
	// ErrContextInUse is returned by Close while a build holds a context.
	ErrContextInUse = errors.New("compilation context in use")

	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("context pool closed")
)

// Context is one pooled compiler session.
type Context struct {
	id    int
	gfxIP gpu.GfxIPVersion
	state backend.State
	inUse bool
}

// ID returns the index of c in its pool.
func (c *Context) ID() int { return c.id }

func (c *Context) GfxIP() gpu.GfxIPVersion { return c.gfxIP }

// State returns the backend state of c.
func (c *Context) State() backend.State { return c.state }

// StateFactory creates backend state for a new context.
type StateFactory func(gfxIP gpu.GfxIPVersion) (backend.State, error)

// Pool hands out contexts. Contexts are stored in an index-addressed arena;
// free ones are tracked on a stack of indices. The pool never shrinks before
// Close.
type Pool struct {
	gfxIP    gpu.GfxIPVersion
	newState StateFactory
	metrics  *metrics.Metrics

	mu       sync.Mutex
	contexts []*Context
	free     []int
	closed   bool
}

// NewPool returns an empty pool creating contexts for gfxIP. m may be nil.
func NewPool(gfxIP gpu.GfxIPVersion, newState StateFactory, m *metrics.Metrics) *Pool {
	return &Pool{gfxIP: gfxIP, newState: newState, metrics: m}
}

// Acquire returns a free context marked in use, creating one if none is
// free. Backend state for a new context is created outside the pool lock.
func (p *Pool) Acquire() (*Context, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.free); n > 0 {
		c := p.contexts[p.free[n-1]]
		p.free = p.free[:n-1]
		c.inUse = true
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	st, err := p.newState(p.gfxIP)
	if err != nil {
		return nil, fmt.Errorf("create compilation context: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, multierr.Append(ErrPoolClosed, st.Close())
	}
	c := &Context{id: len(p.contexts), gfxIP: p.gfxIP, state: st, inUse: true}
	p.contexts = append(p.contexts, c)
	p.metrics.SetPoolSize(len(p.contexts))
	return c, nil
}

// Release returns c to the pool. Its backend state is reset, not destroyed.
// A second Release of the same context is ignored.
func (p *Pool) Release(c *Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !c.inUse {
		return
	}
	c.state.Reset()
	c.inUse = false
	p.free = append(p.free, c.id)
}

// Len returns the number of contexts in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}

// InUse returns the number of contexts currently acquired.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts) - len(p.free)
}

// Close destroys every context. It fails without destroying anything while
// a context is still acquired.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if busy := len(p.contexts) - len(p.free); busy > 0 {
		return fmt.Errorf("%d of %d: %w", busy, len(p.contexts), ErrContextInUse)
	}

	var err error
	for _, c := range p.contexts {
		err = multierr.Append(err, c.state.Close())
	}
	p.contexts = nil
	p.free = nil
	p.closed = true
	p.metrics.SetPoolSize(0)
	return err
}
