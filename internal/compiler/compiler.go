// Package compiler orchestrates pipeline builds: it validates and hashes a
// build description, consults the shader cache, and on a miss drives the
// backend through translation, lowering, patching, stage merging, code
// generation and finalization on a pooled compilation context.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/mattjoyce/pipec/internal/backend"
	"github.com/mattjoyce/pipec/internal/cache"
	"github.com/mattjoyce/pipec/internal/checksum"
	"github.com/mattjoyce/pipec/internal/compctx"
	"github.com/mattjoyce/pipec/internal/gpu"
	"github.com/mattjoyce/pipec/internal/log"
	"github.com/mattjoyce/pipec/internal/metrics"
	"github.com/mattjoyce/pipec/internal/replace"
)

// Options configures a Compiler.
type Options struct {
	GfxIP gpu.GfxIPVersion

	// DisableGsOnChip keeps geometry shader rings off-chip.
	DisableGsOnChip bool
	// DisableWipFeatures rejects tessellation and geometry stages and
	// modules using capabilities outside the supported graphics set.
	DisableWipFeatures bool
	// AutoLayoutDesc skips synthesizing a fragment shader for pipelines
	// without one.
	AutoLayoutDesc     bool
	EnableTimeProfiler bool

	CacheMode     cache.Mode
	CacheStore    cache.Store
	MemoryEntries int

	// Replacer is optional.
	Replacer *replace.Replacer
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Service defaults to backend.DefaultService().
	Service *backend.Service
}

// Compiler is safe for concurrent builds.
type Compiler struct {
	opts     Options
	gfxIP    gpu.GfxIPVersion
	property gpu.Property

	be       backend.Backend
	service  *backend.Service
	pool     *compctx.Pool
	cache    *cache.Cache
	replacer *replace.Replacer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New returns a compiler for opts.GfxIP. The internal cache takes ownership
// of opts.CacheStore. One compilation context is created up front so backend
// setup failures surface here instead of in the first build.
func New(opts Options, be backend.Backend) (*Compiler, error) {
	property, err := gpu.NewProperty(opts.GfxIP)
	if err != nil {
		return nil, err
	}

	service := opts.Service
	if service == nil {
		service = backend.DefaultService()
	}
	if err := service.Retain(); err != nil {
		return nil, fmt.Errorf("initialize backend: %w", err)
	}

	internal, err := cache.New(cache.Options{
		Mode:          opts.CacheMode,
		Store:         opts.CacheStore,
		MemoryEntries: opts.MemoryEntries,
		Metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, multierr.Append(err, service.Release())
	}

	c := &Compiler{
		opts:     opts,
		gfxIP:    opts.GfxIP,
		property: property,
		be:       be,
		service:  service,
		pool:     compctx.NewPool(opts.GfxIP, be.NewState, opts.Metrics),
		cache:    internal,
		replacer: opts.Replacer,
		metrics:  opts.Metrics,
		logger:   log.WithComponent("compiler"),
	}

	pc, err := c.pool.Acquire()
	if err != nil {
		return nil, multierr.Combine(err, internal.Close(), service.Release())
	}
	c.pool.Release(pc)

	c.logger.Info("compiler ready",
		"gfx_ip", opts.GfxIP.String(),
		"cache_mode", opts.CacheMode.String(),
		"gs_on_chip", !opts.DisableGsOnChip && property.SupportsGsOnChip())
	return c, nil
}

// GfxIP returns the target graphics IP.
func (c *Compiler) GfxIP() gpu.GfxIPVersion { return c.gfxIP }

// Property returns the hardware properties of the target.
func (c *Compiler) Property() gpu.Property { return c.property }

// Cache returns the internal shader cache.
func (c *Compiler) Cache() *cache.Cache { return c.cache }

// PoolSize returns the number of compilation contexts created so far.
func (c *Compiler) PoolSize() int { return c.pool.Len() }

// CreateInfo configures a cache created by CreateShaderCache.
type CreateInfo struct {
	// InitialData is a blob produced by cache.Serialize. It may be empty.
	InitialData []byte
}

// CreateShaderCache returns a runtime cache for callers to pass in build
// descriptions. It is independent of the internal cache.
func (c *Compiler) CreateShaderCache(info CreateInfo) (*cache.Cache, error) {
	sc, err := cache.New(cache.Options{Mode: cache.ModeRuntime, Metrics: c.metrics})
	if err != nil {
		return nil, err
	}
	if len(info.InitialData) > 0 {
		n, err := sc.Deserialize(bytes.NewReader(info.InitialData))
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("load initial cache data: %w", err), sc.Close())
		}
		c.logger.Debug("shader cache created", "entries", n)
	}
	return sc, nil
}

// DestroyShaderCache closes a cache returned by CreateShaderCache.
func (c *Compiler) DestroyShaderCache(sc *cache.Cache) error {
	if sc == nil || sc == c.cache {
		return nil
	}
	return sc.Close()
}

// Close releases the compiler. It fails if a build is still running.
func (c *Compiler) Close() error {
	if err := c.pool.Close(); err != nil {
		return err
	}
	return multierr.Combine(
		c.cache.Close(),
		c.service.Release(),
	)
}

// selectCache picks the cache a build uses: the caller's when given, unless
// the internal cache is forced.
func (c *Compiler) selectCache(external *cache.Cache) *cache.Cache {
	if external == nil || c.cache.Mode() == cache.ModeForceDisk {
		return c.cache
	}
	return external
}

// lookup returns a cached binary, or a handle the caller must resolve with
// Insert or Reset. An entry that cannot be read back is looked up once more;
// if that fails too the build proceeds without a reservation.
func (c *Compiler) lookup(ctx context.Context, logger *slog.Logger, sc *cache.Cache, key checksum.Hash) ([]byte, *cache.Handle, error) {
	for attempt := 0; attempt < 2; attempt++ {
		state, h, err := sc.FindOrReserve(ctx, key)
		if err != nil {
			return nil, nil, fmt.Errorf("shader cache lookup: %w", err)
		}
		if state != cache.Ready {
			return nil, h, nil
		}
		bin, err := sc.Retrieve(h)
		if err == nil {
			return bin, nil, nil
		}
		logger.Warn("cached pipeline unreadable, rebuilding", "attempt", attempt+1, "error", err)
	}
	return nil, nil, nil
}

// resolve commits or abandons the reservation of a finished build.
func (c *Compiler) resolve(ctx context.Context, logger *slog.Logger, sc *cache.Cache, h *cache.Handle, bin []byte, buildErr error) {
	if h == nil {
		return
	}
	var err error
	if buildErr == nil {
		err = sc.Insert(ctx, h, bin)
	} else {
		err = sc.Reset(h)
	}
	if err != nil {
		logger.Error("failed to resolve cache reservation", "error", err)
	}
}
