package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mattjoyce/pipec/internal/backend/ref"
	"github.com/mattjoyce/pipec/internal/compiler"
	"github.com/mattjoyce/pipec/internal/config"
	"github.com/mattjoyce/pipec/internal/lock"
	"github.com/mattjoyce/pipec/internal/log"
	"github.com/mattjoyce/pipec/internal/metrics"
	"github.com/mattjoyce/pipec/internal/replace"
	"github.com/mattjoyce/pipec/internal/storage"
)

// loadConfigForTool loads the configuration named by --config, or a
// discovered one, and sets up logging from it.
func loadConfigForTool(configPath string) (*config.Config, error) {
	cfg, used, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if configPath == "" && used != "" {
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", used)
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	return cfg, nil
}

// openStore opens the persistent cache tier, or returns nil when the
// configured mode keeps nothing on disk.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	mode, err := cfg.Cache.CacheMode()
	if err != nil {
		return nil, err
	}
	if !mode.Persistent() {
		return nil, nil
	}
	path := cfg.Cache.ResolvedPath()
	st, err := storage.Open(ctx, cfg.Cache.Backend, path)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	return st, nil
}

// acquireCacheLock takes the maintenance lock of the persistent cache. It
// returns a nil lock when the cache is not persistent.
func acquireCacheLock(cfg *config.Config) (*lock.FileLock, error) {
	mode, err := cfg.Cache.CacheMode()
	if err != nil {
		return nil, err
	}
	if !mode.Persistent() {
		return nil, nil
	}
	return lock.Acquire(lock.PathFor(cfg.Cache.ResolvedPath()))
}

// newCompiler assembles a compiler from configuration. m may be nil.
func newCompiler(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*compiler.Compiler, error) {
	gfxIP, err := cfg.Compiler.GfxIPVersion()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.Cache.CacheMode()
	if err != nil {
		return nil, err
	}
	replaceMode, err := cfg.Replace.ReplaceMode()
	if err != nil {
		return nil, err
	}
	hashes, err := cfg.Replace.Hashes()
	if err != nil {
		return nil, err
	}

	var replacer *replace.Replacer
	if replaceMode != replace.ModeDisable {
		replacer = replace.New(replaceMode, replace.DirSource{Dir: cfg.Replace.Dir}, hashes)
	}

	opts := compiler.Options{
		GfxIP:              gfxIP,
		DisableGsOnChip:    cfg.Compiler.GsOnChipDisabled(),
		DisableWipFeatures: cfg.Compiler.DisableWipFeatures,
		AutoLayoutDesc:     cfg.Compiler.AutoLayoutDesc,
		EnableTimeProfiler: cfg.Compiler.EnableTimeProfiler,
		CacheMode:          mode,
		MemoryEntries:      cfg.Cache.MemoryEntries,
		Replacer:           replacer,
		Metrics:            m,
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if st != nil {
		opts.CacheStore = st
	}

	c, err := compiler.New(opts, ref.New())
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, err
	}
	return c, nil
}

