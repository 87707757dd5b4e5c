package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/pipec/internal/cache"
	"github.com/mattjoyce/pipec/internal/config"
	"github.com/mattjoyce/pipec/internal/lock"
)

type cacheStatsOutput struct {
	Mode    string `json:"mode"`
	Backend string `json:"backend,omitempty"`
	Path    string `json:"path,omitempty"`
	Entries int64  `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

func runCacheNoun(args []string) int {
	if len(args) < 1 {
		printCacheNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printCacheNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	if hasHelpFlag(actionArgs) {
		printCacheNounHelp(os.Stdout)
		return 0
	}

	switch action {
	case "stats":
		return runCacheStats(actionArgs)
	case "clear":
		return runCacheClear(actionArgs)
	case "export":
		return runCacheExport(actionArgs)
	case "import":
		return runCacheImport(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache action: %s\n", action)
		return 1
	}
}

func printCacheNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pipec cache <action> [--config PATH]")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  stats [--json]       Show entry counts and sizes of the persistent cache")
	fmt.Fprintln(w, "  clear                Drop every cached pipeline")
	fmt.Fprintln(w, "  export --out FILE    Write the cache to a blob file")
	fmt.Fprintln(w, "  import FILE          Load a blob file into the cache")
}

// persistentConfig loads the configuration for a cache command and checks
// it has a persistent cache to work on.
func persistentConfig(configPath string) (*config.Config, bool) {
	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, false
	}
	mode, err := cfg.Cache.CacheMode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid cache mode: %v\n", err)
		return nil, false
	}
	if !mode.Persistent() {
		fmt.Fprintf(os.Stderr, "cache.mode %s keeps no persistent cache\n", mode)
		return nil, false
	}
	return cfg, true
}

// importMemoryEntries sizes the memory tier of an import so blob entries are
// not evicted before they are persisted.
const importMemoryEntries = 1 << 20

// openCache opens the persistent cache described by cfg. Closing the cache
// closes its store.
func openCache(ctx context.Context, cfg *config.Config, memoryEntries int) (*cache.Cache, error) {
	mode, err := cfg.Cache.CacheMode()
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cache.Options{Mode: mode, Store: st, MemoryEntries: memoryEntries})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return c, nil
}

func runCacheStats(args []string) int {
	fs := flag.NewFlagSet("cache stats", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	cfg, ok := persistentConfig(*configPath)
	if !ok {
		return 1
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cache: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	stats, err := st.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read cache stats: %v\n", err)
		return 1
	}
	out := cacheStatsOutput{
		Mode:    cfg.Cache.Mode,
		Backend: cfg.Cache.Backend,
		Path:    cfg.Cache.ResolvedPath(),
		Entries: stats.Entries,
		Bytes:   stats.Bytes,
	}

	if *jsonOut {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("path:    %s\n", out.Path)
	fmt.Printf("backend: %s\n", out.Backend)
	fmt.Printf("mode:    %s\n", out.Mode)
	fmt.Printf("entries: %s\n", humanize.Comma(out.Entries))
	fmt.Printf("size:    %s\n", humanize.Bytes(uint64(out.Bytes)))
	return 0
}

func runCacheClear(args []string) int {
	fs := flag.NewFlagSet("cache clear", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	cfg, ok := persistentConfig(*configPath)
	if !ok {
		return 1
	}

	l, err := lock.Acquire(lock.PathFor(cfg.Cache.ResolvedPath()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock cache: %v\n", err)
		return 1
	}
	defer func() { _ = l.Release() }()

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cache: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	before, _ := st.Stats(ctx)
	if err := st.Clear(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clear cache: %v\n", err)
		return 1
	}
	fmt.Printf("Cleared %s entries (%s) from %s\n",
		humanize.Comma(before.Entries), humanize.Bytes(uint64(before.Bytes)), cfg.Cache.ResolvedPath())
	return 0
}

func runCacheExport(args []string) int {
	fs := flag.NewFlagSet("cache export", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	outPath := fs.String("out", "", "Blob file to write")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *outPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: pipec cache export --out FILE")
		return 1
	}
	cfg, ok := persistentConfig(*configPath)
	if !ok {
		return 1
	}

	ctx := context.Background()
	c, err := openCache(ctx, cfg, cfg.Cache.MemoryEntries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cache: %v\n", err)
		return 1
	}
	defer func() { _ = c.Close() }()

	f, err := os.OpenFile(*outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", *outPath, err)
		return 1
	}
	if err := c.Serialize(ctx, f); err != nil {
		_ = f.Close()
		fmt.Fprintf(os.Stderr, "Failed to export cache: %v\n", err)
		return 1
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *outPath, err)
		return 1
	}

	size := int64(0)
	if info, err := os.Stat(*outPath); err == nil {
		size = info.Size()
	}
	fmt.Printf("Exported cache to %s (%s)\n", *outPath, humanize.Bytes(uint64(size)))
	return 0
}

func runCacheImport(args []string) int {
	fs := flag.NewFlagSet("cache import", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pipec cache import FILE")
		return 1
	}
	cfg, ok := persistentConfig(*configPath)
	if !ok {
		return 1
	}

	l, err := lock.Acquire(lock.PathFor(cfg.Cache.ResolvedPath()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock cache: %v\n", err)
		return 1
	}
	defer func() { _ = l.Release() }()

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", fs.Arg(0), err)
		return 1
	}
	defer f.Close()

	ctx := context.Background()
	c, err := openCache(ctx, cfg, importMemoryEntries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cache: %v\n", err)
		return 1
	}
	defer func() { _ = c.Close() }()

	n, err := c.Deserialize(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to import %s: %v\n", fs.Arg(0), err)
		return 1
	}
	if _, err := c.Persist(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to persist imported entries: %v\n", err)
		return 1
	}
	fmt.Printf("Imported %s entries into %s\n", humanize.Comma(int64(n)), cfg.Cache.ResolvedPath())
	return 0
}
