package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/pipec/internal/checksum"
	"github.com/mattjoyce/pipec/internal/compiler"
	"github.com/mattjoyce/pipec/internal/log"
	"github.com/mattjoyce/pipec/internal/pipefile"
	"github.com/mattjoyce/pipec/internal/pipeline"
)

type buildResult struct {
	File     string `json:"file"`
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
	Hash     string `json:"hash,omitempty"`
	CacheHit bool   `json:"cache_hit"`
	Replaced bool   `json:"replaced"`
	Output   string `json:"output,omitempty"`
	Size     int    `json:"size,omitempty"`
	Error    string `json:"error,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Phase    string `json:"phase,omitempty"`
}

func (r *buildResult) fail(err error) {
	r.Error = err.Error()
	var se *pipeline.StageError
	if errors.As(err, &se) {
		r.Stage = se.Stage.Abbrev()
		r.Phase = string(se.Phase)
	}
}

func runBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	outDir := fs.String("out", ".", "Directory for pipeline ELF files")
	jobs := fs.Int("jobs", runtime.NumCPU(), "Pipelines to build concurrently")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() == 0 {
		printBuildHelp()
		return 1
	}
	if *jobs < 1 {
		fmt.Fprintln(os.Stderr, "Error: --jobs must be >= 1")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	specs, err := loadSpecs(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := newCompiler(ctx, cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize compiler: %v\n", err)
		return 1
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Error("compiler close failed", "error", err)
		}
	}()

	results := make([]buildResult, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*jobs)
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = buildOne(gctx, c, fs.Arg(i), spec, *outDir)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}

	if *jsonOut {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, r := range results {
			if r.Error != "" {
				fmt.Printf("FAIL %s: %s\n", r.Name, r.Error)
				continue
			}
			source := "built"
			switch {
			case r.Replaced:
				source = "replaced"
			case r.CacheHit:
				source = "cached"
			}
			fmt.Printf("OK   %s %s %s %s -> %s\n", r.Name, r.Hash, source, humanize.Bytes(uint64(r.Size)), r.Output)
		}
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d pipelines failed\n", failed, len(results))
		return 1
	}
	return 0
}

func buildOne(ctx context.Context, c *compiler.Compiler, file string, spec *pipefile.Spec, outDir string) buildResult {
	r := buildResult{File: file, Name: spec.Name}
	kind, err := spec.ResolvedKind()
	if err != nil {
		r.fail(err)
		return r
	}
	r.Kind = kind

	var out *compiler.BuildOutput
	switch kind {
	case pipefile.KindCompute:
		var info *pipeline.ComputePipelineBuildInfo
		if info, err = spec.Compute(c); err == nil {
			out, err = c.BuildComputePipeline(ctx, info)
		}
	default:
		var info *pipeline.GraphicsPipelineBuildInfo
		if info, err = spec.Graphics(c); err == nil {
			out, err = c.BuildGraphicsPipeline(ctx, info)
		}
	}
	if err != nil {
		r.fail(err)
		return r
	}

	r.Hash = checksum.FormatCompact(out.Hash)
	r.CacheHit = out.CacheHit
	r.Replaced = out.Replaced
	r.Size = len(out.Binary)
	r.Output = filepath.Join(outDir, spec.Name+".elf")
	if err := os.WriteFile(r.Output, out.Binary, 0o644); err != nil {
		r.fail(fmt.Errorf("write %s: %w", r.Output, err))
	}
	return r
}

func runHash(args []string) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() == 0 {
		printHashHelp()
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	specs, err := loadSpecs(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Hashing never reads the cache; keep the store closed.
	cfg.Cache.Mode = "runtime"
	c, err := newCompiler(context.Background(), cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize compiler: %v\n", err)
		return 1
	}
	defer func() { _ = c.Close() }()

	results := make([]buildResult, 0, len(specs))
	failed := 0
	for i, spec := range specs {
		r := buildResult{File: fs.Arg(i), Name: spec.Name}
		hash, kind, err := hashOne(c, spec)
		if err != nil {
			r.fail(err)
			failed++
		} else {
			r.Kind = kind
			r.Hash = checksum.FormatCompact(hash)
		}
		results = append(results, r)
	}

	if *jsonOut {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, r := range results {
			if r.Error != "" {
				fmt.Printf("%s\tERROR %s\n", r.Name, r.Error)
				continue
			}
			fmt.Printf("%s\t%s\t%s\n", r.Name, r.Kind, r.Hash)
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func hashOne(c *compiler.Compiler, spec *pipefile.Spec) (uint64, string, error) {
	kind, err := spec.ResolvedKind()
	if err != nil {
		return 0, "", err
	}
	if kind == pipefile.KindCompute {
		info, err := spec.Compute(c)
		if err != nil {
			return 0, kind, err
		}
		hash, err := c.ComputePipelineHash(info)
		return hash, kind, err
	}
	info, err := spec.Graphics(c)
	if err != nil {
		return 0, kind, err
	}
	hash, err := c.GraphicsPipelineHash(info)
	return hash, kind, err
}

// loadSpecs reads every pipeline file, failing on the first bad one. Names
// must be unique since they name the output files.
func loadSpecs(paths []string) ([]*pipefile.Spec, error) {
	specs := make([]*pipefile.Spec, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		spec, err := pipefile.LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
		if prev, ok := seen[spec.Name]; ok {
			return nil, fmt.Errorf("pipeline name %q used by both %s and %s", spec.Name, prev, p)
		}
		seen[spec.Name] = p
		specs = append(specs, spec)
	}
	return specs, nil
}
