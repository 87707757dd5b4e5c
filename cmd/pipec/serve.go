package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mattjoyce/pipec/internal/api"
	"github.com/mattjoyce/pipec/internal/auth"
	"github.com/mattjoyce/pipec/internal/log"
	"github.com/mattjoyce/pipec/internal/metrics"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	listen := fs.String("listen", "", "Override api.listen")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}
	cfg.API.Enabled = true
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid API configuration: %v\n", err)
		return 1
	}

	logger := log.WithComponent("main")
	logger.Info("pipec starting", "version", version, "gfx_ip", cfg.Compiler.GfxIP, "cache_mode", cfg.Cache.Mode)

	cacheLock, err := acquireCacheLock(cfg)
	if err != nil {
		logger.Error("failed to acquire cache lock (another instance may be running)", "error", err)
		return 1
	}
	if cacheLock != nil {
		defer func() { _ = cacheLock.Release() }()
		logger.Info("acquired cache lock", "path", cacheLock.Path())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		logger.Error("failed to register metrics", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := newCompiler(ctx, cfg, m)
	if err != nil {
		logger.Error("failed to initialize compiler", "error", err)
		return 1
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("compiler close failed", "error", err)
		}
	}()

	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:  t.Token,
			Scopes: t.Scopes,
		})
	}
	if cfg.API.Auth.APIKey == "" && len(tokens) == 0 {
		logger.Warn("API has no credentials configured; every request is allowed", "listen", cfg.API.Listen)
	}
	server := api.New(api.Config{
		Listen:              cfg.API.Listen,
		APIKey:              cfg.API.Auth.APIKey,
		Tokens:              tokens,
		MaxConcurrentBuilds: cfg.API.MaxConcurrentBuilds,
		Gatherer:            reg,
	}, c, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info("pipec serving (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		if err := <-errCh; err != nil {
			logger.Error("api shutdown failed", "error", err)
			return 1
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("api server failed", "error", err)
			return 1
		}
	}

	logger.Info("pipec stopped")
	return 0
}
