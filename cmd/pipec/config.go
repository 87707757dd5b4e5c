package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pipec/internal/config"
)

type configCheckOutput struct {
	Valid  bool   `json:"valid"`
	Config string `json:"config,omitempty"`
	GfxIP  string `json:"gfx_ip,omitempty"`
	Cache  string `json:"cache,omitempty"`
	Error  string `json:"error,omitempty"`
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	if hasHelpFlag(actionArgs) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pipec config <action> [--config PATH]")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  check [--json]             Validate syntax and integrity")
	fmt.Fprintln(w, "  lock [--dry-run] [-v]      Authorize current state (update integrity hashes)")
	fmt.Fprintln(w, "  show                       Print the effective configuration")
}

// resolveConfigFile returns the config file behind --config, or a
// discovered one.
func resolveConfigFile(configPath string) (string, error) {
	if configPath == "" {
		discovered, ok := config.Discover()
		if !ok {
			return "", fmt.Errorf("no configuration found (use --config or $%s)", config.ConfigEnv)
		}
		configPath = discovered
	}
	info, err := os.Stat(configPath)
	if err != nil {
		return "", fmt.Errorf("config not found: %s", configPath)
	}
	if info.IsDir() {
		configPath = filepath.Join(configPath, "config.yaml")
	}
	return configPath, nil
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	out := configCheckOutput{}
	path, err := resolveConfigFile(*configPath)
	var cfg *config.Config
	if err == nil {
		out.Config = path
		cfg, err = config.Load(path)
	}
	if err != nil {
		out.Error = err.Error()
	} else {
		out.Valid = true
		out.GfxIP = cfg.Compiler.GfxIP
		out.Cache = cfg.Cache.Mode
		if mode, _ := cfg.Cache.CacheMode(); mode.Persistent() {
			out.Cache += " (" + cfg.Cache.Backend + ": " + cfg.Cache.ResolvedPath() + ")"
		}
	}

	if *jsonOut {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else if out.Valid {
		fmt.Printf("Configuration valid: %s\n", out.Config)
		fmt.Printf("  gfx_ip: %s\n", out.GfxIP)
		fmt.Printf("  cache:  %s\n", out.Cache)
	} else {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %s\n", out.Error)
	}

	if !out.Valid {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	path, err := resolveConfigFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config: %v\n", err)
		return 1
	}
	dir := filepath.Dir(path)

	// Locking a config that does not parse would authorize a broken state.
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return 1
	}
	if _, err := config.Parse(data); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock invalid config: %v\n", err)
		return 1
	}

	report, err := config.Lock(dir, []string{filepath.Base(path)}, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config in %s: %v\n", dir, err)
		return 1
	}

	if isVerbose {
		fmt.Printf("Processing directory: %s\n", report.ConfigDir)
		for _, f := range report.Files {
			fmt.Printf("  HASH %s: %s\n", f.Filename, f.Hash)
		}
		if dryRun {
			fmt.Printf("  DRY-RUN %s: %s (not written)\n", config.ChecksumsFile, report.ChecksumPath)
		} else {
			fmt.Printf("  WROTE %s: %s\n", config.ChecksumsFile, report.ChecksumPath)
		}
	}
	if dryRun {
		fmt.Printf("Dry run: would lock %d file(s) in %s\n", len(report.Files), dir)
		return 0
	}
	fmt.Printf("Locked %d file(s) in %s\n", len(report.Files), dir)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	redactSecrets(cfg)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func redactSecrets(cfg *config.Config) {
	if cfg.API.Auth.APIKey != "" {
		cfg.API.Auth.APIKey = "[REDACTED]"
	}
	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = "[REDACTED]"
	}
}
