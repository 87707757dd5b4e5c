package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pipec/internal/cache"
	"github.com/mattjoyce/pipec/internal/checksum"
	"github.com/mattjoyce/pipec/internal/gpu"
	"github.com/mattjoyce/pipec/internal/replace"
	"github.com/mattjoyce/pipec/internal/storage"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. A directory is taken to
// contain config.yaml. When the directory holds a .checksums manifest the
// file must match it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse parses configuration from YAML bytes, applying defaults and
// validation as Load does.
func Parse(data []byte) (*Config, error) {
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, err
	}
	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func parseConfig(data []byte) (*Config, error) {
	expanded := interpolateEnv(string(data))
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return &cfg, nil
}

// verifyConfigHash checks path against the .checksums manifest of its
// directory. Without a manifest nothing is verified.
func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	checksums, err := LoadChecksums(dir)
	if errors.Is(err, ErrNoChecksums) {
		return nil
	}
	if err != nil {
		return err
	}

	basename := filepath.Base(path)
	expectedHash, ok := checksums.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: pipec config lock --config %s", basename, dir, path)
	}
	if err := VerifyFileHash(path, expectedHash); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"If you edited this file intentionally, run: pipec config lock --config %s", path, err, path)
	}
	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Compiler.GfxIP == "" {
		cfg.Compiler.GfxIP = defaults.Compiler.GfxIP
	}
	if cfg.Compiler.DisableGsOnChip == nil {
		cfg.Compiler.DisableGsOnChip = defaults.Compiler.DisableGsOnChip
	}

	if cfg.Cache.Mode == "" {
		cfg.Cache.Mode = defaults.Cache.Mode
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = defaults.Cache.Path
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = defaults.Cache.Backend
	}
	if cfg.Cache.MemoryEntries == 0 {
		cfg.Cache.MemoryEntries = defaults.Cache.MemoryEntries
	}

	if cfg.Replace.Mode == "" {
		cfg.Replace.Mode = defaults.Replace.Mode
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.MaxConcurrentBuilds == 0 {
		cfg.API.MaxConcurrentBuilds = defaults.API.MaxConcurrentBuilds
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values. Unset
// variables are left in place and rejected by validate where they matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if _, err := cfg.Compiler.GfxIPVersion(); err != nil {
		return fmt.Errorf("compiler.gfx_ip: %w", err)
	}

	mode, err := cfg.Cache.CacheMode()
	if err != nil {
		return fmt.Errorf("cache.mode: %w", err)
	}
	if mode.Persistent() {
		if err := unresolved("cache.path", cfg.Cache.Path); err != nil {
			return err
		}
		if cfg.Cache.Backend != storage.BackendSQLite && cfg.Cache.Backend != storage.BackendBolt {
			return fmt.Errorf("cache.backend must be %s or %s (got %q)", storage.BackendSQLite, storage.BackendBolt, cfg.Cache.Backend)
		}
	}
	if cfg.Cache.MemoryEntries < 0 {
		return fmt.Errorf("cache.memory_entries must not be negative")
	}
	if strings.ContainsAny(cfg.Cache.ExecutableName, `/\`) {
		return fmt.Errorf("cache.executable_name must be a file name (got %q)", cfg.Cache.ExecutableName)
	}

	rmode, err := cfg.Replace.ReplaceMode()
	if err != nil {
		return fmt.Errorf("replace.mode: %w", err)
	}
	if rmode != replace.ModeDisable {
		if cfg.Replace.Dir == "" {
			return fmt.Errorf("replace.dir is required when replace.mode is %s", rmode)
		}
		if err := unresolved("replace.dir", cfg.Replace.Dir); err != nil {
			return err
		}
	}
	if _, err := cfg.Replace.Hashes(); err != nil {
		return err
	}

	if cfg.API.Enabled {
		if cfg.API.MaxConcurrentBuilds < 1 {
			return fmt.Errorf("api.max_concurrent_builds must be positive")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s.token is required", field)
			}
			if err := unresolved(field+".token", tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("%s.scopes must be non-empty", field)
			}
		}
	}
	return nil
}

// GfxIPVersion parses GfxIP and checks the generation is supported.
func (c CompilerConfig) GfxIPVersion() (gpu.GfxIPVersion, error) {
	v, err := gpu.ParseGfxIP(c.GfxIP)
	if err != nil {
		return gpu.GfxIPVersion{}, err
	}
	return v, v.Validate()
}

// GsOnChipDisabled reports the effective disable_gs_on_chip setting.
func (c CompilerConfig) GsOnChipDisabled() bool {
	return c.DisableGsOnChip == nil || *c.DisableGsOnChip
}

// CacheMode parses Mode.
func (c CacheConfig) CacheMode() (cache.Mode, error) {
	return cache.ParseMode(c.Mode)
}

// ResolvedPath returns the store file. With an executable name the file is
// kept per executable next to Path.
func (c CacheConfig) ResolvedPath() string {
	if c.ExecutableName == "" {
		return c.Path
	}
	return filepath.Join(filepath.Dir(c.Path), c.ExecutableName+"-"+filepath.Base(c.Path))
}

// ReplaceMode parses Mode.
func (r ReplaceConfig) ReplaceMode() (replace.Mode, error) {
	return replace.ParseMode(r.Mode)
}

// Hashes parses PipelineHashes.
func (r ReplaceConfig) Hashes() ([]uint64, error) {
	out := make([]uint64, 0, len(r.PipelineHashes))
	for i, s := range r.PipelineHashes {
		h, err := checksum.ParseCompact(s)
		if err != nil {
			return nil, fmt.Errorf("replace.pipeline_hashes[%d]: %w", i, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// ConfigEnv names a config file or directory to use when none is given.
const ConfigEnv = "PIPEC_CONFIG"

// Discover locates a configuration: $PIPEC_CONFIG, then ./config.yaml, then
// ~/.config/pipec/config.yaml. It reports false when none exists.
func Discover() (string, bool) {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p, true
	}
	candidates := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "pipec", "config.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

// LoadOrDefault loads path, or a discovered config when path is empty. With
// nothing to load it returns the validated defaults.
func LoadOrDefault(path string) (*Config, string, error) {
	if path == "" {
		discovered, ok := Discover()
		if !ok {
			cfg := Defaults()
			if err := validate(cfg); err != nil {
				return nil, "", fmt.Errorf("invalid default configuration: %w", err)
			}
			return cfg, "", nil
		}
		path = discovered
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// Validate checks cfg as Load does. Callers that change a loaded config
// revalidate with it.
func (c *Config) Validate() error {
	return validate(c)
}
