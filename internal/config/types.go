package config

import (
	"os"
	"path/filepath"
)

// Config represents the complete pipec configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Compiler CompilerConfig `yaml:"compiler"`
	Cache    CacheConfig    `yaml:"cache"`
	Replace  ReplaceConfig  `yaml:"replace"`
	API      APIConfig      `yaml:"api,omitempty"`
}

// ServiceConfig defines core process settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// CompilerConfig defines the target hardware and build switches.
type CompilerConfig struct {
	// GfxIP is "major.minor.stepping".
	GfxIP              string `yaml:"gfx_ip"`
	DisableGsOnChip    *bool  `yaml:"disable_gs_on_chip,omitempty"`
	DisableWipFeatures bool   `yaml:"disable_wip_features"`
	AutoLayoutDesc     bool   `yaml:"auto_layout_desc"`
	EnableTimeProfiler bool   `yaml:"enable_time_profiler"`
}

// CacheConfig defines the internal shader cache.
type CacheConfig struct {
	Mode          string `yaml:"mode"`
	Path          string `yaml:"path"`
	Backend       string `yaml:"backend"`
	MemoryEntries int    `yaml:"memory_entries"`
	// ExecutableName keys the persistent cache per client application.
	ExecutableName string `yaml:"executable_name,omitempty"`
}

// ReplaceConfig defines shader replacement.
type ReplaceConfig struct {
	Mode           string   `yaml:"mode"`
	Dir            string   `yaml:"dir"`
	PipelineHashes []string `yaml:"pipeline_hashes,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Listen              string        `yaml:"listen"`
	MaxConcurrentBuilds int           `yaml:"max_concurrent_builds"`
	Auth                APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings. With neither an
// api_key nor tokens the API is open.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// ChecksumManifest represents the .checksums file format.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// CacheDirEnv overrides the directory of the persistent cache.
const CacheDirEnv = "AMD_SHADER_DISK_CACHE_PATH"

// DefaultCachePath returns the persistent cache location: under
// $AMD_SHADER_DISK_CACHE_PATH when set, else under the home directory.
func DefaultCachePath() string {
	base := os.Getenv(CacheDirEnv)
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = home
		}
	}
	return filepath.Join(base, ".pipec", "cache.db")
}

// Defaults returns a Config with the defaults of every section.
func Defaults() *Config {
	disableGsOnChip := true
	return &Config{
		Service: ServiceConfig{
			Name:      "pipec",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Compiler: CompilerConfig{
			GfxIP:           "8.0.0",
			DisableGsOnChip: &disableGsOnChip,
		},
		Cache: CacheConfig{
			Mode:          "disk",
			Path:          DefaultCachePath(),
			Backend:       "sqlite",
			MemoryEntries: 4096,
		},
		Replace: ReplaceConfig{
			Mode: "disable",
		},
		API: APIConfig{
			Enabled:             false,
			Listen:              "127.0.0.1:8080",
			MaxConcurrentBuilds: 4,
		},
	}
}
