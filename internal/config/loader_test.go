package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/pipec/internal/cache"
	"github.com/mattjoyce/pipec/internal/replace"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
compiler:
  gfx_ip: "9.0.0"
cache:
  mode: runtime
`,
			checkFn: func(t *testing.T, cfg *Config) {
				v, err := cfg.Compiler.GfxIPVersion()
				if err != nil || v.Major != 9 {
					t.Errorf("gfx_ip not parsed: %v %v", v, err)
				}
				mode, _ := cfg.Cache.CacheMode()
				if mode != cache.ModeRuntime {
					t.Errorf("cache.mode = %v, want runtime", mode)
				}
				if cfg.Service.Name != "pipec" {
					t.Error("default service name not applied")
				}
				if cfg.Cache.MemoryEntries != 4096 {
					t.Error("default memory_entries not applied")
				}
				if !cfg.Compiler.GsOnChipDisabled() {
					t.Error("gs on-chip should default to disabled")
				}
			},
		},
		{
			name: "explicit gs on-chip",
			yaml: `
compiler:
  gfx_ip: "8.1"
  disable_gs_on_chip: false
  disable_wip_features: true
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Compiler.GsOnChipDisabled() {
					t.Error("disable_gs_on_chip: false was overridden")
				}
				if !cfg.Compiler.DisableWipFeatures {
					t.Error("disable_wip_features not parsed")
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
cache:
  mode: disk
  path: ${PIPEC_TEST_CACHE}/cache.db
  backend: bolt
`,
			env: map[string]string{"PIPEC_TEST_CACHE": "/tmp/pipec-test"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Cache.Path != "/tmp/pipec-test/cache.db" {
					t.Errorf("cache.path = %q", cfg.Cache.Path)
				}
			},
		},
		{
			name: "replacement with pipeline hashes",
			yaml: `
replace:
  mode: pipeline_hash
  dir: /srv/overrides
  pipeline_hashes: ["0x00000000DEADBEEF", "cafe"]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				mode, _ := cfg.Replace.ReplaceMode()
				if mode != replace.ModeShaderPipelineHash {
					t.Errorf("replace.mode = %v", mode)
				}
				hashes, err := cfg.Replace.Hashes()
				if err != nil {
					t.Fatal(err)
				}
				if len(hashes) != 2 || hashes[0] != 0xDEADBEEF || hashes[1] != 0xCAFE {
					t.Errorf("pipeline_hashes = %x", hashes)
				}
			},
		},
		{
			name:    "unsupported gfx ip",
			yaml:    "compiler:\n  gfx_ip: \"10.1\"\n",
			wantErr: "compiler.gfx_ip",
		},
		{
			name:    "unknown cache mode",
			yaml:    "cache:\n  mode: sometimes\n",
			wantErr: "cache.mode",
		},
		{
			name:    "unknown cache backend",
			yaml:    "cache:\n  backend: redis\n",
			wantErr: "cache.backend",
		},
		{
			name:    "replacement without dir",
			yaml:    "replace:\n  mode: shader_hash\n",
			wantErr: "replace.dir is required",
		},
		{
			name:    "bad pipeline hash",
			yaml:    "replace:\n  pipeline_hashes: [\"zz\"]\n",
			wantErr: "replace.pipeline_hashes[0]",
		},
		{
			name: "unset api key variable",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${PIPEC_TEST_UNSET_KEY}
`,
			wantErr: "PIPEC_TEST_UNSET_KEY",
		},
		{
			name: "token without scopes",
			yaml: `
api:
  enabled: true
  auth:
    tokens:
      - token: abc
`,
			wantErr: "scopes must be non-empty",
		},
		{
			name:    "bad yaml",
			yaml:    "service: [",
			wantErr: "failed to parse config YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("service:\n  log_level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.Service.LogLevel)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load() of a directory without config.yaml succeeded")
	}
}

func TestLoadVerifiesChecksums(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("compiler:\n  gfx_ip: \"9\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Lock(dir, []string{"config.yaml"}, false); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked config error = %v", err)
	}

	if err := os.WriteFile(path, []byte("compiler:\n  gfx_ip: \"8\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "pipec config lock") {
		t.Fatalf("Load() of edited config error = %v, want lock hint", err)
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("PIPEC_TEST_HOME", "/home/pipec")

	tests := []struct {
		input string
		want  string
	}{
		{"${PIPEC_TEST_HOME}/cache", "/home/pipec/cache"},
		{"plain", "plain"},
		{"${PIPEC_TEST_MISSING}", "${PIPEC_TEST_MISSING}"},
		{"$PIPEC_TEST_HOME", "$PIPEC_TEST_HOME"},
	}
	for _, tt := range tests {
		if got := interpolateEnv(tt.input); got != tt.want {
			t.Errorf("interpolateEnv(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestResolvedPath(t *testing.T) {
	c := CacheConfig{Path: "/var/cache/pipec/cache.db"}
	if got := c.ResolvedPath(); got != "/var/cache/pipec/cache.db" {
		t.Errorf("ResolvedPath() = %q", got)
	}
	c.ExecutableName = "game"
	if got := c.ResolvedPath(); got != "/var/cache/pipec/game-cache.db" {
		t.Errorf("ResolvedPath() = %q", got)
	}
}

func TestDefaultCachePath(t *testing.T) {
	t.Setenv(CacheDirEnv, "/data")
	if got := DefaultCachePath(); got != "/data/.pipec/cache.db" {
		t.Errorf("DefaultCachePath() = %q", got)
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := validate(Defaults()); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  mode: runtime\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigEnv, path)
	cfg, used, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if used != path || cfg.Cache.Mode != "runtime" {
		t.Errorf("LoadOrDefault() used %q mode %q", used, cfg.Cache.Mode)
	}

	t.Setenv(ConfigEnv, filepath.Join(dir, "missing.yaml"))
	if _, _, err := LoadOrDefault(""); err == nil {
		t.Error("LoadOrDefault() with a missing $PIPEC_CONFIG succeeded")
	}
}
