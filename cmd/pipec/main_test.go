package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/pipec/internal/spirv"
	"github.com/mattjoyce/pipec/internal/spirv/spirvtest"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCLIForTest(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

func writeTestFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeWorkspace writes a config with a bolt-backed disk cache and one
// graphics pipeline description.
func writeWorkspace(t *testing.T) (configPath, pipelinePath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = writeTestFile(t, dir, "config.yaml", []byte(fmt.Sprintf(`
service:
  log_level: error
compiler:
  gfx_ip: "9"
cache:
  mode: disk
  backend: bolt
  path: %s
`, filepath.Join(dir, "cache", "cache.db"))))

	writeTestFile(t, dir, "tri.vert.spv", spirvtest.Shader(spirv.ModelVertex, 1))
	writeTestFile(t, dir, "tri.frag.spv", spirvtest.Shader(spirv.ModelFragment, 2))
	pipelinePath = writeTestFile(t, dir, "tri.yaml", []byte(`
name: tri
stages:
  vs:
    file: tri.vert.spv
  fs:
    file: tri.frag.spv
`))
	return configPath, pipelinePath
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef0123", "2026-01-02T03:04:05.123+10:00")

	code, stdout, stderr := runCLIForTest(t, "version", "--json")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, stdout)
	}
	want := versionInfo{Version: "1.2.3", Commit: "0123456789ab", BuildTime: "2026-01-01T17:04:05Z"}
	if info != want {
		t.Errorf("version = %+v, want %+v", info, want)
	}
}

func TestRunVersionRejectsArgs(t *testing.T) {
	code, _, stderr := runCLIForTest(t, "version", "extra")
	if code != 1 || !strings.Contains(stderr, "Usage: pipec version") {
		t.Errorf("exit code = %d, stderr = %q", code, stderr)
	}
}

func TestRunCLIUsage(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{"no args", nil, 1, "Usage:"},
		{"help", []string{"help"}, 0, "Cached GPU pipeline compiler"},
		{"unknown", []string{"frobnicate"}, 1, "Usage:"},
		{"cache help", []string{"cache", "help"}, 0, ""},
		{"build help", []string{"build", "--help"}, 0, "Usage: pipec build"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, _ := runCLIForTest(t, tt.args...)
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", code, tt.wantCode)
			}
			if !strings.Contains(stdout, tt.wantOut) {
				t.Errorf("stdout = %q, want it to contain %q", stdout, tt.wantOut)
			}
		})
	}
}

func TestBuildUsesPersistentCache(t *testing.T) {
	configPath, pipelinePath := writeWorkspace(t)
	outDir := t.TempDir()

	build := func() buildResult {
		t.Helper()
		code, stdout, stderr := runCLIForTest(t, "build", "--config", configPath, "--out", outDir, "--json", pipelinePath)
		if code != 0 {
			t.Fatalf("build exit code = %d, stderr = %s", code, stderr)
		}
		var results []buildResult
		if err := json.Unmarshal([]byte(stdout), &results); err != nil {
			t.Fatalf("build output is not JSON: %v\n%s", err, stdout)
		}
		if len(results) != 1 {
			t.Fatalf("got %d results, want 1", len(results))
		}
		return results[0]
	}

	first := build()
	if first.CacheHit {
		t.Error("first build was a cache hit")
	}
	elf, err := os.ReadFile(filepath.Join(outDir, "tri.elf"))
	if err != nil {
		t.Fatalf("pipeline ELF not written: %v", err)
	}
	if len(elf) != first.Size || first.Size == 0 {
		t.Errorf("ELF size = %d, reported %d", len(elf), first.Size)
	}

	second := build()
	if !second.CacheHit {
		t.Error("second build missed the persistent cache")
	}
	if second.Hash != first.Hash {
		t.Errorf("hash changed between builds: %s vs %s", first.Hash, second.Hash)
	}

	code, stdout, stderr := runCLIForTest(t, "hash", "--config", configPath, pipelinePath)
	if code != 0 {
		t.Fatalf("hash exit code = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stdout, first.Hash) {
		t.Errorf("hash output %q does not contain %s", stdout, first.Hash)
	}
}

func TestBuildReportsFailures(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestFile(t, dir, "config.yaml", []byte("service:\n  log_level: error\ncompiler:\n  gfx_ip: \"9\"\ncache:\n  mode: runtime\n"))
	writeTestFile(t, dir, "bad.spv", []byte("not a shader"))
	pipelinePath := writeTestFile(t, dir, "bad.yaml", []byte("stages:\n  cs:\n    file: bad.spv\n"))

	code, stdout, stderr := runCLIForTest(t, "build", "--config", configPath, "--out", t.TempDir(), pipelinePath)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout, "FAIL bad") {
		t.Errorf("stdout = %q, want a FAIL line", stdout)
	}
	if !strings.Contains(stderr, "1 of 1 pipelines failed") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestBuildRejectsDuplicateNames(t *testing.T) {
	configPath, pipelinePath := writeWorkspace(t)
	code, _, stderr := runCLIForTest(t, "build", "--config", configPath, pipelinePath, pipelinePath)
	if code != 1 || !strings.Contains(stderr, `pipeline name "tri"`) {
		t.Errorf("exit code = %d, stderr = %q", code, stderr)
	}
}

func cacheEntries(t *testing.T, configPath string) int64 {
	t.Helper()
	code, stdout, stderr := runCLIForTest(t, "cache", "stats", "--config", configPath, "--json")
	if code != 0 {
		t.Fatalf("cache stats exit code = %d, stderr = %s", code, stderr)
	}
	var out cacheStatsOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("cache stats output is not JSON: %v\n%s", err, stdout)
	}
	return out.Entries
}

func TestCacheExportClearImport(t *testing.T) {
	configPath, pipelinePath := writeWorkspace(t)
	if code, _, stderr := runCLIForTest(t, "build", "--config", configPath, "--out", t.TempDir(), pipelinePath); code != 0 {
		t.Fatalf("build exit code = %d, stderr = %s", code, stderr)
	}
	if n := cacheEntries(t, configPath); n != 1 {
		t.Fatalf("entries after build = %d, want 1", n)
	}

	blob := filepath.Join(t.TempDir(), "cache.bin")
	if code, _, stderr := runCLIForTest(t, "cache", "export", "--config", configPath, "--out", blob); code != 0 {
		t.Fatalf("export exit code = %d, stderr = %s", code, stderr)
	}
	if code, _, stderr := runCLIForTest(t, "cache", "clear", "--config", configPath); code != 0 {
		t.Fatalf("clear exit code = %d, stderr = %s", code, stderr)
	}
	if n := cacheEntries(t, configPath); n != 0 {
		t.Fatalf("entries after clear = %d, want 0", n)
	}

	code, stdout, stderr := runCLIForTest(t, "cache", "import", "--config", configPath, blob)
	if code != 0 {
		t.Fatalf("import exit code = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stdout, "Imported 1 entries") {
		t.Errorf("import output = %q", stdout)
	}
	if n := cacheEntries(t, configPath); n != 1 {
		t.Errorf("entries after import = %d, want 1", n)
	}
}

func TestCacheCommandsNeedPersistentCache(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestFile(t, dir, "config.yaml", []byte("cache:\n  mode: runtime\n"))
	code, _, stderr := runCLIForTest(t, "cache", "stats", "--config", configPath)
	if code != 1 || !strings.Contains(stderr, "keeps no persistent cache") {
		t.Errorf("exit code = %d, stderr = %q", code, stderr)
	}
}

func TestConfigLockAndCheck(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "config.yaml", []byte("compiler:\n  gfx_ip: \"8\"\ncache:\n  mode: runtime\n"))

	code, stdout, stderr := runCLIForTest(t, "config", "lock", "--config", dir, "--dry-run", "-v")
	if code != 0 {
		t.Fatalf("dry-run lock exit code = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stdout, "DRY-RUN .checksums") {
		t.Errorf("dry-run output = %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, ".checksums")); !os.IsNotExist(err) {
		t.Fatal("dry run wrote .checksums")
	}

	if code, _, stderr := runCLIForTest(t, "config", "lock", "--config", dir); code != 0 {
		t.Fatalf("lock exit code = %d, stderr = %s", code, stderr)
	}
	code, stdout, _ = runCLIForTest(t, "config", "check", "--config", path)
	if code != 0 || !strings.Contains(stdout, "Configuration valid") {
		t.Fatalf("check exit code = %d, stdout = %q", code, stdout)
	}

	writeTestFile(t, dir, "config.yaml", []byte("compiler:\n  gfx_ip: \"9\"\ncache:\n  mode: runtime\n"))
	code, stdout, _ = runCLIForTest(t, "config", "check", "--config", path, "--json")
	if code != 1 {
		t.Fatalf("check of edited config exit code = %d, want 1", code)
	}
	var out configCheckOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("check output is not JSON: %v\n%s", err, stdout)
	}
	if out.Valid || !strings.Contains(out.Error, "pipec config lock") {
		t.Errorf("check = %+v, want an integrity failure", out)
	}
}

func TestConfigLockRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "config.yaml", []byte("cache:\n  mode: sometimes\n"))
	code, _, stderr := runCLIForTest(t, "config", "lock", "--config", dir)
	if code != 1 || !strings.Contains(stderr, "Refusing to lock") {
		t.Errorf("exit code = %d, stderr = %q", code, stderr)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "config.yaml", []byte(`
cache:
  mode: runtime
api:
  enabled: true
  auth:
    api_key: hunter2
    tokens:
      - token: s3cret
        scopes: ["cache:ro"]
`))
	code, stdout, stderr := runCLIForTest(t, "config", "show", "--config", path)
	if code != 0 {
		t.Fatalf("show exit code = %d, stderr = %s", code, stderr)
	}
	if strings.Contains(stdout, "hunter2") || strings.Contains(stdout, "s3cret") {
		t.Errorf("config show leaked a secret:\n%s", stdout)
	}
	if !strings.Contains(stdout, "[REDACTED]") {
		t.Errorf("config show output = %q", stdout)
	}
}

func TestListenURL(t *testing.T) {
	tests := map[string]string{
		":8080":          "http://127.0.0.1:8080",
		"127.0.0.1:9000": "http://127.0.0.1:9000",
		"0.0.0.0:80":     "http://0.0.0.0:80",
	}
	for in, want := range tests {
		if got := listenURL(in); got != want {
			t.Errorf("listenURL(%q) = %q, want %q", in, got, want)
		}
	}
}
