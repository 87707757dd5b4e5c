package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumsFile is the manifest name inside a config directory.
const ChecksumsFile = ".checksums"

// ErrNoChecksums reports a config directory without a manifest.
var ErrNoChecksums = errors.New("checksums file not found (run 'pipec config lock')")

// LockedFile is one entry of a lock report.
type LockedFile struct {
	Filename string
	Path     string
	Hash     string
}

// LockReport describes a checksum generation run.
type LockReport struct {
	ConfigDir    string
	ChecksumPath string
	Written      bool
	Files        []LockedFile
	// Missing lists requested files that do not exist. They are not locked.
	Missing []string
}

// ComputeBlake3Hash returns the hex BLAKE3 digest of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyFileHash checks a file against an expected BLAKE3 digest.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// Lock hashes files in configDir and writes the manifest. With dryRun the
// report is computed but nothing is written.
func Lock(configDir string, files []string, dryRun bool) (*LockReport, error) {
	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string, len(files)),
	}
	report := &LockReport{
		ConfigDir:    configDir,
		ChecksumPath: filepath.Join(configDir, ChecksumsFile),
	}

	names := append([]string(nil), files...)
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(configDir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			report.Missing = append(report.Missing, name)
			continue
		}
		hash, err := ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", name, err)
		}
		manifest.Hashes[name] = hash
		report.Files = append(report.Files, LockedFile{Filename: name, Path: path, Hash: hash})
	}
	if len(report.Files) == 0 {
		return nil, fmt.Errorf("nothing to lock in %s", configDir)
	}
	if dryRun {
		return report, nil
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	if err := os.WriteFile(report.ChecksumPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	report.Written = true
	return report, nil
}

// LoadChecksums reads the manifest of a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoChecksums
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// VerifyLocked checks every file named in the manifest. A locked file that
// has gone missing is an error.
func VerifyLocked(configDir string, manifest *ChecksumManifest) error {
	names := make([]string, 0, len(manifest.Hashes))
	for name := range manifest.Hashes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(configDir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("locked file %s is missing from %s", name, configDir)
		}
		if err := VerifyFileHash(path, manifest.Hashes[name]); err != nil {
			return fmt.Errorf("locked file verification failed: %w\n"+
				"If you edited this file intentionally, run: pipec config lock", err)
		}
	}
	return nil
}
