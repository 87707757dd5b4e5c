package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem type names whose locking bolt and SQLite cannot rely on.
var remoteFilesystems = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// RemoteFilesystemError reports a cache store placed on a network share.
type RemoteFilesystemError struct {
	Path   string
	FSType string
}

func (e *RemoteFilesystemError) Error() string {
	return fmt.Sprintf("cache path %q is on network filesystem %q; the shader cache requires a local filesystem for reliable locking. Set cache.path to a local path",
		e.Path, e.FSType)
}

// fsDetector names the filesystem holding an existing path.
type fsDetector func(path string) (string, error)

// checkLocalFilesystem is called before a store file is created or opened.
func checkLocalFilesystem(path string) error {
	return checkStoreLocation(path, filesystemType)
}

func checkStoreLocation(path string, detect fsDetector) error {
	if path == "" {
		return errors.New("cache path is empty")
	}
	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve cache path %q: %w", path, err)
	}
	fsType, err := detect(dir)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}
	if isNetworkFilesystem(fsType) {
		return &RemoteFilesystemError{Path: path, FSType: fsType}
	}
	return nil
}

// existingAncestor returns path itself or its closest parent that exists.
// A new store file and its directories may not exist yet.
func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		switch _, err := os.Stat(p); {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing directory above %q", path)
		}
		p = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	return remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
}
