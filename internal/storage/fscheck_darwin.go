//go:build darwin

package storage

import (
	"fmt"
	"syscall"
)

func filesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	// Fstypename is a NUL-padded C string such as "apfs" or "smbfs".
	var sb []byte
	for _, c := range st.Fstypename {
		if c == 0 {
			break
		}
		sb = append(sb, byte(c))
	}
	return string(sb), nil
}
