//go:build !darwin && !linux

package storage

import "errors"

// Without detection the store refuses to open rather than risk a network share.
func filesystemType(string) (string, error) {
	return "", errors.New("cannot detect the filesystem of a cache store on this platform")
}
