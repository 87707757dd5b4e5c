// Package storage provides the persistent tiers of the shader cache.
package storage

import (
	"context"
	"fmt"

	"github.com/mattjoyce/pipec/internal/cache"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// StoreStats summarizes a persistent tier.
type StoreStats struct {
	Entries int64 `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Store is a persistent cache tier that can also list and size itself.
type Store interface {
	cache.Store
	cache.Lister
	Stats(ctx context.Context) (StoreStats, error)
}

// Open opens the store for backend at path.
func Open(ctx context.Context, backend, path string) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLiteStore(ctx, path)
	case BackendBolt:
		return OpenBolt(path)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
