package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"

	"github.com/mattjoyce/pipec/internal/cache"
)

var shaderCacheBucket = []byte("shader_cache")

// sumSize is the length of the blake3 prefix stored before each value.
const sumSize = 32

// BoltStore is a cache.Store over a bolt database. Values are stored as the
// blake3-256 of the data followed by the data.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (and creates if needed) the bolt database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := checkLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(shaderCacheBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(shaderCacheBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		d, err := unpackValue(v)
		if err != nil {
			return err
		}
		// Values are only valid for the life of the transaction.
		data = append([]byte(nil), d...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return data, found, nil
}

func (s *BoltStore) Put(_ context.Context, key string, data []byte) error {
	sum := blake3.Sum256(data)
	v := make([]byte, 0, sumSize+len(data))
	v = append(v, sum[:]...)
	v = append(v, data...)

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(shaderCacheBucket).Put([]byte(key), v)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(shaderCacheBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Clear(_ context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(shaderCacheBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(shaderCacheBucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear shader cache: %w", err)
	}
	return nil
}

// ForEach calls fn for every entry whose checksum verifies.
func (s *BoltStore) ForEach(_ context.Context, fn func(key string, data []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(shaderCacheBucket).ForEach(func(k, v []byte) error {
			d, err := unpackValue(v)
			if err != nil {
				return nil
			}
			return fn(string(k), append([]byte(nil), d...))
		})
	})
}

// Stats returns the number of entries and their total size.
func (s *BoltStore) Stats(_ context.Context) (StoreStats, error) {
	var st StoreStats
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(shaderCacheBucket).ForEach(func(_, v []byte) error {
			st.Entries++
			if len(v) > sumSize {
				st.Bytes += int64(len(v) - sumSize)
			}
			return nil
		})
	})
	if err != nil {
		return StoreStats{}, fmt.Errorf("shader cache stats: %w", err)
	}
	return st, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func unpackValue(v []byte) ([]byte, error) {
	if len(v) < sumSize {
		return nil, fmt.Errorf("value of %d bytes: %w", len(v), cache.ErrCorrupt)
	}
	sum := blake3.Sum256(v[sumSize:])
	if !bytes.Equal(sum[:], v[:sumSize]) {
		return nil, fmt.Errorf("checksum mismatch: %w", cache.ErrCorrupt)
	}
	return v[sumSize:], nil
}
