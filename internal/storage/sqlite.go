package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"github.com/mattjoyce/pipec/internal/cache"
)

// OpenSQLite opens (and creates if needed) the SQLite cache database at path
// and ensures the cache table exists.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := checkLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the cache table if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS shader_cache (
  hash        TEXT PRIMARY KEY,
  data        BLOB NOT NULL,
  size        INTEGER NOT NULL,
  checksum    TEXT NOT NULL,
  created_at  TEXT NOT NULL,
  last_hit_at TEXT,
  hits        INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE INDEX IF NOT EXISTS shader_cache_last_hit ON shader_cache(last_hit_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// SQLiteStore is a cache.Store over the shader_cache table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database. The store owns db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenSQLiteStore opens the database at path and wraps it.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db), nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		data []byte
		sum  string
	)
	err := s.db.QueryRowContext(ctx, `SELECT data, checksum FROM shader_cache WHERE hash = ?;`, key).Scan(&data, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	if got := blake3Hex(data); got != sum {
		return nil, false, fmt.Errorf("get %s: checksum %s, want %s: %w", key, got, sum, cache.ErrCorrupt)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE shader_cache SET hits = hits + 1, last_hit_at = ? WHERE hash = ?;`,
		time.Now().UTC().Format(time.RFC3339), key)
	if err != nil {
		return nil, false, fmt.Errorf("record hit %s: %w", key, err)
	}
	return data, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO shader_cache(hash, data, size, checksum, created_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET
  data = excluded.data,
  size = excluded.size,
  checksum = excluded.checksum,
  created_at = excluded.created_at;`,
		key, data, len(data), blake3Hex(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM shader_cache WHERE hash = ?;`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM shader_cache;`); err != nil {
		return fmt.Errorf("clear shader cache: %w", err)
	}
	return nil
}

// ForEach calls fn for every entry whose checksum verifies.
func (s *SQLiteStore) ForEach(ctx context.Context, fn func(key string, data []byte) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT hash, data, checksum FROM shader_cache ORDER BY hash;`)
	if err != nil {
		return fmt.Errorf("list shader cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key, sum string
			data     []byte
		)
		if err := rows.Scan(&key, &data, &sum); err != nil {
			return fmt.Errorf("scan shader cache: %w", err)
		}
		if blake3Hex(data) != sum {
			continue
		}
		if err := fn(key, data); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Stats returns the number of entries and their total size.
func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	var st StoreStats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM shader_cache;`).Scan(&st.Entries, &st.Bytes)
	if err != nil {
		return StoreStats{}, fmt.Errorf("shader cache stats: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func blake3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
