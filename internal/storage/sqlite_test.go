package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "shader_cache").Scan(&name); err != nil {
		t.Fatalf("table shader_cache missing: %v", err)
	}

	// Bootstrapping twice is harmless.
	if err := BootstrapSQLite(context.Background(), db); err != nil {
		t.Fatalf("BootstrapSQLite: %v", err)
	}
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSQLiteStoreCountsHits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Put(ctx, "0x0000000000000001", []byte("bin")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, ok, err := s.Get(ctx, "0x0000000000000001"); err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
	}

	var hits int
	if err := s.db.QueryRow("SELECT hits FROM shader_cache WHERE hash = ?;", "0x0000000000000001").Scan(&hits); err != nil {
		t.Fatalf("query hits: %v", err)
	}
	if hits != 3 {
		t.Fatalf("hits = %d, want 3", hits)
	}
}
