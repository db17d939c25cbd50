package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a file-backed sqlite database (sqlite3's in-memory mode
// doesn't survive across separate *sql.DB connections from the same pool)
// and migrates it, returning a ready-to-use Store.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "processforge_test.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, "sqlite")
	require.NoError(t, store.Migrate(context.Background()))
	return store
}
