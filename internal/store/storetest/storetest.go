// Package storetest provides a migrated SQLite store for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// New opens a fresh SQLite store in a temp dir, closed on test cleanup.
func New(t testing.TB) *store.SQLite {
	t.Helper()
	s, err := store.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "streamvault.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// AddSource upserts src and returns it with its assigned id.
func AddSource(t testing.TB, s store.Store, src models.Source) models.Source {
	t.Helper()
	if src.Name == "" {
		src.Name = string(src.Type) + "-" + filepath.Base(t.Name())
	}
	id, err := s.UpsertSource(context.Background(), src)
	require.NoError(t, err)
	src.ID = id
	return src
}
