// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/internal/repository/sqlstore"
	"github.com/jwalitptl/notification-service/pkg/migration"
)

// NewTestDB returns a migrated sqlite database in a per-test temp directory.
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlstore.NewDB(context.Background(), sqlstore.Options{
		Driver: "sqlite",
		DSN:    sqlstore.SQLiteDSN(filepath.Join(t.TempDir(), "test.db")),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migration.Up(db))
	return db
}
