package repository

import (
	"context"
	"testing"

	"github.com/aman-churiwal/gatekeeper/internal/storage"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func newTestDatabase(t *testing.T) *storage.Database {
	t.Helper()

	db, err := storage.Open(sqlite.Open(":memory:"), logger.Silent)
	require.NoError(t, err)

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate())
	require.NoError(t, db.Ping(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	return db
}
