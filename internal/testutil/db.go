// Package testutil provides helpers shared by package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB returns an isolated in-memory database with every model migrated.
// The pool is limited to one connection, so code running inside a transaction
// must use the transaction handle for all queries.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, db.AutoMigrate(entity.All()...))
	return db
}

// Catalog creates a data catalog.
func Catalog(t *testing.T, db *gorm.DB, id string, versioned bool) *entity.DataCatalog {
	t.Helper()

	catalog := &entity.DataCatalog{
		ID:                       id,
		Title:                    map[string]interface{}{"en": id},
		DatasetVersioningEnabled: versioned,
	}
	require.NoError(t, db.Create(catalog).Error)
	return catalog
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
