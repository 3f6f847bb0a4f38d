// Package testutil provides shared test utilities for cross-package tests.
package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bbernstein/lacylights-midi/internal/database"
	"github.com/bbernstein/lacylights-midi/internal/database/repositories"
)

// TestDB holds the test database and repositories.
type TestDB struct {
	DB           *gorm.DB
	RevisionRepo *repositories.RevisionRepository
}

// SetupTestDB creates a migrated in-memory SQLite database that is closed
// when the test finishes.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return &TestDB{
		DB:           db,
		RevisionRepo: repositories.NewRevisionRepository(db),
	}
}
