package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bbernstein/lacylights-midi/internal/database/models"
)

func TestConnect_InMemory(t *testing.T) {
	DB = nil

	db, err := Connect(Config{URL: ":memory:", MaxIdleConn: 1, MaxOpenConn: 1})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if DB == nil {
		t.Error("Expected global DB to be set")
	}

	var result int
	if err := db.Raw("SELECT 1").Scan(&result).Error; err != nil {
		t.Errorf("Failed to query database: %v", err)
	}
	if result != 1 {
		t.Errorf("Expected 1, got %d", result)
	}

	if !db.Migrator().HasTable(&models.ConfigRevision{}) {
		t.Error("Expected config_revisions table to be migrated")
	}

	if err := Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if DB != nil {
		t.Error("Expected global DB to be cleared after Close")
	}
}

func TestConnect_WithFilePrefix(t *testing.T) {
	DB = nil

	dbPath := filepath.Join(t.TempDir(), "midibridge.db")
	db, err := Connect(Config{URL: "file:" + dbPath, MaxIdleConn: 1, MaxOpenConn: 1})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if db == nil {
		t.Fatal("Expected non-nil db")
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Expected database file to be created")
	}

	_ = Close()
}

func TestConnect_CreatesDirectory(t *testing.T) {
	DB = nil

	nestedPath := filepath.Join(t.TempDir(), "nested", "dir", "midibridge.db")
	if _, err := Connect(Config{URL: nestedPath, MaxIdleConn: 1, MaxOpenConn: 1, Debug: true}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, err := os.Stat(filepath.Dir(nestedPath)); os.IsNotExist(err) {
		t.Error("Expected nested directory to be created")
	}

	_ = Close()
}

func TestClose_NilDB(t *testing.T) {
	DB = nil

	if err := Close(); err != nil {
		t.Errorf("Close with nil DB should not error: %v", err)
	}
}
