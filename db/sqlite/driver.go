package sqlite

import (
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// filePragmas let the journal writer and REST readers share a file database
// without "database is locked" errors.
const filePragmas = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// FileDSN appends the journal pragmas unless the path already carries options.
func FileDSN(path string) string {
	if strings.Contains(path, "?") || path == ":memory:" {
		return path
	}
	return path + "?" + filePragmas
}

// Open creates a GORM *DB backed by a SQLite file.
func Open(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(FileDSN(path)), gcfg)
}

// OpenMemory creates a private in-memory database. Every SQLite connection to
// ":memory:" sees its own database, so the pool is pinned to one connection.
func OpenMemory(gcfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), gcfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return db, nil
}
