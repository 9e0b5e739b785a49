// Package db opens the encounter journal database.
package db

import (
	"fmt"

	"github.com/kasuganosora/coopwave/server/config"
	dbmysql "github.com/kasuganosora/coopwave/server/db/mysql"
	dbsqlite "github.com/kasuganosora/coopwave/server/db/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ModeSQLite       = "sqlite"
	ModeSQLiteMemory = "sqlite_memory"
	ModeMySQL        = "mysql"
)

// Open returns a *gorm.DB for the configured database mode, logging through
// log (nil for silence).
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: NewGormLogger(log, cfg.SlowQuery)}
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath, gcfg)
	case ModeSQLiteMemory:
		return dbsqlite.OpenMemory(gcfg)
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, dbmysql.Pool{
			MaxOpen: cfg.MySQLMaxOpen,
			MaxIdle: cfg.MySQLMaxIdle,
			MaxLife: cfg.MySQLMaxLife,
		}, gcfg)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
