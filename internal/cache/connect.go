package cache

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DBConfig selects and configures the GORM cache backend, mirroring the
// teacher's DatabaseFullConfig (internal/config/config.go in mantonx-viewra)
// scaled down to what the cache needs.
type DBConfig struct {
	Type string // "sqlite" (default) or "postgres"
	DSN  string // sqlite: file path; postgres: full DSN
}

// OpenDB opens a *gorm.DB for the configured backend with query logging
// silenced by default, matching the teacher's production logging posture.
func OpenDB(cfg DBConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	switch cfg.Type {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "hap-cache.db"
		}
		return gorm.Open(sqlite.Open(dsn), gormCfg)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres cache backend requires a DSN")
		}
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unknown cache database type %q", cfg.Type)
	}
}
