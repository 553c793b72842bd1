package config

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// pure-Go sqlite driver registered as "sqlite"
	_ "modernc.org/sqlite"

	"payment-evidence-backend/internal/models"
)

// InitDB opens the configured database and migrates the service tables.
func InitDB(cfg DatabaseConfig) (*gorm.DB, error) {
	const op = "InitDB"

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: cfg.DSN})
	default:
		return nil, fmt.Errorf("%s: unsupported driver %q", op, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open %s database: %w", op, cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		// sqlite allows a single writer; in-memory databases exist per connection.
		if strings.Contains(cfg.DSN, ":memory:") || strings.Contains(cfg.DSN, "mode=memory") {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return nil, fmt.Errorf("%s: migration failed: %w", op, err)
	}
	return db, nil
}
