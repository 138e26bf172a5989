// Package database opens the gorm connection and owns the schema migration
// for every persisted entity.
package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yourorg/smartmenu-payments/internal/ledger"
	"github.com/yourorg/smartmenu-payments/internal/payment"
)

// Dialect returns the gorm dialector for driver.
func Dialect(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		if dsn == "" {
			dsn = "smartmenu.db"
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open connects to the database and routes gorm's logging through log.
func Open(driver, dsn string, log *zap.Logger) (*gorm.DB, error) {
	dialect, err := Dialect(driver, dsn)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(dialect, &gorm.Config{
		Logger: NewGormLogger(log, DefaultGormLoggerConfig()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite allows a single writer; serialize through one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Models lists every table the service owns.
func Models() []any {
	return []any{
		&payment.Profile{},
		&payment.Attempt{},
		&payment.Refund{},
		&payment.ProviderAccount{},
		&ledger.Event{},
	}
}

// Migrate creates or updates the schema, including the
// (provider, provider_event_id) unique index on the ledger.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
