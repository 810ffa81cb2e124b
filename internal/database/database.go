package database

import (
	"fmt"

	"github.com/ksred/klear-portfolio/internal/database/migrations"
	"github.com/ksred/klear-portfolio/internal/trading"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the sqlite database at path and runs migrations
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// sqlite allows a single writer; serialising connections avoids SQLITE_BUSY
	// between the ledger writer, idempotency records and the janitor
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// Run migrations
	if err := migrations.CreateLedgerTables(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddLedgerIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	if err := db.AutoMigrate(&trading.IdempotencyRecord{}); err != nil {
		return nil, err
	}

	return db, nil
}
