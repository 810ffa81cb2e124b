package migrations

import (
	"github.com/ksred/klear-portfolio/internal/types"
	"gorm.io/gorm"
)

// CreateLedgerTables creates the position and transaction tables
func CreateLedgerTables(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.PositionRecord{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&types.TransactionRecord{}); err != nil {
		return err
	}

	return nil
}
