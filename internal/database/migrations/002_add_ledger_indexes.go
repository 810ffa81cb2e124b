package migrations

import "gorm.io/gorm"

// AddLedgerIndexes adds the indexes used when loading accounts at startup
func AddLedgerIndexes(db *gorm.DB) error {
	indexes := []string{
		// History is replayed per user in execution order
		`CREATE INDEX IF NOT EXISTS idx_transaction_records_user_executed
		 ON transaction_records(user_id, executed_at)`,

		`CREATE INDEX IF NOT EXISTS idx_transaction_records_asset
		 ON transaction_records(asset)`,

		`CREATE INDEX IF NOT EXISTS idx_position_records_asset_class
		 ON position_records(asset_class)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
