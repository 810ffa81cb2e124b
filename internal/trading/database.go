package trading

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/klear-portfolio/internal/types"
	"gorm.io/gorm"
)

const idempotencyTTL = 24 * time.Hour

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetIdempotentTransaction returns the transaction recorded for key, or nil if
// there is none or it has expired
func (d *Database) GetIdempotentTransaction(userID, key string) (*types.Transaction, error) {
	var record IdempotencyRecord
	err := d.db.Where("user_id = ? AND idempotency_key = ?", userID, key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if record.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}

	var tx types.Transaction
	if err := json.Unmarshal([]byte(record.Payload), &tx); err != nil {
		return nil, fmt.Errorf("failed to decode idempotent transaction: %w", err)
	}
	return &tx, nil
}

// SaveIdempotentTransaction records tx under key, replacing an expired record if present
func (d *Database) SaveIdempotentTransaction(userID, key string, tx types.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	return d.db.Transaction(func(txn *gorm.DB) error {
		if err := txn.Unscoped().
			Where("user_id = ? AND idempotency_key = ?", userID, key).
			Delete(&IdempotencyRecord{}).Error; err != nil {
			return err
		}
		return txn.Create(&IdempotencyRecord{
			UserID:         userID,
			IdempotencyKey: key,
			TransactionID:  tx.ID,
			Payload:        string(payload),
			ExpiresAt:      time.Now().Add(idempotencyTTL),
		}).Error
	})
}

// PurgeExpired deletes idempotency records past their expiry
func (d *Database) PurgeExpired() (int64, error) {
	result := d.db.Unscoped().Where("expires_at < ?", time.Now()).Delete(&IdempotencyRecord{})
	return result.RowsAffected, result.Error
}
