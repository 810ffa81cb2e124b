package trading

import (
	"time"

	"gorm.io/gorm"
)

// OrderRequest is the JSON body of an order submission
type OrderRequest struct {
	Asset      string  `json:"asset" binding:"required"`
	AssetClass string  `json:"asset_class" binding:"required"`
	Direction  string  `json:"direction" binding:"required"`
	Quantity   float64 `json:"quantity"`
}

// OrderResponse wraps the executed transaction
type OrderResponse struct {
	TransactionID string    `json:"transaction_id"`
	Asset         string    `json:"asset"`
	AssetClass    string    `json:"asset_class"`
	Direction     string    `json:"direction"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	TotalAmount   float64   `json:"total_amount"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Replayed      bool      `json:"replayed"`
}

// IdempotencyRecord remembers the transaction produced for a client supplied key
type IdempotencyRecord struct {
	gorm.Model
	UserID         string    `gorm:"uniqueIndex:idx_idempotency_user_key" json:"user_id"`
	IdempotencyKey string    `gorm:"uniqueIndex:idx_idempotency_user_key" json:"idempotency_key"`
	TransactionID  string    `json:"transaction_id"`
	Payload        string    `json:"payload"` // JSON encoded transaction
	ExpiresAt      time.Time `json:"expires_at"`
}
