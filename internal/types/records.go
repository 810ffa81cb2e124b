package types

import (
	"time"

	"gorm.io/gorm"
)

// PositionRecord is the persisted form of a live position
type PositionRecord struct {
	gorm.Model `json:"-"`
	UserID     string    `gorm:"uniqueIndex:idx_position_user_asset;not null" json:"user_id"`
	Asset      string    `gorm:"uniqueIndex:idx_position_user_asset;not null" json:"asset"`
	AssetClass string    `json:"asset_class"`
	Quantity   float64   `json:"quantity"`
	OpenPrice  float64   `json:"open_price"`
	LastPrice  float64   `json:"last_price"`
	PricedAt   time.Time `json:"priced_at"`
}

// TransactionRecord is the persisted form of an executed transaction
type TransactionRecord struct {
	gorm.Model    `json:"-"`
	TransactionID string    `gorm:"uniqueIndex" json:"transaction_id"`
	UserID        string    `gorm:"index;not null" json:"user_id"`
	Asset         string    `json:"asset"`
	AssetClass    string    `json:"asset_class"`
	Direction     string    `json:"direction"` // BUY or SELL
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Status        string    `json:"status"` // PENDING, COMPLETED, CANCELLED, FAILED
	ExecutedAt    time.Time `json:"executed_at"`
}

func NewPositionRecord(userID string, p Position) PositionRecord {
	return PositionRecord{
		UserID:     userID,
		Asset:      p.Asset,
		AssetClass: string(p.AssetClass),
		Quantity:   p.Quantity,
		OpenPrice:  p.OpenPrice,
		LastPrice:  p.LastPrice,
		PricedAt:   p.UpdatedAt,
	}
}

func (r PositionRecord) Position() Position {
	return Position{
		Asset:      r.Asset,
		AssetClass: AssetClass(r.AssetClass),
		Quantity:   r.Quantity,
		OpenPrice:  r.OpenPrice,
		LastPrice:  r.LastPrice,
		UpdatedAt:  r.PricedAt,
	}
}

func NewTransactionRecord(userID string, tx Transaction) TransactionRecord {
	return TransactionRecord{
		TransactionID: tx.ID,
		UserID:        userID,
		Asset:         tx.Asset,
		AssetClass:    string(tx.AssetClass),
		Direction:     string(tx.Direction),
		Quantity:      tx.Quantity,
		Price:         tx.Price,
		Status:        string(tx.Status),
		ExecutedAt:    tx.Timestamp,
	}
}

func (r TransactionRecord) Transaction() Transaction {
	return Transaction{
		ID:         r.TransactionID,
		Asset:      r.Asset,
		AssetClass: AssetClass(r.AssetClass),
		Direction:  Direction(r.Direction),
		Quantity:   r.Quantity,
		Price:      r.Price,
		Status:     TransactionStatus(r.Status),
		Timestamp:  r.ExecutedAt,
	}
}
