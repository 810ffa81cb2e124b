package types

import (
	"fmt"
	"strings"
	"time"
)

// AssetClass is the closed set of instrument classes a position can belong to
type AssetClass string

const (
	AssetClassStock  AssetClass = "Stock"
	AssetClassCrypto AssetClass = "Crypto"
	AssetClassForex  AssetClass = "Forex"
)

// AssetClasses lists every recognised class in display order
var AssetClasses = []AssetClass{AssetClassStock, AssetClassCrypto, AssetClassForex}

// Valid reports whether c is one of the recognised asset classes
func (c AssetClass) Valid() bool {
	switch c {
	case AssetClassStock, AssetClassCrypto, AssetClassForex:
		return true
	}
	return false
}

// ParseAssetClass converts user input such as "stock" or "CRYPTO" into an AssetClass
func ParseAssetClass(s string) (AssetClass, error) {
	for _, c := range AssetClasses {
		if strings.EqualFold(strings.TrimSpace(s), string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown asset class %q", s)
}

// Direction is the side of an order
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// ParseDirection accepts BUY/SELL in any case
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

// TransactionStatus is the lifecycle state of a transaction.
// The executor only ever produces COMPLETED.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusCancelled TransactionStatus = "CANCELLED"
	StatusFailed    TransactionStatus = "FAILED"
)

// Order is a request to buy or sell a quantity of one asset at the current oracle price
type Order struct {
	Asset      string     `json:"asset"`
	AssetClass AssetClass `json:"asset_class"`
	Direction  Direction  `json:"direction"`
	Quantity   float64    `json:"quantity"`
}

// Position is a user's live holding in one asset
type Position struct {
	Asset      string     `json:"asset"`
	AssetClass AssetClass `json:"asset_class"`
	Quantity   float64    `json:"quantity"`
	OpenPrice  float64    `json:"open_price"`
	LastPrice  float64    `json:"last_price"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Transaction is the immutable record of one executed order
type Transaction struct {
	ID         string            `json:"id"`
	Asset      string            `json:"asset"`
	AssetClass AssetClass        `json:"asset_class"`
	Direction  Direction         `json:"direction"`
	Quantity   float64           `json:"quantity"`
	Price      float64           `json:"price"`
	Status     TransactionStatus `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
}

// TotalAmount is the notional of the transaction
func (t Transaction) TotalAmount() float64 {
	return t.Quantity * t.Price
}
