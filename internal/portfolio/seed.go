package portfolio

import (
	"context"
	"fmt"

	"github.com/ksred/klear-portfolio/internal/ledger"
	"github.com/ksred/klear-portfolio/internal/types"
	"github.com/rs/zerolog/log"
)

// OrderExecutor places a single order for a user
type OrderExecutor interface {
	Execute(ctx context.Context, userID string, order types.Order) (types.Transaction, error)
}

// DemoOrders is the starting book given to the demo account
var DemoOrders = []types.Order{
	{Asset: "AAPL", AssetClass: types.AssetClassStock, Direction: types.DirectionBuy, Quantity: 100},
	{Asset: "BTC", AssetClass: types.AssetClassCrypto, Direction: types.DirectionBuy, Quantity: 2},
	{Asset: "ETH", AssetClass: types.AssetClassCrypto, Direction: types.DirectionBuy, Quantity: 1000},
}

// SeedDemo buys DemoOrders for userID at the current prices. An account that
// already holds anything is left alone, so restarting against a persisted
// database does not double the book. Returns the number of orders placed.
func SeedDemo(ctx context.Context, executor OrderExecutor, registry *ledger.Registry, userID string) (int, error) {
	if acc, ok := registry.Lookup(userID); ok {
		empty := true
		acc.View(func(book *ledger.PositionBook, history *ledger.TransactionLedger) {
			empty = book.Len() == 0 && history.Len() == 0
		})
		if !empty {
			log.Info().Str("user_id", userID).Msg("demo account already populated, skipping seed")
			return 0, nil
		}
	}

	for i, order := range DemoOrders {
		if _, err := executor.Execute(ctx, userID, order); err != nil {
			return i, fmt.Errorf("failed to seed %s: %w", order.Asset, err)
		}
	}

	log.Info().Str("user_id", userID).Int("orders", len(DemoOrders)).Msg("seeded demo account")
	return len(DemoOrders), nil
}
