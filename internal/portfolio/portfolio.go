package portfolio

import (
	"time"

	"github.com/ksred/klear-portfolio/internal/ledger"
	"github.com/ksred/klear-portfolio/internal/oracle"
	"github.com/ksred/klear-portfolio/internal/risk"
	"github.com/ksred/klear-portfolio/internal/types"
	"github.com/ksred/klear-portfolio/internal/valuation"
	"github.com/rs/zerolog/log"
)

// Snapshot is the read model handed to the display layer
type Snapshot struct {
	UserID    string
	Valuation valuation.PortfolioValuation
	RiskTier  risk.Tier
	TakenAt   time.Time
}

// Positions returns the valued positions in display order
func (s Snapshot) Positions() []valuation.PositionValuation {
	return s.Valuation.Positions
}

// Service answers read queries over the ledger
type Service struct {
	registry *ledger.Registry
	prices   oracle.PriceOracle
}

func NewService(registry *ledger.Registry, prices oracle.PriceOracle) *Service {
	return &Service{
		registry: registry,
		prices:   prices,
	}
}

// GetSnapshot values userID's positions at current prices and classifies the
// result. The book is copied under the account's read lock, so a concurrent
// order is either fully visible or not at all.
func (s *Service) GetSnapshot(userID string) Snapshot {
	var positions []types.Position
	if acc, ok := s.registry.Lookup(userID); ok {
		positions = acc.Positions()
	}

	v := valuation.Valuate(positions, s.prices)
	tier := risk.Classify(v.Distribution)

	stale := 0
	for _, p := range v.Positions {
		if p.Stale {
			stale++
		}
	}
	log.Debug().
		Str("service", "portfolio").
		Str("user_id", userID).
		Int("positions", len(v.Positions)).
		Int("stale_prices", stale).
		Float64("total_value", v.TotalPortfolioValue).
		Str("risk_tier", string(tier)).
		Msg("snapshot computed")

	return Snapshot{
		UserID:    userID,
		Valuation: v,
		RiskTier:  tier,
		TakenAt:   time.Now(),
	}
}

// GetTransactionHistory returns userID's transactions, oldest first
func (s *Service) GetTransactionHistory(userID string) []types.Transaction {
	acc, ok := s.registry.Lookup(userID)
	if !ok {
		return []types.Transaction{}
	}
	return acc.Transactions()
}
