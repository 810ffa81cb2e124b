package trading

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-portfolio/internal/ledger"
	"github.com/ksred/klear-portfolio/internal/oracle"
	"github.com/ksred/klear-portfolio/internal/types"
	"github.com/rs/zerolog/log"
)

// CostBasisPolicy decides what happens to a position's open price on repeat buys
type CostBasisPolicy string

const (
	// CostBasisKeepFirst keeps the price of the first purchase
	CostBasisKeepFirst CostBasisPolicy = "keep-first"
	// CostBasisWeightedAverage blends the open price with each new purchase
	CostBasisWeightedAverage CostBasisPolicy = "weighted-average"
)

func (p CostBasisPolicy) Valid() bool {
	return p == CostBasisKeepFirst || p == CostBasisWeightedAverage
}

// Change describes the effect of one successful execution. Position is nil
// when the position was closed.
type Change struct {
	UserID      string
	Transaction types.Transaction
	Position    *types.Position
}

// Removed reports whether the execution closed the position
func (c Change) Removed() bool {
	return c.Position == nil
}

// Notifier receives a Change after each successful execution, in execution
// order per user. Publish is called while the user's account is locked and
// must not block.
type Notifier interface {
	Publish(change Change)
}

// Executor is the single mutating entry point of the ledger: it validates an
// order, applies it to the user's position book and records the transaction.
type Executor struct {
	registry *ledger.Registry
	prices   oracle.PriceOracle
	policy   CostBasisPolicy
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

// Option customises an Executor
type Option func(*Executor)

func WithCostBasis(policy CostBasisPolicy) Option {
	return func(e *Executor) {
		if policy.Valid() {
			e.policy = policy
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Executor) { e.notifier = n }
}

// WithClock overrides the time source used for transaction timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor over the accounts in registry, pricing orders with prices
func NewExecutor(registry *ledger.Registry, prices oracle.PriceOracle, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		prices:   prices,
		policy:   CostBasisKeepFirst,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the configured cost basis policy
func (e *Executor) Policy() CostBasisPolicy {
	return e.policy
}

// Execute validates order and applies it to userID's account.
// Validation runs in a fixed order and the first failure wins:
// quantity, asset class, direction, price, holdings.
// On any error the account is left exactly as it was.
func (e *Executor) Execute(ctx context.Context, userID string, order types.Order) (types.Transaction, error) {
	logger := log.With().
		Str("service", "executor").
		Str("user_id", userID).
		Str("asset", order.Asset).
		Str("direction", string(order.Direction)).
		Float64("quantity", order.Quantity).
		Logger()

	if userID == "" {
		return types.Transaction{}, fmt.Errorf("execute: user id is required")
	}
	if err := ctx.Err(); err != nil {
		return types.Transaction{}, err
	}

	logger.Debug().Msg("executing order")

	price, err := e.validate(order)
	if err != nil {
		logger.Warn().Err(err).Msg("order rejected")
		return types.Transaction{}, err
	}

	var tx types.Transaction
	err = e.registry.Account(userID).Update(func(book *ledger.PositionBook, history *ledger.TransactionLedger) error {
		current, held := book.Get(order.Asset)

		if order.Direction == types.DirectionSell {
			if !held {
				return reject(ErrInsufficientHoldings, order.Asset, "no position")
			}
			if current.Quantity < order.Quantity {
				return reject(ErrInsufficientHoldings, order.Asset,
					fmt.Sprintf("holding %v, selling %v", current.Quantity, order.Quantity))
			}
		}
		if held && current.AssetClass != order.AssetClass {
			return reject(ErrInvalidAssetClass, order.Asset,
				fmt.Sprintf("position is held as %s", current.AssetClass))
		}

		next, err := e.apply(current, held, order, price)
		if err != nil {
			return err
		}

		tx = types.Transaction{
			ID:         e.newID(),
			Asset:      order.Asset,
			AssetClass: order.AssetClass,
			Direction:  order.Direction,
			Quantity:   order.Quantity,
			Price:      price,
			Status:     types.StatusCompleted,
			Timestamp:  e.timestamp(history),
		}
		if err := history.Check(tx); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
		}
		if next != nil {
			if err := ledger.CheckPosition(*next); err != nil {
				return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
			}
		}

		// Nothing below can fail: both checks passed.
		if next == nil {
			book.Remove(order.Asset)
		} else {
			_ = book.Put(*next)
		}
		_ = history.Append(tx)

		if e.notifier != nil {
			e.notifier.Publish(Change{UserID: userID, Transaction: tx, Position: next})
		}
		return nil
	})
	if err != nil {
		if IsValidationError(err) {
			logger.Warn().Err(err).Msg("order rejected")
		} else {
			logger.Error().Err(err).Msg("order aborted")
		}
		return types.Transaction{}, err
	}

	logger.Info().
		Str("transaction_id", tx.ID).
		Float64("price", tx.Price).
		Float64("total_amount", tx.TotalAmount()).
		Msg("order executed")

	return tx, nil
}

// validate runs the checks that do not depend on the account and resolves the price
func (e *Executor) validate(order types.Order) (float64, error) {
	if !(order.Quantity > 0) || math.IsInf(order.Quantity, 0) {
		return 0, reject(ErrInvalidQuantity, order.Asset, fmt.Sprintf("quantity %v must be positive", order.Quantity))
	}
	if !order.AssetClass.Valid() {
		return 0, reject(ErrInvalidAssetClass, order.Asset, fmt.Sprintf("unknown class %q", order.AssetClass))
	}
	if !order.Direction.Valid() {
		return 0, reject(ErrInvalidDirection, order.Asset, fmt.Sprintf("unknown direction %q", order.Direction))
	}

	price, ok := e.prices.Lookup(order.Asset)
	if !ok || !(price > 0) {
		return 0, reject(ErrAssetNotFound, order.Asset, "no price available")
	}
	return price, nil
}

// apply computes the position after the order. It returns nil when the position is closed.
func (e *Executor) apply(current types.Position, held bool, order types.Order, price float64) (*types.Position, error) {
	now := e.now()

	switch order.Direction {
	case types.DirectionBuy:
		if !held {
			return &types.Position{
				Asset:      order.Asset,
				AssetClass: order.AssetClass,
				Quantity:   order.Quantity,
				OpenPrice:  price,
				LastPrice:  price,
				UpdatedAt:  now,
			}, nil
		}
		next := current
		next.Quantity = current.Quantity + order.Quantity
		if e.policy == CostBasisWeightedAverage {
			next.OpenPrice = (current.Quantity*current.OpenPrice + order.Quantity*price) / next.Quantity
		}
		next.LastPrice = price
		next.UpdatedAt = now
		return &next, nil

	case types.DirectionSell:
		remaining := current.Quantity - order.Quantity
		if remaining < 0 {
			return nil, fmt.Errorf("%w: selling %v of %s would leave %v",
				ErrInvariantViolation, order.Quantity, order.Asset, remaining)
		}
		if remaining == 0 {
			return nil, nil
		}
		next := current
		next.Quantity = remaining
		next.LastPrice = price
		next.UpdatedAt = now
		return &next, nil
	}

	return nil, fmt.Errorf("%w: unhandled direction %q", ErrInvariantViolation, order.Direction)
}

// timestamp never goes backwards relative to the ledger
func (e *Executor) timestamp(history *ledger.TransactionLedger) time.Time {
	ts := e.now()
	if last, ok := history.Last(); ok && ts.Before(last.Timestamp) {
		return last.Timestamp
	}
	return ts
}
