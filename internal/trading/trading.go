package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-portfolio/internal/types"
	"github.com/ksred/klear-portfolio/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Service places orders for authenticated users with idempotency support
type Service struct {
	executor *Executor
	db       *Database
	flights  singleflight.Group
}

// NewService creates a trading service. A nil gormDB disables idempotency keys.
func NewService(executor *Executor, gormDB *gorm.DB) *Service {
	s := &Service{executor: executor}
	if gormDB != nil {
		s.db = NewDatabase(gormDB)
	}
	return s
}

// PlaceOrder executes order for userID. When idempotencyKey is set and a
// transaction was already recorded under it, that transaction is returned
// and replayed is true; concurrent submissions with the same key share one
// execution. Reusing a key for a different order fails with
// ErrIdempotencyKeyReused.
func (s *Service) PlaceOrder(ctx context.Context, userID string, order types.Order, idempotencyKey string) (tx types.Transaction, replayed bool, err error) {
	if idempotencyKey == "" || s.db == nil {
		tx, err = s.executor.Execute(ctx, userID, order)
		return tx, false, err
	}

	type result struct {
		tx       types.Transaction
		replayed bool
	}

	v, err, _ := s.flights.Do(userID+":"+idempotencyKey, func() (interface{}, error) {
		existing, err := s.db.GetIdempotentTransaction(userID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return result{tx: *existing, replayed: true}, nil
		}

		tx, err := s.executor.Execute(ctx, userID, order)
		if err != nil {
			return nil, err
		}
		if err := s.db.SaveIdempotentTransaction(userID, idempotencyKey, tx); err != nil {
			// The order already executed; losing the key only weakens replay protection
			log.Error().Err(err).
				Str("user_id", userID).
				Str("transaction_id", tx.ID).
				Msg("failed to save idempotency record")
		}
		return result{tx: tx}, nil
	})
	if err != nil {
		return types.Transaction{}, false, err
	}

	// Callers sharing a key, concurrently or later, must be sending the same order
	r := v.(result)
	if !sameOrder(r.tx, order) {
		return types.Transaction{}, false, fmt.Errorf("%w: key %q was used for %s %v %s",
			ErrIdempotencyKeyReused, idempotencyKey, r.tx.Direction, r.tx.Quantity, r.tx.Asset)
	}
	return r.tx, r.replayed, nil
}

func sameOrder(tx types.Transaction, order types.Order) bool {
	return tx.Asset == order.Asset &&
		tx.AssetClass == order.AssetClass &&
		tx.Direction == order.Direction &&
		tx.Quantity == order.Quantity
}

// StartJanitor periodically removes expired idempotency records until ctx is cancelled
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) error {
	if s.db == nil {
		return nil
	}
	logger := log.With().Str("component", "idempotency_janitor").Logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.db.PurgeExpired()
			if err != nil {
				logger.Error().Err(err).Msg("failed to purge idempotency records")
				continue
			}
			if n > 0 {
				logger.Info().Int64("purged", n).Msg("purged expired idempotency records")
			}
		}
	}
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to execute a buy or sell order
// Requires a valid JWT token; the Idempotency-Key header is optional
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		var req OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		tx, replayed, err := h.service.PlaceOrder(c.Request.Context(), userID, req.toOrder(), c.GetHeader("Idempotency-Key"))
		if err != nil {
			HandleError(c, err)
			return
		}

		response.Success(c, OrderResponse{
			TransactionID: tx.ID,
			Asset:         tx.Asset,
			AssetClass:    string(tx.AssetClass),
			Direction:     string(tx.Direction),
			Quantity:      tx.Quantity,
			Price:         tx.Price,
			TotalAmount:   response.Money(tx.TotalAmount()),
			Status:        string(tx.Status),
			Timestamp:     tx.Timestamp,
			Replayed:      replayed,
		})
	}
}

// HandleError maps executor errors onto the API error envelope
func HandleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidAssetClass),
		errors.Is(err, ErrInvalidDirection):
		response.ValidationFailed(c, err.Error())
	case errors.Is(err, ErrAssetNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrInsufficientHoldings):
		response.InsufficientHoldings(c, err.Error())
	case errors.Is(err, ErrIdempotencyKeyReused):
		response.IdempotencyKeyReused(c, err.Error())
	default:
		response.Handle(c, nil, err)
	}
}

// toOrder normalises case where it can. Unrecognised values are passed
// through so the executor reports them in its own validation order.
func (r OrderRequest) toOrder() types.Order {
	order := types.Order{
		Asset:      r.Asset,
		AssetClass: types.AssetClass(r.AssetClass),
		Direction:  types.Direction(r.Direction),
		Quantity:   r.Quantity,
	}
	if class, err := types.ParseAssetClass(r.AssetClass); err == nil {
		order.AssetClass = class
	}
	if dir, err := types.ParseDirection(r.Direction); err == nil {
		order.Direction = dir
	}
	return order
}
