package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ksred/klear-portfolio/internal/ledger"
	"github.com/ksred/klear-portfolio/internal/trading"
	"github.com/ksred/klear-portfolio/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const DefaultRetries = 5

// Store is the durable copy of every account. It seeds the registry at
// startup and receives the executor's change notifications, writing them in
// the background so order execution never waits on the disk.
type Store struct {
	db      *gorm.DB
	retries uint

	mu      sync.Mutex
	pending []trading.Change
	signal  chan struct{}

	drainMu sync.Mutex // keeps writes in publish order
}

// NewStore creates a store over db. retries bounds the attempts per change.
func NewStore(db *gorm.DB, retries int) *Store {
	if retries <= 0 {
		retries = DefaultRetries
	}
	return &Store{
		db:      db,
		retries: uint(retries),
		signal:  make(chan struct{}, 1),
	}
}

// Publish queues a change for writing. It never blocks.
func (s *Store) Publish(change trading.Change) {
	s.mu.Lock()
	s.pending = append(s.pending, change)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of changes not yet written
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Start writes queued changes until ctx is cancelled, then flushes what is left
func (s *Store) Start(ctx context.Context) error {
	logger := log.With().Str("component", "ledger_store").Logger()
	logger.Info().Msg("starting ledger store writer")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Int("pending", s.Pending()).Msg("flushing ledger store before shutdown")
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.Flush(flushCtx)
		case <-s.signal:
			if err := s.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("failed to write ledger changes")
			}
		}
	}
}

// Flush writes every queued change. A change that still fails after retries
// is logged and skipped so later changes are not blocked behind it. When ctx
// ends first, the unwritten changes stay queued for the next Flush.
func (s *Store) Flush(ctx context.Context) error {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	var failed int
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		if len(batch) == 0 {
			break
		}

		for i, change := range batch {
			if err := ctx.Err(); err != nil {
				s.requeue(batch[i:])
				return err
			}
			if err := s.write(ctx, change); err != nil {
				if interrupted(ctx, err) {
					s.requeue(batch[i:])
					return err
				}
				failed++
				log.Error().
					Err(err).
					Str("user_id", change.UserID).
					Str("transaction_id", change.Transaction.ID).
					Msg("dropping ledger change after retries")
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d ledger changes could not be written", failed)
	}
	return nil
}

// interrupted reports whether a write stopped because ctx ended rather than
// because the database kept failing
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// requeue puts unwritten changes back at the head of the queue
func (s *Store) requeue(changes []trading.Change) {
	s.mu.Lock()
	s.pending = append(append([]trading.Change{}, changes...), s.pending...)
	s.mu.Unlock()
}

func (s *Store) write(ctx context.Context, change trading.Change) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	notify := func(err error, d time.Duration) {
		log.Warn().
			Err(err).
			Dur("backoff", d).
			Str("transaction_id", change.Transaction.ID).
			Msg("retrying ledger write")
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.apply(change)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.retries),
		backoff.WithNotify(notify))
	return err
}

// apply writes the position state and the transaction in one DB transaction
func (s *Store) apply(change trading.Change) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if change.Removed() {
			if err := tx.Unscoped().
				Where("user_id = ? AND asset = ?", change.UserID, change.Transaction.Asset).
				Delete(&types.PositionRecord{}).Error; err != nil {
				return fmt.Errorf("failed to delete position: %w", err)
			}
		} else if err := upsertPosition(tx, change.UserID, *change.Position); err != nil {
			return err
		}

		record := types.NewTransactionRecord(change.UserID, change.Transaction)
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to save transaction: %w", err)
		}
		return nil
	})
}

func upsertPosition(tx *gorm.DB, userID string, p types.Position) error {
	var existing types.PositionRecord
	err := tx.Where("user_id = ? AND asset = ?", userID, p.Asset).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record := types.NewPositionRecord(userID, p)
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create position: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to fetch position: %w", err)
	}

	record := types.NewPositionRecord(userID, p)
	record.Model = existing.Model
	if err := tx.Save(&record).Error; err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}
	return nil
}

// LoadAccounts seeds registry with every persisted account and returns the
// number of users loaded. Positions keep the order they were first opened in.
func (s *Store) LoadAccounts(registry *ledger.Registry) (int, error) {
	var positions []types.PositionRecord
	if err := s.db.Order("id ASC").Find(&positions).Error; err != nil {
		return 0, fmt.Errorf("failed to load positions: %w", err)
	}

	var txs []types.TransactionRecord
	if err := s.db.Order("executed_at ASC, id ASC").Find(&txs).Error; err != nil {
		return 0, fmt.Errorf("failed to load transactions: %w", err)
	}

	byUserPositions := make(map[string][]types.Position)
	byUserTxs := make(map[string][]types.Transaction)
	var users []string
	seen := make(map[string]bool)
	track := func(userID string) {
		if !seen[userID] {
			seen[userID] = true
			users = append(users, userID)
		}
	}

	for _, r := range positions {
		track(r.UserID)
		byUserPositions[r.UserID] = append(byUserPositions[r.UserID], r.Position())
	}
	for _, r := range txs {
		track(r.UserID)
		byUserTxs[r.UserID] = append(byUserTxs[r.UserID], r.Transaction())
	}

	for _, userID := range users {
		if err := registry.Seed(userID, byUserPositions[userID], byUserTxs[userID]); err != nil {
			return 0, err
		}
	}

	log.Info().
		Str("component", "ledger_store").
		Int("users", len(users)).
		Int("positions", len(positions)).
		Int("transactions", len(txs)).
		Msg("loaded accounts")

	return len(users), nil
}
