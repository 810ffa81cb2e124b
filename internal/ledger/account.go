package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ksred/klear-portfolio/internal/types"
)

// ErrAlreadySeeded is returned when seeding an account that already holds state
var ErrAlreadySeeded = errors.New("account already has positions or transactions")

// Account is the unit of mutable state owned by one user: a position book and
// its transaction ledger. All access goes through Update or View so that
// writers are serialised per user and readers see a consistent snapshot.
type Account struct {
	UserID string

	mu     sync.RWMutex
	book   *PositionBook
	ledger *TransactionLedger
}

func NewAccount(userID string) *Account {
	return &Account{
		UserID: userID,
		book:   NewPositionBook(),
		ledger: NewTransactionLedger(),
	}
}

// Update runs fn with exclusive access to the account
func (a *Account) Update(fn func(book *PositionBook, ledger *TransactionLedger) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(a.book, a.ledger)
}

// View runs fn with shared access to the account. fn must not mutate.
func (a *Account) View(fn func(book *PositionBook, ledger *TransactionLedger)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fn(a.book, a.ledger)
}

// Positions returns a consistent copy of the live positions
func (a *Account) Positions() []types.Position {
	var out []types.Position
	a.View(func(book *PositionBook, _ *TransactionLedger) {
		out = book.Positions()
	})
	return out
}

// Transactions returns a consistent copy of the history, oldest first
func (a *Account) Transactions() []types.Transaction {
	var out []types.Transaction
	a.View(func(_ *PositionBook, ledger *TransactionLedger) {
		out = ledger.Transactions()
	})
	return out
}

// Registry owns the mapping from user identity to Account. It is held by the
// session layer and handed to the executor and snapshot services.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]*Account)}
}

// Account returns the account for userID, creating an empty one on first use
func (r *Registry) Account(userID string) *Account {
	r.mu.RLock()
	acc, ok := r.accounts[userID]
	r.mu.RUnlock()
	if ok {
		return acc
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.accounts[userID]; ok {
		return acc
	}
	acc = NewAccount(userID)
	r.accounts[userID] = acc
	return acc
}

// Lookup returns the account for userID without creating it
func (r *Registry) Lookup(userID string) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[userID]
	return acc, ok
}

// Users returns every known user ID, sorted
func (r *Registry) Users() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		users = append(users, id)
	}
	r.mu.RUnlock()
	sort.Strings(users)
	return users
}

// Seed loads persisted state into an empty account. Transactions must be in
// chronological order. Nothing is loaded if any entry is invalid.
func (r *Registry) Seed(userID string, positions []types.Position, txs []types.Transaction) error {
	if userID == "" {
		return fmt.Errorf("seed: user id is required")
	}
	return r.Account(userID).Update(func(book *PositionBook, ledger *TransactionLedger) error {
		if book.Len() > 0 || ledger.Len() > 0 {
			return fmt.Errorf("seed %s: %w", userID, ErrAlreadySeeded)
		}

		nextBook := NewPositionBook()
		for _, p := range positions {
			if err := nextBook.Put(p); err != nil {
				return fmt.Errorf("seed %s: %w", userID, err)
			}
		}
		nextLedger := NewTransactionLedger()
		for _, tx := range txs {
			if err := nextLedger.Append(tx); err != nil {
				return fmt.Errorf("seed %s: %w", userID, err)
			}
		}

		*book = *nextBook
		*ledger = *nextLedger
		return nil
	})
}
