package ledger

import (
	"errors"
	"fmt"

	"github.com/ksred/klear-portfolio/internal/types"
)

// ErrInvalidTransaction is returned when a transaction cannot be appended
var ErrInvalidTransaction = errors.New("invalid transaction")

// TransactionLedger is one user's append-only transaction history.
// Timestamps never decrease from one entry to the next.
type TransactionLedger struct {
	txs []types.Transaction
}

func NewTransactionLedger() *TransactionLedger {
	return &TransactionLedger{}
}

// Check reports whether tx could be appended without modifying the ledger
func (l *TransactionLedger) Check(tx types.Transaction) error {
	switch {
	case tx.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidTransaction)
	case tx.Asset == "":
		return fmt.Errorf("%w: missing asset", ErrInvalidTransaction)
	case !tx.Direction.Valid():
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidTransaction, tx.Direction)
	case !(tx.Quantity > 0):
		return fmt.Errorf("%w: quantity %v must be positive", ErrInvalidTransaction, tx.Quantity)
	case !(tx.Price > 0):
		return fmt.Errorf("%w: price %v must be positive", ErrInvalidTransaction, tx.Price)
	}
	if n := len(l.txs); n > 0 && tx.Timestamp.Before(l.txs[n-1].Timestamp) {
		return fmt.Errorf("%w: timestamp %s precedes last entry %s",
			ErrInvalidTransaction, tx.Timestamp, l.txs[n-1].Timestamp)
	}
	return nil
}

// Append adds tx to the end of the ledger
func (l *TransactionLedger) Append(tx types.Transaction) error {
	if err := l.Check(tx); err != nil {
		return err
	}
	l.txs = append(l.txs, tx)
	return nil
}

func (l *TransactionLedger) Len() int {
	return len(l.txs)
}

// Last returns the most recent transaction
func (l *TransactionLedger) Last() (types.Transaction, bool) {
	if len(l.txs) == 0 {
		return types.Transaction{}, false
	}
	return l.txs[len(l.txs)-1], true
}

// Transactions returns a copy of the history, oldest first
func (l *TransactionLedger) Transactions() []types.Transaction {
	out := make([]types.Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}
