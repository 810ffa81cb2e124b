package trading

import (
	"errors"
	"fmt"
)

// Validation failures. They are returned wrapped in an *ExecutionError and can
// be matched with errors.Is. None of them is retryable.
var (
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidAssetClass    = errors.New("invalid asset class")
	ErrInvalidDirection     = errors.New("invalid direction")
	ErrAssetNotFound        = errors.New("asset not found")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

// ErrIdempotencyKeyReused is returned when a key already names a different order
var ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different order")

// ErrInvariantViolation signals a bug: the book would have reached a state the
// validation should have made impossible. The operation is aborted untouched.
var ErrInvariantViolation = errors.New("ledger invariant violation")

// ExecutionError describes why an order was rejected
type ExecutionError struct {
	Kind   error
	Asset  string
	Reason string
}

func (e *ExecutionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Asset)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Asset, e.Reason)
}

func (e *ExecutionError) Unwrap() error {
	return e.Kind
}

func reject(kind error, asset, reason string) *ExecutionError {
	return &ExecutionError{Kind: kind, Asset: asset, Reason: reason}
}

// IsValidationError reports whether err is a user-facing order rejection
func IsValidationError(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr)
}
