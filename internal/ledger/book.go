package ledger

import (
	"errors"
	"fmt"

	"github.com/ksred/klear-portfolio/internal/types"
)

// ErrInvalidPosition is returned when a position would break the book invariants
var ErrInvalidPosition = errors.New("invalid position")

// PositionBook maps asset symbols to one user's live positions.
// A position with a zero or negative quantity is never stored.
// The book is not safe for concurrent use; Account guards it.
type PositionBook struct {
	positions map[string]types.Position
	order     []string // insertion order for stable display
}

func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]types.Position)}
}

// Get returns a copy of the position for asset
func (b *PositionBook) Get(asset string) (types.Position, bool) {
	p, ok := b.positions[asset]
	return p, ok
}

// Put inserts or replaces a position. Existing positions keep their display slot.
func (b *PositionBook) Put(p types.Position) error {
	if err := CheckPosition(p); err != nil {
		return err
	}
	if _, ok := b.positions[p.Asset]; !ok {
		b.order = append(b.order, p.Asset)
	}
	b.positions[p.Asset] = p
	return nil
}

// Remove deletes the position for asset and reports whether it existed
func (b *PositionBook) Remove(asset string) bool {
	if _, ok := b.positions[asset]; !ok {
		return false
	}
	delete(b.positions, asset)
	for i, a := range b.order {
		if a == asset {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true
}

func (b *PositionBook) Len() int {
	return len(b.positions)
}

// Positions returns a copy of every position in insertion order
func (b *PositionBook) Positions() []types.Position {
	out := make([]types.Position, 0, len(b.order))
	for _, asset := range b.order {
		out = append(out, b.positions[asset])
	}
	return out
}

// CheckPosition validates the invariants every stored position must satisfy
func CheckPosition(p types.Position) error {
	switch {
	case p.Asset == "":
		return fmt.Errorf("%w: empty asset symbol", ErrInvalidPosition)
	case !p.AssetClass.Valid():
		return fmt.Errorf("%w: unknown asset class %q for %s", ErrInvalidPosition, p.AssetClass, p.Asset)
	case !(p.Quantity > 0):
		return fmt.Errorf("%w: quantity %v for %s must be positive", ErrInvalidPosition, p.Quantity, p.Asset)
	case !(p.OpenPrice > 0):
		return fmt.Errorf("%w: open price %v for %s must be positive", ErrInvalidPosition, p.OpenPrice, p.Asset)
	}
	return nil
}
