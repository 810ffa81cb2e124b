package oracle

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ksred/klear-portfolio/internal/types"
)

// PriceOracle resolves the latest known price of an asset.
// Implementations must not block and must return ok=false for unknown assets.
type PriceOracle interface {
	Lookup(asset string) (price float64, ok bool)
}

// Quote is a point-in-time price for one asset
type Quote struct {
	Asset      string           `json:"asset"`
	AssetClass types.AssetClass `json:"asset_class,omitempty"`
	Price      float64          `json:"price"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Static is an in-memory price table. It is safe for concurrent use and can be
// updated by an external feed while being read.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStatic creates a table from the given prices. Non-positive prices are skipped.
func NewStatic(prices map[string]float64) *Static {
	s := &Static{quotes: make(map[string]Quote, len(prices))}
	now := time.Now()
	for asset, price := range prices {
		if !validPrice(price) {
			continue
		}
		s.quotes[asset] = Quote{Asset: asset, AssetClass: ClassOf(asset), Price: price, UpdatedAt: now}
	}
	return s
}

// NewDefault creates a table seeded with DefaultPrices
func NewDefault() *Static {
	return NewStatic(DefaultPrices)
}

func (s *Static) Lookup(asset string) (float64, bool) {
	s.mu.RLock()
	q, ok := s.quotes[asset]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return q.Price, true
}

// Quote returns the full quote for an asset
func (s *Static) Quote(asset string) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[asset]
	return q, ok
}

// Set records a new price for an asset, adding it if unknown
func (s *Static) Set(asset string, price float64) error {
	if asset == "" {
		return fmt.Errorf("asset symbol is required")
	}
	if !validPrice(price) {
		return fmt.Errorf("invalid price %v for %s", price, asset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[asset]
	if !ok {
		q = Quote{Asset: asset, AssetClass: ClassOf(asset)}
	}
	q.Price = price
	q.UpdatedAt = time.Now()
	s.quotes[asset] = q
	return nil
}

// Remove drops an asset from the table
func (s *Static) Remove(asset string) {
	s.mu.Lock()
	delete(s.quotes, asset)
	s.mu.Unlock()
}

// Quotes returns every quote sorted by symbol
func (s *Static) Quotes() []Quote {
	s.mu.RLock()
	out := make([]Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		out = append(out, q)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// update applies fn to every price under a single write lock
func (s *Static) update(fn func(asset string, price float64) float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for asset, q := range s.quotes {
		next := fn(asset, q.Price)
		if !validPrice(next) {
			continue
		}
		q.Price = next
		q.UpdatedAt = now
		s.quotes[asset] = q
	}
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
