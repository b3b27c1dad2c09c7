package catalog

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Static serves prices from a fixed in-memory table. Used by tests
// and the single-node deployment mode, where no catalog service runs
// alongside.
type Static struct {
	mu     sync.RWMutex
	prices map[int64]decimal.Decimal
}

func NewStatic(prices map[int64]decimal.Decimal) *Static {
	table := make(map[int64]decimal.Decimal, len(prices))
	for id, price := range prices {
		table[id] = price
	}
	return &Static{prices: table}
}

func (s *Static) SetPrice(productID int64, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[productID] = price
}

func (s *Static) Price(_ context.Context, productID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[productID]
	if !ok {
		return decimal.Zero, ErrProductNotFound
	}
	return price, nil
}
