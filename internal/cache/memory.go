package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

// MemoryCache keeps cart reads in process memory. It backs the memory
// store driver where running Redis would be overkill.
type MemoryCache struct {
	mu    sync.RWMutex
	carts map[uuid.UUID]*domain.Cart
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{carts: make(map[uuid.UUID]*domain.Cart)}
}

func copyCart(cart *domain.Cart) *domain.Cart {
	cp := *cart
	if cart.Session != nil {
		sess := *cart.Session
		cp.Session = &sess
	}
	cp.Items = make([]domain.CartItem, len(cart.Items))
	copy(cp.Items, cart.Items)
	return &cp
}

func (c *MemoryCache) Get(_ context.Context, sessionID uuid.UUID) (*domain.Cart, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cart, ok := c.carts[sessionID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return copyCart(cart), nil
}

func (c *MemoryCache) Set(_ context.Context, sessionID uuid.UUID, cart *domain.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[sessionID] = copyCart(cart)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, sessionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, sessionID)
	return nil
}
