package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

// MemoryOrderStore implements OrderRepository and DriverDirectory with
// in-memory storage.
type MemoryOrderStore struct {
	mu        sync.RWMutex
	orders    map[uuid.UUID]*domain.Order
	bySession map[uuid.UUID]uuid.UUID
	drivers   map[string]bool
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders:    make(map[uuid.UUID]*domain.Order),
		bySession: make(map[uuid.UUID]uuid.UUID),
		drivers:   make(map[string]bool),
	}
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = make([]domain.OrderLine, len(o.Lines))
	copy(cp.Lines, o.Lines)
	cp.StatusTimestamps = make(map[domain.OrderStatus]time.Time, len(o.StatusTimestamps))
	for k, v := range o.StatusTimestamps {
		cp.StatusTimestamps[k] = v
	}
	return &cp
}

func (s *MemoryOrderStore) CreateOrder(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bySession[order.OriginSessionID]; ok {
		return ErrDuplicateOrder
	}
	s.orders[order.ID] = cloneOrder(order)
	s.bySession[order.OriginSessionID] = order.ID
	return nil
}

func (s *MemoryOrderStore) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (s *MemoryOrderStore) GetOrderBySessionID(_ context.Context, sessionID uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySession[sessionID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *MemoryOrderStore) ListOrdersByRestaurant(_ context.Context, restaurantID string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Order
	for _, order := range s.orders {
		if order.RestaurantID == restaurantID {
			result = append(result, cloneOrder(order))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryOrderStore) UpdateOrderStatus(_ context.Context, order *domain.Order, from domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[order.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if stored.Status != from {
		return ErrStatusConflict
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *MemoryOrderStore) ListOrdersInStatusSince(_ context.Context, status domain.OrderStatus, enteredBefore time.Time) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Order
	for _, order := range s.orders {
		if order.Status != status {
			continue
		}
		entered, ok := order.StatusTimestamps[status]
		if ok && entered.Before(enteredBefore) {
			result = append(result, cloneOrder(order))
		}
	}
	return result, nil
}

func (s *MemoryOrderStore) SetDriverAvailable(_ context.Context, driverID string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[driverID] = available
	return nil
}

func (s *MemoryOrderStore) DriverAvailable(_ context.Context, driverID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drivers[driverID], nil
}

func (s *MemoryOrderStore) RunMigrations(*Credentials) error { return nil }

func (s *MemoryOrderStore) Close() error { return nil }
