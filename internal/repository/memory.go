package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

// MemoryStore implements SessionRepository, CartRepository and
// ActivityRepository with in-memory storage. Used by tests and the
// single-node deployment mode.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[uuid.UUID]*domain.CartSession
	tokens     map[string]uuid.UUID // token -> active session
	items      map[uuid.UUID]map[int64]*domain.CartItem
	activities map[uuid.UUID][]domain.CartActivity
	seqs       map[uuid.UUID]int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[uuid.UUID]*domain.CartSession),
		tokens:     make(map[string]uuid.UUID),
		items:      make(map[uuid.UUID]map[int64]*domain.CartItem),
		activities: make(map[uuid.UUID][]domain.CartActivity),
		seqs:       make(map[uuid.UUID]int64),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session *domain.CartSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.tokens[session.Token]; ok {
		if existing := s.sessions[id]; existing != nil && existing.Active {
			return ErrTokenConflict
		}
	}

	cp := *session
	s.sessions[cp.ID] = &cp
	s.tokens[cp.Token] = cp.ID
	return nil
}

func (s *MemoryStore) GetSessionByID(_ context.Context, id uuid.UUID) (*domain.CartSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *MemoryStore) GetActiveSessionByToken(_ context.Context, token string) (*domain.CartSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	session := s.sessions[id]
	if session == nil || !session.Active {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *MemoryStore) TouchSession(_ context.Context, id uuid.UUID, lastActivity, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || !session.Active {
		return ErrSessionNotFound
	}
	session.LastActivityAt = lastActivity
	session.ExpiresAt = expiresAt
	return nil
}

func (s *MemoryStore) CloseSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if session.Active {
		session.Active = false
		delete(s.tokens, session.Token)
	}
	return nil
}

func (s *MemoryStore) ListExpiredSessions(_ context.Context, now time.Time, limit int) ([]*domain.CartSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*domain.CartSession
	for _, session := range s.sessions {
		if session.Active && now.After(session.ExpiresAt) {
			cp := *session
			expired = append(expired, &cp)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (s *MemoryStore) UpsertItem(_ context.Context, item *domain.CartItem) (*domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, ok := s.items[item.SessionID]
	if !ok {
		lines = make(map[int64]*domain.CartItem)
		s.items[item.SessionID] = lines
	}

	cp := *item
	prev, exists := lines[item.ProductID]
	if exists {
		old := *prev
		cp.AddedAt = prev.AddedAt
		lines[item.ProductID] = &cp
		return &old, nil
	}
	lines[item.ProductID] = &cp
	return nil, nil
}

func (s *MemoryStore) UpdateItem(_ context.Context, sessionID uuid.UUID, productID int64, quantity int, notes *string, at time.Time) (*domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.items[sessionID][productID]
	if !ok {
		return nil, ErrItemNotFound
	}
	old := *line
	line.Quantity = quantity
	if notes != nil {
		line.Notes = *notes
	}
	line.UpdatedAt = at
	return &old, nil
}

func (s *MemoryStore) RemoveItem(_ context.Context, sessionID uuid.UUID, productID int64) (*domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.items[sessionID][productID]
	if !ok {
		return nil, nil
	}
	old := *line
	delete(s.items[sessionID], productID)
	return &old, nil
}

func (s *MemoryStore) ListItems(_ context.Context, sessionID uuid.UUID) ([]domain.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := s.items[sessionID]
	result := make([]domain.CartItem, 0, len(lines))
	for _, line := range lines {
		result = append(result, *line)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ProductID < result[j].ProductID
	})
	return result, nil
}

func (s *MemoryStore) ClearItems(_ context.Context, sessionID uuid.UUID) ([]domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.items[sessionID]
	removed := make([]domain.CartItem, 0, len(lines))
	for _, line := range lines {
		removed = append(removed, *line)
	}
	sort.Slice(removed, func(i, j int) bool {
		return removed[i].ProductID < removed[j].ProductID
	})
	delete(s.items, sessionID)
	return removed, nil
}

func (s *MemoryStore) AppendActivity(_ context.Context, activity *domain.CartActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seqs[activity.SessionID]++
	activity.Seq = s.seqs[activity.SessionID]
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	s.activities[activity.SessionID] = append(s.activities[activity.SessionID], *activity)
	return nil
}

func (s *MemoryStore) ListActivities(_ context.Context, sessionID uuid.UUID) ([]domain.CartActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.activities[sessionID]
	result := make([]domain.CartActivity, len(records))
	copy(result, records)
	return result, nil
}
