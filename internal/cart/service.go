// Package cart implements the mutable cart behind each session:
// idempotent item upserts, the append-only activity trail, and the
// fan-out of change events to live subscribers.
package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/broadcast"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/cache"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/catalog"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/locks"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/repository"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/session"
)

var ErrInvalidQuantity = errors.New("quantity must be a positive integer")

type Service struct {
	sessions   *session.Manager
	repo       repository.CartRepository
	activities repository.ActivityRepository
	catalog    catalog.PriceSource
	cache      cache.CartCache
	hub        *broadcast.Hub
	locks      *locks.Keyed       // Serializes mutations per session
	sfg        singleflight.Group // Prevents cache stampede
	log        zerolog.Logger
}

func NewService(
	sessions *session.Manager,
	repo repository.CartRepository,
	activities repository.ActivityRepository,
	priceSource catalog.PriceSource,
	cartCache cache.CartCache,
	hub *broadcast.Hub,
	sessionLocks *locks.Keyed,
	log zerolog.Logger,
) *Service {
	return &Service{
		sessions:   sessions,
		repo:       repo,
		activities: activities,
		catalog:    priceSource,
		cache:      cartCache,
		hub:        hub,
		locks:      sessionLocks,
		log:        log,
	}
}

// AddItem puts a product line into the cart. Re-adding a product the
// cart already holds replaces its quantity and re-snapshots the
// price; nothing accumulates.
func (s *Service) AddItem(ctx context.Context, sessionID uuid.UUID, productID int64, quantity int, notes string) (*domain.CartItem, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	unlock := s.locks.Lock(sessionID.String())
	defer unlock()

	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	price, err := s.catalog.Price(ctx, productID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	item := &domain.CartItem{
		SessionID: sessionID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: price,
		Notes:     notes,
		AddedAt:   now,
		UpdatedAt: now,
	}

	prev, err := s.repo.UpsertItem(ctx, item)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, sessionID)

	if prev == nil {
		s.recordAndPublish(ctx, &domain.CartActivity{
			SessionID:   sessionID,
			Type:        domain.ActivityItemAdded,
			ProductID:   productID,
			NewQuantity: quantity,
			RecordedAt:  now,
		}, func(seq int64) domain.Event {
			return domain.ItemAdded{
				SessionID: sessionID,
				ProductID: productID,
				Quantity:  quantity,
				UnitPrice: price,
				Notes:     notes,
				Seq:       seq,
				Time:      now,
			}
		})
	} else {
		item.AddedAt = prev.AddedAt
		s.recordAndPublish(ctx, &domain.CartActivity{
			SessionID:   sessionID,
			Type:        domain.ActivityItemUpdated,
			ProductID:   productID,
			OldQuantity: prev.Quantity,
			NewQuantity: quantity,
			RecordedAt:  now,
		}, func(seq int64) domain.Event {
			return domain.ItemUpdated{
				SessionID:   sessionID,
				ProductID:   productID,
				OldQuantity: prev.Quantity,
				Quantity:    quantity,
				UnitPrice:   price,
				Notes:       notes,
				Seq:         seq,
				Time:        now,
			}
		})
	}

	s.invalidateCache(sessionID)
	return item, nil
}

// UpdateItem changes quantity (and notes when given) of a line that
// must already exist. The price snapshot from add time is kept.
func (s *Service) UpdateItem(ctx context.Context, sessionID uuid.UUID, productID int64, quantity int, notes *string) (*domain.CartItem, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	unlock := s.locks.Lock(sessionID.String())
	defer unlock()

	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	now := time.Now()
	prev, err := s.repo.UpdateItem(ctx, sessionID, productID, quantity, notes, now)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, sessionID)

	item := *prev
	item.Quantity = quantity
	if notes != nil {
		item.Notes = *notes
	}
	item.UpdatedAt = now

	s.recordAndPublish(ctx, &domain.CartActivity{
		SessionID:   sessionID,
		Type:        domain.ActivityItemUpdated,
		ProductID:   productID,
		OldQuantity: prev.Quantity,
		NewQuantity: quantity,
		RecordedAt:  now,
	}, func(seq int64) domain.Event {
		return domain.ItemUpdated{
			SessionID:   sessionID,
			ProductID:   productID,
			OldQuantity: prev.Quantity,
			Quantity:    quantity,
			UnitPrice:   item.UnitPrice,
			Notes:       item.Notes,
			Seq:         seq,
			Time:        now,
		}
	})

	s.invalidateCache(sessionID)
	return &item, nil
}

// RemoveItem takes a line out of the cart. Removing a product that is
// not there succeeds silently and records nothing.
func (s *Service) RemoveItem(ctx context.Context, sessionID uuid.UUID, productID int64) error {
	unlock := s.locks.Lock(sessionID.String())
	defer unlock()

	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return err
	}

	removed, err := s.repo.RemoveItem(ctx, sessionID, productID)
	if err != nil {
		return err
	}
	if removed == nil {
		return nil
	}
	s.touch(ctx, sessionID)

	now := time.Now()
	s.recordAndPublish(ctx, &domain.CartActivity{
		SessionID:   sessionID,
		Type:        domain.ActivityItemRemoved,
		ProductID:   productID,
		OldQuantity: removed.Quantity,
		RecordedAt:  now,
	}, func(seq int64) domain.Event {
		return domain.ItemRemoved{
			SessionID:   sessionID,
			ProductID:   productID,
			OldQuantity: removed.Quantity,
			Seq:         seq,
			Time:        now,
		}
	})

	s.invalidateCache(sessionID)
	return nil
}

// Clear empties the cart in one operation. Every removed line gets an
// item_removed record, followed by one cart_cleared summary; clearing
// an already-empty cart records just the summary.
func (s *Service) Clear(ctx context.Context, sessionID uuid.UUID) error {
	unlock := s.locks.Lock(sessionID.String())
	defer unlock()

	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return err
	}

	removed, err := s.repo.ClearItems(ctx, sessionID)
	if err != nil {
		return err
	}
	s.touch(ctx, sessionID)

	now := time.Now()
	for _, line := range removed {
		s.recordAndPublish(ctx, &domain.CartActivity{
			SessionID:   sessionID,
			Type:        domain.ActivityItemRemoved,
			ProductID:   line.ProductID,
			OldQuantity: line.Quantity,
			RecordedAt:  now,
		}, func(seq int64) domain.Event {
			return domain.ItemRemoved{
				SessionID:   sessionID,
				ProductID:   line.ProductID,
				OldQuantity: line.Quantity,
				Seq:         seq,
				Time:        now,
			}
		})
	}
	s.recordAndPublish(ctx, &domain.CartActivity{
		SessionID:  sessionID,
		Type:       domain.ActivityCartCleared,
		RecordedAt: now,
	}, func(seq int64) domain.Event {
		return domain.CartCleared{
			SessionID:    sessionID,
			ItemsRemoved: len(removed),
			Seq:          seq,
			Time:         now,
		}
	})

	s.invalidateCache(sessionID)
	return nil
}

// GetCart returns the session's current contents with the running
// total. Served from cache when possible.
func (s *Service) GetCart(ctx context.Context, sessionID uuid.UUID) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(sessionID.String(), func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, sessionID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn().Err(err).Msg("cache get error") // log cache error but continue
		}

		sess, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		items, err := s.repo.ListItems(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		cart = &domain.Cart{
			Session: sess,
			Items:   items,
			Total:   domain.CartTotal(items),
		}

		go func() {
			if err := s.cache.Set(context.Background(), sessionID, cart); err != nil {
				s.log.Warn().Err(err).Msg("cache set error")
			}
		}()

		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// ListActivities returns the session's full audit trail in order of
// occurrence. Works for closed sessions too; the trail outlives the
// cart.
func (s *Service) ListActivities(ctx context.Context, sessionID uuid.UUID) ([]domain.CartActivity, error) {
	if _, err := s.sessions.Lookup(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.activities.ListActivities(ctx, sessionID)
}

// Snapshot reads the current lines without touching cache or session
// state. Callers own any locking.
func (s *Service) Snapshot(ctx context.Context, sessionID uuid.UUID) ([]domain.CartItem, error) {
	return s.repo.ListItems(ctx, sessionID)
}

// Drain removes every line without audit records; the caller's order
// is the durable account of the drained lines.
func (s *Service) Drain(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.repo.ClearItems(ctx, sessionID); err != nil {
		return err
	}
	s.invalidateCache(sessionID)
	return nil
}

// Lock serializes external multi-step work, like checkout, with this
// cart's mutations.
func (s *Service) Lock(sessionID uuid.UUID) func() {
	return s.locks.Lock(sessionID.String())
}

// touch pushes the session deadline; by this point the store write
// is committed, so a failed touch only gets logged.
func (s *Service) touch(ctx context.Context, sessionID uuid.UUID) {
	if err := s.sessions.Touch(ctx, sessionID); err != nil {
		s.log.Warn().Err(err).
			Str("session_id", sessionID.String()).
			Msg("failed to touch session")
	}
}

// recordAndPublish appends the activity record and then publishes the
// event built from its assigned sequence number. The record is
// durable before any subscriber hears of the change; if the append
// fails the mutation stands, nothing is published, and the gap is
// logged.
func (s *Service) recordAndPublish(ctx context.Context, activity *domain.CartActivity, build func(seq int64) domain.Event) {
	if err := s.activities.AppendActivity(ctx, activity); err != nil {
		s.log.Error().Err(err).
			Str("session_id", activity.SessionID.String()).
			Str("type", string(activity.Type)).
			Msg("failed to append cart activity")
		return
	}
	s.hub.Publish(build(activity.Seq))
}

func (s *Service) invalidateCache(sessionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		s.log.Warn().Err(err).Msg("cache invalidate error")
	}
}
