// Package session manages cart session lifecycle: opening against a
// client token, idle expiry, and closing at checkout. Sessions are
// the unit of isolation for carts; every cart operation starts by
// resolving one here.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/repository"
)

const DefaultTTL = 24 * time.Hour

var (
	// ErrExpired covers sessions past their idle deadline and
	// sessions closed by checkout; neither accepts further mutations.
	ErrExpired = errors.New("session expired")
	// ErrConflict means a token race resolved to a session this call
	// could not read back; the caller should retry.
	ErrConflict = errors.New("session conflict, retry open")
)

type Manager struct {
	repo repository.SessionRepository
	ttl  time.Duration
	sfg  singleflight.Group // Collapses concurrent opens per token
	log  zerolog.Logger
}

func NewManager(repo repository.SessionRepository, ttl time.Duration, log zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		repo: repo,
		ttl:  ttl,
		log:  log,
	}
}

// Open returns the active session bound to the token, creating one if
// none exists. Every caller racing on the same token observes the
// same session. An empty token mints a fresh token with its session.
func (m *Manager) Open(ctx context.Context, token, ownerID string) (*domain.CartSession, error) {
	if token == "" {
		return m.create(ctx, uuid.NewString(), ownerID)
	}

	// The first caller's context governs the flight
	v, err, _ := m.sfg.Do(token, func() (interface{}, error) {
		existing, err := m.repo.GetActiveSessionByToken(ctx, token)
		if err == nil {
			if !existing.IsExpired() {
				return existing, nil
			}
			if closeErr := m.repo.CloseSession(ctx, existing.ID); closeErr != nil {
				m.log.Warn().Err(closeErr).
					Str("session_id", existing.ID.String()).
					Msg("failed to close expired session")
			}
		} else if !errors.Is(err, repository.ErrSessionNotFound) {
			return nil, err
		}
		return m.create(ctx, token, ownerID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.CartSession), nil
}

func (m *Manager) create(ctx context.Context, token, ownerID string) (*domain.CartSession, error) {
	now := time.Now()
	session := &domain.CartSession{
		ID:             uuid.New(),
		Token:          token,
		OwnerID:        ownerID,
		Active:         true,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.ttl),
	}

	err := m.repo.CreateSession(ctx, session)
	if err == nil {
		m.log.Debug().
			Str("session_id", session.ID.String()).
			Time("expires_at", session.ExpiresAt).
			Msg("session opened")
		return session, nil
	}
	if errors.Is(err, repository.ErrTokenConflict) {
		// Lost the insert race; adopt the winner so both callers end
		// up on the same session
		winner, getErr := m.repo.GetActiveSessionByToken(ctx, token)
		if getErr != nil {
			return nil, ErrConflict
		}
		return winner, nil
	}
	return nil, err
}

// Get resolves a session for mutation. Sessions past their deadline
// are closed on first sight and read as expired from then on.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*domain.CartSession, error) {
	session, err := m.repo.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Active {
		return nil, ErrExpired
	}
	if session.IsExpired() {
		if err := m.repo.CloseSession(ctx, session.ID); err != nil {
			m.log.Warn().Err(err).
				Str("session_id", session.ID.String()).
				Msg("failed to close expired session")
		}
		return nil, ErrExpired
	}
	return session, nil
}

// Lookup returns the stored session record regardless of state.
// Audit surfaces use it; mutation paths go through Get.
func (m *Manager) Lookup(ctx context.Context, id uuid.UUID) (*domain.CartSession, error) {
	return m.repo.GetSessionByID(ctx, id)
}

// Touch pushes the idle deadline out after a successful mutation.
func (m *Manager) Touch(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return m.repo.TouchSession(ctx, id, now, now.Add(m.ttl))
}

// Close deactivates the session. The token becomes free for a future
// session; this one never comes back.
func (m *Manager) Close(ctx context.Context, id uuid.UUID) error {
	if err := m.repo.CloseSession(ctx, id); err != nil {
		return err
	}
	m.log.Debug().Str("session_id", id.String()).Msg("session closed")
	return nil
}

// TTL is the idle window granted to sessions on open and touch.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
