// Package sweeper retires sessions nobody touched within their
// deadline and settles delivered orders into completed.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/repository"
)

// Settler promotes delivered orders that have rested long enough.
type Settler interface {
	CompleteSettled(ctx context.Context) (int, error)
}

type Sweeper struct {
	sessionTick time.Duration
	settleTick  time.Duration
	batchSize   int
	sessions    repository.SessionRepository
	carts       repository.CartRepository
	settler     Settler
	log         zerolog.Logger
}

func New(sessions repository.SessionRepository, carts repository.CartRepository, settler Settler, log zerolog.Logger) *Sweeper {
	return &Sweeper{time.Minute, 5 * time.Minute, 100, sessions, carts, settler, log}
}

func (s *Sweeper) Run(ctx context.Context) {
	sessionTicker := time.NewTicker(s.sessionTick)
	settleTicker := time.NewTicker(s.settleTick)
	defer sessionTicker.Stop()
	defer settleTicker.Stop()
	for {
		select {
		case <-sessionTicker.C:
			s.sweepSessions(ctx)
		case <-settleTicker.C:
			s.settleOrders(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweepSessions closes sessions past their deadline and removes their
// items. Activity records stay behind for audit.
func (s *Sweeper) sweepSessions(ctx context.Context) {
	for {
		expired, err := s.sessions.ListExpiredSessions(ctx, time.Now(), s.batchSize)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to list expired sessions")
			return
		}
		if len(expired) == 0 {
			return
		}

		swept := 0
		for _, sess := range expired {
			if err := s.sessions.CloseSession(ctx, sess.ID); err != nil {
				s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("failed to close expired session")
				continue
			}
			if _, err := s.carts.ClearItems(ctx, sess.ID); err != nil {
				s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("failed to clear expired cart")
			}
			swept++
		}
		s.log.Info().Int("swept", swept).Msg("expired sessions swept")

		// Stop once the backlog is drained or nothing moves
		if len(expired) < s.batchSize || swept == 0 {
			return
		}
	}
}

func (s *Sweeper) settleOrders(ctx context.Context) {
	settled, err := s.settler.CompleteSettled(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to settle delivered orders")
		return
	}
	if settled > 0 {
		s.log.Info().Int("settled", settled).Msg("delivered orders settled")
	}
}
