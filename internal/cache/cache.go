package cache

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

type CartCache interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*domain.Cart, error)
	Set(ctx context.Context, sessionID uuid.UUID, cart *domain.Cart) error
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

var ErrCacheMiss = errors.New("cache miss")
