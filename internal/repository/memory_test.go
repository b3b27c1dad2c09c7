package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

func newTestSession(token string) *domain.CartSession {
	now := time.Now()
	return &domain.CartSession{
		ID:             uuid.New(),
		Token:          token,
		OwnerID:        "rest-1",
		Active:         true,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(24 * time.Hour),
	}
}

func newTestItem(sessionID uuid.UUID, productID int64, quantity int) *domain.CartItem {
	now := time.Now()
	return &domain.CartItem{
		SessionID: sessionID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: decimal.RequireFromString("9.90"),
		AddedAt:   now,
		UpdatedAt: now,
	}
}

func TestMemoryStore_CreateSession_TokenConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := newTestSession("tok-1")
	require.NoError(t, store.CreateSession(ctx, first))

	second := newTestSession("tok-1")
	err := store.CreateSession(ctx, second)
	assert.ErrorIs(t, err, ErrTokenConflict)

	// Closing the first session frees the token
	require.NoError(t, store.CloseSession(ctx, first.ID))
	assert.NoError(t, store.CreateSession(ctx, second))
}

func TestMemoryStore_GetActiveSessionByToken(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := newTestSession("tok-2")
	require.NoError(t, store.CreateSession(ctx, session))

	found, err := store.GetActiveSessionByToken(ctx, "tok-2")
	require.NoError(t, err)
	assert.Equal(t, session.ID, found.ID)

	require.NoError(t, store.CloseSession(ctx, session.ID))
	_, err = store.GetActiveSessionByToken(ctx, "tok-2")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_TouchSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := newTestSession("tok-3")
	require.NoError(t, store.CreateSession(ctx, session))

	newDeadline := time.Now().Add(48 * time.Hour)
	require.NoError(t, store.TouchSession(ctx, session.ID, time.Now(), newDeadline))

	found, err := store.GetSessionByID(ctx, session.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, newDeadline, found.ExpiresAt, time.Second)

	// Inactive sessions cannot be touched
	require.NoError(t, store.CloseSession(ctx, session.ID))
	err = store.TouchSession(ctx, session.ID, time.Now(), newDeadline)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_ListExpiredSessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	expired := newTestSession("tok-old")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateSession(ctx, expired))

	fresh := newTestSession("tok-new")
	require.NoError(t, store.CreateSession(ctx, fresh))

	closed := newTestSession("tok-closed")
	closed.ExpiresAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.CreateSession(ctx, closed))
	require.NoError(t, store.CloseSession(ctx, closed.ID))

	found, err := store.ListExpiredSessions(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, expired.ID, found[0].ID)
}

func TestMemoryStore_UpsertItem_ReplacesQuantity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sessionID := uuid.New()

	prev, err := store.UpsertItem(ctx, newTestItem(sessionID, 1, 2))
	require.NoError(t, err)
	assert.Nil(t, prev)

	// Re-adding the same product replaces, not accumulates
	prev, err = store.UpsertItem(ctx, newTestItem(sessionID, 1, 5))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, 2, prev.Quantity)

	items, err := store.ListItems(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestMemoryStore_UpdateItem(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sessionID := uuid.New()

	_, err := store.UpdateItem(ctx, sessionID, 1, 3, nil, time.Now())
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = store.UpsertItem(ctx, newTestItem(sessionID, 1, 2))
	require.NoError(t, err)

	notes := "no onions"
	prev, err := store.UpdateItem(ctx, sessionID, 1, 7, &notes, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, prev.Quantity)

	items, err := store.ListItems(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 7, items[0].Quantity)
	assert.Equal(t, "no onions", items[0].Notes)
}

func TestMemoryStore_RemoveItem_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sessionID := uuid.New()

	_, err := store.UpsertItem(ctx, newTestItem(sessionID, 1, 2))
	require.NoError(t, err)

	removed, err := store.RemoveItem(ctx, sessionID, 1)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, 2, removed.Quantity)

	// Second remove is a silent no-op
	removed, err = store.RemoveItem(ctx, sessionID, 1)
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestMemoryStore_ClearItems(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sessionID := uuid.New()

	for i := int64(1); i <= 3; i++ {
		_, err := store.UpsertItem(ctx, newTestItem(sessionID, i, int(i)))
		require.NoError(t, err)
	}

	removed, err := store.ClearItems(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, removed, 3)

	items, err := store.ListItems(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryStore_AppendActivity_SequencePerSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	first := uuid.New()
	second := uuid.New()

	for i := 0; i < 3; i++ {
		err := store.AppendActivity(ctx, &domain.CartActivity{
			SessionID:  first,
			Type:       domain.ActivityItemAdded,
			ProductID:  int64(i + 1),
			RecordedAt: time.Now(),
		})
		require.NoError(t, err)
	}
	err := store.AppendActivity(ctx, &domain.CartActivity{
		SessionID:  second,
		Type:       domain.ActivityItemAdded,
		ProductID:  9,
		RecordedAt: time.Now(),
	})
	require.NoError(t, err)

	records, err := store.ListActivities(ctx, first)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, record := range records {
		assert.Equal(t, int64(i+1), record.Seq)
		assert.NotEqual(t, uuid.Nil, record.ID)
	}

	// Sequences are independent per session
	records, err = store.ListActivities(ctx, second)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].Seq)
}
