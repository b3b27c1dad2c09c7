package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/broadcast"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/cache"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/cart"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/catalog"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/locks"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/repository"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/session"
)

var (
	restaurant = domain.Actor{ID: "rest-1", Role: domain.RoleRestaurant, Region: "tbilisi"}
	admin      = domain.Actor{ID: "adm-1", Role: domain.RoleAdmin}
	driver     = domain.Actor{ID: "drv-1", Role: domain.RoleDriver}
)

type fixture struct {
	svc     *Service
	carts   *cart.Service
	manager *session.Manager
	orders  *repository.MemoryOrderStore
	hub     *broadcast.Hub
}

func newFixture() *fixture {
	store := repository.NewMemoryStore()
	orders := repository.NewMemoryOrderStore()
	manager := session.NewManager(store, time.Hour, zerolog.Nop())
	hub := broadcast.NewHub(256, zerolog.Nop())
	prices := catalog.NewStatic(map[int64]decimal.Decimal{
		1: decimal.RequireFromString("2.50"),
		2: decimal.RequireFromString("10.00"),
		7: decimal.Zero, // unpriced until the distributor quotes it
	})
	carts := cart.NewService(manager, store, store, prices, noCache{}, hub, locks.NewKeyed(), zerolog.Nop())
	svc := NewService(orders, orders, carts, manager, hub, time.Hour, zerolog.Nop())
	return &fixture{svc: svc, carts: carts, manager: manager, orders: orders, hub: hub}
}

type noCache struct{}

func (noCache) Get(context.Context, uuid.UUID) (*domain.Cart, error) {
	return nil, cache.ErrCacheMiss
}
func (noCache) Set(context.Context, uuid.UUID, *domain.Cart) error { return nil }
func (noCache) Delete(context.Context, uuid.UUID) error            { return nil }

// seedCart opens a session and fills it with two priced products.
func (f *fixture) seedCart(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	sess, err := f.manager.Open(ctx, "", restaurant.ID)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, sess.ID, 1, 2, "")
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, sess.ID, 2, 1, "")
	require.NoError(t, err)
	return sess.ID
}

func (f *fixture) submit(t *testing.T) *domain.Order {
	t.Helper()
	sessionID := f.seedCart(t)
	ord, err := f.svc.Submit(context.Background(), sessionID, restaurant)
	require.NoError(t, err)
	return ord
}

func recvStatusEvent(t *testing.T, sub *broadcast.Subscription) domain.OrderStatusChanged {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		changed, isStatus := evt.(domain.OrderStatusChanged)
		require.True(t, isStatus, "expected order status event, got %T", evt)
		return changed
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return domain.OrderStatusChanged{}
	}
}

func TestSubmit(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()
	sessionID := f.seedCart(t)

	sub := f.hub.Subscribe(broadcast.Firehose())
	defer sub.Close()

	ord, err := f.svc.Submit(ctx, sessionID, restaurant)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, ord.Status)
	assert.Equal(t, sessionID, ord.OriginSessionID)
	assert.Equal(t, restaurant.ID, ord.RestaurantID)
	assert.Equal(t, "tbilisi", ord.Region)
	require.Len(t, ord.Lines, 2)
	assert.True(t, ord.TotalAmount.Equal(decimal.RequireFromString("15.00")), "got %s", ord.TotalAmount)
	assert.False(t, ord.StatusTimestamps[domain.OrderStatusPending].IsZero())

	evt := recvStatusEvent(t, sub)
	assert.Equal(t, ord.ID, evt.OrderID)
	assert.Equal(t, domain.OrderStatusPending, evt.To)

	// The cart is drained and the session retired
	items, err := f.carts.Snapshot(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = f.manager.Get(ctx, sessionID)
	assert.ErrorIs(t, err, session.ErrExpired)
}

func TestSubmit_Idempotent(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()
	ord := f.submit(t)

	// The session is already closed, yet the retry still lands on the
	// original order
	again, err := f.svc.Submit(ctx, ord.OriginSessionID, restaurant)
	require.NoError(t, err)
	assert.Equal(t, ord.ID, again.ID)
}

func TestSubmit_EmptyCart(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()
	sess, err := f.manager.Open(ctx, "", restaurant.ID)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, sess.ID, restaurant)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestSubmit_SessionGone(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, uuid.New(), restaurant)
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	sess, err := f.manager.Open(ctx, "", restaurant.ID)
	require.NoError(t, err)
	require.NoError(t, f.manager.Close(ctx, sess.ID))

	_, err = f.svc.Submit(ctx, sess.ID, restaurant)
	assert.ErrorIs(t, err, session.ErrExpired)
}

func TestTransition_FullChain(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()
	ord := f.submit(t)

	sub := f.hub.Subscribe(broadcast.ForOrder(ord.ID))
	defer sub.Close()

	require.NoError(t, f.orders.SetDriverAvailable(ctx, driver.ID, true))

	steps := []struct {
		to    domain.OrderStatus
		actor domain.Actor
		req   TransitionRequest
	}{
		{domain.OrderStatusConfirmed, admin, TransitionRequest{}},
		{domain.OrderStatusPriced, admin, TransitionRequest{LinePrices: map[int64]decimal.Decimal{
			1: decimal.RequireFromString("3.00"),
			2: decimal.RequireFromString("12.00"),
		}}},
		{domain.OrderStatusAssigned, admin, TransitionRequest{DriverID: driver.ID}},
		{domain.OrderStatusOutForDelivery, driver, TransitionRequest{}},
		{domain.OrderStatusDelivered, driver, TransitionRequest{}},
		{domain.OrderStatusCompleted, admin, TransitionRequest{}},
	}

	for _, step := range steps {
		updated, err := f.svc.Transition(ctx, ord.ID, step.to, step.actor, step.req)
		require.NoError(t, err, "transition to %s", step.to)
		assert.Equal(t, step.to, updated.Status)
		assert.False(t, updated.StatusTimestamps[step.to].IsZero())

		evt := recvStatusEvent(t, sub)
		assert.Equal(t, step.to, evt.To)
		assert.Equal(t, step.actor.Role, evt.ActorRole)
	}

	final, err := f.svc.GetOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.True(t, final.Status.IsTerminal())
	// Repricing replaced the cart snapshot totals
	assert.True(t, final.TotalAmount.Equal(decimal.RequireFromString("18.00")), "got %s", final.TotalAmount)
	assert.Len(t, final.StatusTimestamps, 7)

	// The driver was tied up during delivery and released afterwards
	available, err := f.orders.DriverAvailable(ctx, driver.ID)
	require.NoError(t, err)
	assert.True(t, available)
}

func TestTransition_Illegal(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()
	ord := f.submit(t)

	_, err := f.svc.Transition(ctx, ord.ID, domain.OrderStatusAssigned, admin, TransitionRequest{DriverID: driver.ID})
	assert.ErrorIs(t, err, IllegalTransitionError)

	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusPending, admin, TransitionRequest{})
	assert.ErrorIs(t, err, IllegalTransitionError)

	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatus("shipped"), admin, TransitionRequest{})
	assert.ErrorIs(t, err, IllegalTransitionError)

	_, err = f.svc.Transition(ctx, uuid.New(), domain.OrderStatusConfirmed, admin, TransitionRequest{})
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)

	// Terminal orders stay put
	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusCancelled, admin, TransitionRequest{})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusConfirmed, admin, TransitionRequest{})
	assert.ErrorIs(t, err, IllegalTransitionError)
}

func TestTransition_RoleGuards(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()
	ord := f.submit(t)

	_, err := f.svc.Transition(ctx, ord.ID, domain.OrderStatusConfirmed, restaurant, TransitionRequest{})
	assert.ErrorIs(t, err, ErrRoleForbidden)

	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusConfirmed, driver, TransitionRequest{})
	assert.ErrorIs(t, err, ErrRoleForbidden)

	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusConfirmed, admin, TransitionRequest{})
	require.NoError(t, err)

	// Dispatch legs belong to the assigned driver, not the office
	require.NoError(t, f.orders.SetDriverAvailable(ctx, driver.ID, true))
	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusPriced, admin, TransitionRequest{})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusAssigned, admin, TransitionRequest{DriverID: driver.ID})
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusOutForDelivery, admin, TransitionRequest{})
	assert.ErrorIs(t, err, ErrRoleForbidden)

	otherDriver := domain.Actor{ID: "drv-9", Role: domain.RoleDriver}
	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusOutForDelivery, otherDriver, TransitionRequest{})
	assert.ErrorIs(t, err, ErrDriverMismatch)

	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusOutForDelivery, driver, TransitionRequest{})
	require.NoError(t, err)
}

func TestTransition_Pricing(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()

	sess, err := f.manager.Open(ctx, "", restaurant.ID)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, sess.ID, 1, 2, "")
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, sess.ID, 7, 5, "") // no list price yet
	require.NoError(t, err)

	ord, err := f.svc.Submit(ctx, sess.ID, restaurant)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusConfirmed, admin, TransitionRequest{})
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusPriced, admin, TransitionRequest{})
	assert.ErrorIs(t, err, ErrPricesIncomplete)

	priced, err := f.svc.Transition(ctx, ord.ID, domain.OrderStatusPriced, admin, TransitionRequest{
		LinePrices: map[int64]decimal.Decimal{7: decimal.RequireFromString("4.00")},
	})
	require.NoError(t, err)
	// 2 x 2.50 from the cart snapshot plus 5 x 4.00 quoted now
	assert.True(t, priced.TotalAmount.Equal(decimal.RequireFromString("25.00")), "got %s", priced.TotalAmount)
}

func TestTransition_Assignment(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()
	ord := f.submit(t)

	_, err := f.svc.Transition(ctx, ord.ID, domain.OrderStatusConfirmed, admin, TransitionRequest{})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusPriced, admin, TransitionRequest{})
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusAssigned, admin, TransitionRequest{})
	assert.ErrorIs(t, err, ErrDriverRequired)

	// Never-seen drivers count as unavailable
	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusAssigned, admin, TransitionRequest{DriverID: "drv-ghost"})
	assert.ErrorIs(t, err, ErrDriverUnavailable)

	require.NoError(t, f.orders.SetDriverAvailable(ctx, "drv-busy", false))
	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusAssigned, admin, TransitionRequest{DriverID: "drv-busy"})
	assert.ErrorIs(t, err, ErrDriverUnavailable)

	require.NoError(t, f.orders.SetDriverAvailable(ctx, driver.ID, true))
	assigned, err := f.svc.Transition(ctx, ord.ID, domain.OrderStatusAssigned, admin, TransitionRequest{DriverID: driver.ID})
	require.NoError(t, err)
	assert.Equal(t, driver.ID, assigned.DriverID)

	available, err := f.orders.DriverAvailable(ctx, driver.ID)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestTransition_IdempotentRetry(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()
	ord := f.submit(t)

	sub := f.hub.Subscribe(broadcast.ForOrder(ord.ID))
	defer sub.Close()

	first, err := f.svc.Transition(ctx, ord.ID, domain.OrderStatusConfirmed, admin, TransitionRequest{})
	require.NoError(t, err)
	evt := recvStatusEvent(t, sub)
	assert.Equal(t, domain.OrderStatusConfirmed, evt.To)

	retry, err := f.svc.Transition(ctx, ord.ID, domain.OrderStatusConfirmed, admin, TransitionRequest{})
	require.NoError(t, err)
	assert.Equal(t, first.Status, retry.Status)
	assert.Equal(t, first.StatusTimestamps[domain.OrderStatusConfirmed].Unix(), retry.StatusTimestamps[domain.OrderStatusConfirmed].Unix())

	// The retry must not announce the change a second time
	select {
	case evt := <-sub.Events():
		t.Fatalf("unexpected event %v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancel_ReleasesDriver(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()
	ord := f.submit(t)

	require.NoError(t, f.orders.SetDriverAvailable(ctx, driver.ID, true))
	_, err := f.svc.Transition(ctx, ord.ID, domain.OrderStatusConfirmed, admin, TransitionRequest{})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusPriced, admin, TransitionRequest{})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, ord.ID, domain.OrderStatusAssigned, admin, TransitionRequest{DriverID: driver.ID})
	require.NoError(t, err)

	available, err := f.orders.DriverAvailable(ctx, driver.ID)
	require.NoError(t, err)
	require.False(t, available)

	cancelled, err := f.svc.Transition(ctx, ord.ID, domain.OrderStatusCancelled, admin, TransitionRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	available, err = f.orders.DriverAvailable(ctx, driver.ID)
	require.NoError(t, err)
	assert.True(t, available)
}

type raceOrders struct {
	repository.OrderRepository
	m        sync.Mutex
	afterGet func()
}

func (r *raceOrders) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	ord, err := r.OrderRepository.GetOrderByID(ctx, id)
	r.m.Lock()
	hook := r.afterGet
	r.afterGet = nil
	r.m.Unlock()
	if hook != nil {
		hook()
	}
	return ord, err
}

func newRacingService(f *fixture, hook func()) *Service {
	wrapped := &raceOrders{OrderRepository: f.orders, afterGet: hook}
	return NewService(wrapped, f.orders, f.carts, f.manager, f.hub, time.Hour, zerolog.Nop())
}

// moveStored flips the stored order behind the service's back, the way
// a second replica would.
func (f *fixture) moveStored(t *testing.T, orderID uuid.UUID, to domain.OrderStatus) {
	t.Helper()
	ctx := context.Background()
	stored, err := f.orders.GetOrderByID(ctx, orderID)
	require.NoError(t, err)
	from := stored.Status
	stored.Status = to
	stored.StatusTimestamps[to] = time.Now()
	require.NoError(t, f.orders.UpdateOrderStatus(ctx, stored, from))
}

func TestTransition_ConcurrentSameTargetConverges(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()
	ord := f.submit(t)

	racing := newRacingService(f, func() {
		f.moveStored(t, ord.ID, domain.OrderStatusConfirmed)
	})

	updated, err := racing.Transition(ctx, ord.ID, domain.OrderStatusConfirmed, admin, TransitionRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, updated.Status)
}

func TestTransition_ConcurrentDivergentTargetConflicts(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()
	ord := f.submit(t)

	racing := newRacingService(f, func() {
		f.moveStored(t, ord.ID, domain.OrderStatusCancelled)
	})

	_, err := racing.Transition(ctx, ord.ID, domain.OrderStatusConfirmed, admin, TransitionRequest{})
	assert.ErrorIs(t, err, ErrTransitionConflict)
}

func TestCompleteSettled(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()

	mkDelivered := func(deliveredAt time.Time) uuid.UUID {
		ord := &domain.Order{
			ID:              uuid.New(),
			OriginSessionID: uuid.New(),
			RestaurantID:    restaurant.ID,
			Status:          domain.OrderStatusDelivered,
			Lines: []domain.OrderLine{
				{ProductID: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("2.50")},
			},
			TotalAmount: decimal.RequireFromString("2.50"),
			StatusTimestamps: map[domain.OrderStatus]time.Time{
				domain.OrderStatusDelivered: deliveredAt,
			},
			CreatedAt: deliveredAt,
			UpdatedAt: deliveredAt,
		}
		require.NoError(t, f.orders.CreateOrder(ctx, ord))
		return ord.ID
	}

	oldID := mkDelivered(time.Now().Add(-2 * time.Hour))
	freshID := mkDelivered(time.Now().Add(-time.Minute))

	settled, err := f.svc.CompleteSettled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	old, err := f.svc.GetOrder(ctx, oldID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, old.Status)

	fresh, err := f.svc.GetOrder(ctx, freshID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, fresh.Status)

	// A second sweep finds nothing left to settle
	settled, err = f.svc.CompleteSettled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
}

func TestListByRestaurant(t *testing.T) {
	f := newFixture()
	defer f.hub.Close()
	ctx := context.Background()

	first := f.submit(t)
	second := f.submit(t)

	listed, err := f.svc.ListByRestaurant(ctx, restaurant.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	ids := []uuid.UUID{listed[0].ID, listed[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)

	listed, err = f.svc.ListByRestaurant(ctx, "rest-unknown")
	require.NoError(t, err)
	assert.Empty(t, listed)
}
