package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/broadcast"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/cart"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/locks"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/repository"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/session"
)

var (
	ErrEmptyCart           = errors.New("cart is empty, nothing to submit")
	IllegalTransitionError = errors.New("illegal transition of order status")
	ErrRoleForbidden       = errors.New("actor role may not perform this transition")
	ErrDriverMismatch      = errors.New("order is assigned to a different driver")
	ErrDriverRequired      = errors.New("assignment requires a driver id")
	ErrDriverUnavailable   = errors.New("driver is not available for assignment")
	ErrPricesIncomplete    = errors.New("every order line needs a positive unit price")
	ErrTransitionConflict  = errors.New("order status changed concurrently, retry")
)

// DefaultSettleAfter is how long a delivered order rests before the
// sweeper settles it to completed.
const DefaultSettleAfter = 48 * time.Hour

// TransitionRequest carries the optional inputs a status change may
// need. DriverID is read when assigning, LinePrices when pricing.
type TransitionRequest struct {
	DriverID   string
	LinePrices map[int64]decimal.Decimal
}

// Service turns submitted carts into orders and walks them through the
// fulfillment chain.
type Service struct {
	orders      repository.OrderRepository
	drivers     repository.DriverDirectory
	carts       *cart.Service
	sessions    *session.Manager
	hub         *broadcast.Hub
	locks       *locks.Keyed
	settleAfter time.Duration
	log         zerolog.Logger
}

func NewService(
	orders repository.OrderRepository,
	drivers repository.DriverDirectory,
	carts *cart.Service,
	sessions *session.Manager,
	hub *broadcast.Hub,
	settleAfter time.Duration,
	log zerolog.Logger,
) *Service {
	if settleAfter <= 0 {
		settleAfter = DefaultSettleAfter
	}
	return &Service{
		orders:      orders,
		drivers:     drivers,
		carts:       carts,
		sessions:    sessions,
		hub:         hub,
		locks:       locks.NewKeyed(),
		settleAfter: settleAfter,
		log:         log,
	}
}

// Submit freezes the session's cart into a pending order. Retrying a
// submit for the same session returns the order created the first time.
func (s *Service) Submit(ctx context.Context, sessionID uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	unlock := s.carts.Lock(sessionID)
	defer unlock()

	existing, err := s.orders.GetOrderBySessionID(ctx, sessionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, fmt.Errorf("failed to check for existing order: %w", err)
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	items, err := s.carts.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	now := time.Now()
	lines := make([]domain.OrderLine, len(items))
	for i, item := range items {
		lines[i] = domain.OrderLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Notes:     item.Notes,
		}
	}

	ord := &domain.Order{
		ID:              uuid.New(),
		OriginSessionID: sessionID,
		RestaurantID:    sess.OwnerID,
		Region:          actor.Region,
		Status:          domain.OrderStatusPending,
		Lines:           lines,
		TotalAmount:     domain.CartTotal(items),
		StatusTimestamps: map[domain.OrderStatus]time.Time{
			domain.OrderStatusPending: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.CreateOrder(ctx, ord); err != nil {
		if errors.Is(err, repository.ErrDuplicateOrder) {
			// Another submit for this session won the race
			return s.orders.GetOrderBySessionID(ctx, sessionID)
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	// The order row is now the durable account of these lines
	if err := s.carts.Drain(ctx, sessionID); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to drain cart after submit")
	}
	if err := s.sessions.Close(ctx, sessionID); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to close session after submit")
	}

	s.hub.Publish(domain.OrderStatusChanged{
		OrderID:   ord.ID,
		To:        domain.OrderStatusPending,
		ActorRole: actor.Role,
		Region:    ord.Region,
		Time:      now,
	})
	return ord, nil
}

// Transition moves an order to the requested status on behalf of the
// actor. Retrying a transition the order has already taken is a no-op
// success.
func (s *Service) Transition(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, actor domain.Actor, req TransitionRequest) (*domain.Order, error) {
	if !to.Valid() || to == domain.OrderStatusPending {
		return nil, IllegalTransitionError
	}

	unlock := s.locks.Lock("order:" + orderID.String())
	defer unlock()

	ord, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if ord.Status == to && ord.Applied(to) {
		return ord, nil
	}
	if !domain.CanTransition(ord.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s", IllegalTransitionError, ord.Status, to)
	}
	if !domain.RoleMayTransition(actor.Role, to) {
		return nil, ErrRoleForbidden
	}
	if actor.Role == domain.RoleDriver && ord.DriverID != actor.ID {
		return nil, ErrDriverMismatch
	}

	switch to {
	case domain.OrderStatusPriced:
		if err := s.applyPrices(ord, req.LinePrices); err != nil {
			return nil, err
		}
	case domain.OrderStatusAssigned:
		if req.DriverID == "" {
			return nil, ErrDriverRequired
		}
		available, err := s.drivers.DriverAvailable(ctx, req.DriverID)
		if err != nil {
			return nil, fmt.Errorf("failed to check driver availability: %w", err)
		}
		if !available {
			return nil, ErrDriverUnavailable
		}
		ord.DriverID = req.DriverID
	}

	from := ord.Status
	now := time.Now()
	ord.Status = to
	if ord.StatusTimestamps == nil {
		ord.StatusTimestamps = make(map[domain.OrderStatus]time.Time)
	}
	ord.StatusTimestamps[to] = now
	ord.UpdatedAt = now

	if err := s.orders.UpdateOrderStatus(ctx, ord, from); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			current, readErr := s.orders.GetOrderByID(ctx, orderID)
			if readErr != nil {
				return nil, readErr
			}
			if current.Status == to {
				// Someone else already landed the same change
				return current, nil
			}
			return nil, fmt.Errorf("%w: now %s", ErrTransitionConflict, current.Status)
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	switch to {
	case domain.OrderStatusAssigned:
		s.setDriverAvailable(ctx, ord.DriverID, false)
	case domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		if ord.DriverID != "" {
			s.setDriverAvailable(ctx, ord.DriverID, true)
		}
	}

	s.hub.Publish(domain.OrderStatusChanged{
		OrderID:   ord.ID,
		From:      from,
		To:        to,
		ActorRole: actor.Role,
		DriverID:  ord.DriverID,
		Region:    ord.Region,
		Time:      now,
	})
	return ord, nil
}

func (s *Service) applyPrices(ord *domain.Order, prices map[int64]decimal.Decimal) error {
	for i := range ord.Lines {
		if price, ok := prices[ord.Lines[i].ProductID]; ok {
			ord.Lines[i].UnitPrice = price
		}
	}
	for _, line := range ord.Lines {
		if line.UnitPrice.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: product %d", ErrPricesIncomplete, line.ProductID)
		}
	}
	ord.RecomputeTotal()
	return nil
}

func (s *Service) setDriverAvailable(ctx context.Context, driverID string, available bool) {
	if err := s.drivers.SetDriverAvailable(ctx, driverID, available); err != nil {
		s.log.Warn().Err(err).Str("driver_id", driverID).Bool("available", available).Msg("failed to update driver availability")
	}
}

// CompleteSettled promotes delivered orders older than the settle
// window to completed. It reports how many orders were settled.
func (s *Service) CompleteSettled(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.settleAfter)
	delivered, err := s.orders.ListOrdersInStatusSince(ctx, domain.OrderStatusDelivered, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list delivered orders: %w", err)
	}

	settled := 0
	actor := domain.Actor{ID: "settlement", Role: domain.RoleSystem}
	for _, ord := range delivered {
		if _, err := s.Transition(ctx, ord.ID, domain.OrderStatusCompleted, actor, TransitionRequest{}); err != nil {
			s.log.Warn().Err(err).Str("order_id", ord.ID.String()).Msg("failed to settle delivered order")
			continue
		}
		settled++
	}
	return settled, nil
}

// GetOrder returns a single order by id.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.orders.GetOrderByID(ctx, orderID)
}

// ListByRestaurant returns the restaurant's orders, newest first.
func (s *Service) ListByRestaurant(ctx context.Context, restaurantID string) ([]*domain.Order, error) {
	return s.orders.ListOrdersByRestaurant(ctx, restaurantID)
}

// SetDriverAvailability records whether a driver can take assignments.
func (s *Service) SetDriverAvailability(ctx context.Context, driverID string, available bool) error {
	if err := s.drivers.SetDriverAvailable(ctx, driverID, available); err != nil {
		return fmt.Errorf("failed to set driver availability: %w", err)
	}
	return nil
}
