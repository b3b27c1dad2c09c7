package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTokenConflict   = errors.New("active session already exists for token")
	ErrItemNotFound    = errors.New("item not found in cart")
	ErrOrderNotFound   = errors.New("order not found")
	ErrDuplicateOrder  = errors.New("order for this session already exists")
	ErrStatusConflict  = errors.New("order status changed concurrently")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// SessionRepository defines the interface for cart session storage
// Consumers define this interface, not the MongoDB implementation
type SessionRepository interface {
	// CreateSession stores a new active session. Fails with
	// ErrTokenConflict when another active session holds the token.
	CreateSession(ctx context.Context, session *domain.CartSession) error
	GetSessionByID(ctx context.Context, id uuid.UUID) (*domain.CartSession, error)
	// GetActiveSessionByToken returns the single active session bound
	// to the token, ErrSessionNotFound when there is none.
	GetActiveSessionByToken(ctx context.Context, token string) (*domain.CartSession, error)
	// TouchSession moves the idle deadline of an active session.
	TouchSession(ctx context.Context, id uuid.UUID, lastActivity, expiresAt time.Time) error
	// CloseSession marks the session inactive. Closing an already
	// inactive session is a no-op.
	CloseSession(ctx context.Context, id uuid.UUID) error
	// ListExpiredSessions returns active sessions whose deadline
	// passed before now, oldest first, at most limit.
	ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*domain.CartSession, error)
}

// CartRepository stores the mutable cart lines of active sessions.
type CartRepository interface {
	// UpsertItem inserts the line or replaces the stored quantity,
	// notes and price of the existing (session, product) line. The
	// previous line is returned, nil when the line is new.
	UpsertItem(ctx context.Context, item *domain.CartItem) (*domain.CartItem, error)
	// UpdateItem changes quantity (and notes when non-nil) of an
	// existing line, keeping its price snapshot. Returns the previous
	// line, or ErrItemNotFound.
	UpdateItem(ctx context.Context, sessionID uuid.UUID, productID int64, quantity int, notes *string, at time.Time) (*domain.CartItem, error)
	// RemoveItem deletes the line and returns it; (nil, nil) when the
	// product was not in the cart.
	RemoveItem(ctx context.Context, sessionID uuid.UUID, productID int64) (*domain.CartItem, error)
	ListItems(ctx context.Context, sessionID uuid.UUID) ([]domain.CartItem, error)
	// ClearItems deletes every line of the session and returns the
	// removed lines.
	ClearItems(ctx context.Context, sessionID uuid.UUID) ([]domain.CartItem, error)
}

// ActivityRepository is the append-only audit log of cart mutations.
// Implementations assign Seq per session in strictly increasing order
// and never update or delete records.
type ActivityRepository interface {
	// AppendActivity fills ID and Seq and writes the record.
	AppendActivity(ctx context.Context, activity *domain.CartActivity) error
	// ListActivities returns the session's records in ascending Seq.
	ListActivities(ctx context.Context, sessionID uuid.UUID) ([]domain.CartActivity, error)
}

type OrderRepository interface {
	// CreateOrder stores a new order. Fails with ErrDuplicateOrder
	// when an order for the same origin session exists.
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderBySessionID(ctx context.Context, sessionID uuid.UUID) (*domain.Order, error)
	ListOrdersByRestaurant(ctx context.Context, restaurantID string) ([]*domain.Order, error)
	// UpdateOrderStatus persists the order's current fields only if
	// the stored status still equals from, ErrStatusConflict
	// otherwise. The stored row is the arbiter of transition races.
	UpdateOrderStatus(ctx context.Context, order *domain.Order, from domain.OrderStatus) error
	// ListOrdersInStatusSince returns orders sitting in status whose
	// move into it happened before the cutoff.
	ListOrdersInStatusSince(ctx context.Context, status domain.OrderStatus, enteredBefore time.Time) ([]*domain.Order, error)
	RunMigrations(*Credentials) error
	Close() error
}

// DriverDirectory tracks which drivers can take an assignment.
// Drivers unknown to the directory count as unavailable.
type DriverDirectory interface {
	SetDriverAvailable(ctx context.Context, driverID string, available bool) error
	DriverAvailable(ctx context.Context, driverID string) (bool, error)
}
