package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind names each concrete Event type on the wire.
type EventKind string

const (
	EventItemAdded          EventKind = "item_added"
	EventItemUpdated        EventKind = "item_updated"
	EventItemRemoved        EventKind = "item_removed"
	EventCartCleared        EventKind = "cart_cleared"
	EventOrderStatusChanged EventKind = "order_status_changed"
)

// Event is the closed set of change notifications fanned out after a
// successful mutation. Only the types below implement it, so consumers
// can switch over the concrete types exhaustively. Events carry
// already-committed facts and are delivered at most once per
// subscriber, in occurrence order per ScopeKey.
type Event interface {
	Kind() EventKind
	// ScopeKey identifies the session or order the event belongs to.
	ScopeKey() string
	At() time.Time

	isEvent()
}

// ItemAdded signals a product line created in a cart.
type ItemAdded struct {
	SessionID uuid.UUID       `json:"session_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes,omitempty"`
	Seq       int64           `json:"seq"`
	Time      time.Time       `json:"time"`
}

func (e ItemAdded) Kind() EventKind  { return EventItemAdded }
func (e ItemAdded) ScopeKey() string { return e.SessionID.String() }
func (e ItemAdded) At() time.Time    { return e.Time }
func (ItemAdded) isEvent()           {}

// ItemUpdated signals an existing line's quantity or notes changed,
// including re-adds of a product already in the cart.
type ItemUpdated struct {
	SessionID   uuid.UUID       `json:"session_id"`
	ProductID   int64           `json:"product_id"`
	OldQuantity int             `json:"old_quantity"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Notes       string          `json:"notes,omitempty"`
	Seq         int64           `json:"seq"`
	Time        time.Time       `json:"time"`
}

func (e ItemUpdated) Kind() EventKind  { return EventItemUpdated }
func (e ItemUpdated) ScopeKey() string { return e.SessionID.String() }
func (e ItemUpdated) At() time.Time    { return e.Time }
func (ItemUpdated) isEvent()           {}

// ItemRemoved signals a line taken out of a cart.
type ItemRemoved struct {
	SessionID   uuid.UUID `json:"session_id"`
	ProductID   int64     `json:"product_id"`
	OldQuantity int       `json:"old_quantity"`
	Seq         int64     `json:"seq"`
	Time        time.Time `json:"time"`
}

func (e ItemRemoved) Kind() EventKind  { return EventItemRemoved }
func (e ItemRemoved) ScopeKey() string { return e.SessionID.String() }
func (e ItemRemoved) At() time.Time    { return e.Time }
func (ItemRemoved) isEvent()           {}

// CartCleared signals a cart emptied in one operation. One ItemRemoved
// per line precedes it.
type CartCleared struct {
	SessionID    uuid.UUID `json:"session_id"`
	ItemsRemoved int       `json:"items_removed"`
	Seq          int64     `json:"seq"`
	Time         time.Time `json:"time"`
}

func (e CartCleared) Kind() EventKind  { return EventCartCleared }
func (e CartCleared) ScopeKey() string { return e.SessionID.String() }
func (e CartCleared) At() time.Time    { return e.Time }
func (CartCleared) isEvent()           {}

// OrderStatusChanged signals one applied order transition. From is
// empty for the initial move into pending at submit.
type OrderStatusChanged struct {
	OrderID   uuid.UUID   `json:"order_id"`
	From      OrderStatus `json:"from,omitempty"`
	To        OrderStatus `json:"to"`
	ActorRole Role        `json:"actor_role"`
	DriverID  string      `json:"driver_id,omitempty"`
	Region    string      `json:"region,omitempty"`
	Time      time.Time   `json:"time"`
}

func (e OrderStatusChanged) Kind() EventKind  { return EventOrderStatusChanged }
func (e OrderStatusChanged) ScopeKey() string { return e.OrderID.String() }
func (e OrderStatusChanged) At() time.Time    { return e.Time }
func (OrderStatusChanged) isEvent()           {}
