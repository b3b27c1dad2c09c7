package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a submitted order. Orders move
// along a single forward chain; cancellation is reachable from any
// non-terminal state.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPriced         OrderStatus = "priced"
	OrderStatusAssigned       OrderStatus = "assigned"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPriced,
		OrderStatusAssigned, OrderStatusOutForDelivery, OrderStatusDelivered,
		OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// nextStatus is the forward chain of the order lifecycle.
var nextStatus = map[OrderStatus]OrderStatus{
	OrderStatusPending:        OrderStatusConfirmed,
	OrderStatusConfirmed:      OrderStatusPriced,
	OrderStatusPriced:         OrderStatusAssigned,
	OrderStatusAssigned:       OrderStatusOutForDelivery,
	OrderStatusOutForDelivery: OrderStatusDelivered,
	OrderStatusDelivered:      OrderStatusCompleted,
}

// CanTransition reports whether from -> to is a legal move. Skipping
// states is never allowed.
func CanTransition(from, to OrderStatus) bool {
	if to == OrderStatusCancelled {
		return !from.IsTerminal()
	}
	return nextStatus[from] == to
}

// transitionRoles maps each target status to the roles allowed to
// drive an order into it. Driver moves additionally require the actor
// to be the driver assigned to that order, which is checked against
// the order itself.
var transitionRoles = map[OrderStatus]map[Role]bool{
	OrderStatusConfirmed:      {RoleAdmin: true},
	OrderStatusPriced:         {RoleAdmin: true},
	OrderStatusAssigned:       {RoleAdmin: true},
	OrderStatusOutForDelivery: {RoleDriver: true},
	OrderStatusDelivered:      {RoleDriver: true},
	OrderStatusCompleted:      {RoleAdmin: true, RoleSystem: true},
	OrderStatusCancelled:      {RoleAdmin: true},
}

// RoleMayTransition reports whether the given role may request a move
// into the target status.
func RoleMayTransition(role Role, to OrderStatus) bool {
	return transitionRoles[to][role]
}

// OrderLine is one frozen line of a submitted order. Lines are copied
// from the cart at submit time and never change afterwards, except
// for unit prices confirmed during the priced transition.
type OrderLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes,omitempty"`
}

type Order struct {
	ID               uuid.UUID                 `json:"id"`
	OriginSessionID  uuid.UUID                 `json:"origin_session_id"`
	RestaurantID     string                    `json:"restaurant_id"`
	Region           string                    `json:"region,omitempty"`
	DriverID         string                    `json:"driver_id,omitempty"`
	Status           OrderStatus               `json:"status"`
	Lines            []OrderLine               `json:"lines"`
	TotalAmount      decimal.Decimal           `json:"total_amount"`
	StatusTimestamps map[OrderStatus]time.Time `json:"status_timestamps"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// Applied reports whether the order has ever reached the given status.
func (o *Order) Applied(s OrderStatus) bool {
	_, ok := o.StatusTimestamps[s]
	return ok
}

// RecomputeTotal refreshes TotalAmount from the current lines.
func (o *Order) RecomputeTotal() {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	o.TotalAmount = total
}
