package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the kind of caller acting on carts and orders.
// Authentication happens upstream; callers arrive with their role
// already resolved.
type Role string

const (
	RoleRestaurant Role = "restaurant"
	RoleDriver     Role = "driver"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleRestaurant, RoleDriver, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the resolved identity attached to a request.
type Actor struct {
	ID     string
	Role   Role
	Region string
}

// CartSession binds an opaque client token to one mutable cart.
// At most one active session exists per token; closed or expired
// sessions are never reactivated.
type CartSession struct {
	ID             uuid.UUID `json:"id"`
	Token          string    `json:"token"`
	OwnerID        string    `json:"owner_id,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// IsExpired checks if the session has passed its idle deadline.
func (s *CartSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
