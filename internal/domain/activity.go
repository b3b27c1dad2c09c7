package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType enumerates the kinds of cart mutations recorded in the
// activity log.
type ActivityType string

const (
	ActivityItemAdded   ActivityType = "item_added"
	ActivityItemUpdated ActivityType = "item_updated"
	ActivityItemRemoved ActivityType = "item_removed"
	ActivityCartCleared ActivityType = "cart_cleared"
)

// CartActivity is one append-only audit record of a cart mutation.
// Seq is assigned per session in strictly increasing order; records
// are never updated or deleted once written.
type CartActivity struct {
	ID          uuid.UUID    `json:"id"`
	SessionID   uuid.UUID    `json:"session_id"`
	Type        ActivityType `json:"type"`
	ProductID   int64        `json:"product_id,omitempty"`
	OldQuantity int          `json:"old_quantity"`
	NewQuantity int          `json:"new_quantity"`
	Seq         int64        `json:"seq"`
	RecordedAt  time.Time    `json:"recorded_at"`
}
