package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartItem is one product line inside a session's cart. A cart holds
// at most one line per product; re-adding a product replaces its
// quantity rather than accumulating it.
type CartItem struct {
	SessionID uuid.UUID       `json:"session_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes,omitempty"`
	AddedAt   time.Time       `json:"added_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Subtotal returns unit price times quantity for this line.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the read-model view of a session's current contents,
// served to clients and dashboards.
type Cart struct {
	Session *CartSession    `json:"session"`
	Items   []CartItem      `json:"items"`
	Total   decimal.Decimal `json:"total"`
}

// CartTotal sums the subtotals of the given lines.
func CartTotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}
