// Package catalog resolves product prices from the distributor's
// catalog service. Prices are snapshotted into cart lines at add
// time; the catalog itself is owned by another service.
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found in catalog")
	ErrUnavailable     = errors.New("catalog unavailable")
)

type PriceSource interface {
	Price(ctx context.Context, productID int64) (decimal.Decimal, error)
}
