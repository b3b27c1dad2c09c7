package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/pkg/circuitbreaker"
)

// HTTPClient fetches prices over the catalog service's REST API. A
// circuit breaker shields cart mutations from a struggling catalog;
// not-found lookups pass through without tripping it.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[decimal.Decimal]
	log     zerolog.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[decimal.Decimal]("catalog", log, func(err error) bool {
			return err == nil || errors.Is(err, ErrProductNotFound)
		}),
		log: log,
	}
}

func (c *HTTPClient) Price(ctx context.Context, productID int64) (decimal.Decimal, error) {
	price, err := c.breaker.Execute(func() (decimal.Decimal, error) {
		return c.fetch(ctx, productID)
	})
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return decimal.Zero, err
		}
		c.log.Error().Err(err).Int64("product_id", productID).Msg("catalog lookup failed")
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return price, nil
}

func (c *HTTPClient) fetch(ctx context.Context, productID int64) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/api/v1/products/%d", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build catalog request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Zero, ErrProductNotFound
	case resp.StatusCode != http.StatusOK:
		return decimal.Zero, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var payload struct {
		ID    int64           `json:"id"`
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode catalog response: %w", err)
	}
	if payload.Price.IsNegative() {
		return decimal.Zero, fmt.Errorf("catalog returned negative price for product %d", productID)
	}
	return payload.Price, nil
}
