package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Price(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/products/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 42, "name": "khachapuri", "price": 18.50}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 2*time.Second, zerolog.Nop())

	price, err := client.Price(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("18.50")), "got %s", price)
}

func TestHTTPClient_Price_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 2*time.Second, zerolog.Nop())

	_, err := client.Price(context.Background(), 7)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestHTTPClient_Price_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 2*time.Second, zerolog.Nop())

	_, err := client.Price(context.Background(), 7)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPClient_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 2*time.Second, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := client.Price(ctx, 7)
		assert.ErrorIs(t, err, ErrUnavailable)
	}

	// Once the breaker is open the server stops seeing requests
	seen := calls.Load()
	_, err := client.Price(ctx, 7)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, seen, calls.Load())
}

func TestHTTPClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/products/1" {
			w.Write([]byte(`{"id": 1, "price": 3.00}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 2*time.Second, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := client.Price(ctx, 999)
		assert.ErrorIs(t, err, ErrProductNotFound)
	}

	price, err := client.Price(ctx, 1)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("3.00")))
}

func TestStatic_Price(t *testing.T) {
	source := NewStatic(map[int64]decimal.Decimal{
		1: decimal.RequireFromString("2.50"),
	})

	price, err := source.Price(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("2.50")))

	_, err = source.Price(context.Background(), 2)
	assert.ErrorIs(t, err, ErrProductNotFound)

	source.SetPrice(2, decimal.RequireFromString("5.00"))
	price, err = source.Price(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("5.00")))
}
