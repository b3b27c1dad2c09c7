package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// New returns a circuit breaker for calls to a downstream service.
// The breaker opens once half of at least five requests in a rolling
// minute fail, and probes again after thirty seconds. isSuccessful
// may be nil; pass one to keep expected errors, like not-found
// lookups, from counting as failures.
func New[T any](name string, log zerolog.Logger, isSuccessful func(error) bool) *gobreaker.CircuitBreaker[T] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 >= counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	if isSuccessful != nil {
		settings.IsSuccessful = isSuccessful
	}
	return gobreaker.NewCircuitBreaker[T](settings)
}
