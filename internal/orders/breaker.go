package orders

import (
	"context"
	"errors"

	"github.com/Domenick1991/bookingcore/internal/observability"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

func newBreaker(cfg Config, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	threshold := cfg.BreakerFailureThreshold
	observability.BreakerState.WithLabelValues(cfg.BreakerName).Set(float64(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: cfg.BreakerHalfOpenRequests,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
}

// countsAsHealthy keeps caller mistakes and caller cancellation from tripping the breaker.
// Only rate limiting, 5xx and transport failures reflect upstream health.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsClientError()
	}
	return false
}
