package awws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/couchcryptid/awws-metar-etl/internal/domain"
)

// BreakerConfig controls when fetching stops for the rest of a run.
type BreakerConfig struct {
	// MaxFailures consecutive failures open the circuit.
	MaxFailures int
	// OpenTimeout is how long the circuit stays open before a trial fetch.
	OpenTimeout time.Duration
	// State, when set, tracks the breaker state (0 closed, 1 half-open, 2 open).
	State prometheus.Gauge
}

// BreakingFetcher wraps a PageFetcher with a circuit breaker. It does not retry.
// Fetches abandoned through context cancellation do not count as failures;
// timeouts do.
type BreakingFetcher struct {
	next    PageFetcher
	circuit *gobreaker.CircuitBreaker
}

// NewBreakingFetcher wraps next.
func NewBreakingFetcher(next PageFetcher, cfg BreakerConfig, logger *slog.Logger) *BreakingFetcher {
	maxFailures := uint32(1)
	if cfg.MaxFailures > 1 {
		maxFailures = uint32(cfg.MaxFailures)
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Minute
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "awws-fetch",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		// A cancelled run says nothing about the source's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if cfg.State != nil {
				cfg.State.Set(float64(to))
			}
		},
	})

	return &BreakingFetcher{next: next, circuit: cb}
}

func (f *BreakingFetcher) FetchPage(ctx context.Context, station domain.Station) (string, error) {
	result, err := f.circuit.Execute(func() (interface{}, error) {
		return f.next.FetchPage(ctx, station)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: station %s: %v", ErrCircuitOpen, station.Code, err)
	}
	if err != nil {
		return "", err
	}
	markup, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("%w: station %s: unexpected result type %T", ErrFetch, station.Code, result)
	}
	return markup, nil
}

// State reports the current breaker state.
func (f *BreakingFetcher) State() gobreaker.State {
	return f.circuit.State()
}
