package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	apperrors "shopstate/pkg/errors"
)

// BreakerConfig holds configuration for a backend circuit breaker.
type BreakerConfig struct {
	// Name identifies this breaker (used in metrics and logs).
	Name string

	// MaxRequests is the maximum number of requests allowed in the half-open state.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing internal counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open before moving to half-open.
	Timeout time.Duration

	// FailureRatio is the ratio of failures to total requests that trips the breaker.
	FailureRatio float64

	// MinRequests is the minimum number of requests needed before the failure ratio is evaluated.
	MinRequests uint32
}

// DefaultBreakerConfig returns sensible defaults for a backend breaker.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

var breakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "storage_breaker_state",
		Help: "Current state of the storage circuit breaker (0=closed, 1=half-open, 2=open)",
	},
	[]string{"backend"},
)

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerBackend wraps a remote Backend with a circuit breaker. Get and Set
// share one breaker: they hit the same store, so either tripping means the
// store is unreachable. While the circuit is open both return
// apperrors.ErrServiceUnavail without touching the backend, which the
// adapter's log-and-degrade policy turns into empty loads and dropped saves
// until the store recovers. A missing key is a normal outcome and never
// counts as a failure.
//
// Watch is not routed through the breaker: it is a single long-lived
// subscription, not a per-request call.
type BreakerBackend struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker[[]byte]
	name    string
}

// NewBreakerBackend wraps the given backend with a circuit breaker.
func NewBreakerBackend(backend Backend, cfg BreakerConfig, logger *slog.Logger) *BreakerBackend {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, apperrors.ErrNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("storage circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	}

	// Set initial state metric.
	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &BreakerBackend{
		backend: backend,
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
		name:    cfg.Name,
	}
}

// Get reads through the breaker.
func (b *BreakerBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.breaker.Execute(func() ([]byte, error) {
		return b.backend.Get(ctx, key)
	})
	if err != nil {
		return nil, b.mapOpenError(err)
	}
	return data, nil
}

// Set writes through the breaker.
func (b *BreakerBackend) Set(ctx context.Context, key string, data []byte, origin string) error {
	_, err := b.breaker.Execute(func() ([]byte, error) {
		return nil, b.backend.Set(ctx, key, data, origin)
	})
	if err != nil {
		return b.mapOpenError(err)
	}
	return nil
}

// Watch delegates to the wrapped backend.
func (b *BreakerBackend) Watch(ctx context.Context, key string) (<-chan Notification, error) {
	return b.backend.Watch(ctx, key)
}

// Close delegates to the wrapped backend.
func (b *BreakerBackend) Close() error {
	return b.backend.Close()
}

// State returns the current state of the circuit breaker.
func (b *BreakerBackend) State() gobreaker.State {
	return b.breaker.State()
}

func (b *BreakerBackend) mapOpenError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.Unavailable(b.name + " storage circuit open")
	}
	return err
}
