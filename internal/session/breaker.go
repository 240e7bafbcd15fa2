package session

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerBackend routes every store call of the wrapped backend through one
// circuit breaker. While the breaker is open calls fail with
// gobreaker.ErrOpenState without reaching the backend.
type BreakerBackend struct {
	next Backend
	cb   *gobreaker.CircuitBreaker[any]
}

// DefaultBreakerSettings trips after five consecutive failures and probes
// again after thirty seconds.
func DefaultBreakerSettings(name string, logger *zap.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("session breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidPath)
		},
	}
}

func NewBreakerBackend(next Backend, settings gobreaker.Settings) *BreakerBackend {
	return &BreakerBackend{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

func (b *BreakerBackend) Session(id string) Store {
	return &breakerStore{next: b.next.Session(id), cb: b.cb}
}

func (b *BreakerBackend) Close() error {
	return b.next.Close()
}

// State exposes the breaker state for health reporting.
func (b *BreakerBackend) State() gobreaker.State {
	return b.cb.State()
}

// IsUnavailable reports whether err was produced by an open breaker.
func IsUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

type breakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

func (s *breakerStore) Get(ctx context.Context, path string, def any) (any, error) {
	return s.cb.Execute(func() (any, error) {
		return s.next.Get(ctx, path, def)
	})
}

func (s *breakerStore) Put(ctx context.Context, path string, value any) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.next.Put(ctx, path, value)
	})
	return err
}

func (s *breakerStore) Forget(ctx context.Context, path string) (bool, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return s.next.Forget(ctx, path)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
