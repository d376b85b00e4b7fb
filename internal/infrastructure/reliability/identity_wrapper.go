package reliability

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	"sfucore/pkg/circuitbreaker"
	"sfucore/pkg/retry"
)

// IdentityWrapper wraps an IdentityProvider with retry logic and a circuit
// breaker. Answers are never cached: every call reaches the provider.
type IdentityWrapper struct {
	provider ports.IdentityProvider
	logger   *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

var _ ports.IdentityProvider = (*IdentityWrapper)(nil)

// retryable is implemented by errors that know whether a retry may help.
type retryable interface {
	Retryable() bool
}

// transient reports whether err is worth retrying and counts against the
// breaker. A definite answer from the provider, such as a 4xx, is not.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

func NewIdentityWrapper(
	provider ports.IdentityProvider,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *IdentityWrapper {
	retryConfig.ShouldRetry = transient
	cbConfig.IsFailure = transient

	wrapper := &IdentityWrapper{
		provider:       provider,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("identity circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

// call runs fn through the breaker, retrying transient failures.
func call[T any](ctx context.Context, w *IdentityWrapper, fn func() (T, error)) (T, error) {
	return retry.RetryWithResult(ctx, w.retryConfig, func() (T, error) {
		return circuitbreaker.Do(ctx, w.circuitBreaker, fn)
	})
}

func (w *IdentityWrapper) Authenticate(ctx context.Context, userID, token string) (bool, error) {
	return call(ctx, w, func() (bool, error) {
		return w.provider.Authenticate(ctx, userID, token)
	})
}

func (w *IdentityWrapper) HasPermission(ctx context.Context, userID, token, roomID string) (bool, error) {
	return call(ctx, w, func() (bool, error) {
		return w.provider.HasPermission(ctx, userID, token, roomID)
	})
}

func (w *IdentityWrapper) ResolveChannel(ctx context.Context, channelID string) (*domain.Channel, error) {
	return call(ctx, w, func() (*domain.Channel, error) {
		return w.provider.ResolveChannel(ctx, channelID)
	})
}

// CircuitBreakerStats feeds the health endpoint.
func (w *IdentityWrapper) CircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
