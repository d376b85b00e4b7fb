package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	"sfucore/pkg/circuitbreaker"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddInviteStoreCheck verifies the invite store answers.
func (h *HealthChecker) AddInviteStoreCheck(store ports.InviteStore, interval, timeout time.Duration) {
	h.AddCheck("invite_store", func(ctx context.Context) (bool, error) {
		if _, err := store.Count(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddWorkerCheck fails once no media worker is left alive.
func (h *HealthChecker) AddWorkerCheck(counts func() map[domain.WorkerState]int, interval time.Duration) {
	h.AddCheck("workers", func(context.Context) (bool, error) {
		c := counts()
		if alive := c[domain.WorkerIdle] + c[domain.WorkerRunning]; alive == 0 {
			return false, fmt.Errorf("no live media workers (%d terminated)", c[domain.WorkerTerminated])
		}
		return true, nil
	}, interval, time.Second)
}

// AddCircuitBreakerCheck fails while the named breaker is open.
func (h *HealthChecker) AddCircuitBreakerCheck(name string, stats func() circuitbreaker.Stats, interval time.Duration) {
	h.AddCheck(name+"_circuit", func(context.Context) (bool, error) {
		if s := stats(); s.State == circuitbreaker.StateOpen {
			return false, fmt.Errorf("circuit open since %s", s.StateChangeTime.Format(time.RFC3339))
		}
		return true, nil
	}, interval, time.Second)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
