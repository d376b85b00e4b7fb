package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sfucore/internal/core/domain"
)

func TestHeartbeatMonitor_EvictsSilentPeers(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	start := time.Now()
	var skew atomic.Int64
	h.ctrl.now = func() time.Time { return start.Add(time.Duration(skew.Load())) }

	_, err := h.ctrl.Join(ctx, h.caller(t, "42", "alice"))
	require.NoError(t, err)

	monitor := NewHeartbeatMonitor(h.ctrl, 10*time.Millisecond, testLogger(t))
	monitor.Start(ctx)
	monitor.Start(ctx)
	t.Cleanup(monitor.Stop)

	skew.Store(int64(time.Minute))
	require.Eventually(t, func() bool {
		_, err := h.dir.Get("42")
		return err != nil
	}, time.Second, 10*time.Millisecond, "the silent peer is evicted and its room closes")

	require.Equal(t, 1, h.pool.Counts()[domain.WorkerIdle])
}

func TestHeartbeatMonitor_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, 1)
	monitor := NewHeartbeatMonitor(h.ctrl, time.Millisecond, testLogger(t))

	monitor.Stop()
	monitor.Start(context.Background())
	monitor.Stop()
	monitor.Stop()
}
