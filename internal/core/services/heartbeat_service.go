package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HeartbeatMonitor periodically evicts peers whose heartbeats stopped.
type HeartbeatMonitor struct {
	controller *Controller
	interval   time.Duration
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHeartbeatMonitor(controller *Controller, interval time.Duration, logger *zap.SugaredLogger) *HeartbeatMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &HeartbeatMonitor{controller: controller, interval: interval, logger: logger}
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (m *HeartbeatMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

func (m *HeartbeatMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.controller.EvictStale(ctx); n > 0 {
				m.logger.Infow("heartbeat sweep evicted peers", "count", n)
			}
		}
	}
}

// Stop ends the loop and waits for it to exit.
func (m *HeartbeatMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
