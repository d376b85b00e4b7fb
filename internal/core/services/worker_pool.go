package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	apperrors "sfucore/pkg/errors"
)

// Worker is a pool slot backed by an engine worker.
type Worker struct {
	engine   ports.EngineWorker
	state    domain.WorkerState
	reserved bool
}

func (w *Worker) ID() string                 { return w.engine.ID() }
func (w *Worker) Engine() ports.EngineWorker { return w.engine }

// FatalHandler is invoked when a worker dies. The process cannot keep a
// consistent view of the rooms it hosted, so the default handler exits.
type FatalHandler func(workerID string, err error)

// WorkerPool tracks the engine workers and which of them back a room.
//
// A worker is Idle until a room finishes initializing on it, Running while
// that room lives, and Terminated once the engine reports it dead.
type WorkerPool struct {
	engine  ports.MediaEngine
	logger  *zap.SugaredLogger
	metrics ports.MetricsRecorder
	onFatal FatalHandler

	mu      sync.Mutex
	workers []*Worker
	closed  bool
}

func NewWorkerPool(engine ports.MediaEngine, logger *zap.SugaredLogger, metrics ports.MetricsRecorder, onFatal FatalHandler) *WorkerPool {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &WorkerPool{
		engine:  engine,
		logger:  logger,
		metrics: metrics,
		onFatal: onFatal,
	}
}

// Initialize spawns n workers. Any spawn failure closes what was already
// created and is returned.
func (p *WorkerPool) Initialize(ctx context.Context, n int) error {
	if n <= 0 {
		return apperrors.NewInvalidInputError("worker count must be positive")
	}

	created := make([]*Worker, 0, n)
	for i := 0; i < n; i++ {
		ew, err := p.engine.CreateWorker(ctx)
		if err != nil {
			for _, w := range created {
				_ = w.engine.Close()
			}
			return apperrors.WrapEngine(fmt.Errorf("spawn worker %d: %w", i, err), "create worker")
		}
		w := &Worker{engine: ew, state: domain.WorkerIdle}
		ew.OnDied(func(err error) { p.handleDeath(w, err) })
		created = append(created, w)
	}

	p.mu.Lock()
	p.workers = append(p.workers, created...)
	p.mu.Unlock()

	p.logger.Infow("worker pool initialized", "workers", n)
	p.publishStates()
	return nil
}

// AcquireIdle returns the first Idle worker that no initializing room has
// claimed. It does not change the worker's state; the room marks it
// Running once its router exists.
func (p *WorkerPool) AcquireIdle() (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		if w.state == domain.WorkerIdle && !w.reserved {
			w.reserved = true
			return w, nil
		}
	}
	return nil, apperrors.NewResourceExhaustedError("no idle worker available")
}

// Release drops a claim taken by AcquireIdle without running a room.
func (p *WorkerPool) Release(w *Worker) {
	p.mu.Lock()
	w.reserved = false
	p.mu.Unlock()
}

func (p *WorkerPool) MarkRunning(w *Worker) {
	p.setState(w, domain.WorkerRunning)
}

// MarkIdle returns w to the pool. Terminated workers stay terminated.
func (p *WorkerPool) MarkIdle(w *Worker) {
	p.setState(w, domain.WorkerIdle)
}

func (p *WorkerPool) setState(w *Worker, state domain.WorkerState) {
	p.mu.Lock()
	if w.state == domain.WorkerTerminated {
		p.mu.Unlock()
		return
	}
	w.state = state
	if state == domain.WorkerIdle {
		w.reserved = false
	}
	p.mu.Unlock()
	p.publishStates()
}

func (p *WorkerPool) handleDeath(w *Worker, err error) {
	p.mu.Lock()
	if w.state == domain.WorkerTerminated {
		p.mu.Unlock()
		return
	}
	w.state = domain.WorkerTerminated
	closing := p.closed
	p.mu.Unlock()
	p.publishStates()

	if closing {
		return
	}
	p.logger.Errorw("media worker died", "worker_id", w.ID(), "error", err)
	if p.onFatal != nil {
		p.onFatal(w.ID(), err)
	}
}

// Snapshot lists every worker with its current state.
func (p *WorkerPool) Snapshot() []domain.WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, domain.WorkerInfo{ID: w.ID(), State: w.state})
	}
	return out
}

// Counts returns the number of workers in each state.
func (p *WorkerPool) Counts() map[domain.WorkerState]int {
	counts := map[domain.WorkerState]int{
		domain.WorkerIdle:       0,
		domain.WorkerRunning:    0,
		domain.WorkerTerminated: 0,
	}
	for _, w := range p.Snapshot() {
		counts[w.State]++
	}
	return counts
}

func (p *WorkerPool) publishStates() {
	p.metrics.WorkerStates(p.Counts())
}

// Close shuts every worker down. Deaths reported during Close are not fatal.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	workers := append([]*Worker(nil), p.workers...)
	p.mu.Unlock()

	for _, w := range workers {
		if err := w.engine.Close(); err != nil {
			p.logger.Warnw("failed to close worker", "worker_id", w.ID(), "error", err)
		}
	}
}
