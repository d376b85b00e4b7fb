package webrtc

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

// Worker owns the goroutines that move media for its routers. A panic in
// any of them kills the worker.
type Worker struct {
	closeNotifier

	id     string
	engine *Engine
	logger *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	routers map[string]*Router
	onDied  []func(error)
	dead    bool
}

var _ ports.EngineWorker = (*Worker)(nil)

func newWorker(id string, engine *Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		id:      id,
		engine:  engine,
		logger:  engine.logger.With("worker_id", id),
		ctx:     ctx,
		cancel:  cancel,
		routers: make(map[string]*Router),
	}
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (ports.Router, error) {
	if w.Closed() {
		return nil, domain.ErrWorkerClosed
	}
	r, err := newRouter(w, codecs)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.routers[r.id] = r
	w.mu.Unlock()
	r.OnClose(func() {
		w.mu.Lock()
		delete(w.routers, r.id)
		w.mu.Unlock()
	})
	return r, nil
}

func (w *Worker) OnDied(fn func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDied = append(w.onDied, fn)
}

// goSafe runs fn on a worker goroutine. A panic is turned into worker death.
func (w *Worker) goSafe(name string, fn func(ctx context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Errorw("media goroutine panicked", "goroutine", name, "panic", r, "stack", string(debug.Stack()))
				w.die(fmt.Errorf("%s: panic: %v", name, r))
			}
		}()
		fn(w.ctx)
	}()
}

func (w *Worker) die(err error) {
	w.mu.Lock()
	if w.dead || w.Closed() {
		w.mu.Unlock()
		return
	}
	w.dead = true
	fns := w.onDied
	w.onDied = nil
	w.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
	w.Close()
}

func (w *Worker) Close() error {
	if !w.markClosed() {
		return nil
	}
	w.mu.Lock()
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
	w.cancel()
	w.logger.Infow("media worker closed")
	w.notify()
	return nil
}
