package batch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Add once Stop has been called.
var ErrStopped = errors.New("batcher stopped")

// Operation is one queued unit of work.
type Operation interface {
	Execute(ctx context.Context) error
}

// Processor handles a flushed batch.
type Processor interface {
	ProcessBatch(ctx context.Context, operations []Operation) error
}

// Batcher queues operations and hands them to a Processor when batchSize
// of them are pending or batchInterval elapses, whichever comes first.
// Batches are processed one at a time, in order.
type Batcher struct {
	batchSize     int
	batchInterval time.Duration
	processor     Processor

	mu      sync.Mutex
	pending []Operation
	stopped bool

	full     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewBatcher(batchSize int, batchInterval time.Duration, processor Processor) *Batcher {
	if batchSize <= 0 {
		batchSize = 1
	}
	b := &Batcher{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		processor:     processor,
		pending:       make([]Operation, 0, batchSize),
		full:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Batcher) Add(op Operation) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	b.pending = append(b.pending, op)
	full := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if full {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush processes everything pending now.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	ops := b.pending
	b.pending = make([]Operation, 0, b.batchSize)
	b.mu.Unlock()

	return b.processor.ProcessBatch(ctx, ops)
}

// run flushes on a full batch or on the timer. A non-positive interval
// disables the timer, so only a full batch or Stop flushes.
func (b *Batcher) run() {
	defer close(b.done)

	var tick <-chan time.Time
	if b.batchInterval > 0 {
		ticker := time.NewTicker(b.batchInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
		case <-b.full:
		case <-b.stop:
			_ = b.Flush(context.Background())
			return
		}
		_ = b.Flush(context.Background())
	}
}

// Stop rejects further operations and returns after the final flush.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
		close(b.stop)
	})
	<-b.done
}

func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
