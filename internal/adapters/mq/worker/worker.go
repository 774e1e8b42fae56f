// Package worker runs CPU-bound verification work (decode, pose solving,
// embedding) on a fixed set of goroutines fed by the task queue.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/presence/internal/adapters/mq/queue"
	"github.com/okian/presence/pkg/logger"
	"github.com/okian/presence/pkg/metrics"
)

const (
	workerShutdownTimeout = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Task
}

// Submitter is the producing side of the queue.
type Submitter interface {
	Enqueue(ctx context.Context, t queue.Task) bool
	IsClosed() bool
}

// Worker processes tasks until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the task in hand.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue Queue
	name  string

	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			w.process(ctx, t)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs one task and reports its result. A panic in the task is
// turned into an error so one bad frame cannot take the pool down.
func (w *InMemoryWorker) process(ctx context.Context, t queue.Task) {
	start := time.Now()
	metrics.AddWorkerBusy(1)
	defer metrics.AddWorkerBusy(-1)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
			}
		}()
		return t.Run(ctx)
	}()

	metrics.RecordTaskLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		metrics.RecordTaskError()
		w.logger.Debug(ctx, "task failed",
			logger.String("task_id", t.ID),
			logger.Duration("queued", start.Sub(t.EnqueuedAt)),
			logger.Error(err))
	}
	if t.Done != nil {
		t.Done <- err
	}
}

// Pool manages multiple workers and implements the pipeline executor.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	submit  Submitter

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers reading from q. A
// non-positive count selects runtime.NumCPU().
func NewPool(workerCount int, q *queue.InMemoryQueue, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		submit:  q,
		logger:  logger.Named("worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < workerCount; i++ {
		p.workers[i] = NewInMemoryWorker(q, WithName("worker-"+strconv.Itoa(i)), WithLogger(p.logger))
	}

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Run submits fn and waits for it. fn receives the caller's ctx, so a task
// whose caller already gave up sees a canceled context. Run fails fast with
// queue.ErrQueueFull when the queue is saturated.
func (p *Pool) Run(ctx context.Context, fn func(context.Context) error) error {
	if p.submit.IsClosed() {
		return queue.ErrClosed
	}
	t := queue.Task{
		ID:   uuid.NewString(),
		Run:  func(context.Context) error { return fn(ctx) },
		Done: make(chan error, 1),
	}
	if !p.submit.Enqueue(ctx, t) {
		if p.submit.IsClosed() {
			return queue.ErrClosed
		}
		return queue.ErrQueueFull
	}
	select {
	case err := <-t.Done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop makes every worker quit after the task in hand, leaving anything
// still queued unprocessed. It waits briefly for each.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		ctx, cancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
		_ = w.Shutdown(ctx)
		cancel()
	}
}

// Shutdown closes the queue so no new tasks arrive, then waits for the
// workers to drain what is already queued.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.submit.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return shutdownCtx.Err()
		}
	}
	return nil
}
