package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/pipeline"
)

type ProcessorQueue struct {
	proc      Processor
	logger    *slog.Logger
	workers   int
	timeout   time.Duration
	haltAfter int
	onResult  ResultFunc

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool

	consecutive atomic.Int32
	halted      atomic.Bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithHaltAfter stops the queue after n consecutive critical errors; 0 disables the breaker.
func WithHaltAfter(n int) Option {
	return func(q *ProcessorQueue) {
		if n >= 0 {
			q.haltAfter = n
		}
	}
}

func WithResultFunc(fn ResultFunc) Option {
	return func(q *ProcessorQueue) {
		q.onResult = fn
	}
}

func NewProcessorQueue(proc Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:      proc,
		logger:    logger,
		workers:   4,
		timeout:   3 * time.Minute,
		haltAfter: 3,
		ch:        make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					q.handle(workerID, job)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) handle(workerID int, job Job) {
	if q.halted.Load() {
		q.logger.Warn("skipping job: queue halted", "worker_id", workerID, "path", job.Document.Path)
		q.report(job, pipeline.Outcome{Document: job.Document}, ErrHalted)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	if job.TraceID != "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}
	out, err := q.proc.Process(ctx, job.Document)
	cancel()

	if err != nil {
		n := q.consecutive.Add(1)
		q.logger.Error("processing failed", "worker_id", workerID, "path", job.Document.Path, "consecutive", n, "error", err)
		if q.haltAfter > 0 && int(n) >= q.haltAfter && q.halted.CompareAndSwap(false, true) {
			q.logger.Error("queue halted", "consecutive_errors", n, "threshold", q.haltAfter)
		}
	} else {
		q.consecutive.Store(0)
		q.logger.Info("processed document", "worker_id", workerID, "path", job.Document.Path, "decision", out.Result.Decision)
	}
	q.report(job, out, err)
}

func (q *ProcessorQueue) report(job Job, out pipeline.Outcome, err error) {
	if q.onResult != nil {
		q.onResult(job, out, err)
	}
}

func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "path", job.Document.Path)
		return ErrClosed
	}
	if q.halted.Load() {
		return ErrHalted
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queued document for processing", "path", job.Document.Path)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "path", job.Document.Path)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Halted reports whether the consecutive-error breaker tripped.
func (q *ProcessorQueue) Halted() bool { return q.halted.Load() }

func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
