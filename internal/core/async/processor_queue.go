package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/fieldsurvey/constants"
	"github.com/joseph-ayodele/fieldsurvey/internal/common"
	"github.com/joseph-ayodele/fieldsurvey/internal/core"
)

var (
	ErrQueueClosed = errors.New("queue is shutting down")
	ErrJobBusy     = errors.New("job is queued or being processed")
)

// Source records why a job was enqueued.
type Source string

const (
	SourceCapture  Source = "capture"
	SourceRecovery Source = "recovery"
	SourceRetry    Source = "retry"
)

type item struct {
	id     int64
	source Source
	queued time.Time
}

// ProcessorQueue feeds jobs to a single worker. Recovery-sweep jobs and new
// captures share one FIFO, so one job fully transitions before the next
// starts and a new capture is never starved by a sweep.
type ProcessorQueue struct {
	proc    *core.Processor
	logger  *slog.Logger
	timeout time.Duration
	status  func(string)

	ch      chan item
	quit    chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sending sync.WaitGroup
	once    sync.Once

	mu       sync.Mutex
	closed   bool
	pending  map[int64]struct{} // queued or in flight
	sweeping int                // recovery sweeps still enqueueing
}

type Option func(*ProcessorQueue)

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan item, n)
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

// WithStatusFunc receives short human-readable progress messages. It is
// called from the worker goroutine or a recovery sweep and must not block
// for long.
func WithStatusFunc(fn func(string)) Option {
	return func(q *ProcessorQueue) {
		if fn != nil {
			q.status = fn
		}
	}
}

func NewProcessorQueue(proc *core.Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		timeout: 3 * time.Minute,
		status:  func(string) {},
		ch:      make(chan item, 256),
		quit:    make(chan struct{}),
		pending: make(map[int64]struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.baseCtx, q.cancel = context.WithCancel(context.Background())
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.logger.Info("worker started")
			for it := range q.ch {
				q.process(it)
			}
			q.logger.Info("worker stopped")
		}()
	})
}

func (q *ProcessorQueue) process(it item) {
	ctx, cancel := context.WithTimeout(q.baseCtx, q.timeout)
	ctx = common.WithLogger(ctx, q.logger.With("source", it.source))
	start := time.Now()
	job, err := q.proc.ProcessJob(ctx, it.id)
	cancel()

	q.mu.Lock()
	delete(q.pending, it.id)
	idle := len(q.pending) == 0 && q.sweeping == 0
	q.mu.Unlock()

	switch {
	case err != nil:
		q.logger.Error("processing failed", "job_id", it.id, "source", it.source, "error", err)
		q.status(fmt.Sprintf("Photo %d could not be saved; it will be retried.", it.id))
	case !job.Status.Terminal():
		q.logger.Warn("job left unfinished", "job_id", it.id, "source", it.source, "status", job.Status)
	case job.Status == constants.JobStatusFailed:
		q.logger.Warn("photo failed", "job_id", it.id, "source", it.source, "error_detail", job.ErrorDetail)
		q.status(fmt.Sprintf("Photo %d failed: %s", it.id, job.ErrorDetail))
	default:
		q.logger.Info("processed job successfully",
			"job_id", it.id,
			"source", it.source,
			"status", job.Status,
			"wait_ms", start.Sub(it.queued).Milliseconds(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		q.status(fmt.Sprintf("Photo %d completed.", it.id))
	}
	if idle {
		q.status("Processing complete.")
	}
}

// Enqueue schedules a job. An id that is already queued or in flight is
// ignored. Blocks while the buffer is full, until ctx is done or the queue
// shuts down.
func (q *ProcessorQueue) Enqueue(ctx context.Context, id int64) error {
	return q.enqueue(ctx, id, SourceCapture)
}

func (q *ProcessorQueue) enqueue(ctx context.Context, id int64, source Source) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", id)
		return ErrQueueClosed
	}
	if _, dup := q.pending[id]; dup {
		q.mu.Unlock()
		q.logger.Debug("job already queued", "job_id", id, "source", source)
		return nil
	}
	q.pending[id] = struct{}{}
	q.sending.Add(1)
	q.mu.Unlock()
	defer q.sending.Done()

	it := item{id: id, source: source, queued: time.Now()}
	select {
	case q.ch <- it:
		q.logger.Info("queued job for processing", "job_id", id, "source", source)
		return nil
	default:
		q.logger.Warn("queue full, applying backpressure", "job_id", id)
	}

	select {
	case q.ch <- it:
		q.logger.Info("queued job for processing", "job_id", id, "source", source)
		return nil
	case <-ctx.Done():
		q.forget(id)
		return ctx.Err()
	case <-q.quit:
		q.forget(id)
		return ErrQueueClosed
	}
}

func (q *ProcessorQueue) forget(id int64) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

// RunRecovery enqueues every unfinished job in listing order and returns
// how many were found.
func (q *ProcessorQueue) RunRecovery(ctx context.Context) (int, error) {
	ids, err := q.proc.Recover(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		q.status("Ready.")
		return 0, nil
	}

	q.status(fmt.Sprintf("Processing %d photos...", len(ids)))
	q.beginSweep()
	for _, id := range ids {
		if err := q.enqueue(ctx, id, SourceRecovery); err != nil {
			q.endSweep(false)
			return len(ids), err
		}
	}
	q.endSweep(true)
	return len(ids), nil
}

// beginSweep holds back the completion message while a sweep is still
// enqueueing, so a fast first job cannot drain the queue early.
func (q *ProcessorQueue) beginSweep() {
	q.mu.Lock()
	q.sweeping++
	q.mu.Unlock()
}

// endSweep reports completion itself when the worker already drained every
// job of a finished sweep.
func (q *ProcessorQueue) endSweep(finished bool) {
	q.mu.Lock()
	q.sweeping--
	idle := q.sweeping == 0 && len(q.pending) == 0
	q.mu.Unlock()
	if finished && idle {
		q.status("Processing complete.")
	}
}

// Retry re-enters a Failed job into the pipeline.
func (q *ProcessorQueue) Retry(ctx context.Context, id int64) error {
	if err := q.proc.Retry(ctx, id); err != nil {
		return err
	}
	return q.enqueue(ctx, id, SourceRetry)
}

// Discard deletes a job that is neither queued nor in flight.
func (q *ProcessorQueue) Discard(ctx context.Context, id int64) error {
	q.mu.Lock()
	if _, busy := q.pending[id]; busy {
		q.mu.Unlock()
		return ErrJobBusy
	}
	// hold the id so it cannot be enqueued mid-discard
	q.pending[id] = struct{}{}
	q.mu.Unlock()
	defer q.forget(id)

	return q.proc.Discard(ctx, id)
}

// Pending returns the number of queued and in-flight jobs.
func (q *ProcessorQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Shutdown stops intake and drains the queue. If ctx expires first, the
// in-flight job is interrupted; it stays Processing and is resumed by the
// next recovery sweep.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()

	q.sending.Wait()
	close(q.ch)

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context; cancelling in-flight job")
		q.cancel()
		<-done
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
		q.cancel()
	}
}
