package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaychat/server/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 100 * time.Millisecond
	defaultJobTimeout  = 2 * time.Minute
)

// Worker runs a fixed number of consumers against a queue
type Worker struct {
	queue       Queue
	handler     Handler
	concurrency int
	maxAttempts int
	backoff     time.Duration
	jobTimeout  time.Duration
	log         *zap.Logger
}

// NewWorker creates a worker pool of concurrency consumers
func NewWorker(queue Queue, handler Handler, concurrency int, log *zap.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       queue,
		handler:     handler,
		concurrency: concurrency,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		jobTimeout:  defaultJobTimeout,
		log:         log,
	}
}

// SetJobTimeout bounds how long one job may run, shutdown included
func (w *Worker) SetJobTimeout(d time.Duration) {
	if d > 0 {
		w.jobTimeout = d
	}
}

// Run blocks until ctx is canceled or a consumer returns an error. Canceling
// ctx stops fetching; a job already handed to a consumer runs to completion.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker pool started", zap.Int("concurrency", w.concurrency))
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.queue.Consume(ctx, w.handle)
		})
	}
	err := g.Wait()
	w.log.Info("worker pool stopped")
	return err
}

// handle retries a failing job with linear backoff, then skips it
func (w *Worker) handle(ctx context.Context, job Job) error {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		lastErr = w.handler(jobCtx, job)
		if lastErr == nil {
			metrics.JobsProcessed.WithLabelValues("success").Inc()
			return nil
		}
		w.log.Warn("job failed, will retry",
			zap.String("job_id", job.ID.String()),
			zap.String("message_id", job.MessageID.String()),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt < w.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * w.backoff):
			}
		}
	}

	metrics.JobsProcessed.WithLabelValues("skipped").Inc()
	w.log.Error("job failed after all attempts, skipping",
		zap.String("job_id", job.ID.String()),
		zap.String("message_id", job.MessageID.String()),
		zap.Int("attempts", w.maxAttempts),
		zap.Error(lastErr),
	)
	return nil
}
