package jobs

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrQueueClosed is returned when enqueueing on a closed queue
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned when the buffer has no room left
	ErrQueueFull = errors.New("queue full")
)

// MemoryQueue is an in-process queue backed by a buffered channel.
// Jobs do not survive a restart.
type MemoryQueue struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan Job
	done   chan struct{}
	log    *zap.Logger
}

// NewMemoryQueue creates a queue holding up to size pending jobs
func NewMemoryQueue(size int, log *zap.Logger) *MemoryQueue {
	return &MemoryQueue{
		jobs: make(chan Job, size),
		done: make(chan struct{}),
		log:  log,
	}
}

// Enqueue never waits for room in the buffer
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case job := <-q.jobs:
			if err := h(ctx, job); err != nil {
				q.log.Error("job handler failed",
					zap.String("job_id", job.ID.String()),
					zap.String("message_id", job.MessageID.String()),
					zap.Error(err),
				)
			}
		}
	}
}

// Len returns the number of jobs waiting in the buffer
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
