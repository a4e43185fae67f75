// Package jobs carries background work between the API and the worker pool.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TypeMessageComplete asks a worker to produce the completion for a pending message
const TypeMessageComplete = "message.complete"

// Job is the unit of background work. It carries only the message id; the
// handler reloads everything else.
type Job struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	MessageID  uuid.UUID `json:"message_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewMessageJob builds a completion job for messageID
func NewMessageJob(messageID uuid.UUID, now time.Time) Job {
	return Job{
		ID:         uuid.New(),
		Type:       TypeMessageComplete,
		MessageID:  messageID,
		EnqueuedAt: now.UTC(),
	}
}

// Marshal encodes the job for the wire
func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// Unmarshal decodes a job and rejects unknown types
func Unmarshal(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.Type != TypeMessageComplete {
		return Job{}, fmt.Errorf("unknown job type %q", j.Type)
	}
	if j.MessageID == uuid.Nil {
		return Job{}, fmt.Errorf("job %s has no message id", j.ID)
	}
	return j, nil
}

// Handler processes one job. Queues acknowledge a job once its handler returns,
// whatever the result; retrying is the Worker's job.
type Handler func(ctx context.Context, job Job) error

// Queue is an at-least-once job transport
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Consume delivers jobs to h until ctx is canceled or the queue is closed.
	// A job is acknowledged only after h returns.
	Consume(ctx context.Context, h Handler) error
	Close() error
}
