package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	fetchBackoff  = 500 * time.Millisecond
	commitTimeout = 5 * time.Second
)

// KafkaConfig holds the broker settings for the job topic
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaQueue publishes jobs to a topic and consumes them through a consumer group.
// Offsets are committed after the handler returns, so a crash mid-job means redelivery.
type KafkaQueue struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	log    *zap.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
}

// NewKafkaQueue creates a queue on cfg.Topic
func NewKafkaQueue(cfg KafkaConfig, log *zap.Logger) *KafkaQueue {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaQueue{cfg: cfg, writer: w, log: log}
}

// Enqueue writes job keyed by its message id
func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(job.MessageID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "job_type", Value: []byte(job.Type)},
		},
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}

func (q *KafkaQueue) newReader() (*kafka.Reader, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.cfg.Brokers,
		GroupID:  q.cfg.GroupID,
		Topic:    q.cfg.Topic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	q.readers = append(q.readers, r)
	return r, nil
}

// Consume joins the consumer group as one member. Each call gets its own reader.
func (q *KafkaQueue) Consume(ctx context.Context, h Handler) error {
	r, err := q.newReader()
	if err != nil {
		return err
	}
	q.log.Info("job consumer started",
		zap.String("topic", q.cfg.Topic),
		zap.String("group", q.cfg.GroupID),
	)

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			q.log.Error("failed to fetch job", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchBackoff):
			}
			continue
		}

		job, err := Unmarshal(msg.Value)
		if err != nil {
			q.log.Error("dropping malformed job",
				zap.Error(err),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
		} else if err := h(ctx, job); err != nil {
			q.log.Error("job handler failed",
				zap.String("job_id", job.ID.String()),
				zap.String("message_id", job.MessageID.String()),
				zap.Error(err),
			)
		}

		// a handled job is committed even when shutdown began meanwhile
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		err = r.CommitMessages(commitCtx, msg)
		cancel()
		if err != nil {
			q.log.Error("failed to commit job offset", zap.Error(err))
		}
	}
}

// Close shuts down the writer and every reader opened by Consume
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	errs := []error{q.writer.Close()}
	for _, r := range q.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
