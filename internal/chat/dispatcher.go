// Package chat owns chatrooms and the dispatch of messages to the completion provider.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/jobs"
	"github.com/relaychat/server/internal/metrics"
	"github.com/relaychat/server/internal/model"
	"github.com/relaychat/server/internal/provider"
	"github.com/relaychat/server/internal/ratelimit"
	"github.com/relaychat/server/internal/repo"
	"github.com/relaychat/server/internal/subscription"
)

const (
	modeSync  = "sync"
	modeAsync = "async"
)

// PlanResolver reports the tier and cycle anchor for a user
type PlanResolver interface {
	PlanFor(ctx context.Context, user model.User) (subscription.Plan, error)
}

// Gate admits or denies one dispatch
type Gate interface {
	CheckAndIncrement(ctx context.Context, userID uuid.UUID, tier model.Tier, anchor time.Time) (ratelimit.Decision, error)
}

// Dispatcher sends messages to the provider, inline or through the job queue
type Dispatcher struct {
	rooms    repo.ChatroomRepo
	messages repo.MessageRepo
	plans    PlanResolver
	gate     Gate
	provider provider.Completer
	queue    jobs.Queue
	now      func() time.Time
	log      *zap.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	rooms repo.ChatroomRepo,
	messages repo.MessageRepo,
	plans PlanResolver,
	gate Gate,
	completer provider.Completer,
	queue jobs.Queue,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		rooms:    rooms,
		messages: messages,
		plans:    plans,
		gate:     gate,
		provider: completer,
		queue:    queue,
		now:      time.Now,
		log:      log,
	}
}

// admit checks ownership first, then charges the user's dispatch quota.
// A foreign or missing chatroom never consumes quota.
func (d *Dispatcher) admit(ctx context.Context, user model.User, chatroomID uuid.UUID) (ratelimit.Decision, error) {
	if _, err := d.rooms.GetOwned(ctx, chatroomID, user.ID); err != nil {
		return ratelimit.Decision{}, err
	}
	plan, err := d.plans.PlanFor(ctx, user)
	if err != nil {
		return ratelimit.Decision{}, err
	}
	return d.gate.CheckAndIncrement(ctx, user.ID, plan.Tier, plan.Anchor)
}

func (d *Dispatcher) persistPending(ctx context.Context, user model.User, chatroomID uuid.UUID, content string) (model.Message, error) {
	msg := model.Message{
		ID:         uuid.New(),
		ChatroomID: chatroomID,
		UserID:     user.ID,
		Content:    content,
		Status:     model.MessagePending,
		CreatedAt:  d.now().UTC(),
	}
	if err := d.messages.Create(ctx, msg); err != nil {
		return model.Message{}, fmt.Errorf("store message: %w", err)
	}
	return msg, nil
}

func validContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is required", apperror.ErrInvalidInput)
	}
	return nil
}

// SendSync stores the message, calls the provider inline and returns the
// resolved message. On provider failure the message is stored as failed and
// returned along with an error wrapping apperror.ErrProviderFailure.
func (d *Dispatcher) SendSync(ctx context.Context, user model.User, chatroomID uuid.UUID, content string) (model.Message, ratelimit.Decision, error) {
	if err := validContent(content); err != nil {
		return model.Message{}, ratelimit.Decision{}, err
	}
	decision, err := d.admit(ctx, user, chatroomID)
	if err != nil {
		return model.Message{}, decision, err
	}
	msg, err := d.persistPending(ctx, user, chatroomID, content)
	if err != nil {
		return model.Message{}, decision, err
	}

	resolved, callErr, err := d.resolve(ctx, msg, modeSync)
	if err != nil {
		return model.Message{}, decision, err
	}
	return resolved, decision, callErr
}

// SendAsync stores the message as pending and enqueues a completion job.
// It returns as soon as the job is handed to the queue.
func (d *Dispatcher) SendAsync(ctx context.Context, user model.User, chatroomID uuid.UUID, content string) (model.Message, ratelimit.Decision, error) {
	if err := validContent(content); err != nil {
		return model.Message{}, ratelimit.Decision{}, err
	}
	decision, err := d.admit(ctx, user, chatroomID)
	if err != nil {
		return model.Message{}, decision, err
	}
	msg, err := d.persistPending(ctx, user, chatroomID, content)
	if err != nil {
		return model.Message{}, decision, err
	}

	if err := d.queue.Enqueue(ctx, jobs.NewMessageJob(msg.ID, d.now())); err != nil {
		d.log.Error("enqueue completion job failed",
			zap.String("message_id", msg.ID.String()),
			zap.Error(err),
		)
		if _, failErr := d.messages.Fail(context.WithoutCancel(ctx), msg.ID, "could not schedule completion", d.now().UTC()); failErr != nil {
			d.log.Error("mark message failed", zap.String("message_id", msg.ID.String()), zap.Error(failErr))
		}
		metrics.Dispatches.WithLabelValues(modeAsync, string(model.MessageFailed)).Inc()
		return model.Message{}, decision, fmt.Errorf("%w: %w", apperror.ErrQueueUnavailable, err)
	}
	return msg, decision, nil
}

// Process is the job handler for message.complete. A missing or already
// resolved message is a no-op, so redelivered jobs are harmless.
func (d *Dispatcher) Process(ctx context.Context, job jobs.Job) error {
	msg, err := d.messages.GetByID(ctx, job.MessageID)
	if errors.Is(err, apperror.ErrMessageNotFound) {
		d.log.Warn("job for unknown message", zap.String("message_id", job.MessageID.String()))
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Resolved() {
		d.log.Debug("message already resolved", zap.String("message_id", msg.ID.String()))
		return nil
	}
	_, _, err = d.resolve(ctx, msg, modeAsync)
	return err
}

// failureDetail makes an error storable in a TEXT column
func failureDetail(err error) string {
	detail := strings.ToValidUTF8(err.Error(), "\uFFFD")
	return strings.ReplaceAll(detail, "\x00", "")
}

// resolve calls the provider and records the outcome. callErr is the provider
// failure, err is a storage failure.
func (d *Dispatcher) resolve(ctx context.Context, msg model.Message, mode string) (resolved model.Message, callErr error, err error) {
	text, callErr := d.provider.Complete(ctx, msg.Content)

	// the outcome is recorded even when the caller went away mid-call
	writeCtx := context.WithoutCancel(ctx)
	now := d.now().UTC()

	var written bool
	if callErr != nil {
		d.log.Warn("completion failed",
			zap.String("message_id", msg.ID.String()),
			zap.String("mode", mode),
			zap.Error(callErr),
		)
		written, err = d.messages.Fail(writeCtx, msg.ID, failureDetail(callErr), now)
	} else {
		written, err = d.messages.Complete(writeCtx, msg.ID, text, now)
	}
	if err != nil {
		return model.Message{}, callErr, fmt.Errorf("record completion: %w", err)
	}

	if written {
		status := model.MessageComplete
		if callErr != nil {
			status = model.MessageFailed
		}
		metrics.Dispatches.WithLabelValues(mode, string(status)).Inc()
	} else {
		d.log.Info("message resolved elsewhere", zap.String("message_id", msg.ID.String()))
	}

	resolved, err = d.messages.GetByID(writeCtx, msg.ID)
	if err != nil {
		return model.Message{}, callErr, err
	}
	return resolved, callErr, nil
}
