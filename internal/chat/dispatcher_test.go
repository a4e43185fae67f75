package chat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/cache"
	"github.com/relaychat/server/internal/jobs"
	"github.com/relaychat/server/internal/model"
	"github.com/relaychat/server/internal/ratelimit"
	"github.com/relaychat/server/internal/repo/memory"
	"github.com/relaychat/server/internal/subscription"
)

type fakeProvider struct {
	delay time.Duration
	err   error
	calls int32
}

func (p *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}
	if prompt == "ping" {
		return "pong", nil
	}
	return "echo: " + prompt, nil
}

type dispatchFixture struct {
	store    *memory.Store
	counters *cache.MemoryStore
	queue    *jobs.MemoryQueue
	provider *fakeProvider
	d        *Dispatcher
	user     model.User
	room     model.Chatroom
}

func newDispatchFixture(t *testing.T, p *fakeProvider) *dispatchFixture {
	t.Helper()
	store := memory.New()
	counters := cache.NewMemoryStore()
	queue := jobs.NewMemoryQueue(16, zap.NewNop())
	t.Cleanup(func() { _ = queue.Close() })

	user := model.User{ID: uuid.New(), Mobile: "+15550001111", IsVerified: true, IsActive: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Users().Create(context.Background(), user))
	room := model.Chatroom{ID: uuid.New(), UserID: user.ID, Name: "general", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Chatrooms().Create(context.Background(), room))

	d := NewDispatcher(
		store.Chatrooms(),
		store.Messages(),
		subscription.NewService(store.Subscriptions()),
		ratelimit.NewLimiter(counters, 5, 24*time.Hour, zap.NewNop()),
		p,
		queue,
		zap.NewNop(),
	)
	return &dispatchFixture{store: store, counters: counters, queue: queue, provider: p, d: d, user: user, room: room}
}

func TestSendSync_PingPong(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{})

	msg, decision, err := f.d.SendSync(context.Background(), f.user, f.room.ID, "ping")
	require.NoError(t, err)
	assert.Equal(t, model.MessageComplete, msg.Status)
	require.NotNil(t, msg.Completion)
	assert.Equal(t, "pong", *msg.Completion)
	assert.Nil(t, msg.Error)
	assert.NotNil(t, msg.CompletedAt)
	assert.Equal(t, int64(4), decision.Remaining)
}

func TestSendSync_ProviderFailureStoresFailedStatus(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{err: errors.New("upstream 500")})

	msg, _, err := f.d.SendSync(context.Background(), f.user, f.room.ID, "ping")
	require.Error(t, err)
	assert.Equal(t, model.MessageFailed, msg.Status)
	assert.Nil(t, msg.Completion)
	require.NotNil(t, msg.Error)
	assert.Contains(t, *msg.Error, "upstream 500")

	stored, err := f.store.Messages().GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageFailed, stored.Status)
}

func TestSendSync_FailureDetailIsSanitized(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{err: errors.New("bad \xc3 byte\x00 here")})

	msg, _, err := f.d.SendSync(context.Background(), f.user, f.room.ID, "ping")
	require.Error(t, err)
	assert.Equal(t, model.MessageFailed, msg.Status)
	require.NotNil(t, msg.Error)
	assert.True(t, utf8.ValidString(*msg.Error))
	assert.NotContains(t, *msg.Error, "\x00")
	assert.Contains(t, *msg.Error, "byte here")
}

func TestSend_ForeignChatroom(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{})
	stranger := model.User{ID: uuid.New(), CreatedAt: time.Now().UTC()}
	ctx := context.Background()

	_, _, err := f.d.SendSync(ctx, stranger, f.room.ID, "ping")
	require.ErrorIs(t, err, apperror.ErrConversationNotFound)
	_, _, err = f.d.SendAsync(ctx, stranger, f.room.ID, "ping")
	require.ErrorIs(t, err, apperror.ErrConversationNotFound)

	assert.Equal(t, int32(0), atomic.LoadInt32(&f.provider.calls))
	_, found, err := f.counters.Get(ctx, ratelimit.Key(stranger.ID, model.CycleAnchor(stranger, nil)))
	require.NoError(t, err)
	assert.False(t, found, "a rejected chatroom does not consume quota")
}

func TestSend_RejectsEmptyContent(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{})
	_, _, err := f.d.SendSync(context.Background(), f.user, f.room.ID, "   ")
	require.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestSend_DailyLimit(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := f.d.SendSync(ctx, f.user, f.room.ID, "ping")
		require.NoError(t, err)
	}
	_, decision, err := f.d.SendSync(ctx, f.user, f.room.ID, "ping")
	require.ErrorIs(t, err, apperror.ErrDailyLimitExceeded)
	assert.Equal(t, int64(5), decision.Limit)
	assert.Equal(t, int64(0), decision.Remaining)

	msgs, err := f.store.Messages().ListByChatroom(ctx, f.room.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
}

func TestSend_ProUserIsNotCapped(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{})
	ctx := context.Background()
	_, err := subscription.NewService(f.store.Subscriptions()).Activate(ctx, f.user.ID, model.TierPro, time.Now().Add(-time.Hour), nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, _, err := f.d.SendSync(ctx, f.user, f.room.ID, "ping")
		require.NoError(t, err)
	}
}

func TestSendAsync_ReturnsPendingThenCompletes(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{delay: 300 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := jobs.NewWorker(f.queue, f.d.Process, 2, zap.NewNop())
	go func() { _ = worker.Run(ctx) }()

	start := time.Now()
	msg, _, err := f.d.SendAsync(ctx, f.user, f.room.ID, "ping")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "enqueue does not wait on the provider")
	assert.Equal(t, model.MessagePending, msg.Status)
	assert.Nil(t, msg.Completion)

	require.Eventually(t, func() bool {
		got, err := f.store.Messages().GetByID(context.Background(), msg.ID)
		return err == nil && got.Status == model.MessageComplete
	}, 3*time.Second, 20*time.Millisecond)

	got, err := f.store.Messages().GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "pong", *got.Completion)
}

func TestSendAsync_WorkerShutdownMidCallCompletes(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{delay: 200 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := jobs.NewWorker(f.queue, f.d.Process, 1, zap.NewNop())
	stopped := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(stopped)
	}()

	msg, _, err := f.d.SendAsync(context.Background(), f.user, f.room.ID, "ping")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&f.provider.calls) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	got, err := f.store.Messages().GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageComplete, got.Status)
	require.NotNil(t, got.Completion)
	assert.Equal(t, "pong", *got.Completion)
}

func TestSendAsync_QueueUnavailable(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{})
	require.NoError(t, f.queue.Close())

	_, _, err := f.d.SendAsync(context.Background(), f.user, f.room.ID, "ping")
	require.ErrorIs(t, err, apperror.ErrQueueUnavailable)

	msgs, err := f.store.Messages().ListByChatroom(context.Background(), f.room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageFailed, msgs[0].Status)
}

func TestSendAsync_FullQueueFailsFast(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{})
	for i := 0; i < 16; i++ {
		require.NoError(t, f.queue.Enqueue(context.Background(), jobs.NewMessageJob(uuid.New(), time.Now())))
	}

	start := time.Now()
	_, _, err := f.d.SendAsync(context.Background(), f.user, f.room.ID, "ping")
	require.ErrorIs(t, err, apperror.ErrQueueUnavailable)
	require.ErrorIs(t, err, jobs.ErrQueueFull)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestProcess_DuplicateJobIsNoOp(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{})
	ctx := context.Background()

	msg, _, err := f.d.SendAsync(ctx, f.user, f.room.ID, "ping")
	require.NoError(t, err)
	job := jobs.NewMessageJob(msg.ID, time.Now())

	require.NoError(t, f.d.Process(ctx, job))
	require.NoError(t, f.d.Process(ctx, job))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.provider.calls))

	got, err := f.store.Messages().GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageComplete, got.Status)
}

func TestProcess_MissingMessageIsNoOp(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{})
	require.NoError(t, f.d.Process(context.Background(), jobs.NewMessageJob(uuid.New(), time.Now())))
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.provider.calls))
}

func TestProcess_ProviderFailureMarksFailed(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{err: apperror.ErrProviderFailure})
	ctx := context.Background()

	msg, _, err := f.d.SendAsync(ctx, f.user, f.room.ID, "ping")
	require.NoError(t, err)
	require.NoError(t, f.d.Process(ctx, jobs.NewMessageJob(msg.ID, time.Now())))

	got, err := f.store.Messages().GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageFailed, got.Status)
	assert.NotNil(t, got.Error)
}
