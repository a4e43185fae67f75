package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/model"
)

var messageRowColumns = []string{"id", "chatroom_id", "user_id", "content", "status", "completion", "error", "created_at", "completed_at"}

func TestMessageRepo_CompleteOnlyPending(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewMessageRepo(db)
	id := uuid.New()
	at := time.Now()

	mock.ExpectExec(`UPDATE messages\s+SET status = 'complete', completion = \$2, completed_at = \$3\s+WHERE id = \$1 AND status = 'pending'`).
		WithArgs(id.String(), "pong", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE messages\s+SET status = 'complete'`).
		WithArgs(id.String(), "pong again", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := r.Complete(context.Background(), id, "pong", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Complete(context.Background(), id, "pong again", at)
	require.NoError(t, err)
	assert.False(t, ok, "a resolved message is never written twice")
}

func TestMessageRepo_FailStoresErrorSeparately(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewMessageRepo(db)
	id := uuid.New()
	at := time.Now()

	mock.ExpectExec(`SET status = 'failed', error = \$2`).
		WithArgs(id.String(), "provider timeout", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := r.Fail(context.Background(), id, "provider timeout", at)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMessageRepo_GetOwned(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewMessageRepo(db)
	id, roomID, userID := uuid.New(), uuid.New(), uuid.New()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	done := created.Add(2 * time.Second)

	mock.ExpectQuery(`FROM messages WHERE id = \$1 AND user_id = \$2`).
		WithArgs(id.String(), userID.String()).
		WillReturnRows(sqlmock.NewRows(messageRowColumns).
			AddRow(id.String(), roomID.String(), userID.String(), "ping", "complete", "pong", nil, created, done))

	msg, err := r.GetOwned(context.Background(), id, userID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageComplete, msg.Status)
	require.NotNil(t, msg.Completion)
	assert.Equal(t, "pong", *msg.Completion)
	assert.Nil(t, msg.Error)
	require.NotNil(t, msg.CompletedAt)
	assert.Equal(t, done, *msg.CompletedAt)
}

func TestMessageRepo_GetOwnedForeignUser(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewMessageRepo(db)

	mock.ExpectQuery(`FROM messages WHERE id = \$1 AND user_id = \$2`).
		WillReturnError(sql.ErrNoRows)

	_, err := r.GetOwned(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, apperror.ErrMessageNotFound)
}

func TestChatroomRepo_GetOwnedForeignUser(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewChatroomRepo(db)

	mock.ExpectQuery(`FROM chatrooms\s+WHERE id = \$1 AND user_id = \$2`).
		WillReturnError(sql.ErrNoRows)

	_, err := r.GetOwned(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, apperror.ErrConversationNotFound)
}

func TestSubscriptionRepo_GetByUserID(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewSubscriptionRepo(db)
	userID := uuid.New()
	start := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM subscriptions\s+WHERE user_id = \$1`).
		WithArgs(userID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tier", "status", "start_date", "end_date", "updated_at"}).
			AddRow(userID.String(), "pro", "active", start, nil, start))

	sub, err := r.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, model.TierPro, sub.Tier)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.Nil(t, sub.EndDate)
}
