package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/model"
)

// MessageRepo defines the interface for message repository operations
type MessageRepo interface {
	Create(ctx context.Context, msg model.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (model.Message, error)
	// GetOwned returns the message only when it belongs to userID
	GetOwned(ctx context.Context, id, userID uuid.UUID) (model.Message, error)
	// ListByChatroom returns messages in creation order
	ListByChatroom(ctx context.Context, chatroomID uuid.UUID) ([]model.Message, error)
	// Complete and Fail resolve a pending message. They return false when the
	// message was already resolved, leaving it untouched.
	Complete(ctx context.Context, id uuid.UUID, completion string, at time.Time) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, detail string, at time.Time) (bool, error)
}

const messageColumns = `id, chatroom_id, user_id, content, status, completion, error, created_at, completed_at`

type messageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new MessageRepo instance
func NewMessageRepo(db *sql.DB) MessageRepo {
	return &messageRepo{db: db}
}

func scanMessage(row interface{ Scan(...any) error }) (model.Message, error) {
	var msg model.Message
	var status string
	var completion, errText sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&msg.ID,
		&msg.ChatroomID,
		&msg.UserID,
		&msg.Content,
		&status,
		&completion,
		&errText,
		&msg.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return model.Message{}, err
	}
	msg.Status = model.MessageStatus(status)
	if completion.Valid {
		msg.Completion = &completion.String
	}
	if errText.Valid {
		msg.Error = &errText.String
	}
	if completedAt.Valid {
		msg.CompletedAt = &completedAt.Time
	}
	return msg, nil
}

func (r *messageRepo) Create(ctx context.Context, msg model.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, chatroom_id, user_id, content, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ChatroomID, msg.UserID, msg.Content, string(msg.Status), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *messageRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, fmt.Errorf("get message %s: %w", id, apperror.ErrMessageNotFound)
		}
		return model.Message{}, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

func (r *messageRepo) GetOwned(ctx context.Context, id, userID uuid.UUID) (model.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1 AND user_id = $2`, id, userID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, fmt.Errorf("get message %s: %w", id, apperror.ErrMessageNotFound)
		}
		return model.Message{}, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

func (r *messageRepo) ListByChatroom(ctx context.Context, chatroomID uuid.UUID) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE chatroom_id = $1
		ORDER BY created_at ASC
	`, chatroomID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func (r *messageRepo) Complete(ctx context.Context, id uuid.UUID, completion string, at time.Time) (bool, error) {
	return r.resolve(ctx, `
		UPDATE messages
		SET status = 'complete', completion = $2, completed_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, completion, at)
}

func (r *messageRepo) Fail(ctx context.Context, id uuid.UUID, detail string, at time.Time) (bool, error) {
	return r.resolve(ctx, `
		UPDATE messages
		SET status = 'failed', error = $2, completed_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, detail, at)
}

func (r *messageRepo) resolve(ctx context.Context, query string, id uuid.UUID, text string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, id, text, at)
	if err != nil {
		return false, fmt.Errorf("resolve message %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve message %s: %w", id, err)
	}
	return n == 1, nil
}
