package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/model"
)

// ChatroomRepo defines the interface for chatroom repository operations
type ChatroomRepo interface {
	Create(ctx context.Context, room model.Chatroom) error
	// GetOwned returns the chatroom only when it belongs to userID; any other
	// case is reported as ErrConversationNotFound.
	GetOwned(ctx context.Context, id, userID uuid.UUID) (model.Chatroom, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Chatroom, error)
}

type chatroomRepo struct {
	db *sql.DB
}

// NewChatroomRepo creates a new ChatroomRepo instance
func NewChatroomRepo(db *sql.DB) ChatroomRepo {
	return &chatroomRepo{db: db}
}

func (r *chatroomRepo) Create(ctx context.Context, room model.Chatroom) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chatrooms (id, user_id, name, created_at)
		VALUES ($1, $2, $3, $4)
	`, room.ID, room.UserID, room.Name, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chatroom: %w", err)
	}
	return nil
}

func (r *chatroomRepo) GetOwned(ctx context.Context, id, userID uuid.UUID) (model.Chatroom, error) {
	var room model.Chatroom
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at
		FROM chatrooms
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&room.ID, &room.UserID, &room.Name, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Chatroom{}, fmt.Errorf("get chatroom %s: %w", id, apperror.ErrConversationNotFound)
		}
		return model.Chatroom{}, fmt.Errorf("query chatroom: %w", err)
	}
	return room, nil
}

// ListByUser returns the user's chatrooms, newest first
func (r *chatroomRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Chatroom, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, created_at
		FROM chatrooms
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chatrooms: %w", err)
	}
	defer rows.Close()

	rooms := []model.Chatroom{}
	for rows.Next() {
		var room model.Chatroom
		if err := rows.Scan(&room.ID, &room.UserID, &room.Name, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chatroom: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chatrooms: %w", err)
	}
	return rooms, nil
}
