package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/cache"
	"github.com/relaychat/server/internal/model"
	"github.com/relaychat/server/internal/repo"
)

const maxChatroomName = 120

// ChatroomDetail is a chatroom with its messages in creation order
type ChatroomDetail struct {
	Chatroom model.Chatroom
	Messages []model.Message
}

// Service manages chatrooms and message reads
type Service struct {
	rooms    repo.ChatroomRepo
	messages repo.MessageRepo
	cache    cache.Store
	cacheTTL time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewService creates a new chat service
func NewService(rooms repo.ChatroomRepo, messages repo.MessageRepo, store cache.Store, cacheTTL time.Duration, log *zap.Logger) *Service {
	return &Service{
		rooms:    rooms,
		messages: messages,
		cache:    store,
		cacheTTL: cacheTTL,
		now:      time.Now,
		log:      log,
	}
}

// The list entry is keyed by a per-user version that every create replaces,
// so a list computed before a create can never be served after it.
func listVersionKey(userID uuid.UUID) string {
	return "chatrooms:version:" + userID.String()
}

func listCacheKey(userID uuid.UUID, version string) string {
	return "chatrooms:user:" + userID.String() + ":" + version
}

// CreateChatroom creates a chatroom owned by userID
func (s *Service) CreateChatroom(ctx context.Context, userID uuid.UUID, name string) (model.Chatroom, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxChatroomName {
		return model.Chatroom{}, fmt.Errorf("%w: chatroom name must be 1-%d characters", apperror.ErrInvalidInput, maxChatroomName)
	}
	room := model.Chatroom{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return model.Chatroom{}, err
	}
	// outlives any list entry written under the previous version
	if err := s.cache.Set(ctx, listVersionKey(userID), room.ID.String(), 2*s.cacheTTL); err != nil {
		s.log.Warn("invalidate chatroom cache", zap.String("user_id", userID.String()), zap.Error(err))
	}
	return room, nil
}

// ListChatrooms returns the user's chatrooms, newest first. Results are cached
// per user; cache failures fall through to the database.
func (s *Service) ListChatrooms(ctx context.Context, userID uuid.UUID) ([]model.Chatroom, error) {
	version, ok, err := s.cache.Get(ctx, listVersionKey(userID))
	if err != nil {
		s.log.Warn("read chatroom cache", zap.String("user_id", userID.String()), zap.Error(err))
		return s.rooms.ListByUser(ctx, userID)
	}
	if !ok {
		version = "0"
	}
	key := listCacheKey(userID, version)

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn("read chatroom cache", zap.String("user_id", userID.String()), zap.Error(err))
	} else if ok {
		var rooms []model.Chatroom
		if err := json.Unmarshal([]byte(raw), &rooms); err == nil {
			return rooms, nil
		}
		s.log.Warn("discarding corrupt chatroom cache entry", zap.String("user_id", userID.String()))
	}

	rooms, err := s.rooms.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(rooms); err == nil {
		if err := s.cache.Set(ctx, key, string(data), s.cacheTTL); err != nil {
			s.log.Warn("write chatroom cache", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	return rooms, nil
}

// GetChatroom returns an owned chatroom with its messages
func (s *Service) GetChatroom(ctx context.Context, userID, chatroomID uuid.UUID) (ChatroomDetail, error) {
	room, err := s.rooms.GetOwned(ctx, chatroomID, userID)
	if err != nil {
		return ChatroomDetail{}, err
	}
	msgs, err := s.messages.ListByChatroom(ctx, room.ID)
	if err != nil {
		return ChatroomDetail{}, err
	}
	return ChatroomDetail{Chatroom: room, Messages: msgs}, nil
}

// GetMessage returns a message owned by userID; used to poll async dispatches
func (s *Service) GetMessage(ctx context.Context, userID, messageID uuid.UUID) (model.Message, error) {
	return s.messages.GetOwned(ctx, messageID, userID)
}
