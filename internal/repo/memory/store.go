// Package memory implements the repository interfaces in process memory.
// It backs unit tests and local runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/model"
	"github.com/relaychat/server/internal/repo"
)

// activeChallengeLimit matches the Postgres repo's cap on challenges compared per verification
const activeChallengeLimit = 10

// Store holds every table behind one mutex so multi-table operations stay atomic
type Store struct {
	mu            sync.Mutex
	users         map[uuid.UUID]model.User
	usersByMobile map[string]uuid.UUID
	challenges    map[uuid.UUID]model.OTPChallenge
	subscriptions map[uuid.UUID]model.Subscription
	chatrooms     map[uuid.UUID]model.Chatroom
	messages      map[uuid.UUID]model.Message
}

// New creates an empty store
func New() *Store {
	return &Store{
		users:         make(map[uuid.UUID]model.User),
		usersByMobile: make(map[string]uuid.UUID),
		challenges:    make(map[uuid.UUID]model.OTPChallenge),
		subscriptions: make(map[uuid.UUID]model.Subscription),
		chatrooms:     make(map[uuid.UUID]model.Chatroom),
		messages:      make(map[uuid.UUID]model.Message),
	}
}

func (s *Store) Users() repo.UserRepo                 { return userRepo{s} }
func (s *Store) Otps() repo.OtpRepo                   { return otpRepo{s} }
func (s *Store) Subscriptions() repo.SubscriptionRepo { return subscriptionRepo{s} }
func (s *Store) Chatrooms() repo.ChatroomRepo         { return chatroomRepo{s} }
func (s *Store) Messages() repo.MessageRepo           { return messageRepo{s} }

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.usersByMobile[user.Mobile]; ok {
		return fmt.Errorf("create user: %w", apperror.ErrUserExists)
	}
	r.s.users[user.ID] = user
	r.s.usersByMobile[user.Mobile] = user.ID
	return nil
}

func (r userRepo) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("get user %s: %w", id, apperror.ErrUserNotFound)
	}
	return u, nil
}

func (r userRepo) GetByMobile(_ context.Context, mobile string) (model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.usersByMobile[mobile]
	if !ok {
		return model.User{}, fmt.Errorf("get user by mobile: %w", apperror.ErrUserNotFound)
	}
	return r.s.users[id], nil
}

func (r userRepo) GetOrCreateByMobile(_ context.Context, user model.User) (model.User, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if id, ok := r.s.usersByMobile[user.Mobile]; ok {
		return r.s.users[id], false, nil
	}
	r.s.users[user.ID] = user
	r.s.usersByMobile[user.Mobile] = user.ID
	return user, true, nil
}

func (r userRepo) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return fmt.Errorf("update password: %w", apperror.ErrUserNotFound)
	}
	u.PasswordHash = passwordHash
	r.s.users[id] = u
	return nil
}

func (r userRepo) ClaimProvisional(_ context.Context, id uuid.UUID, passwordHash string, email *string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok || u.HasPassword() || u.IsVerified {
		return false, nil
	}
	u.PasswordHash = passwordHash
	if email != nil {
		u.Email = email
	}
	r.s.users[id] = u
	return true, nil
}

type otpRepo struct{ s *Store }

func (r otpRepo) Create(_ context.Context, ch model.OTPChallenge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.challenges[ch.ID] = ch
	return nil
}

func (r otpRepo) ChargeActive(_ context.Context, userID uuid.UUID, purpose model.Purpose, now time.Time, maxAttempts int) ([]model.OTPChallenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.OTPChallenge
	for _, ch := range r.s.challenges {
		if ch.UserID == userID && ch.Purpose == purpose && !ch.Consumed() && !ch.Expired(now) && ch.Attempts < maxAttempts {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > activeChallengeLimit {
		out = out[:activeChallengeLimit]
	}
	for i := range out {
		out[i].Attempts++
		r.s.challenges[out[i].ID] = out[i]
	}
	return out, nil
}

func (r otpRepo) Consume(_ context.Context, id uuid.UUID, now time.Time, effect model.ConsumeEffect) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.s.challenges[id]
	if !ok || ch.Consumed() || ch.Expired(now) {
		return false, nil
	}
	u, ok := r.s.users[ch.UserID]
	if !ok {
		return false, fmt.Errorf("consume challenge: %w", apperror.ErrUserNotFound)
	}
	consumedAt := now
	ch.ConsumedAt = &consumedAt
	r.s.challenges[id] = ch

	if effect.MarkVerified {
		u.IsVerified = true
	}
	if effect.NewPasswordHash != "" {
		u.PasswordHash = effect.NewPasswordHash
	}
	r.s.users[u.ID] = u
	return true, nil
}

func (r otpRepo) CountRecentRequests(_ context.Context, userID uuid.UUID, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, ch := range r.s.challenges {
		if ch.UserID == userID && !ch.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type subscriptionRepo struct{ s *Store }

func (r subscriptionRepo) GetByUserID(_ context.Context, userID uuid.UUID) (model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscriptions[userID]
	if !ok {
		return model.Subscription{}, fmt.Errorf("get subscription: %w", apperror.ErrSubscriptionNotFound)
	}
	return sub, nil
}

func (r subscriptionRepo) Upsert(_ context.Context, sub model.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.subscriptions[sub.UserID] = sub
	return nil
}

type chatroomRepo struct{ s *Store }

func (r chatroomRepo) Create(_ context.Context, room model.Chatroom) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.chatrooms[room.ID] = room
	return nil
}

func (r chatroomRepo) GetOwned(_ context.Context, id, userID uuid.UUID) (model.Chatroom, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.chatrooms[id]
	if !ok || room.UserID != userID {
		return model.Chatroom{}, fmt.Errorf("get chatroom %s: %w", id, apperror.ErrConversationNotFound)
	}
	return room, nil
}

func (r chatroomRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Chatroom, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rooms := []model.Chatroom{}
	for _, room := range r.s.chatrooms {
		if room.UserID == userID {
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
	return rooms, nil
}

type messageRepo struct{ s *Store }

func (r messageRepo) Create(_ context.Context, msg model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.messages[msg.ID] = msg
	return nil
}

func (r messageRepo) GetByID(_ context.Context, id uuid.UUID) (model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.messages[id]
	if !ok {
		return model.Message{}, fmt.Errorf("get message %s: %w", id, apperror.ErrMessageNotFound)
	}
	return msg, nil
}

func (r messageRepo) GetOwned(_ context.Context, id, userID uuid.UUID) (model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.messages[id]
	if !ok || msg.UserID != userID {
		return model.Message{}, fmt.Errorf("get message %s: %w", id, apperror.ErrMessageNotFound)
	}
	return msg, nil
}

func (r messageRepo) ListByChatroom(_ context.Context, chatroomID uuid.UUID) ([]model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msgs := []model.Message{}
	for _, msg := range r.s.messages {
		if msg.ChatroomID == chatroomID {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (r messageRepo) Complete(_ context.Context, id uuid.UUID, completion string, at time.Time) (bool, error) {
	return r.resolve(id, at, func(m *model.Message) {
		m.Status = model.MessageComplete
		m.Completion = &completion
	})
}

func (r messageRepo) Fail(_ context.Context, id uuid.UUID, detail string, at time.Time) (bool, error) {
	return r.resolve(id, at, func(m *model.Message) {
		m.Status = model.MessageFailed
		m.Error = &detail
	})
}

func (r messageRepo) resolve(id uuid.UUID, at time.Time, apply func(*model.Message)) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.messages[id]
	if !ok || msg.Resolved() {
		return false, nil
	}
	apply(&msg)
	msg.CompletedAt = &at
	r.s.messages[id] = msg
	return true, nil
}
