package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account identified by its mobile number
type User struct {
	ID           uuid.UUID
	Mobile       string
	PasswordHash string
	Email        *string
	IsVerified   bool
	IsActive     bool
	CreatedAt    time.Time
}

// HasPassword reports whether a password credential has been set.
// Users created implicitly by an OTP request have none until signup.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Purpose scopes an OTP challenge to one authentication flow
type Purpose string

const (
	PurposeSignup Purpose = "signup"
	PurposeLogin  Purpose = "login"
	PurposeForgot Purpose = "forgot"
)

// Valid reports whether p is one of the known purposes
func (p Purpose) Valid() bool {
	switch p {
	case PurposeSignup, PurposeLogin, PurposeForgot:
		return true
	}
	return false
}

// OTPChallenge is a single-use code issued to a user for one purpose
type OTPChallenge struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	CodeHash   string
	Purpose    Purpose
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	Attempts   int
}

// Consumed reports whether the challenge has already been used
func (c OTPChallenge) Consumed() bool {
	return c.ConsumedAt != nil
}

// Expired reports whether the challenge is past its expiry at now
func (c OTPChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ConsumeEffect is applied to the owning user in the same transaction that consumes a challenge
type ConsumeEffect struct {
	MarkVerified    bool
	NewPasswordHash string
}

// Chatroom groups the messages of one user
type Chatroom struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageStatus tracks whether a completion has been produced for a message
type MessageStatus string

const (
	MessagePending  MessageStatus = "pending"
	MessageComplete MessageStatus = "complete"
	MessageFailed   MessageStatus = "failed"
)

// Message is a prompt sent to the completion provider and its outcome.
// Completion is set only when Status is complete; Error only when Status is failed.
type Message struct {
	ID          uuid.UUID
	ChatroomID  uuid.UUID
	UserID      uuid.UUID
	Content     string
	Status      MessageStatus
	Completion  *string
	Error       *string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Resolved reports whether the message has left the pending state
func (m Message) Resolved() bool {
	return m.Status != MessagePending
}
