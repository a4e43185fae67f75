// Package apperror defines the typed outcomes reported to API callers and
// maps them onto HTTP status codes.
package apperror

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidOrExpired     = errors.New("invalid or expired OTP")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
	ErrIncorrectPassword    = errors.New("old password is incorrect")
	ErrDailyLimitExceeded   = errors.New("daily limit exceeded")
	ErrProviderFailure      = errors.New("completion provider failure")
	ErrConversationNotFound = errors.New("chatroom not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrTooManyRequests      = errors.New("too many requests")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrQueueUnavailable     = errors.New("job queue unavailable")
)

type kind struct {
	err    error
	code   string
	status int
}

// Checked in order; the first sentinel matched by errors.Is wins.
var kinds = []kind{
	{ErrInvalidOrExpired, "invalid_or_expired", http.StatusBadRequest},
	{ErrUserNotFound, "user_not_found", http.StatusNotFound},
	{ErrUserExists, "user_exists", http.StatusConflict},
	{ErrIncorrectPassword, "incorrect_password", http.StatusBadRequest},
	{ErrDailyLimitExceeded, "daily_limit_exceeded", http.StatusTooManyRequests},
	{ErrProviderFailure, "provider_failure", http.StatusBadGateway},
	{ErrConversationNotFound, "chatroom_not_found", http.StatusNotFound},
	{ErrMessageNotFound, "message_not_found", http.StatusNotFound},
	{ErrSubscriptionNotFound, "subscription_not_found", http.StatusNotFound},
	{ErrTooManyRequests, "too_many_requests", http.StatusTooManyRequests},
	{ErrInvalidInput, "invalid_input", http.StatusBadRequest},
	{ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
	{ErrQueueUnavailable, "queue_unavailable", http.StatusServiceUnavailable},
}

func lookup(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}
	return kind{}, false
}

// HTTPStatus returns the status code for err, 500 for anything unrecognised
func HTTPStatus(err error) int {
	if k, ok := lookup(err); ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// Code returns a stable machine-readable code for err
func Code(err error) string {
	if k, ok := lookup(err); ok {
		return k.code
	}
	return "internal_error"
}

// Message returns the text safe to show a caller. Infrastructure errors
// are never exposed.
func Message(err error) string {
	if k, ok := lookup(err); ok {
		return k.err.Error()
	}
	return "internal server error"
}
