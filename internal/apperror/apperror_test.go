package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{ErrInvalidOrExpired, http.StatusBadRequest, "invalid_or_expired"},
		{fmt.Errorf("verify: %w", ErrUserNotFound), http.StatusNotFound, "user_not_found"},
		{fmt.Errorf("gate: %w", ErrDailyLimitExceeded), http.StatusTooManyRequests, "daily_limit_exceeded"},
		{fmt.Errorf("%w: status 500", ErrProviderFailure), http.StatusBadGateway, "provider_failure"},
		{ErrConversationNotFound, http.StatusNotFound, "chatroom_not_found"},
		{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{errors.New("pq: connection refused"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}

func TestMessage_HidesInternalErrors(t *testing.T) {
	assert.Equal(t, "internal server error", Message(errors.New("dial tcp 10.0.0.1:5432: refused")))
	assert.Equal(t, "old password is incorrect", Message(fmt.Errorf("change password: %w", ErrIncorrectPassword)))
}
