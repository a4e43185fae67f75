package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/apperror"
)

const okBody = `{"candidates":[{"content":{"parts":[{"text":"pong"}]}}]}`

func testConfig(url string) Config {
	return Config{
		URL:     url,
		APIKey:  "test-key",
		Timeout: time.Second,
		Breaker: BreakerConfig{MinRequests: 100, FailureRatio: 1, OpenTimeout: time.Minute},
	}
}

func TestComplete_SendsGenerateContentRequest(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil, zap.NewNop())
	text, err := c.Complete(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", text)

	require.Len(t, got.Contents, 1)
	assert.Equal(t, "ping", got.Contents[0].Parts[0].Text)
	assert.Equal(t, 0.7, got.GenerationConfig.Temperature)
	assert.Equal(t, 40, got.GenerationConfig.TopK)
	assert.Equal(t, 0.95, got.GenerationConfig.TopP)
	assert.Equal(t, 1024, got.GenerationConfig.MaxOutputTokens)
}

func TestComplete_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantMsg: "provider returned 500: boom"},
		{name: "client error", status: http.StatusBadRequest, body: "bad key", wantMsg: "provider returned 400"},
		{name: "no candidates", status: http.StatusOK, body: `{"candidates":[]}`, wantMsg: "no candidates"},
		{name: "malformed json", status: http.StatusOK, body: `{"candidates":`, wantMsg: "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(testConfig(srv.URL), nil, zap.NewNop())
			_, err := c.Complete(context.Background(), "ping")
			require.ErrorIs(t, err, apperror.ErrProviderFailure)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestComplete_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	c := NewClient(cfg, nil, zap.NewNop())

	start := time.Now()
	_, err := c.Complete(context.Background(), "ping")
	require.ErrorIs(t, err, apperror.ErrProviderFailure)
	assert.Less(t, time.Since(start), time.Second)
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 1
	c := NewClient(cfg, nil, zap.NewNop())

	text, err := c.Complete(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestComplete_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 3
	c := NewClient(cfg, nil, zap.NewNop())

	_, err := c.Complete(context.Background(), "ping")
	require.ErrorIs(t, err, apperror.ErrProviderFailure)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestComplete_ErrorDetailStaysValidUTF8(t *testing.T) {
	// one ASCII byte shifts every two-byte rune off the truncation boundary
	body := "x" + strings.Repeat("é", 600)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil, zap.NewNop())
	_, err := c.Complete(context.Background(), "ping")
	require.ErrorIs(t, err, apperror.ErrProviderFailure)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.Contains(t, err.Error(), "provider returned 400: xé")
}

func TestComplete_BreakerOpensAfterFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Breaker = BreakerConfig{MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Minute}
	c := NewClient(cfg, nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), "ping")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	_, err := c.Complete(context.Background(), "ping")
	require.ErrorIs(t, err, apperror.ErrProviderFailure)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open circuit short-circuits the call")
}
