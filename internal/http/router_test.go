package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/auth"
	"github.com/relaychat/server/internal/cache"
	"github.com/relaychat/server/internal/chat"
	"github.com/relaychat/server/internal/http/handlers"
	"github.com/relaychat/server/internal/jobs"
	"github.com/relaychat/server/internal/middleware"
	"github.com/relaychat/server/internal/ratelimit"
	"github.com/relaychat/server/internal/repo/memory"
	"github.com/relaychat/server/internal/subscription"
)

type echoProvider struct{}

func (echoProvider) Complete(_ context.Context, prompt string) (string, error) {
	if prompt == "ping" {
		return "pong", nil
	}
	return "echo: " + prompt, nil
}

type testServer struct {
	router *chi.Mux
	queue  *jobs.MemoryQueue
	disp   *chat.Dispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	store := memory.New()
	kv := cache.NewMemoryStore()

	jwtSvc, err := auth.NewJWTService("0123456789abcdef0123456789abcdef", 15*time.Minute, time.Hour)
	require.NoError(t, err)
	otp := auth.NewOtpService(store.Otps(), auth.OtpConfig{Salt: "pepper", TTL: 5 * time.Minute})
	authSvc := auth.NewAuthService(otp, jwtSvc, store.Users(), false, log)

	subs := subscription.NewService(store.Subscriptions())
	queue := jobs.NewMemoryQueue(16, log)
	t.Cleanup(func() { _ = queue.Close() })
	disp := chat.NewDispatcher(
		store.Chatrooms(), store.Messages(), subs,
		ratelimit.NewLimiter(kv, 5, 24*time.Hour, log),
		echoProvider{}, queue, log,
	)
	chats := chat.NewService(store.Chatrooms(), store.Messages(), kv, time.Minute, log)

	health := handlers.NewHealthHandler()
	health.Register("cache", kv.Ping)

	router := NewRouter(RouterDeps{
		Auth:          handlers.NewAuthHandler(authSvc, true, log),
		Chat:          handlers.NewChatHandler(chats, disp, log),
		Subscription:  handlers.NewSubscriptionHandler(subs, log),
		Health:        health,
		JWT:           jwtSvc,
		Users:         store.Users(),
		OTPLimiter:    middleware.NewRateLimiter(time.Minute, 100),
		VerifyLimiter: middleware.NewRateLimiter(time.Minute, 100),
		CORSOrigins:   []string{"*"},
		Log:           log,
	})
	return &testServer{router: router, queue: queue, disp: disp}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

// login runs send-otp and verify-otp for mobile and returns the access token
func (s *testServer) login(t *testing.T, mobile string) string {
	t.Helper()
	rec, sent := s.do(t, http.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": mobile, "purpose": "login"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	code, _ := sent["otp"].(string)
	require.Len(t, code, 6)

	rec, session := s.do(t, http.MethodPost, "/auth/verify-otp", "", map[string]string{"mobile": mobile, "code": code, "purpose": "login"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := session["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (s *testServer) createRoom(t *testing.T, token string) string {
	t.Helper()
	rec, room := s.do(t, http.MethodPost, "/chatroom", token, map[string]string{"name": "general"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return room["id"].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
}

func TestSendOTP_Validation(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": "call me", "purpose": "login"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", body["code"])

	rec, _ = s.do(t, http.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": "+15550001111", "purpose": "reset"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyOTP_WrongCode(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, http.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": "+15550001111", "purpose": "signup"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := s.do(t, http.MethodPost, "/auth/verify-otp", "", map[string]string{"mobile": "+15550001111", "code": "000000", "purpose": "signup"})
	if rec.Code == http.StatusOK {
		t.Skip("generated code happened to be 000000")
	}
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_or_expired", body["code"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/auth/me", "/chatroom", "/subscription/status"} {
		rec, body := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "unauthorized", body["code"], path)
	}
}

func TestMeAndSubscriptionStatus(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "+15550001111")

	rec, me := s.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "+15550001111", me["mobile"])
	assert.Equal(t, true, me["is_verified"])

	rec, sub := s.do(t, http.MethodGet, "/subscription/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "basic", sub["tier"])
	assert.Equal(t, "inactive", sub["status"])
}

func TestSyncMessage_PingPong(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "+15550001111")
	roomID := s.createRoom(t, token)

	rec, msg := s.do(t, http.MethodPost, "/chatroom/"+roomID+"/sync-message", token, map[string]string{"content": "ping"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "complete", msg["status"])
	assert.Equal(t, "pong", msg["completion"])
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))

	rec, detail := s.do(t, http.MethodGet, "/chatroom/"+roomID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, detail["messages"], 1)
}

func TestForeignChatroomIsNotFound(t *testing.T) {
	s := newTestServer(t)
	owner := s.login(t, "+15550001111")
	stranger := s.login(t, "+15550002222")
	roomID := s.createRoom(t, owner)

	rec, body := s.do(t, http.MethodPost, "/chatroom/"+roomID+"/sync-message", stranger, map[string]string{"content": "ping"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "chatroom_not_found", body["code"])

	rec, _ = s.do(t, http.MethodGet, "/chatroom/"+roomID, stranger, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/chatroom/not-a-uuid", owner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDailyLimitReturns429(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "+15550001111")
	roomID := s.createRoom(t, token)

	for i := 0; i < 5; i++ {
		rec, _ := s.do(t, http.MethodPost, "/chatroom/"+roomID+"/sync-message", token, map[string]string{"content": "ping"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec, body := s.do(t, http.MethodPost, "/chatroom/"+roomID+"/sync-message", token, map[string]string{"content": "ping"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "daily_limit_exceeded", body["code"])
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestAsyncMessage_PollUntilComplete(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = jobs.NewWorker(s.queue, s.disp.Process, 1, zap.NewNop()).Run(ctx) }()

	token := s.login(t, "+15550001111")
	roomID := s.createRoom(t, token)

	rec, receipt := s.do(t, http.MethodPost, "/chatroom/"+roomID+"/message", token, map[string]string{"content": "ping"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", receipt["status"])
	msgID := receipt["message_id"].(string)

	require.Eventually(t, func() bool {
		rec, msg := s.do(t, http.MethodGet, "/chatroom/message/"+msgID, token, nil)
		return rec.Code == http.StatusOK && msg["status"] == "complete" && msg["completion"] == "pong"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestListChatrooms(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "+15550001111")
	s.createRoom(t, token)

	req := httptest.NewRequest(http.MethodGet, "/chatroom", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var rooms []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "general", rooms[0]["name"])
}
