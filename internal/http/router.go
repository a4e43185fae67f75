package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/auth"
	"github.com/relaychat/server/internal/http/handlers"
	"github.com/relaychat/server/internal/metrics"
	"github.com/relaychat/server/internal/middleware"
	"github.com/relaychat/server/internal/repo"
)

// RouterDeps are the handlers and collaborators the router wires together
type RouterDeps struct {
	Auth         *handlers.AuthHandler
	Chat         *handlers.ChatHandler
	Subscription *handlers.SubscriptionHandler
	Health       *handlers.HealthHandler

	JWT   *auth.JWTService
	Users repo.UserRepo

	// per-IP throttles for the unauthenticated OTP endpoints
	OTPLimiter    *middleware.RateLimiter
	VerifyLimiter *middleware.RateLimiter

	CORSOrigins []string
	Log         *zap.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", d.Health.ServeHTTP)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", d.Auth.HandleSignup)
		r.Post("/refresh", d.Auth.HandleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(d.OTPLimiter, middleware.GetIPKey))
			r.Post("/send-otp", d.Auth.HandleSendOTP)
			r.Post("/forgot-password", d.Auth.HandleForgotPassword)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(d.VerifyLimiter, middleware.GetIPKey))
			r.Post("/verify-otp", d.Auth.HandleVerifyOTP)
			r.Post("/reset-password", d.Auth.HandleResetPassword)
		})

		// Protected routes (require valid JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(d.JWT, d.Users))
			r.Get("/me", d.Auth.HandleMe)
			r.Post("/change-password", d.Auth.HandleChangePassword)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(d.JWT, d.Users))

		r.Route("/chatroom", func(r chi.Router) {
			r.Get("/", d.Chat.HandleListChatrooms)
			r.Post("/", d.Chat.HandleCreateChatroom)
			r.Get("/message/{id}", d.Chat.HandleGetMessage)
			r.Get("/{id}", d.Chat.HandleGetChatroom)
			r.Post("/{id}/message", d.Chat.HandleSendMessage)
			r.Post("/{id}/sync-message", d.Chat.HandleSendMessageSync)
		})

		r.Get("/subscription/status", d.Subscription.HandleStatus)
	})

	return r
}
