// Package app assembles the services shared by the api and worker binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/auth"
	"github.com/relaychat/server/internal/cache"
	"github.com/relaychat/server/internal/chat"
	"github.com/relaychat/server/internal/config"
	"github.com/relaychat/server/internal/db"
	httphandler "github.com/relaychat/server/internal/http"
	"github.com/relaychat/server/internal/http/handlers"
	"github.com/relaychat/server/internal/jobs"
	"github.com/relaychat/server/internal/middleware"
	"github.com/relaychat/server/internal/provider"
	"github.com/relaychat/server/internal/ratelimit"
	"github.com/relaychat/server/internal/repo"
	"github.com/relaychat/server/internal/subscription"
)

const memoryQueueSize = 1024

// App holds every long-lived dependency of the service
type App struct {
	Config *config.Config
	Log    *zap.Logger

	DB    *sql.DB
	redis *redis.Client
	Cache cache.Store
	Queue jobs.Queue

	JWT        *auth.JWTService
	Auth       *auth.AuthService
	Users      repo.UserRepo
	Subs       *subscription.Service
	Chats      *chat.Service
	Dispatcher *chat.Dispatcher

	OTPLimiter    *middleware.RateLimiter
	VerifyLimiter *middleware.RateLimiter
	health        *handlers.HealthHandler
}

// New opens the database, cache and queue and builds the services on top
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, health: handlers.NewHealthHandler()}

	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	a.DB = database
	if err := db.Migrate(database); err != nil {
		a.Close()
		return nil, err
	}
	a.health.Register("postgres", database.PingContext)

	if cfg.RedisURL != "" {
		client, err := cache.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		a.Cache = cache.NewRedisStore(client)
		log.Info("using redis for counters and cache")
	} else {
		a.Cache = cache.NewMemoryStore()
		log.Warn("REDIS_URL not set, counters are process-local")
	}
	a.health.Register("cache", a.Cache.Ping)

	if cfg.UseKafka() {
		a.Queue = jobs.NewKafkaQueue(jobs.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, log)
		log.Info("using kafka job queue", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	} else {
		a.Queue = jobs.NewMemoryQueue(memoryQueueSize, log)
		log.Warn("KAFKA_BROKERS not set, async jobs run in-process")
	}

	jwtService, err := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.JWT = jwtService

	a.Users = repo.NewUserRepo(database)
	otpService := auth.NewOtpService(repo.NewOtpRepo(database), auth.OtpConfig{
		Salt:          cfg.OTPSalt,
		TTL:           cfg.OTPTTL,
		MaxRequests:   cfg.OTPMaxRequests,
		RequestWindow: cfg.OTPRequestWindow,
	})
	a.Auth = auth.NewAuthService(otpService, jwtService, a.Users, cfg.HideAccountExistence, log)

	rooms := repo.NewChatroomRepo(database)
	messages := repo.NewMessageRepo(database)
	a.Subs = subscription.NewService(repo.NewSubscriptionRepo(database))
	a.Chats = chat.NewService(rooms, messages, a.Cache, cfg.ChatroomCacheTTL, log)

	completer := provider.NewClient(provider.Config{
		URL:        cfg.ProviderURL,
		APIKey:     cfg.ProviderAPIKey,
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: cfg.ProviderMaxRetries,
		Breaker:    provider.DefaultBreakerConfig(),
	}, nil, log)
	limiter := ratelimit.NewLimiter(a.Cache, cfg.BasicDailyLimit, cfg.DispatchCycle, log)
	a.Dispatcher = chat.NewDispatcher(rooms, messages, a.Subs, limiter, completer, a.Queue, log)

	// 10 send-otp per 10 minutes, 20 verify attempts per 10 minutes, per IP
	a.OTPLimiter = middleware.NewRateLimiter(10*time.Minute, 10)
	a.VerifyLimiter = middleware.NewRateLimiter(10*time.Minute, 20)

	return a, nil
}

// Router builds the HTTP handler
func (a *App) Router() http.Handler {
	return httphandler.NewRouter(httphandler.RouterDeps{
		Auth:          handlers.NewAuthHandler(a.Auth, a.Config.OTPExposeCode, a.Log),
		Chat:          handlers.NewChatHandler(a.Chats, a.Dispatcher, a.Log),
		Subscription:  handlers.NewSubscriptionHandler(a.Subs, a.Log),
		Health:        a.health,
		JWT:           a.JWT,
		Users:         a.Users,
		OTPLimiter:    a.OTPLimiter,
		VerifyLimiter: a.VerifyLimiter,
		CORSOrigins:   a.Config.CORSAllowedOrigins,
		Log:           a.Log,
	})
}

// Worker builds the job worker pool that completes async messages
func (a *App) Worker() *jobs.Worker {
	w := jobs.NewWorker(a.Queue, a.Dispatcher.Process, a.Config.WorkerConcurrency, a.Log)
	// every provider attempt plus the status write
	attempts := time.Duration(a.Config.ProviderMaxRetries + 1)
	w.SetJobTimeout(attempts*a.Config.ProviderTimeout + 10*time.Second)
	return w
}

// Close releases every connection the app opened
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}
