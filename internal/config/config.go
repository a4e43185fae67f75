package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the application configuration
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"`

	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL    string `env:"REDIS_URL"`

	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	OTPSalt          string        `env:"OTP_SALT,required,notEmpty"`
	OTPTTL           time.Duration `env:"OTP_TTL" envDefault:"5m"`
	OTPExposeCode    bool          `env:"OTP_EXPOSE_CODE" envDefault:"true"`
	OTPMaxRequests   int           `env:"OTP_MAX_REQUESTS" envDefault:"5"`
	OTPRequestWindow time.Duration `env:"OTP_REQUEST_WINDOW" envDefault:"10m"`

	// When set, verification reports an unknown mobile as an invalid code.
	HideAccountExistence bool `env:"HIDE_ACCOUNT_EXISTENCE" envDefault:"false"`

	BasicDailyLimit  int           `env:"BASIC_DAILY_LIMIT" envDefault:"5"`
	DispatchCycle    time.Duration `env:"DISPATCH_CYCLE" envDefault:"24h"`
	ChatroomCacheTTL time.Duration `env:"CHATROOM_CACHE_TTL" envDefault:"5m"`

	ProviderURL        string        `env:"PROVIDER_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent"`
	ProviderAPIKey     string        `env:"PROVIDER_API_KEY"`
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
	ProviderMaxRetries int           `env:"PROVIDER_MAX_RETRIES" envDefault:"0"`

	KafkaBrokers      []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic        string   `env:"KAFKA_TOPIC" envDefault:"relaychat.message.complete"`
	KafkaGroupID      string   `env:"KAFKA_GROUP_ID" envDefault:"relaychat-worker"`
	RunWorker         bool     `env:"RUN_WORKER" envDefault:"true"`
	WorkerConcurrency int      `env:"WORKER_CONCURRENCY" envDefault:"4"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs outside production
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "test"
}

// UseKafka reports whether async jobs go through Kafka rather than the in-process queue
func (c *Config) UseKafka() bool {
	return len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaBrokers[0]) != ""
}

func (c *Config) validate() error {
	if !c.IsDevelopment() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in %s", c.Environment)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL must not be shorter than ACCESS_TOKEN_TTL")
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.BasicDailyLimit < 0 {
		return fmt.Errorf("BASIC_DAILY_LIMIT must not be negative")
	}
	if c.DispatchCycle <= 0 {
		return fmt.Errorf("DISPATCH_CYCLE must be positive")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.ProviderMaxRetries < 0 {
		return fmt.Errorf("PROVIDER_MAX_RETRIES must not be negative")
	}
	return nil
}
