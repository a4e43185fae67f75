// Package provider talks to the external text-generation service.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/metrics"
)

// Completer produces a completion for a prompt
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// BreakerConfig controls when the provider circuit opens
type BreakerConfig struct {
	MinRequests  uint32
	FailureRatio float64
	// OpenTimeout is how long the circuit stays open before a probe is let through.
	OpenTimeout time.Duration
	Interval    time.Duration
}

// Config configures the provider client
type Config struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Breaker    BreakerConfig
}

// DefaultBreakerConfig returns the breaker settings used in production
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MinRequests:  5,
		FailureRatio: 0.5,
		OpenTimeout:  30 * time.Second,
		Interval:     60 * time.Second,
	}
}

const (
	breakerName    = "completion_provider"
	retryBackoff   = 200 * time.Millisecond
	maxErrorDetail = 512
)

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

var fixedGeneration = generationConfig{
	Temperature:     0.7,
	TopK:            40,
	TopP:            0.95,
	MaxOutputTokens: 1024,
}

// retryable marks failures worth another attempt: transport errors and 5xx
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// Client calls the generateContent endpoint through a circuit breaker
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[string]
	log     *zap.Logger
}

// NewClient creates a provider client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	bc := cfg.Breaker
	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    bc.Interval,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
		log:     log,
	}
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// State returns the current breaker state
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Complete sends prompt to the provider and returns the first candidate's text.
// Every failure wraps apperror.ErrProviderFailure.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", apperror.ErrProviderFailure, ctx.Err())
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		start := time.Now()
		text, err := c.breaker.Execute(func() (string, error) {
			return c.call(ctx, prompt)
		})
		if err == nil {
			metrics.ProviderDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
			return text, nil
		}
		metrics.ProviderDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		lastErr = err

		var r retryable
		if !errors.As(err, &r) {
			break
		}
		c.log.Warn("provider call failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", c.cfg.MaxRetries),
		)
	}
	return "", fmt.Errorf("%w: %w", apperror.ErrProviderFailure, lastErr)
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse provider url: %w", err)
	}
	if c.cfg.APIKey != "" {
		q := u.Query()
		q.Set("key", c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: fixedGeneration,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	endpoint, err := c.endpoint()
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", retryable{fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetail))
		// the cut may land inside a rune
		text := strings.ToValidUTF8(string(bytes.TrimSpace(detail)), "")
		statusErr := fmt.Errorf("provider returned %d: %s", resp.StatusCode, text)
		if resp.StatusCode >= http.StatusInternalServerError {
			return "", retryable{statusErr}
		}
		return "", statusErr
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("response has no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
