// Package chat relays conversations to an OpenAI-compatible completion API.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/smallbiznis/companion/internal/config"
	"github.com/smallbiznis/companion/internal/observability/metrics"
	"github.com/smallbiznis/companion/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	// ErrRateLimited is returned when the provider still throttles after the
	// last attempt.
	ErrRateLimited = errors.New("upstream_rate_limited")
	ErrUpstream    = errors.New("upstream_unavailable")
)

const maxErrorBody = 4 << 10

type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	MaxTokens      int
	MaxAttempts    int
	RateLimitDelay time.Duration
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	HistoryLimit   int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://openrouter.ai/api/v1",
		Model:          "moonshotai/kimi-k2:free",
		Temperature:    0.7,
		MaxTokens:      500,
		MaxAttempts:    3,
		RateLimitDelay: 5 * time.Second,
		RetryDelay:     3 * time.Second,
		RequestTimeout: 60 * time.Second,
		HistoryLimit:   5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = d.RateLimitDelay
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}

func ConfigFromApp(cfg config.Config) Config {
	return Config{
		BaseURL:        cfg.Chat.BaseURL,
		APIKey:         cfg.Chat.APIKey,
		Model:          cfg.Chat.Model,
		Temperature:    cfg.Chat.Temperature,
		MaxTokens:      cfg.Chat.MaxTokens,
		MaxAttempts:    cfg.Chat.MaxAttempts,
		RateLimitDelay: cfg.Chat.RateLimitDelay,
		RetryDelay:     cfg.Chat.RetryDelay,
		RequestTimeout: cfg.Chat.RequestTimeout,
		HistoryLimit:   cfg.Chat.HistoryMessages,
	}
}

type Params struct {
	fx.In

	Config  Config
	Log     *zap.Logger
	Metrics *metrics.DomainMetrics `optional:"true"`
	Client  *http.Client           `name:"chat_http_client" optional:"true"`
}

type Relay struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics.DomainMetrics
	client  *http.Client
}

func NewRelay(p Params) *Relay {
	cfg := p.Config.withDefaults()
	client := p.Client
	if client == nil {
		// Streams can outlive RequestTimeout, so the deadline is applied per
		// call instead of on the client.
		client = tracing.WrapHTTPClient(&http.Client{})
	}
	return &Relay{
		cfg:     cfg,
		log:     p.Log.Named("chat.relay"),
		metrics: p.Metrics,
		client:  client,
	}
}

func (r *Relay) HistoryLimit() int { return r.cfg.HistoryLimit }

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// statusError is a non-2xx provider response. The body stays in server logs.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("chat provider returned status %d", e.code)
}

func isThrottled(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusTooManyRequests
}

// schedule waits 3^n * RateLimitDelay after the n-th throttled attempt and
// RetryDelay after any other failure.
type schedule struct {
	rateLimitDelay time.Duration
	retryDelay     time.Duration
	attempt        int
	lastErr        error
}

func (s *schedule) NextBackOff() time.Duration {
	s.attempt++
	if isThrottled(s.lastErr) {
		return time.Duration(math.Pow(3, float64(s.attempt))) * s.rateLimitDelay
	}
	return s.retryDelay
}

func (s *schedule) Reset() {
	s.attempt = 0
	s.lastErr = nil
}

// Complete returns the assistant reply, or the fallback reply when the
// provider answers with no content.
func (r *Relay) Complete(ctx context.Context, messages []Message, language string) (string, error) {
	var reply string
	err := r.withRetry(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()

		resp, err := r.post(ctx, messages, false)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var body completionResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode completion: %w", err)
		}
		if len(body.Choices) > 0 {
			reply = body.Choices[0].Message.Content
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return FallbackReply(language), nil
	}
	return reply, nil
}

// Stream relays the reply as it is generated. Only opening the stream is
// retried. The upstream body is closed as soon as ctx is done or onDelta
// fails.
func (r *Relay) Stream(ctx context.Context, messages []Message, onDelta func(string) error) error {
	var resp *http.Response
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = r.post(ctx, messages, true)
		return err
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
	defer stop()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}
		var chunk completionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			r.log.Debug("skipping malformed stream chunk", zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return scanner.Err()
}

func (r *Relay) withRetry(ctx context.Context, op func(context.Context) error) error {
	sched := &schedule{rateLimitDelay: r.cfg.RateLimitDelay, retryDelay: r.cfg.RetryDelay}
	var retries backoff.BackOff = &backoff.StopBackOff{}
	if r.cfg.MaxAttempts > 1 {
		retries = backoff.WithMaxRetries(sched, uint64(r.cfg.MaxAttempts-1))
	}
	policy := backoff.WithContext(retries, ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		attemptCtx, span := tracing.StartSpan(ctx, "chat.upstream_attempt", attribute.Int("chat.attempt", attempt))
		err := op(attemptCtx)
		tracing.EndSpan(span, err)
		sched.lastErr = err
		switch {
		case err == nil:
			r.metrics.IncRelayAttempt("ok")
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case isThrottled(err):
			r.metrics.IncRelayAttempt("rate_limited")
		default:
			r.metrics.IncRelayAttempt("error")
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		r.log.Warn("chat provider call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if isThrottled(err) {
		return ErrRateLimited
	}
	var se *statusError
	if errors.As(err, &se) {
		r.log.Error("chat provider error", zap.Int("status", se.code), zap.String("body", se.body))
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func (r *Relay) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(completionRequest{
		Model:       r.cfg.Model,
		Messages:    messages,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode, body: string(raw)}
	}
	return resp, nil
}
