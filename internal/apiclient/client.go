// Package apiclient implements the rate-limited HTTP client shared by the
// metadata and citation sources. Each client instance enforces a minimum gap
// between its own requests, retries transient failures a fixed number of
// times, and honors an optional long cooldown when the upstream answers 429.
package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DinhLiu/arXiv-Crawler/internal/metrics"
)

// Doer abstracts the HTTP transport so tests can count and fail attempts.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sleeper blocks for the given duration or until the context finishes.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config controls pacing and retry behavior for one client instance.
type Config struct {
	// MinInterval is the minimum wall-clock gap between requests issued by
	// this client. The gap is paid once per attempt, not once per logical call.
	MinInterval time.Duration
	// MaxAttempts bounds transport calls per logical request (default 3).
	MaxAttempts int
	// Backoff is the fixed delay between retry attempts.
	Backoff time.Duration
	// RateLimitCooldown, when positive, is the extended wait after a 429
	// response. Cooldown retries do not consume the MaxAttempts budget.
	RateLimitCooldown time.Duration
	// UserAgent is sent on every request when non-empty.
	UserAgent string
}

// Client issues paced, retried HTTP GETs against one upstream API.
type Client struct {
	cfg     Config
	doer    Doer
	limiter *rate.Limiter
	sleep   Sleeper
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithDoer replaces the HTTP transport.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New constructs a Client. Each instance owns its own rate-limiter state, so
// concurrency callers wanting independent pacing must construct one client each.
func New(cfg Config, opts ...Option) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	c := &Client{
		cfg:     cfg,
		doer:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepWithContext,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches url and returns the response body. Transport errors and
// 5xx responses are retried up to MaxAttempts with a fixed backoff; 429
// responses trigger the configured cooldown without consuming the retry
// budget. Non-retryable statuses surface immediately.
func (c *Client) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var (
		lastErr   error
		attempts  int
		cooldowns int
	)
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		body, retryable, err := c.attempt(ctx, url, header)
		if err == nil {
			return body, nil
		}
		if errors429(err) {
			cooldowns++
			if c.cfg.RateLimitCooldown <= 0 || cooldowns > c.cfg.MaxAttempts {
				return nil, fmt.Errorf("%w: %w", ErrExhausted, err)
			}
			c.logger.Warn("upstream rate limit hit, cooling down",
				zap.String("url", url),
				zap.Duration("cooldown", c.cfg.RateLimitCooldown),
			)
			metrics.RateLimitHits.Inc()
			if serr := c.sleep(ctx, c.cfg.RateLimitCooldown); serr != nil {
				return nil, serr
			}
			continue
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		attempts++
		if attempts >= c.cfg.MaxAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
		}
		c.logger.Warn("request failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Duration("backoff", c.cfg.Backoff),
			zap.Error(err),
		)
		metrics.APIRetries.Inc()
		if serr := c.sleep(ctx, c.cfg.Backoff); serr != nil {
			return nil, serr
		}
	}
}

// attempt performs a single transport call. The second return reports whether
// the failure is retryable.
func (c *Client) attempt(ctx context.Context, url string, header http.Header) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	metrics.APIRequests.Inc()
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, false, &statusError{code: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode >= 500:
		return nil, true, &statusError{code: resp.StatusCode}
	default:
		return nil, false, &statusError{code: resp.StatusCode}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
