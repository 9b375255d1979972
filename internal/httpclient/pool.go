// Package httpclient provides a concurrency-limited, retrying HTTP
// client used by venue REST calls and the REST Poller. Retries use
// jittered exponential backoff and stop after MaxRetries.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Config tunes a client pool's concurrency and retry behavior.
type Config struct {
	MaxConcurrency int
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	UserAgent      string
}

// DefaultConfig matches spec.md §5's 30s REST deadline with a modest
// retry budget for transient failures.
func DefaultConfig(userAgent string) Config {
	return Config{
		MaxConcurrency: 8,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		BackoffBase:    200 * time.Millisecond,
		BackoffMax:     5 * time.Second,
		UserAgent:      userAgent,
	}
}

// RateLimitedError is returned when a venue responds 429/418, so callers
// can trigger the adaptive backoff spec.md §4.1 describes. RetryAfter
// is the advised delay if the venue supplied one, else zero.
type RateLimitedError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("venue rate limit: status=%d retry_after=%s", e.StatusCode, e.RetryAfter)
}

// Pool is a semaphore-bounded *http.Client wrapper with retry/backoff.
type Pool struct {
	config    Config
	semaphore chan struct{}
	client    *http.Client
}

// NewPool creates a client pool from config.
func NewPool(config Config) *Pool {
	return &Pool{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		client:    &http.Client{Timeout: config.RequestTimeout},
	}
}

// Do executes req, retrying on transient network errors and 5xx
// responses with jittered backoff. A 429/418 response is returned
// immediately as a *RateLimitedError without consuming a retry, since
// the caller (token bucket / budget tracker) owns that policy.
func (p *Pool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.backoffFor(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Int("attempt", attempt).Str("url", req.URL.String()).
				Msg("http request failed, retrying")
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, &RateLimitedError{StatusCode: resp.StatusCode, RetryAfter: retryAfter}
		}

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

func (p *Pool) backoffFor(attempt int) time.Duration {
	d := p.config.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if d > p.config.BackoffMax {
		d = p.config.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4 + 1))
	return d + jitter
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return 0
}
