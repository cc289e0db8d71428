package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Config configures a Client.
type Config struct {
	// Timeout bounds a single attempt. Zero means 30s.
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Zero means 10.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// Retry is the retry policy. A zero policy uses DefaultRetryPolicy.
	Retry RetryPolicy

	// UserAgent is sent when the request has none.
	UserAgent string

	// InsecureSkipVerify disables TLS certificate validation.
	InsecureSkipVerify bool

	// Transport overrides the round tripper, mainly for tests.
	Transport http.RoundTripper
}

// StatusError is returned when every attempt ended in a retryable status.
type StatusError struct {
	StatusCode int
	Attempts   int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("max attempts exhausted after %d attempts, last status: %d", e.Attempts, e.StatusCode)
}

// Client wraps http.Client with rate limiting and retries.
// It is safe for concurrent use.
type Client struct {
	client      *http.Client
	rateLimiter *RateLimiter
	policy      RetryPolicy
	userAgent   string
}

// New creates a Client. It retries network errors, 429 (Too Many Requests)
// and 5xx responses according to the retry policy.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 10
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "research-feed-service/1.0"
	}

	transport := cfg.Transport
	if transport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureSkipVerify {
			base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per source
		}
		transport = base
	}

	return &Client{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		policy:      cfg.Retry.withDefaults(),
		userAgent:   cfg.UserAgent,
	}
}

// Policy returns the effective retry policy.
func (c *Client) Policy() RetryPolicy {
	return c.policy
}

// Do executes req with rate limiting and retries. Context cancellation is
// never retried. Callers must set GetBody on requests whose body needs to
// be resent.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == c.policy.MaxAttempts {
				break
			}
			if err := c.waitForRetry(req, c.policy.Delay(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if !shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		delay := c.retryDelay(resp, attempt)
		drain(resp)
		if attempt == c.policy.MaxAttempts {
			return nil, &StatusError{StatusCode: resp.StatusCode, Attempts: attempt}
		}
		lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
		if err := c.waitForRetry(req, delay); err != nil {
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

func shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// retryDelay honours Retry-After (seconds or HTTP date) and otherwise uses
// the policy backoff.
func (c *Client) retryDelay(resp *http.Response, attempt int) time.Duration {
	fallback := c.policy.Delay(attempt)
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return fallback
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return fallback
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}
	return fallback
}

func (c *Client) waitForRetry(req *http.Request, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
	}

	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("cannot retry request: %w", err)
	}
	req.Body = body
	return nil
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
