package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: 5 * time.Millisecond, BackoffMultiplier: 2}
}

func TestNew(t *testing.T) {
	t.Run("applies default values", func(t *testing.T) {
		client := New(Config{})

		require.NotNil(t, client)
		assert.Equal(t, 30*time.Second, client.client.Timeout)
		assert.Equal(t, "research-feed-service/1.0", client.userAgent)
		assert.Equal(t, DefaultRetryPolicy().MaxAttempts, client.Policy().MaxAttempts)
	})

	t.Run("insecure transport skips verification", func(t *testing.T) {
		client := New(Config{InsecureSkipVerify: true})

		tr, ok := client.client.Transport.(*http.Transport)
		require.True(t, ok)
		require.NotNil(t, tr.TLSClientConfig)
		assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
	})
}

func TestClient_Do(t *testing.T) {
	t.Run("sets User-Agent", func(t *testing.T) {
		var received string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received = r.Header.Get("User-Agent")
			_, _ = w.Write([]byte("ok"))
		}))
		defer server.Close()

		client := New(Config{UserAgent: "TestAgent/2.0", RateLimit: 100})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(body))
		assert.Equal(t, "TestAgent/2.0", received)
	})

	t.Run("retries on 503 and succeeds", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if count.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := New(Config{RateLimit: 100, Retry: fastPolicy(3)})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(3), count.Load())
	})

	t.Run("exhausts attempts on 429", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count.Add(1)
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := New(Config{RateLimit: 100, Retry: fastPolicy(2)})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.Error(t, err)
		assert.Nil(t, resp)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
		assert.Equal(t, 2, statusErr.Attempts)
		assert.Equal(t, int32(2), count.Load())
	})

	t.Run("does not retry 404", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := New(Config{RateLimit: 100, Retry: fastPolicy(3)})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, int32(1), count.Load())
	})

	t.Run("retries network errors", func(t *testing.T) {
		var count atomic.Int32
		failing := roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if count.Add(1) < 2 {
				return nil, errors.New("connection reset by peer")
			}
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("ok")),
				Header:     make(http.Header),
			}, nil
		})

		client := New(Config{RateLimit: 100, Retry: fastPolicy(3), Transport: failing})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://example.invalid", nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, int32(2), count.Load())
	})

	t.Run("returns last network error", func(t *testing.T) {
		failing := roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("no route to host")
		})

		client := New(Config{RateLimit: 100, Retry: fastPolicy(2), Transport: failing})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://example.invalid", nil)
		require.NoError(t, err)

		_, err = client.Do(req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no route to host")
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := New(Config{RateLimit: 100, Retry: RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second}})
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = client.Do(req)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
