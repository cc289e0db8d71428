package enrichment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/httpclient"
)

type fakeRecorder struct {
	mu        sync.Mutex
	calls     map[string]string
	cacheHits int
}

func (r *fakeRecorder) RecordEnrichment(service, status string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]string{}
	}
	r.calls[service] = status
}

func (r *fakeRecorder) RecordEnrichmentCacheHit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheHits++
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*Result
}

func (c *memoryCache) Get(_ context.Context, doi string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[doi], nil
}

func (c *memoryCache) Set(_ context.Context, doi string, res *Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]*Result{}
	}
	c.entries[doi] = res
	return nil
}

type enrichFixture struct {
	crossrefHits  atomic.Int32
	unpaywallHits atomic.Int32
	crossref      http.HandlerFunc
	unpaywall     http.HandlerFunc
}

func (f *enrichFixture) client(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	crossref := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.crossrefHits.Add(1)
		f.crossref(w, r)
	}))
	t.Cleanup(crossref.Close)
	unpaywall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.unpaywallHits.Add(1)
		f.unpaywall(w, r)
	}))
	t.Cleanup(unpaywall.Close)

	cfg.CrossrefBaseURL = crossref.URL
	cfg.UnpaywallBaseURL = unpaywall.URL
	if cfg.ContactEmail == "" {
		cfg.ContactEmail = "ops@example.org"
	}
	return NewWithHTTPClients(cfg, testHTTPClient(2), testHTTPClient(2), zerolog.Nop(), opts...)
}

func okCrossref(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(crossrefWorkJSON))
}

func okUnpaywall(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`{"is_oa":true,"best_oa_location":{"url":"https://example.org/a.pdf"}}`))
}

func failing(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }
}

func TestClient_Enrich(t *testing.T) {
	ctx := context.Background()

	t.Run("both lookups succeed", func(t *testing.T) {
		rec := &fakeRecorder{}
		cache := &memoryCache{}
		f := &enrichFixture{crossref: okCrossref, unpaywall: okUnpaywall}
		client := f.client(t, Config{}, WithRecorder(rec), WithCache(cache))
		fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		client.now = func() time.Time { return fixed }

		res, err := client.Enrich(ctx, "https://doi.org/10.1000/xyz123")
		require.NoError(t, err)
		require.True(t, res.Complete())
		assert.Equal(t, "10.1000/xyz123", res.DOI)
		assert.Equal(t, "Journal of Things", res.Work.Journal)
		assert.Equal(t, domain.AccessOpen, res.Access())
		require.NotNil(t, res.CheckedAt)
		assert.Equal(t, fixed, *res.CheckedAt)

		assert.Equal(t, "success", rec.calls[serviceCrossref])
		assert.Equal(t, "success", rec.calls[serviceUnpaywall])
		assert.NotNil(t, cache.entries["10.1000/xyz123"])
	})

	t.Run("cached result skips both services", func(t *testing.T) {
		rec := &fakeRecorder{}
		cache := &memoryCache{entries: map[string]*Result{
			"10.1000/cached": {DOI: "10.1000/cached", Work: &Work{Title: "From cache"}, OpenAccess: &OpenAccess{}},
		}}
		f := &enrichFixture{crossref: okCrossref, unpaywall: okUnpaywall}
		client := f.client(t, Config{}, WithRecorder(rec), WithCache(cache))

		res, err := client.Enrich(ctx, "10.1000/cached")
		require.NoError(t, err)
		assert.Equal(t, "From cache", res.Work.Title)
		assert.Zero(t, f.crossrefHits.Load())
		assert.Zero(t, f.unpaywallHits.Load())
		assert.Equal(t, 1, rec.cacheHits)
	})

	t.Run("unpaywall failure keeps crossref data", func(t *testing.T) {
		cache := &memoryCache{}
		f := &enrichFixture{crossref: okCrossref, unpaywall: failing(http.StatusServiceUnavailable)}
		client := f.client(t, Config{}, WithCache(cache))

		res, err := client.Enrich(ctx, "10.1000/xyz123")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrEnrichment)

		var enrichErr *domain.EnrichmentError
		require.ErrorAs(t, err, &enrichErr)
		assert.Equal(t, serviceUnpaywall, enrichErr.Service)

		require.NotNil(t, res.Work)
		assert.Nil(t, res.OpenAccess)
		assert.Equal(t, domain.AccessUnknown, res.Access())
		assert.NotNil(t, res.CheckedAt)
		assert.Empty(t, cache.entries, "partial results are not cached")
		assert.Equal(t, int32(2), f.unpaywallHits.Load(), "5xx is retried")
	})

	t.Run("crossref failure keeps unpaywall data", func(t *testing.T) {
		f := &enrichFixture{crossref: failing(http.StatusNotFound), unpaywall: okUnpaywall}
		client := f.client(t, Config{})

		res, err := client.Enrich(ctx, "10.1000/xyz123")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Nil(t, res.Work)
		assert.Nil(t, res.CheckedAt)
		require.NotNil(t, res.OpenAccess)
		assert.Equal(t, int32(1), f.crossrefHits.Load(), "404 is not retried")
	})

	t.Run("both fail", func(t *testing.T) {
		f := &enrichFixture{crossref: failing(http.StatusInternalServerError), unpaywall: failing(http.StatusBadGateway)}
		client := f.client(t, Config{})

		res, err := client.Enrich(ctx, "10.1000/xyz123")
		require.Error(t, err)
		require.NotNil(t, res)
		assert.False(t, res.Complete())

		var statusErr *httpclient.StatusError
		assert.ErrorAs(t, err, &statusErr)
	})

	t.Run("invalid DOI", func(t *testing.T) {
		f := &enrichFixture{crossref: okCrossref, unpaywall: okUnpaywall}
		client := f.client(t, Config{})

		_, err := client.Enrich(ctx, "not-a-doi")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Zero(t, f.crossrefHits.Load())
	})

	t.Run("slow service is bounded by call timeout", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		f := &enrichFixture{
			crossref: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-release:
				case <-r.Context().Done():
				}
			},
			unpaywall: okUnpaywall,
		}
		client := f.client(t, Config{})
		client.budget = 50 * time.Millisecond

		start := time.Now()
		res, err := client.Enrich(ctx, "10.1000/xyz123")
		require.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Nil(t, res.Work)
		assert.NotNil(t, res.OpenAccess)
	})

	t.Run("cancelled context aborts lookups", func(t *testing.T) {
		f := &enrichFixture{crossref: okCrossref, unpaywall: okUnpaywall}
		client := f.client(t, Config{})

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := client.Enrich(cctx, "10.1000/xyz123")
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestConfig_UserAgent(t *testing.T) {
	cfg := Config{AppName: "feedingest", ContactEmail: "ops@example.org"}
	assert.Equal(t, "feedingest/1.0 (mailto:ops@example.org)", cfg.userAgent())

	cfg = Config{AppName: "feedingest"}
	assert.Equal(t, "feedingest/1.0", cfg.userAgent())
}

func TestLookupBudget(t *testing.T) {
	p := httpclient.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, BackoffMultiplier: 2, MaxDelay: time.Minute}
	// 3 calls of 10s plus backoff of 1s and 2s.
	assert.Equal(t, 33*time.Second, lookupBudget(10*time.Second, p))
}
