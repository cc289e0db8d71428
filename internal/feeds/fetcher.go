// Package feeds retrieves and parses the RSS, RDF and Atom documents of
// configured sources.
package feeds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/httpclient"
)

const acceptHeader = "application/rss+xml, application/rdf+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"

// ErrFeedTooLarge is returned when a document exceeds MaxBodyBytes.
var ErrFeedTooLarge = errors.New("feed document too large")

// Config configures a Fetcher.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// RateLimit is the per-host request rate. Zero disables host throttling.
	RateLimit float64
	Retry     httpclient.RetryPolicy
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "research-feed-service/1.0"
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 20 << 20
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = httpclient.RetryPolicy{MaxAttempts: 2, BaseDelay: 2 * time.Second, BackoffMultiplier: 2}
	}
}

// Fetcher downloads feed documents. It is safe for concurrent use.
type Fetcher struct {
	config   Config
	secure   *httpclient.Client
	insecure *httpclient.Client
	hosts    *httpclient.HostLimiter
	logger   zerolog.Logger
}

// NewFetcher creates a Fetcher. Two clients are kept so that sources with
// ignore_tls_verify never share a transport with verified ones.
func NewFetcher(cfg Config, logger zerolog.Logger) *Fetcher {
	cfg.applyDefaults()
	base := httpclient.Config{
		Timeout:   cfg.Timeout,
		RateLimit: 1000,
		BurstSize: 100,
		Retry:     cfg.Retry,
		UserAgent: cfg.UserAgent,
	}
	insecure := base
	insecure.InsecureSkipVerify = true

	return &Fetcher{
		config:   cfg,
		secure:   httpclient.New(base),
		insecure: httpclient.New(insecure),
		hosts:    httpclient.NewHostLimiter(cfg.RateLimit, 1),
		logger:   logger.With().Str("component", "feed_fetcher").Logger(),
	}
}

// Fetch retrieves and parses the feed of src. Every failure is returned as a
// *domain.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, src domain.Source) (*Feed, error) {
	fail := func(status int, cause error) error {
		return &domain.FetchError{Source: src.Name, URL: src.FeedURL, StatusCode: status, Cause: cause}
	}

	u, err := url.Parse(src.FeedURL)
	if err != nil || u.Host == "" {
		return nil, fail(0, fmt.Errorf("invalid feed url: %w", errors.Join(err, domain.ErrInvalidInput)))
	}

	if err := f.hosts.Wait(ctx, u.Host); err != nil {
		return nil, fail(0, err)
	}

	client := f.secure
	if src.IgnoreTLSVerify {
		f.logger.Debug().
			Int64("source_id", src.ID).
			Str("host", u.Host).
			Msg("fetching without TLS certificate verification")
		client = f.insecure
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.FeedURL, nil)
	if err != nil {
		return nil, fail(0, err)
	}
	req.Header.Set("Accept", acceptHeader)

	resp, err := client.Do(req)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			return nil, fail(statusErr.StatusCode, err)
		}
		return nil, fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fail(resp.StatusCode, nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes+1))
	if err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > f.config.MaxBodyBytes {
		return nil, fail(resp.StatusCode, ErrFeedTooLarge)
	}

	// gofeed parsers keep per-document state, so each fetch gets its own.
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("parse feed: %w", err))
	}

	feed := FeedFrom(parsed)
	f.logger.Debug().
		Int64("source_id", src.ID).
		Str("feed_type", feed.FeedType).
		Int("entries", len(feed.Entries)).
		Msg("feed fetched")
	return feed, nil
}
