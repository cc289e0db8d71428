// Package enrichment augments article candidates with Crossref bibliographic
// metadata and Unpaywall open-access status.
//
// Enrichment is best-effort: every lookup has its own deadline and retry
// policy, and a failed lookup only means the caller keeps the values it
// already has.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/httpclient"
	"github.com/helixir/research-feed-service/internal/identifiers"
)

// Config configures a Client. It is built once at startup and passed in.
type Config struct {
	// ContactEmail identifies the caller to both services.
	ContactEmail string
	// AppName is used in the User-Agent header.
	AppName string

	CrossrefBaseURL   string
	CrossrefPlusToken string
	UnpaywallBaseURL  string

	// CallTimeout bounds a single HTTP attempt.
	CallTimeout time.Duration
	// RateLimit is requests per second, per service.
	RateLimit float64
	Retry     httpclient.RetryPolicy
}

func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = "research-feed-service"
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = httpclient.DefaultRetryPolicy()
	}
}

// userAgent follows Crossref's polite pool convention.
func (c *Config) userAgent() string {
	if c.ContactEmail == "" {
		return c.AppName + "/1.0"
	}
	return fmt.Sprintf("%s/1.0 (mailto:%s)", c.AppName, c.ContactEmail)
}

// Recorder receives enrichment measurements. *observability.Metrics
// implements it.
type Recorder interface {
	RecordEnrichment(service, status string, seconds float64)
	RecordEnrichmentCacheHit()
}

type noopRecorder struct{}

func (noopRecorder) RecordEnrichment(string, string, float64) {}
func (noopRecorder) RecordEnrichmentCacheHit()                {}

// Enricher is what the pipeline depends on.
type Enricher interface {
	Enrich(ctx context.Context, doi string) (*Result, error)
}

// Client runs the Crossref and Unpaywall lookups for a DOI.
type Client struct {
	crossref  *CrossrefClient
	unpaywall *UnpaywallClient
	cache     Cache
	recorder  Recorder
	logger    zerolog.Logger
	budget    time.Duration
	now       func() time.Time
}

var _ Enricher = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithCache sets the result cache.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// New creates a Client with one rate-limited, retrying HTTP client per service.
func New(cfg Config, logger zerolog.Logger, opts ...Option) *Client {
	cfg.applyDefaults()
	httpCfg := httpclient.Config{
		Timeout:   cfg.CallTimeout,
		RateLimit: cfg.RateLimit,
		BurstSize: max(1, int(cfg.RateLimit)),
		Retry:     cfg.Retry,
		UserAgent: cfg.userAgent(),
	}
	return NewWithHTTPClients(cfg, httpclient.New(httpCfg), httpclient.New(httpCfg), logger, opts...)
}

// NewWithHTTPClients creates a Client on caller-supplied HTTP clients.
// This is useful for testing with mock servers.
func NewWithHTTPClients(cfg Config, crossrefHTTP, unpaywallHTTP *httpclient.Client, logger zerolog.Logger, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		crossref:  NewCrossrefClient(cfg.CrossrefBaseURL, cfg.ContactEmail, cfg.CrossrefPlusToken, crossrefHTTP),
		unpaywall: NewUnpaywallClient(cfg.UnpaywallBaseURL, cfg.ContactEmail, unpaywallHTTP),
		cache:     NoopCache{},
		recorder:  noopRecorder{},
		logger:    logger.With().Str("component", "enrichment").Logger(),
		budget:    lookupBudget(cfg.CallTimeout, crossrefHTTP.Policy()),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lookupBudget is the deadline of one lookup including its retries.
func lookupBudget(callTimeout time.Duration, p httpclient.RetryPolicy) time.Duration {
	budget := callTimeout * time.Duration(p.MaxAttempts)
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		budget += p.Delay(attempt)
	}
	return budget
}

// Enrich looks doi up in both services independently. The returned Result
// is never nil; when a lookup failed its part is missing and the error is a
// *domain.EnrichmentError (two of them joined when both failed).
func (c *Client) Enrich(ctx context.Context, doi string) (*Result, error) {
	doi = identifiers.NormalizeDOI(doi)
	res := &Result{DOI: doi}
	if doi == "" {
		return res, &domain.EnrichmentError{Service: serviceCrossref, DOI: doi, Cause: domain.ErrInvalidInput}
	}
	if cancelled(ctx) {
		return res, fmt.Errorf("enrich %s: %w", doi, context.Canceled)
	}

	if cached, err := c.cache.Get(ctx, doi); err != nil {
		c.logger.Warn().Err(err).Str("doi", doi).Msg("enrichment cache read failed")
	} else if cached != nil {
		c.recorder.RecordEnrichmentCacheHit()
		return cached, nil
	}

	type outcome struct {
		work *Work
		oa   *OpenAccess
		err  error
	}
	crossrefDone := make(chan outcome, 1)
	unpaywallDone := make(chan outcome, 1)

	go func() {
		work, err := lookup(ctx, c, serviceCrossref, doi, c.crossref.Work)
		crossrefDone <- outcome{work: work, err: err}
	}()
	go func() {
		oa, err := lookup(ctx, c, serviceUnpaywall, doi, c.unpaywall.Lookup)
		unpaywallDone <- outcome{oa: oa, err: err}
	}()

	cr, up := <-crossrefDone, <-unpaywallDone

	var errs []error
	if cr.err != nil {
		errs = append(errs, &domain.EnrichmentError{Service: serviceCrossref, DOI: doi, Cause: cr.err})
	} else {
		res.Work = cr.work
		checked := c.now().UTC()
		res.CheckedAt = &checked
	}
	if up.err != nil {
		errs = append(errs, &domain.EnrichmentError{Service: serviceUnpaywall, DOI: doi, Cause: up.err})
	} else {
		res.OpenAccess = up.oa
	}

	if res.Complete() {
		if err := c.cache.Set(ctx, doi, res); err != nil {
			c.logger.Warn().Err(err).Str("doi", doi).Msg("enrichment cache write failed")
		}
	}
	return res, errors.Join(errs...)
}

// lookup runs fn under its own deadline, detached from any run deadline on
// ctx but still cancelled when ctx is cancelled outright.
func lookup[T any](ctx context.Context, c *Client, service, doi string, fn func(context.Context, string) (*T, error)) (*T, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.budget)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		if cancelled(ctx) {
			cancel()
		}
	})
	defer stop()

	start := time.Now()
	v, err := fn(callCtx, doi)
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	c.recorder.RecordEnrichment(service, status, time.Since(start).Seconds())
	return v, err
}

// cancelled distinguishes an explicit cancellation from an expired deadline.
func cancelled(ctx context.Context) bool {
	return ctx.Err() != nil && errors.Is(context.Cause(ctx), context.Canceled)
}
