package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/httpclient"
	"github.com/helixir/research-feed-service/internal/identifiers"
	"github.com/helixir/research-feed-service/internal/sanitize"
)

const (
	// DefaultCrossrefBaseURL is the Crossref REST API.
	DefaultCrossrefBaseURL = "https://api.crossref.org"

	// DefaultUnpaywallBaseURL is the Unpaywall API.
	DefaultUnpaywallBaseURL = "https://api.unpaywall.org"

	serviceCrossref  = "crossref"
	serviceUnpaywall = "unpaywall"
)

// CrossrefClient looks up works by DOI.
type CrossrefClient struct {
	baseURL   string
	email     string
	plusToken string
	http      *httpclient.Client
}

// NewCrossrefClient creates a Crossref client using the given HTTP client.
func NewCrossrefClient(baseURL, email, plusToken string, hc *httpclient.Client) *CrossrefClient {
	if baseURL == "" {
		baseURL = DefaultCrossrefBaseURL
	}
	return &CrossrefClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		email:     email,
		plusToken: plusToken,
		http:      hc,
	}
}

// Work fetches the work registered under doi. An unregistered DOI yields a
// *domain.NotFoundError.
func (c *CrossrefClient) Work(ctx context.Context, doi string) (*Work, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse crossref base url: %w", err)
	}
	u = u.JoinPath("works", doi)
	if c.email != "" {
		q := u.Query()
		q.Set("mailto", c.email)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.plusToken != "" {
		req.Header.Set("Crossref-Plus-API-Token", "Bearer "+c.plusToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NewNotFoundError("crossref work", doi)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, domain.NewExternalAPIError("Crossref", resp.StatusCode, string(body), nil)
	}

	var payload crossrefResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return workFromResponse(doi, &payload), nil
}

func workFromResponse(doi string, payload *crossrefResponse) *Work {
	msg := &payload.Message
	work := &Work{
		DOI:       doi,
		Title:     strings.Join(strings.Fields(first(msg.Title)), " "),
		Abstract:  sanitize.Summary(msg.Abstract),
		Journal:   first(msg.ContainerTitle),
		Publisher: strings.TrimSpace(msg.Publisher),
		Issued:    issuedDate(msg.Issued.DateParts),
	}
	if d := identifiers.NormalizeDOI(msg.DOI); d != "" {
		work.DOI = d
	}

	for _, a := range msg.Author {
		author := domain.Author{
			GivenName:  strings.TrimSpace(a.Given),
			FamilyName: strings.TrimSpace(a.Family),
			ORCID:      identifiers.NormalizeORCID(a.ORCID),
		}
		if author.GivenName == "" && author.FamilyName == "" && author.ORCID == "" {
			continue
		}
		work.Authors = append(work.Authors, author)
	}
	return work
}

// issuedDate reads Crossref date-parts, where month and day may be missing.
func issuedDate(parts [][]*int) *time.Time {
	if len(parts) == 0 || len(parts[0]) == 0 || parts[0][0] == nil {
		return nil
	}
	p := parts[0]
	year, month, day := *p[0], 1, 1
	if len(p) > 1 && p[1] != nil {
		month = *p[1]
	}
	if len(p) > 2 && p[2] != nil {
		day = *p[2]
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
