package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/httpclient"
)

// UnpaywallClient looks up the open-access status of a DOI.
type UnpaywallClient struct {
	baseURL string
	email   string
	http    *httpclient.Client
}

// NewUnpaywallClient creates an Unpaywall client. Unpaywall rejects
// requests without a contact email.
func NewUnpaywallClient(baseURL, email string, hc *httpclient.Client) *UnpaywallClient {
	if baseURL == "" {
		baseURL = DefaultUnpaywallBaseURL
	}
	return &UnpaywallClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   email,
		http:    hc,
	}
}

// Lookup returns the open-access status of doi.
func (c *UnpaywallClient) Lookup(ctx context.Context, doi string) (*OpenAccess, error) {
	if c.email == "" {
		return nil, fmt.Errorf("unpaywall: %w", errors.Join(domain.ErrInvalidInput, errors.New("contact email required")))
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse unpaywall base url: %w", err)
	}
	u = u.JoinPath("v2", doi)
	q := u.Query()
	q.Set("email", c.email)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NewNotFoundError("unpaywall record", doi)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, domain.NewExternalAPIError("Unpaywall", resp.StatusCode, string(body), nil)
	}

	var payload unpaywallResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	oa := &OpenAccess{IsOA: payload.IsOA}
	if payload.BestOALocation != nil {
		oa.BestOAURL = payload.BestOALocation.URL
	}
	return oa, nil
}
