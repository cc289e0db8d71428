package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-feed-service/internal/domain"
)

func TestUnpaywallClient_Lookup(t *testing.T) {
	t.Run("open access with location", func(t *testing.T) {
		var gotPath, gotEmail string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotEmail = r.URL.Query().Get("email")
			_, _ = w.Write([]byte(`{"doi":"10.1000/abc","is_oa":true,"best_oa_location":{"url":"https://example.org/abc.pdf"}}`))
		}))
		defer server.Close()

		client := NewUnpaywallClient(server.URL, "ops@example.org", testHTTPClient(1))
		oa, err := client.Lookup(context.Background(), "10.1000/abc")
		require.NoError(t, err)

		assert.Equal(t, "/v2/10.1000/abc", gotPath)
		assert.Equal(t, "ops@example.org", gotEmail)
		assert.True(t, oa.IsOA)
		assert.Equal(t, "https://example.org/abc.pdf", oa.BestOAURL)
	})

	t.Run("closed access", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"doi":"10.1000/abc","is_oa":false,"best_oa_location":null}`))
		}))
		defer server.Close()

		client := NewUnpaywallClient(server.URL, "ops@example.org", testHTTPClient(1))
		oa, err := client.Lookup(context.Background(), "10.1000/abc")
		require.NoError(t, err)
		assert.False(t, oa.IsOA)
		assert.Empty(t, oa.BestOAURL)
	})

	t.Run("requires contact email", func(t *testing.T) {
		client := NewUnpaywallClient("http://127.0.0.1:0", "", testHTTPClient(1))
		_, err := client.Lookup(context.Background(), "10.1000/abc")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer server.Close()

		client := NewUnpaywallClient(server.URL, "ops@example.org", testHTTPClient(1))
		_, err := client.Lookup(context.Background(), "10.1000/abc")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
