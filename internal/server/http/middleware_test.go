package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func TestCorrelationIDMiddleware_UsesHeader(t *testing.T) {
	var captured string

	r := chi.NewRouter()
	r.Use(correlationIDMiddleware)
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		captured = correlationIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if captured != "abc-123" {
		t.Errorf("expected correlation id abc-123, got %q", captured)
	}
	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("expected response header abc-123, got %q", got)
	}
}

func TestCorrelationIDMiddleware_FallsBackToRequestID(t *testing.T) {
	var captured, reqID string

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(correlationIDMiddleware)
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		captured = correlationIDFromContext(r.Context())
		reqID = middleware.GetReqID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if captured == "" || captured != reqID {
		t.Errorf("expected correlation id %q, got %q", reqID, captured)
	}
}

func TestCorrelationIDMiddleware_GeneratesID(t *testing.T) {
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if got := rr.Header().Get("X-Correlation-ID"); len(got) != 16 {
		t.Errorf("expected a 16 character generated id, got %q", got)
	}
}

func TestRequestLogMiddleware_PassesThrough(t *testing.T) {
	handler := requestLogMiddleware(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if rr.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rr.Code)
	}
}
