package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEmbedReturnsVectorOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/embeddings":
			json.NewEncoder(w).Encode(embeddingResponse{Embedding: []float32{0.1, 0.2, 0.3}})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "test-model", 3, time.Second)
	vec, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected dim 3, got %d", len(vec))
	}
}

func TestEmbedReturnsNilWhenUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-model", 3, time.Second)
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected no error on unavailability, got %v", err)
	}
	if vec != nil {
		t.Fatalf("expected nil vector when unavailable, got %v", vec)
	}
}

func TestEmbedResetsAvailabilityAfterFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/embeddings":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "test-model", 3, time.Second)
	if _, err := c.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	// A second call should re-probe availability rather than trusting
	// a stale cached "available" from the first /api/tags hit.
	if _, err := c.Embed(context.Background(), "again"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if calls < 4 {
		t.Fatalf("expected availability to be re-probed after failure, got %d total calls", calls)
	}
}
