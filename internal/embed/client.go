// Package embed turns entry text into fixed-dimension float vectors
// via an external embedder, reachable over HTTP.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kbgraph/kbd/internal/logging"
)

var log = logging.GetLogger("embed")

// availability is tri-state: unknown triggers a fresh probe, known
// values are trusted until a failed embed call resets to unknown.
type availability int

const (
	unknown availability = iota
	available
	unavailable
)

// Client embeds text via a local embedder HTTP endpoint (the same
// request shape Ollama's /api/embeddings exposes). Availability is
// probed lazily on first use; a failed call resets the cache to
// unknown rather than pinning it unavailable, so a later retry
// re-probes instead of giving up permanently.
type Client struct {
	baseURL string
	model   string
	dim     int
	timeout time.Duration
	http    *http.Client

	mu   sync.Mutex
	avail availability
}

// New constructs an embedding client. dim is the configured
// embedding dimension; vectors returned by the backend that do not
// match it are rejected rather than silently truncated or padded.
func New(baseURL, model string, dim int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// IsAvailable probes the backend with a lightweight request the
// first time it's called, then returns the cached result until a
// subsequent Embed call fails and resets the cache.
func (c *Client) IsAvailable(ctx context.Context) bool {
	c.mu.Lock()
	cached := c.avail
	c.mu.Unlock()

	if cached == available {
		return true
	}
	if cached == unavailable {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug("embedder availability probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	c.mu.Lock()
	if ok {
		c.avail = available
	}
	c.mu.Unlock()
	return ok
}

// Embed turns text into a vector, or returns (nil, nil) when the
// embedder is unavailable or the call times out — per contract,
// timeouts and transport errors degrade to "none" rather than
// propagating an error the caller must handle specially.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.IsAvailable(ctx) {
		return nil, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(embeddingRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.resetAvailability()
		log.Debug("embed call failed, resetting availability to unknown", "error", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		c.resetAvailability()
		log.Warn("embed call returned non-200", "status", resp.StatusCode, "body", string(raw))
		return nil, nil
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.resetAvailability()
		return nil, nil
	}

	if len(parsed.Embedding) != c.dim {
		log.Warn("embedder returned unexpected dimension", "got", len(parsed.Embedding), "want", c.dim)
		return nil, fmt.Errorf("embedder returned dimension %d, want %d", len(parsed.Embedding), c.dim)
	}

	return parsed.Embedding, nil
}

func (c *Client) resetAvailability() {
	c.mu.Lock()
	c.avail = unknown
	c.mu.Unlock()
}
