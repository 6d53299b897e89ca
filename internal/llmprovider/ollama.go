package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kbgraph/kbd/internal/logging"
)

var log = logging.GetLogger("llmprovider")

// OllamaProvider talks to a local Ollama-compatible /api/generate
// endpoint. Used for either the extraction or query LLM role,
// selected purely by configuration.
type OllamaProvider struct {
	baseURL string
	model   string
	timeout time.Duration
	http    *http.Client
}

// NewOllamaProvider constructs a provider against a local backend.
func NewOllamaProvider(baseURL, model string, timeout time.Duration) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:3b"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Generate returns ("", nil) on timeout or transport error per the
// provider contract's graceful-degradation rule.
func (p *OllamaProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaGenerateRequest{Model: p.model, Prompt: prompt, System: system})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		log.Debug("ollama generate failed", "error", err)
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("ollama generate returned non-200", "status", resp.StatusCode)
		return "", nil
	}

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", nil
	}
	return parsed.Response, nil
}

func (p *OllamaProvider) Close() error { return nil }
