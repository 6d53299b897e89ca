package llmprovider

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider wraps the Claude Messages API behind the
// three-method contract. This is the default backend for both the
// extraction and query LLM roles.
type AnthropicProvider struct {
	client    anthropic.Client
	model     anthropic.Model
	timeout   time.Duration
	available bool
}

// NewAnthropicProvider constructs a provider from an API key. An
// empty key yields a provider whose IsAvailable always reports
// false, so callers degrade gracefully without needing a separate
// "configured" check.
func NewAnthropicProvider(apiKey, model string, timeout time.Duration) *AnthropicProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude3_5HaikuLatest
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     m,
		timeout:   timeout,
		available: apiKey != "",
	}
}

// IsAvailable reports whether this provider was constructed with a
// credential. There is no cheap separate health-check endpoint, so
// the presence of a key is the only availability signal before a
// real call is attempted.
func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	return p.available
}

func (p *AnthropicProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(reqCtx, params)
	if err != nil {
		log.Debug("anthropic generate failed", "error", err)
		return "", nil
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

func (p *AnthropicProvider) Close() error { return nil }
