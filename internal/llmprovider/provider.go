// Package llmprovider defines the abstract LLM generator contract
// consumed by the graph enricher and the query planner, plus two
// concrete backends.
package llmprovider

import "context"

// Provider is the three-method contract every backend implements.
// Generate returns ("", nil) — not an error — when the backend is
// unavailable or the call fails; callers on the degradation path
// treat an empty string as "none".
type Provider interface {
	IsAvailable(ctx context.Context) bool
	Generate(ctx context.Context, prompt, system string) (string, error)
	Close() error
}
