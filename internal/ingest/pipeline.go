// Package ingest implements the file ingestion pipeline: size and
// idempotency checks, best-effort secret redaction, LLM
// summarization with a deterministic fallback, paragraph-bounded
// chunking, and the graph linking that ties ingested chunks back to
// their source file.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbgraph/kbd/internal/enrich"
	"github.com/kbgraph/kbd/internal/graphbuild"
	"github.com/kbgraph/kbd/internal/llmprovider"
	"github.com/kbgraph/kbd/internal/logging"
	"github.com/kbgraph/kbd/internal/store"
)

var log = logging.GetLogger("ingest")

// DefaultChunkSize is the target chunk length in characters.
const DefaultChunkSize = 4000

// DefaultMaxFileSize bounds how large a file this pipeline will read.
const DefaultMaxFileSize = 10 * 1024 * 1024

const summarizationSystemPrompt = `You summarize a file's contents into 1-3 sentences for a knowledge base entry. Respond with only the summary text, no preamble.`

// Pipeline wires the store, graph builder, optional enricher, and
// optional LLM provider into a single file-ingestion entrypoint.
type Pipeline struct {
	store     *store.Store
	builder   *graphbuild.Builder
	enricher  *enrich.Enricher
	llm       llmprovider.Provider
	chunkSize int
	maxSize   int64
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) { p.chunkSize = n }
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int64) Option {
	return func(p *Pipeline) { p.maxSize = n }
}

// New constructs a Pipeline. llm may be nil, in which case summaries
// always fall back to the file's basename.
func New(s *store.Store, builder *graphbuild.Builder, enricher *enrich.Enricher, llm llmprovider.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     s,
		builder:   builder,
		enricher:  enricher,
		llm:       llm,
		chunkSize: DefaultChunkSize,
		maxSize:   DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result describes what ingesting one file produced.
type Result struct {
	Skipped    bool // unchanged since last ingestion (sha256 match)
	EntryIDs   []string
	NoteNodeID string
	Redactions int
}

// IngestFile reads path, checks it against the last-recorded sha256
// for idempotency, redacts likely secrets, summarizes (or falls back
// to the basename), chunks the body, and stores one entry per chunk
// linked to a note:<relative-path> node via extracted_from edges.
func (p *Pipeline) IngestFile(ctx context.Context, path, projectRef string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > p.maxSize {
		return nil, &store.ValidationError{Field: "file_size", Reason: fmt.Sprintf("%d exceeds max of %d bytes", info.Size(), p.maxSize)}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	if existing, err := p.store.GetIngestedFile(abs); err == nil && existing != nil && existing.SHA256 == hash {
		return &Result{Skipped: true, EntryIDs: existing.EntryIDs, NoteNodeID: existing.NoteNodeID}, nil
	}

	redactedText, redactions := redact(string(raw))

	summary := p.summarize(ctx, abs, redactedText)
	chunks := chunk(redactedText, p.chunkSize)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	noteNodeID := "note:" + filepath.ToSlash(relativeOrAbs(abs))
	if err := p.store.UpsertNode(noteNodeID, "note", map[string]interface{}{
		"absolute_path": abs,
		"summary":       summary,
	}); err != nil {
		return nil, fmt.Errorf("upsert note node: %w", err)
	}

	entryIDs := make([]string, 0, len(chunks))
	var entries []*store.Entry
	for i, body := range chunks {
		hints := map[string]interface{}{}
		if len(chunks) > 1 {
			hints["chunk_index"] = i
			hints["chunk_count"] = len(chunks)
		}
		shortTitle := summary
		if len(chunks) > 1 {
			shortTitle = fmt.Sprintf("%s (part %d/%d)", summary, i+1, len(chunks))
		}

		e, err := p.store.CreateEntry(store.CreateFields{
			ShortTitle: truncate(shortTitle, 200),
			LongTitle:  truncate(summary, 400),
			Details:    body,
			EntryType:  "factual_reference",
			ProjectRef: projectRef,
			Hints:      hints,
		})
		if err != nil {
			return nil, fmt.Errorf("store chunk %d of %s: %w", i, abs, err)
		}
		entries = append(entries, e)
		entryIDs = append(entryIDs, e.ID)
	}

	// Sibling chunks reference each other so the ranker's sparse-hint
	// pass can surface adjacent parts of the same file. Persisted via
	// UpdateEntry so the hints survive a reload, not just this call.
	if len(entries) > 1 {
		for i, e := range entries {
			var siblings []string
			for _, other := range entries {
				if other.ID != e.ID {
					siblings = append(siblings, other.ID)
				}
			}
			newHints := map[string]interface{}{}
			for k, v := range e.Hints {
				newHints[k] = v
			}
			newHints["related_entities"] = siblings
			newHints["related_entities_type"] = "part_of_same_file"

			updated, err := p.store.UpdateEntry(e.ID, store.UpdatePatch{Hints: newHints}, "Linked sibling chunks")
			if err != nil {
				return nil, fmt.Errorf("link sibling chunks for %s: %w", e.ID, err)
			}
			entries[i] = updated
		}
	}

	for _, e := range entries {
		if err := p.builder.Rebuild(e); err != nil {
			return nil, fmt.Errorf("rebuild graph for %s: %w", e.ID, err)
		}
		if err := p.store.InsertEdge(e.ID, noteNodeID, "extracted_from", nil); err != nil {
			return nil, fmt.Errorf("insert extracted_from edge for %s: %w", e.ID, err)
		}
		if p.enricher != nil {
			p.enricher.Enrich(ctx, e)
		}
	}

	if err := p.store.RecordIngestedFile(&store.IngestedFile{
		AbsolutePath: abs,
		SHA256:       hash,
		NoteNodeID:   noteNodeID,
		EntryIDs:     entryIDs,
		Summary:      summary,
		Size:         info.Size(),
		Extension:    filepath.Ext(abs),
		ProjectRef:   projectRef,
		Redactions:   redactions,
	}); err != nil {
		return nil, fmt.Errorf("record ingested file: %w", err)
	}

	return &Result{EntryIDs: entryIDs, NoteNodeID: noteNodeID, Redactions: len(redactions)}, nil
}

func (p *Pipeline) summarize(ctx context.Context, path, text string) string {
	if p.llm == nil || !p.llm.IsAvailable(ctx) {
		return filepath.Base(path)
	}

	prompt := fmt.Sprintf("File: %s\n\n%s", filepath.Base(path), truncate(text, 8000))
	summary, err := p.llm.Generate(ctx, prompt, summarizationSystemPrompt)
	if err != nil {
		log.Warn("summarization failed, falling back to basename", "path", path, "error", err)
		return filepath.Base(path)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return filepath.Base(path)
	}
	return summary
}

// chunk splits text into pieces of roughly size characters, preferring
// to break on a paragraph boundary (blank line) near the target size
// rather than mid-sentence.
func chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(text) <= size {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > size {
		cut := size
		if idx := strings.LastIndex(remaining[:size], "\n\n"); idx > size/2 {
			cut = idx
		}
		piece := strings.TrimSpace(remaining[:cut])
		if piece != "" {
			chunks = append(chunks, piece)
		}
		remaining = remaining[cut:]
	}
	if piece := strings.TrimSpace(remaining); piece != "" {
		chunks = append(chunks, piece)
	}
	return chunks
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func relativeOrAbs(abs string) string {
	wd, err := os.Getwd()
	if err != nil {
		return abs
	}
	rel, err := filepath.Rel(wd, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return rel
}
