// Package enrich implements the LLM graph enrichment layer: entity
// extraction, fuzzy deduplication against the existing graph
// vocabulary, and idempotent re-enrichment that only touches edges
// it owns.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/kbgraph/kbd/internal/llmprovider"
	"github.com/kbgraph/kbd/internal/logging"
	"github.com/kbgraph/kbd/internal/store"
)

var log = logging.GetLogger("enrich")

// SimilarityThreshold is the tuned entity-resolution cutoff: any
// existing vocabulary entry at or above this similarity is reused
// instead of creating a new node. Exposed as a field on Enricher so
// configuration can override it.
const DefaultSimilarityThreshold = 0.85

// MaxExtractedEntities bounds how many entities the LLM may return
// per entry.
const MaxExtractedEntities = 8

var validEntityTypes = map[string]bool{
	"person": true, "tool": true, "concept": true, "technology": true,
}

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)
var codeFencePattern = regexp.MustCompile("```(?:json)?\\s*(.*?)\\s*```")

// extractedEntity is one item the LLM returns.
type extractedEntity struct {
	Name         string `json:"name"`
	EntityType   string `json:"entity_type"`
	Relationship string `json:"relationship"`
}

// Enricher runs the LLM entity-extraction step and writes the
// resulting edges, each marked {"source":"llm"}.
type Enricher struct {
	store     *store.Store
	llm       llmprovider.Provider
	threshold float64

	vocab map[string][]string // node_type -> list of ids, name is the suffix after "type:"
}

// New constructs an Enricher. threshold <= 0 falls back to
// DefaultSimilarityThreshold.
func New(s *store.Store, llm llmprovider.Provider, threshold float64) *Enricher {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Enricher{store: s, llm: llm, threshold: threshold}
}

// loadVocabulary loads all non-entry node ids grouped by type, once
// per enrichment call, and caches it in-memory for the duration of
// that call — never shared across concurrent enrichments.
func (en *Enricher) loadVocabulary() error {
	en.vocab = map[string][]string{}
	for _, nodeType := range []string{"tag", "project", "person", "tool", "concept", "technology", "note"} {
		nodes, err := en.store.NodesByType(nodeType)
		if err != nil {
			return fmt.Errorf("load vocabulary for %s: %w", nodeType, err)
		}
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = n.NodeID
		}
		en.vocab[nodeType] = ids
	}
	return nil
}

// Enrich enriches a single entry. Enrichment errors are logged and
// swallowed — the entry is already stored and searchable regardless
// of enrichment outcome.
func (en *Enricher) Enrich(ctx context.Context, e *store.Entry) {
	if en.llm == nil || !en.llm.IsAvailable(ctx) {
		return
	}

	if err := en.loadVocabulary(); err != nil {
		log.Warn("failed to load graph vocabulary, skipping enrichment", "entry", e.ID, "error", err)
		return
	}

	entities, err := en.extract(ctx, e)
	if err != nil {
		log.Warn("entity extraction failed", "entry", e.ID, "error", err)
		return
	}
	if len(entities) == 0 {
		return
	}

	if err := en.store.ClearOutgoingEdges(e.ID, true); err != nil {
		log.Warn("failed to clear prior llm edges", "entry", e.ID, "error", err)
		return
	}

	if err := en.store.UpsertNode(e.ID, "entry", map[string]interface{}{
		"short_title": e.ShortTitle,
		"entry_type":  e.EntryType,
	}); err != nil {
		log.Warn("failed to ensure entry node before llm edges", "entry", e.ID, "error", err)
		return
	}

	for _, ent := range entities {
		nodeID, err := en.resolveOrCreate(ent)
		if err != nil {
			log.Warn("failed to resolve/create entity node", "entry", e.ID, "entity", ent.Name, "error", err)
			continue
		}
		if err := en.store.InsertEdge(e.ID, nodeID, ent.Relationship, map[string]interface{}{"source": "llm"}); err != nil {
			log.Warn("failed to insert llm edge", "entry", e.ID, "target", nodeID, "error", err)
		}
	}
}

func (en *Enricher) extract(ctx context.Context, e *store.Entry) ([]extractedEntity, error) {
	prompt := buildExtractionPrompt(e)
	raw, err := en.llm.Generate(ctx, prompt, extractionSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("llm generate: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	return parseEntities(raw), nil
}

func buildExtractionPrompt(e *store.Entry) string {
	return fmt.Sprintf(
		"Entry %s\nShort title: %s\nLong title: %s\nType: %s\nDetails:\n%s\n\n"+
			"Return a JSON array of at most %d entities mentioned above.",
		e.ID, e.ShortTitle, e.LongTitle, e.EntryType, e.Details, MaxExtractedEntities,
	)
}

const extractionSystemPrompt = `You extract entities from a knowledge base entry. Respond with only a JSON array, each item shaped {"name": string, "entity_type": "person"|"tool"|"concept"|"technology", "relationship": string}. Do not include any other text.`

// parseEntities defensively strips code fences, locates the outermost
// JSON array by regex, validates each item's shape and entity_type,
// and discards invalid items.
func parseEntities(raw string) []extractedEntity {
	text := raw
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	arrText := jsonArrayPattern.FindString(text)
	if arrText == "" {
		return nil
	}

	var candidates []extractedEntity
	if err := json.Unmarshal([]byte(arrText), &candidates); err != nil {
		log.Debug("failed to parse extracted entities JSON", "error", err)
		return nil
	}

	var out []extractedEntity
	for _, c := range candidates {
		if len(out) >= MaxExtractedEntities {
			break
		}
		if strings.TrimSpace(c.Name) == "" || !validEntityTypes[c.EntityType] {
			continue
		}
		if strings.TrimSpace(c.Relationship) == "" {
			c.Relationship = "related_to"
		}
		out = append(out, c)
	}
	return out
}

// resolveOrCreate fuzzy-matches ent.Name against every existing name
// across all vocabulary types. If any similarity is at or above the
// threshold, the existing node id is reused (cross-type resolution
// allowed). Otherwise a new <entity_type>:<normalised-name> node is
// created and registered in the cache for later items in the batch.
func (en *Enricher) resolveOrCreate(ent extractedEntity) (string, error) {
	normalized := normalizeName(ent.Name)

	best := ""
	bestScore := 0.0
	for _, ids := range en.vocab {
		for _, id := range ids {
			_, name := splitNodeID(id)
			score := matchr.RatcliffObershelp(strings.ToLower(name), strings.ToLower(ent.Name))
			if score > bestScore {
				bestScore = score
				best = id
			}
		}
	}

	if bestScore >= en.threshold {
		return best, nil
	}

	nodeID := ent.EntityType + ":" + normalized
	if err := en.store.UpsertNode(nodeID, ent.EntityType, nil); err != nil {
		return "", fmt.Errorf("upsert entity node: %w", err)
	}
	en.vocab[ent.EntityType] = append(en.vocab[ent.EntityType], nodeID)
	return nodeID, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}

func splitNodeID(nodeID string) (nodeType, name string) {
	idx := strings.Index(nodeID, ":")
	if idx < 0 {
		return "", nodeID
	}
	return nodeID[:idx], nodeID[idx+1:]
}

// BatchEnrich places multiple entries in one prompt and parses a JSON
// object keyed by entry id; on parse failure, it falls back to
// per-entry enrichment.
func (en *Enricher) BatchEnrich(ctx context.Context, entries []*store.Entry) {
	if en.llm == nil || !en.llm.IsAvailable(ctx) || len(entries) == 0 {
		return
	}

	if len(entries) == 1 {
		en.Enrich(ctx, entries[0])
		return
	}

	if err := en.loadVocabulary(); err != nil {
		log.Warn("failed to load graph vocabulary for batch enrichment", "error", err)
		return
	}

	prompt := buildBatchPrompt(entries)
	raw, err := en.llm.Generate(ctx, prompt, batchSystemPrompt)
	if err != nil || raw == "" {
		en.fallbackPerEntry(ctx, entries)
		return
	}

	byEntry, ok := parseBatchResponse(raw)
	if !ok {
		log.Debug("batch enrichment response did not parse, falling back per-entry")
		en.fallbackPerEntry(ctx, entries)
		return
	}

	for _, e := range entries {
		entities, found := byEntry[e.ID]
		if !found {
			continue
		}
		en.applyEntities(e, entities)
	}
}

func (en *Enricher) fallbackPerEntry(ctx context.Context, entries []*store.Entry) {
	for _, e := range entries {
		en.Enrich(ctx, e)
	}
}

func buildBatchPrompt(entries []*store.Entry) string {
	var b strings.Builder
	b.WriteString("Entries:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s / %s\n%s\n\n", e.ID, e.ShortTitle, e.LongTitle, e.Details)
	}
	b.WriteString(fmt.Sprintf("\nReturn a JSON object keyed by entry id, each value an array of at most %d entities.", MaxExtractedEntities))
	return b.String()
}

const batchSystemPrompt = `You extract entities from multiple knowledge base entries. Respond with only a JSON object mapping each entry id to an array of {"name","entity_type","relationship"} items. Do not include any other text.`

func parseBatchResponse(raw string) (map[string][]extractedEntity, bool) {
	text := raw
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	var parsed map[string][]extractedEntity
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

func (en *Enricher) applyEntities(e *store.Entry, entities []extractedEntity) {
	var valid []extractedEntity
	for _, ent := range entities {
		if strings.TrimSpace(ent.Name) == "" || !validEntityTypes[ent.EntityType] {
			continue
		}
		if strings.TrimSpace(ent.Relationship) == "" {
			ent.Relationship = "related_to"
		}
		valid = append(valid, ent)
	}
	if len(valid) == 0 {
		return
	}

	if err := en.store.ClearOutgoingEdges(e.ID, true); err != nil {
		log.Warn("failed to clear prior llm edges in batch", "entry", e.ID, "error", err)
		return
	}
	if err := en.store.UpsertNode(e.ID, "entry", map[string]interface{}{"short_title": e.ShortTitle, "entry_type": e.EntryType}); err != nil {
		log.Warn("failed to ensure entry node in batch", "entry", e.ID, "error", err)
		return
	}

	for _, ent := range valid {
		nodeID, err := en.resolveOrCreate(ent)
		if err != nil {
			log.Warn("failed to resolve/create entity in batch", "entry", e.ID, "entity", ent.Name, "error", err)
			continue
		}
		if err := en.store.InsertEdge(e.ID, nodeID, ent.Relationship, map[string]interface{}{"source": "llm"}); err != nil {
			log.Warn("failed to insert llm edge in batch", "entry", e.ID, "target", nodeID, "error", err)
		}
	}
}
