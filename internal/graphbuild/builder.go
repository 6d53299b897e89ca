// Package graphbuild derives deterministic graph edges from an
// entry's own fields — tags, project, supersedes/superseded_by
// hints, kb-XXXXX references in the body, and hint-provided related
// entities/people/tools. It never calls an LLM.
package graphbuild

import (
	"fmt"
	"regexp"

	"github.com/kbgraph/kbd/internal/logging"
	"github.com/kbgraph/kbd/internal/store"
)

var log = logging.GetLogger("graphbuild")

var referencePattern = regexp.MustCompile(`kb-\d{5}`)

// Builder rebuilds an entry's deterministic outgoing edges on every
// create/update, per the delete-and-rebuild model: existing
// non-LLM edges are cleared first, then every deterministic edge
// type is re-derived from the entry's current fields.
type Builder struct {
	store *store.Store
}

// New constructs a Builder over the given store.
func New(s *store.Store) *Builder {
	return &Builder{store: s}
}

// Rebuild clears the entry's non-LLM outgoing edges and re-derives
// them from e's current fields. LLM edges (owned by the enricher)
// are left untouched.
func (b *Builder) Rebuild(e *store.Entry) error {
	if err := b.store.ClearOutgoingEdges(e.ID, false); err != nil {
		return fmt.Errorf("clear deterministic edges: %w", err)
	}

	if err := b.store.UpsertNode(e.ID, "entry", map[string]interface{}{
		"short_title": e.ShortTitle,
		"entry_type":  e.EntryType,
	}); err != nil {
		return fmt.Errorf("upsert entry node: %w", err)
	}

	for _, tag := range e.Tags {
		nodeID := "tag:" + tag
		if err := b.store.UpsertNode(nodeID, "tag", nil); err != nil {
			return fmt.Errorf("upsert tag node %s: %w", nodeID, err)
		}
		if err := b.store.InsertEdge(e.ID, nodeID, "has_tag", nil); err != nil {
			return fmt.Errorf("insert has_tag edge: %w", err)
		}
	}

	if e.ProjectRef != "" {
		nodeID := "project:" + e.ProjectRef
		if err := b.store.UpsertNode(nodeID, "project", nil); err != nil {
			return fmt.Errorf("upsert project node %s: %w", nodeID, err)
		}
		if err := b.store.InsertEdge(e.ID, nodeID, "in_project", nil); err != nil {
			return fmt.Errorf("insert in_project edge: %w", err)
		}
	}

	for _, targetID := range stringSliceHint(e.Hints, "supersedes") {
		if err := b.store.InsertEdge(e.ID, targetID, "supersedes", nil); err != nil {
			return fmt.Errorf("insert supersedes edge: %w", err)
		}
	}

	if supersededBy, ok := e.Hints["superseded_by"].(string); ok && supersededBy != "" {
		if err := b.store.InsertEdge(e.ID, supersededBy, "superseded_by", nil); err != nil {
			return fmt.Errorf("insert superseded_by edge: %w", err)
		}
	}

	for _, ref := range dedupeReferences(referencePattern.FindAllString(e.Details, -1), e.ID) {
		if err := b.store.InsertEdge(e.ID, ref, "references", nil); err != nil {
			return fmt.Errorf("insert references edge: %w", err)
		}
	}

	relatedType := "related_to"
	if t, ok := e.Hints["related_entities_type"].(string); ok && t != "" {
		relatedType = t
	}
	for _, targetID := range stringSliceHint(e.Hints, "related_entities") {
		if err := b.store.InsertEdge(e.ID, targetID, relatedType, nil); err != nil {
			return fmt.Errorf("insert %s edge: %w", relatedType, err)
		}
	}

	for _, person := range stringSliceHint(e.Hints, "person") {
		nodeID := "person:" + person
		if err := b.store.UpsertNode(nodeID, "person", nil); err != nil {
			return fmt.Errorf("upsert person node: %w", err)
		}
		if err := b.store.InsertEdge(e.ID, nodeID, "mentions_person", nil); err != nil {
			return fmt.Errorf("insert mentions_person edge: %w", err)
		}
	}

	for _, tool := range stringSliceHint(e.Hints, "tool") {
		nodeID := "tool:" + tool
		if err := b.store.UpsertNode(nodeID, "tool", nil); err != nil {
			return fmt.Errorf("upsert tool node: %w", err)
		}
		if err := b.store.InsertEdge(e.ID, nodeID, "uses_tool", nil); err != nil {
			return fmt.Errorf("insert uses_tool edge: %w", err)
		}
	}

	return nil
}

// dedupeReferences removes duplicate kb-XXXXX tokens and any
// self-reference (an entry referencing its own id is a no-op).
func dedupeReferences(matches []string, selfID string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if m == selfID || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// stringSliceHint reads hints[key] as either []string or []interface{}
// of strings; hints are decoded from JSON so numeric/array shapes
// vary by how the caller supplied them.
func stringSliceHint(hints map[string]interface{}, key string) []string {
	raw, ok := hints[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		log.Debug("hint has unexpected shape", "key", key)
		return nil
	}
}
