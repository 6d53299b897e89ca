package enrich

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kbgraph/kbd/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 8)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeProvider is a scripted llmprovider.Provider for enrichment tests.
type fakeProvider struct {
	available bool
	response  string
	calls     int
}

func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return f.available }
func (f *fakeProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	f.calls++
	return f.response, nil
}
func (f *fakeProvider) Close() error { return nil }

func TestEnrichWritesLLMMarkedEdges(t *testing.T) {
	s := newTestStore(t)
	llm := &fakeProvider{
		available: true,
		response:  `[{"name": "Alice", "entity_type": "person", "relationship": "mentions_person"}]`,
	}
	en := New(s, llm, 0)

	e, err := s.CreateEntry(store.CreateFields{ShortTitle: "x", LongTitle: "y", Details: "Alice reviewed this", EntryType: "decision"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	en.Enrich(context.Background(), e)

	edges, err := s.OutgoingLLMEdges(e.ID)
	if err != nil {
		t.Fatalf("outgoing llm edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 llm edge, got %d", len(edges))
	}
	if edges[0].TargetID != "person:alice" {
		t.Fatalf("expected target person:alice, got %s", edges[0].TargetID)
	}
	if !edges[0].IsLLMEdge() {
		t.Fatal("expected edge to carry the llm source marker")
	}
}

func TestEnrichSkipsWhenProviderUnavailable(t *testing.T) {
	s := newTestStore(t)
	llm := &fakeProvider{available: false}
	en := New(s, llm, 0)

	e, err := s.CreateEntry(store.CreateFields{ShortTitle: "x", LongTitle: "y", EntryType: "decision"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	en.Enrich(context.Background(), e)

	edges, err := s.OutgoingLLMEdges(e.ID)
	if err != nil {
		t.Fatalf("outgoing llm edges: %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("expected no edges when provider unavailable, got %d", len(edges))
	}
	if llm.calls != 0 {
		t.Fatalf("expected Generate to never be called, got %d calls", llm.calls)
	}
}

func TestEnrichReusesExistingVocabularyAboveThreshold(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertNode("person:alice-smith", "person", nil); err != nil {
		t.Fatalf("seed node: %v", err)
	}

	llm := &fakeProvider{
		available: true,
		response:  `[{"name": "alice smith", "entity_type": "person", "relationship": "mentions_person"}]`,
	}
	en := New(s, llm, 0.85)

	e, err := s.CreateEntry(store.CreateFields{ShortTitle: "x", LongTitle: "y", EntryType: "decision"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	en.Enrich(context.Background(), e)

	edges, err := s.OutgoingLLMEdges(e.ID)
	if err != nil {
		t.Fatalf("outgoing llm edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 llm edge, got %d", len(edges))
	}
	if edges[0].TargetID != "person:alice-smith" {
		t.Fatalf("expected resolution to reuse existing node, got %s", edges[0].TargetID)
	}

	nodes, err := s.NodesByType("person")
	if err != nil {
		t.Fatalf("nodes by type: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected no new person node created, got %d", len(nodes))
	}
}

func TestEnrichDiscardsInvalidEntityTypes(t *testing.T) {
	s := newTestStore(t)
	llm := &fakeProvider{
		available: true,
		response:  `[{"name": "x", "entity_type": "nonsense", "relationship": "r"}, {"name": "", "entity_type": "tool", "relationship": "uses_tool"}]`,
	}
	en := New(s, llm, 0)

	e, err := s.CreateEntry(store.CreateFields{ShortTitle: "x", LongTitle: "y", EntryType: "decision"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	en.Enrich(context.Background(), e)

	edges, err := s.OutgoingLLMEdges(e.ID)
	if err != nil {
		t.Fatalf("outgoing llm edges: %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("expected both items discarded (bad type, empty name), got %d edges", len(edges))
	}
}

func TestEnrichStripsCodeFenceFromResponse(t *testing.T) {
	s := newTestStore(t)
	llm := &fakeProvider{
		available: true,
		response:  "```json\n[{\"name\": \"Docker\", \"entity_type\": \"tool\", \"relationship\": \"uses_tool\"}]\n```",
	}
	en := New(s, llm, 0)

	e, err := s.CreateEntry(store.CreateFields{ShortTitle: "x", LongTitle: "y", EntryType: "decision"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	en.Enrich(context.Background(), e)

	edges, err := s.OutgoingLLMEdges(e.ID)
	if err != nil {
		t.Fatalf("outgoing llm edges: %v", err)
	}
	if len(edges) != 1 || edges[0].TargetID != "tool:docker" {
		t.Fatalf("expected fenced response parsed into 1 tool edge, got %+v", edges)
	}
}

func TestEnrichRebuildClearsOnlyPriorLLMEdges(t *testing.T) {
	s := newTestStore(t)
	llm := &fakeProvider{
		available: true,
		response:  `[{"name": "Bob", "entity_type": "person", "relationship": "mentions_person"}]`,
	}
	en := New(s, llm, 0)

	e, err := s.CreateEntry(store.CreateFields{ShortTitle: "x", LongTitle: "y", EntryType: "decision", Tags: []string{"infra"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.UpsertNode("tag:infra", "tag", nil); err != nil {
		t.Fatalf("upsert tag: %v", err)
	}
	if err := s.InsertEdge(e.ID, "tag:infra", "has_tag", nil); err != nil {
		t.Fatalf("insert deterministic edge: %v", err)
	}

	en.Enrich(context.Background(), e)
	en.Enrich(context.Background(), e) // re-enrichment should not duplicate or drop the deterministic edge

	neighbors, err := s.Neighbors(e.ID, 10)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	sawTag, sawPerson := false, 0
	for _, n := range neighbors {
		if n.Node.NodeID == "tag:infra" {
			sawTag = true
		}
		if n.Node.NodeID == "person:bob" {
			sawPerson++
		}
	}
	if !sawTag {
		t.Fatal("expected deterministic has_tag edge to survive enrichment")
	}
	if sawPerson != 1 {
		t.Fatalf("expected exactly 1 person edge after re-enrichment, got %d", sawPerson)
	}
}
