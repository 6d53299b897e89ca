package graphbuild

import (
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

func TestRebuildCreatesTagAndProjectEdges(t *testing.T) {
	s := newTestStore(t)
	b := New(s)

	e, err := s.CreateEntry(store.CreateFields{
		ShortTitle: "x", LongTitle: "y", Details: "d",
		EntryType: "decision", ProjectRef: "widgets", Tags: []string{"alpha", "beta"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := b.Rebuild(e); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	neighbors, err := s.Neighbors(e.ID, 10)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}

	found := map[string]string{}
	for _, n := range neighbors {
		found[n.Node.NodeID] = n.EdgeType
	}
	if found["tag:alpha"] != "has_tag" || found["tag:beta"] != "has_tag" {
		t.Fatalf("expected has_tag edges to both tags, got %+v", found)
	}
	if found["project:widgets"] != "in_project" {
		t.Fatalf("expected in_project edge, got %+v", found)
	}
}

func TestRebuildCreatesReferencesEdgesDeduplicated(t *testing.T) {
	s := newTestStore(t)
	b := New(s)

	target1, err := s.CreateEntry(store.CreateFields{ShortTitle: "t1", LongTitle: "t1", EntryType: "factual_reference"})
	if err != nil {
		t.Fatalf("create target1: %v", err)
	}
	target2, err := s.CreateEntry(store.CreateFields{ShortTitle: "t2", LongTitle: "t2", EntryType: "factual_reference"})
	if err != nil {
		t.Fatalf("create target2: %v", err)
	}

	body := "See " + target1.ID + " and also " + target1.ID + ", and " + target2.ID + "."
	e, err := s.CreateEntry(store.CreateFields{ShortTitle: "e", LongTitle: "e", Details: body, EntryType: "factual_reference"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := b.Rebuild(e); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	neighbors, err := s.Neighbors(e.ID, 10)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}

	refCount := 0
	for _, n := range neighbors {
		if n.EdgeType == "references" {
			refCount++
		}
	}
	if refCount != 2 {
		t.Fatalf("expected exactly 2 references edges, got %d", refCount)
	}
}

func TestRebuildPreservesLLMEdges(t *testing.T) {
	s := newTestStore(t)
	b := New(s)

	e, err := s.CreateEntry(store.CreateFields{ShortTitle: "e", LongTitle: "e", EntryType: "factual_reference", Tags: []string{"x"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.Rebuild(e); err != nil {
		t.Fatalf("initial rebuild: %v", err)
	}

	if err := s.UpsertNode("concept:thing", "concept", nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.InsertEdge(e.ID, "concept:thing", "discusses", map[string]interface{}{"source": "llm"}); err != nil {
		t.Fatalf("insert llm edge: %v", err)
	}

	if err := b.Rebuild(e); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}

	neighbors, err := s.Neighbors(e.ID, 10)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	foundLLM := false
	for _, n := range neighbors {
		if n.Node.NodeID == "concept:thing" {
			foundLLM = true
		}
	}
	if !foundLLM {
		t.Fatal("expected llm edge to survive re-rebuild of deterministic edges")
	}
}
