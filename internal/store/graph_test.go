package store

import "testing"

func TestInsertEdgeIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertNode("kb-00001", "entry", nil); err != nil {
		t.Fatalf("upsert node: %v", err)
	}
	if err := s.UpsertNode("tag:python", "tag", nil); err != nil {
		t.Fatalf("upsert node: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.InsertEdge("kb-00001", "tag:python", "has_tag", nil); err != nil {
			t.Fatalf("insert edge attempt %d: %v", i, err)
		}
	}

	neighbors, err := s.Neighbors("kb-00001", 10)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(neighbors) != 1 {
		t.Fatalf("expected exactly one edge despite duplicate inserts, got %d", len(neighbors))
	}
}

func TestClearOutgoingEdgesPreservesLLMEdgesByDefault(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertNode("kb-00001", "entry", nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertNode("tag:x", "tag", nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertNode("concept:y", "concept", nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.InsertEdge("kb-00001", "tag:x", "has_tag", nil); err != nil {
		t.Fatalf("insert deterministic edge: %v", err)
	}
	if err := s.InsertEdge("kb-00001", "concept:y", "discusses", map[string]interface{}{"source": "llm"}); err != nil {
		t.Fatalf("insert llm edge: %v", err)
	}

	// Deterministic rebuild: clear non-LLM edges only.
	if err := s.ClearOutgoingEdges("kb-00001", false); err != nil {
		t.Fatalf("clear outgoing (deterministic): %v", err)
	}

	remaining, err := s.Neighbors("kb-00001", 10)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(remaining) != 1 || remaining[0].EdgeType != "discusses" {
		t.Fatalf("expected only the llm edge to survive, got %+v", remaining)
	}
}

func TestOutgoingLLMEdgesFiltersBySourceMarker(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertNode("kb-00001", "entry", nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertNode("tag:x", "tag", nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertNode("concept:y", "concept", nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.InsertEdge("kb-00001", "tag:x", "has_tag", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertEdge("kb-00001", "concept:y", "discusses", map[string]interface{}{"source": "llm"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	llmEdges, err := s.OutgoingLLMEdges("kb-00001")
	if err != nil {
		t.Fatalf("outgoing_llm_edges: %v", err)
	}
	if len(llmEdges) != 1 || llmEdges[0].EdgeType != "discusses" {
		t.Fatalf("expected exactly one llm edge, got %+v", llmEdges)
	}
}
