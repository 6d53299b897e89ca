package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GraphNode is a row in graph_nodes. Entry nodes share the entry's
// kb-XXXXX id; non-entry ids are type-prefixed (tag:X, project:X,
// person:X, tool:X, concept:X, technology:X, note:relative/path).
type GraphNode struct {
	NodeID     string
	NodeType   string
	Properties map[string]interface{}
	CreatedAt  time.Time
}

// GraphEdge is a row in graph_edges. LLM-derived edges carry
// {"source":"llm"} in Properties; deterministic edges omit it.
type GraphEdge struct {
	SourceID   string
	TargetID   string
	EdgeType   string
	Properties map[string]interface{}
	CreatedAt  time.Time
}

// IsLLMEdge reports whether this edge was written by the enricher.
func (e *GraphEdge) IsLLMEdge() bool {
	src, _ := e.Properties["source"].(string)
	return src == "llm"
}

// UpsertNode inserts a node or, if one with the same id already
// exists, replaces its type and properties. Idempotent.
func (s *Store) UpsertNode(nodeID, nodeType string, properties map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertNodeLocked(nodeID, nodeType, properties)
}

func (s *Store) upsertNodeLocked(nodeID, nodeType string, properties map[string]interface{}) error {
	if properties == nil {
		properties = map[string]interface{}{}
	}
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return &CorruptionError{What: "node properties", Err: err}
	}

	_, err = s.db.Exec(`
		INSERT INTO graph_nodes (node_id, node_type, properties, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET node_type = excluded.node_type, properties = excluded.properties
	`, nodeID, nodeType, string(propsJSON), time.Now())
	if err != nil {
		return fmt.Errorf("upsert_node: %w", err)
	}
	return nil
}

// InsertEdge inserts an edge, ignoring uniqueness violations on
// (source, target, edge_type) — duplicate inserts are no-ops.
func (s *Store) InsertEdge(sourceID, targetID, edgeType string, properties map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertEdgeLocked(sourceID, targetID, edgeType, properties)
}

func (s *Store) insertEdgeLocked(sourceID, targetID, edgeType string, properties map[string]interface{}) error {
	if properties == nil {
		properties = map[string]interface{}{}
	}
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return &CorruptionError{What: "edge properties", Err: err}
	}

	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO graph_edges (source_id, target_id, edge_type, properties, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sourceID, targetID, edgeType, string(propsJSON), time.Now())
	if err != nil {
		return fmt.Errorf("insert_edge: %w", err)
	}
	return nil
}

// ClearOutgoingEdges deletes every outgoing edge from source whose
// properties do NOT carry source=llm when onlyDeterministic is true
// (used by the deterministic graph builder before it rebuilds), or
// only those that DO carry source=llm when onlyDeterministic is
// false (used by the enricher before re-enrichment).
func (s *Store) ClearOutgoingEdges(sourceID string, clearLLMEdges bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT target_id, edge_type, properties FROM graph_edges WHERE source_id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("clear_outgoing_edges scan: %w", err)
	}

	type key struct{ target, edgeType string }
	var toDelete []key
	for rows.Next() {
		var target, edgeType, propsJSON string
		if err := rows.Scan(&target, &edgeType, &propsJSON); err != nil {
			rows.Close()
			return fmt.Errorf("scan edge for clear: %w", err)
		}
		var props map[string]interface{}
		_ = json.Unmarshal([]byte(propsJSON), &props)
		isLLM := false
		if src, ok := props["source"].(string); ok {
			isLLM = src == "llm"
		}
		if isLLM == clearLLMEdges {
			toDelete = append(toDelete, key{target, edgeType})
		}
	}
	rows.Close()

	for _, k := range toDelete {
		if _, err := s.db.Exec(`DELETE FROM graph_edges WHERE source_id = ? AND target_id = ? AND edge_type = ?`, sourceID, k.target, k.edgeType); err != nil {
			return fmt.Errorf("delete edge: %w", err)
		}
	}
	return nil
}

// NeighborEdge is one side of a neighbour lookup: which edge and
// which direction led to the neighbour node.
type NeighborEdge struct {
	Node      GraphNode
	EdgeType  string
	Direction string // "outgoing" or "incoming"
}

// Neighbors returns both outgoing and incoming edges from node_id,
// each yielding the neighbour node, edge type and direction, bounded
// by limit.
func (s *Store) Neighbors(nodeID string, limit int) ([]NeighborEdge, error) {
	if limit <= 0 {
		limit = 25
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []NeighborEdge

	outRows, err := s.db.Query(`
		SELECT n.node_id, n.node_type, n.properties, n.created_at, e.edge_type
		FROM graph_edges e JOIN graph_nodes n ON n.node_id = e.target_id
		WHERE e.source_id = ? LIMIT ?
	`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("neighbors outgoing: %w", err)
	}
	for outRows.Next() {
		ne, err := scanNeighbor(outRows, "outgoing")
		if err != nil {
			outRows.Close()
			return nil, err
		}
		out = append(out, ne)
	}
	outRows.Close()

	if len(out) >= limit {
		return out[:limit], nil
	}

	inRows, err := s.db.Query(`
		SELECT n.node_id, n.node_type, n.properties, n.created_at, e.edge_type
		FROM graph_edges e JOIN graph_nodes n ON n.node_id = e.source_id
		WHERE e.target_id = ? LIMIT ?
	`, nodeID, limit-len(out))
	if err != nil {
		return nil, fmt.Errorf("neighbors incoming: %w", err)
	}
	defer inRows.Close()
	for inRows.Next() {
		ne, err := scanNeighbor(inRows, "incoming")
		if err != nil {
			return nil, err
		}
		out = append(out, ne)
	}

	return out, nil
}

func scanNeighbor(rows *sql.Rows, direction string) (NeighborEdge, error) {
	var n GraphNode
	var propsJSON string
	var edgeType string
	if err := rows.Scan(&n.NodeID, &n.NodeType, &propsJSON, &n.CreatedAt, &edgeType); err != nil {
		return NeighborEdge{}, fmt.Errorf("scan neighbor: %w", err)
	}
	n.Properties = map[string]interface{}{}
	_ = json.Unmarshal([]byte(propsJSON), &n.Properties)
	return NeighborEdge{Node: n, EdgeType: edgeType, Direction: direction}, nil
}

// OutgoingLLMEdges returns every edge from entryID marked source=llm.
func (s *Store) OutgoingLLMEdges(entryID string) ([]*GraphEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT source_id, target_id, edge_type, properties, created_at FROM graph_edges WHERE source_id = ?`, entryID)
	if err != nil {
		return nil, fmt.Errorf("outgoing_llm_edges: %w", err)
	}
	defer rows.Close()

	var out []*GraphEdge
	for rows.Next() {
		var e GraphEdge
		var propsJSON string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.EdgeType, &propsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Properties = map[string]interface{}{}
		_ = json.Unmarshal([]byte(propsJSON), &e.Properties)
		if e.IsLLMEdge() {
			out = append(out, &e)
		}
	}
	return out, nil
}

// GetNode fetches a single graph node by id, or nil if absent.
func (s *Store) GetNode(nodeID string) (*GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n GraphNode
	var propsJSON string
	err := s.db.QueryRow(`SELECT node_id, node_type, properties, created_at FROM graph_nodes WHERE node_id = ?`, nodeID).
		Scan(&n.NodeID, &n.NodeType, &propsJSON, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_node: %w", err)
	}
	n.Properties = map[string]interface{}{}
	_ = json.Unmarshal([]byte(propsJSON), &n.Properties)
	return &n, nil
}

// NodesByType lists all node ids of a given type.
func (s *Store) NodesByType(nodeType string) ([]*GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT node_id, node_type, properties, created_at FROM graph_nodes WHERE node_type = ?`, nodeType)
	if err != nil {
		return nil, fmt.Errorf("nodes_by_type: %w", err)
	}
	defer rows.Close()

	var out []*GraphNode
	for rows.Next() {
		var n GraphNode
		var propsJSON string
		if err := rows.Scan(&n.NodeID, &n.NodeType, &propsJSON, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Properties = map[string]interface{}{}
		_ = json.Unmarshal([]byte(propsJSON), &n.Properties)
		out = append(out, &n)
	}
	return out, nil
}

// GraphStats returns node/edge counts by type plus the active entry
// count, consumed by the planner.
type GraphStats struct {
	NodesByType map[string]int
	EdgesByType map[string]int
	ActiveEntries int
}

func (s *Store) GraphStats() (*GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &GraphStats{NodesByType: map[string]int{}, EdgesByType: map[string]int{}}

	nodeRows, err := s.db.Query(`SELECT node_type, COUNT(*) FROM graph_nodes GROUP BY node_type`)
	if err != nil {
		return nil, fmt.Errorf("graph_stats nodes: %w", err)
	}
	for nodeRows.Next() {
		var t string
		var c int
		if err := nodeRows.Scan(&t, &c); err != nil {
			nodeRows.Close()
			return nil, err
		}
		stats.NodesByType[t] = c
	}
	nodeRows.Close()

	edgeRows, err := s.db.Query(`SELECT edge_type, COUNT(*) FROM graph_edges GROUP BY edge_type`)
	if err != nil {
		return nil, fmt.Errorf("graph_stats edges: %w", err)
	}
	for edgeRows.Next() {
		var t string
		var c int
		if err := edgeRows.Scan(&t, &c); err != nil {
			edgeRows.Close()
			return nil, err
		}
		stats.EdgesByType[t] = c
	}
	edgeRows.Close()

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM knowledge_entries WHERE is_active = 1`).Scan(&stats.ActiveEntries); err != nil {
		return nil, fmt.Errorf("graph_stats active entries: %w", err)
	}

	return stats, nil
}
