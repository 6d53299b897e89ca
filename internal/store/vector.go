package store

import (
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// VectorResult is a single nearest-neighbour candidate.
type VectorResult struct {
	EntryID  string
	Distance float64
}

// UpsertVector serialises vec as packed 32-bit floats and writes it
// for entryID. vec0 does not reliably support INSERT OR REPLACE, so
// this deletes any existing row for the id before inserting — the
// same delete-then-insert convention used elsewhere for this
// extension. A no-op, returning nil, when the vector index did not
// load.
func (s *Store) UpsertVector(entryID string, vec []float32) error {
	if !s.VectorAvailable() {
		return nil
	}
	if len(vec) != s.vecDim {
		return &CorruptionError{What: "vector dimension", Err: fmt.Errorf("got %d, want %d", len(vec), s.vecDim)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	serialized, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return &CorruptionError{What: "vector serialization", Err: err}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert_vector tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE entry_id = ?`, s.vecTable), entryID); err != nil {
		return fmt.Errorf("delete existing vector: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (embedding, entry_id) VALUES (?, ?)`, s.vecTable), serialized, entryID); err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}

	return tx.Commit()
}

// DeleteVector removes any vector row for entryID. Idempotent.
func (s *Store) DeleteVector(entryID string) error {
	if !s.VectorAvailable() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE entry_id = ?`, s.vecTable), entryID)
	if err != nil {
		return fmt.Errorf("delete_vector: %w", err)
	}
	return nil
}

// VectorSearch runs a KNN query against the vec0 table and returns
// (entry_id, distance) pairs sorted ascending, up to limit. Distance
// is the extension's default metric (Euclidean); callers only ever
// consume it for rank-based fusion, never as an absolute score.
// Returns an empty result, not an error, when the vector index did
// not load.
func (s *Store) VectorSearch(vec []float32, limit int) ([]VectorResult, error) {
	if !s.VectorAvailable() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	serialized, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, &CorruptionError{What: "query vector serialization", Err: err}
	}

	query := fmt.Sprintf(
		`SELECT entry_id, distance FROM %s WHERE embedding MATCH ? AND k = ? ORDER BY distance ASC`,
		s.vecTable,
	)
	rows, err := s.db.Query(query, serialized, limit)
	if err != nil {
		return nil, fmt.Errorf("vector_search: %w", err)
	}
	defer rows.Close()

	var out []VectorResult
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.EntryID, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan vector result: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Dim returns the configured embedding dimension.
func (s *Store) Dim() int {
	return s.vecDim
}
