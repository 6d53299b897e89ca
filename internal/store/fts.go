package store

import (
	"fmt"
	"strings"
)

// FTSFilters narrows an FTS search beyond the raw query text.
type FTSFilters struct {
	ProjectRef string
	EntryType  string
	Tag        string
}

// FTSResult is a single lexical candidate.
type FTSResult struct {
	EntryID string
	Score   float64 // BM25: more negative is stronger
}

// buildFTSQuery splits the raw query on whitespace, quotes each token
// to neutralise FTS5 operator characters like ":" "-" "(", and joins
// with spaces for an implicit AND. An empty query yields an empty FTS
// match, which FTS5 accepts and returns zero rows for.
func buildFTSQuery(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return `""`
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// FTSSearch executes a BM25 match against the lexical index, applying
// is_active, project, entry_type and boundary-padded tag filters, and
// returns (entry_id, score) pairs ordered ascending by score (more
// negative first) up to limit.
func (s *Store) FTSSearch(query string, filters FTSFilters, limit int) ([]FTSResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	ftsQuery := buildFTSQuery(query)

	var where []string
	args := []interface{}{ftsQuery}

	where = append(where, "e.is_active = 1")
	if filters.ProjectRef != "" {
		where = append(where, "e.project_ref = ?")
		args = append(args, filters.ProjectRef)
	}
	if filters.EntryType != "" {
		where = append(where, "e.entry_type = ?")
		args = append(args, filters.EntryType)
	}
	if filters.Tag != "" {
		where = append(where, "(' ' || e.tags || ' ') LIKE ?")
		args = append(args, "% "+filters.Tag+" %")
	}

	sqlQuery := `
		SELECT e.id, bm25(knowledge_fts) AS score
		FROM knowledge_fts fts
		JOIN knowledge_entries e ON e.id = fts.entry_id
		WHERE knowledge_fts MATCH ?
	`
	if len(where) > 0 {
		sqlQuery += " AND " + strings.Join(where, " AND ")
	}
	sqlQuery += fmt.Sprintf(" ORDER BY score ASC LIMIT %d", limit)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fts_search: %w", err)
	}
	defer rows.Close()

	var out []FTSResult
	for rows.Next() {
		var r FTSResult
		if err := rows.Scan(&r.EntryID, &r.Score); err != nil {
			return nil, fmt.Errorf("scan fts result: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
