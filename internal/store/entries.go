package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Valid entry types, a closed set. The decay half-life table in
// internal/decay keys off exactly these values.
var validEntryTypes = map[string]bool{
	"factual_reference":  true,
	"decision":            true,
	"pattern_convention":  true,
	"lesson_learned":      true,
}

// Entry is the atomic unit of stored knowledge.
type Entry struct {
	ID             string
	ShortTitle     string
	LongTitle      string
	Details        string
	EntryType      string
	ProjectRef     string
	Tags           []string
	Hints          map[string]interface{}
	BaseConfidence float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessed   time.Time
	IsActive       bool
	HasEmbedding   bool
	Version        int
}

// EmbeddingText is the concatenation fed to the embedding client.
func (e *Entry) EmbeddingText() string {
	return e.ShortTitle + " " + e.LongTitle + " " + e.Details
}

// TagString returns tags as a single whitespace-joined, boundary-
// padded string suitable for direct FTS indexing and substring
// membership tests.
func (e *Entry) TagString() string {
	if len(e.Tags) == 0 {
		return ""
	}
	return strings.Join(e.Tags, " ")
}

// CreateFields is the input shape for CreateEntry.
type CreateFields struct {
	ShortTitle     string
	LongTitle      string
	Details        string
	EntryType      string
	ProjectRef     string
	Tags           []string
	Hints          map[string]interface{}
	BaseConfidence float64
}

func validateEntryType(t string) error {
	if !validEntryTypes[t] {
		return &ValidationError{Field: "entry_type", Reason: fmt.Sprintf("%q is not one of the closed set", t)}
	}
	return nil
}

func validateConfidence(c float64) error {
	if c < 0.0 || c > 1.0 {
		return &ValidationError{Field: "base_confidence", Reason: "must be within [0,1]"}
	}
	return nil
}

func validateTags(tags []string) error {
	for _, t := range tags {
		if strings.ContainsAny(t, " \t\n\r") {
			return &ValidationError{Field: "tags", Reason: fmt.Sprintf("tag %q contains whitespace", t)}
		}
	}
	return nil
}

// allocateEntryID increments the single-row sequence and returns the
// zero-padded kb-XXXXX id. Must run inside the caller's transaction so
// the increment is atomic with the entry insert.
func allocateEntryID(tx *sql.Tx) (string, error) {
	res, err := tx.Exec(`UPDATE entry_id_seq SET next_value = next_value + 1 WHERE id = 1`)
	if err != nil {
		return "", fmt.Errorf("allocate id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("entry_id_seq row missing")
	}

	var next int
	if err := tx.QueryRow(`SELECT next_value FROM entry_id_seq WHERE id = 1`).Scan(&next); err != nil {
		return "", fmt.Errorf("read allocated id: %w", err)
	}
	// next_value was just incremented; the id for this entry is next-1.
	return fmt.Sprintf("kb-%05d", next-1), nil
}

// CreateEntry allocates an id, inserts the entry row, and writes
// version 1 with reason "Initial creation", all in one transaction.
func (s *Store) CreateEntry(f CreateFields) (*Entry, error) {
	if err := validateEntryType(f.EntryType); err != nil {
		return nil, err
	}
	if f.BaseConfidence == 0 {
		f.BaseConfidence = 0.9
	}
	if err := validateConfidence(f.BaseConfidence); err != nil {
		return nil, err
	}
	if err := validateTags(f.Tags); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin create_entry tx: %w", err)
	}
	defer tx.Rollback()

	id, err := allocateEntryID(tx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	hints := f.Hints
	if hints == nil {
		hints = map[string]interface{}{}
	}
	hintsJSON, err := json.Marshal(hints)
	if err != nil {
		return nil, &CorruptionError{What: "hints", Err: err}
	}

	e := &Entry{
		ID:             id,
		ShortTitle:     f.ShortTitle,
		LongTitle:      f.LongTitle,
		Details:        f.Details,
		EntryType:      f.EntryType,
		ProjectRef:     f.ProjectRef,
		Tags:           f.Tags,
		Hints:          hints,
		BaseConfidence: f.BaseConfidence,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessed:   now,
		IsActive:       true,
		HasEmbedding:   false,
		Version:        1,
	}

	_, err = tx.Exec(`
		INSERT INTO knowledge_entries (
			id, short_title, long_title, details, entry_type, project_ref,
			tags, hints, base_confidence, created_at, updated_at,
			last_accessed, is_active, has_embedding, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ShortTitle, e.LongTitle, e.Details, e.EntryType, nullString(e.ProjectRef),
		e.TagString(), string(hintsJSON), e.BaseConfidence, e.CreatedAt, e.UpdatedAt,
		e.LastAccessed, e.IsActive, e.HasEmbedding, e.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO entry_versions (entry_id, version_number, snapshot_details, snapshot_confidence, change_reason, created_at)
		VALUES (?, 1, ?, ?, 'Initial creation', ?)
	`, e.ID, e.Details, e.BaseConfidence, now); err != nil {
		return nil, fmt.Errorf("insert version 1: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create_entry: %w", err)
	}

	return e, nil
}

// UpdatePatch carries the optionally-set fields for UpdateEntry. A nil
// field is left unchanged.
type UpdatePatch struct {
	ShortTitle     *string
	LongTitle      *string
	Details        *string
	ProjectRef     *string
	Tags           []string
	Hints          map[string]interface{}
	BaseConfidence *float64
}

// UpdateEntry bumps the version counter, writes a version row
// snapshotting the post-write state (the convention this store picks
// for the ambiguous source behaviour — see DESIGN.md), sets
// updated_at=now, and clears has_embedding when details changed.
func (s *Store) UpdateEntry(id string, patch UpdatePatch, reason string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin update_entry tx: %w", err)
	}
	defer tx.Rollback()

	e, err := getEntryTx(tx, id, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &NotFoundError{ID: id}
	}

	detailsChanged := false
	if patch.ShortTitle != nil {
		e.ShortTitle = *patch.ShortTitle
	}
	if patch.LongTitle != nil {
		e.LongTitle = *patch.LongTitle
	}
	if patch.Details != nil && *patch.Details != e.Details {
		e.Details = *patch.Details
		detailsChanged = true
	}
	if patch.ProjectRef != nil {
		e.ProjectRef = *patch.ProjectRef
	}
	if patch.Tags != nil {
		if err := validateTags(patch.Tags); err != nil {
			return nil, err
		}
		e.Tags = patch.Tags
	}
	if patch.Hints != nil {
		e.Hints = patch.Hints
	}
	if patch.BaseConfidence != nil {
		if err := validateConfidence(*patch.BaseConfidence); err != nil {
			return nil, err
		}
		e.BaseConfidence = *patch.BaseConfidence
	}

	e.Version++
	e.UpdatedAt = time.Now()
	if detailsChanged {
		e.HasEmbedding = false
	}

	hintsJSON, err := json.Marshal(e.Hints)
	if err != nil {
		return nil, &CorruptionError{What: "hints", Err: err}
	}

	if reason == "" {
		reason = "Updated"
	}

	_, err = tx.Exec(`
		UPDATE knowledge_entries SET
			short_title = ?, long_title = ?, details = ?, project_ref = ?,
			tags = ?, hints = ?, base_confidence = ?, updated_at = ?,
			has_embedding = ?, version = ?
		WHERE id = ?
	`, e.ShortTitle, e.LongTitle, e.Details, nullString(e.ProjectRef),
		e.TagString(), string(hintsJSON), e.BaseConfidence, e.UpdatedAt,
		e.HasEmbedding, e.Version, e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO entry_versions (entry_id, version_number, snapshot_details, snapshot_confidence, change_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Version, e.Details, e.BaseConfidence, reason, e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert version row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update_entry: %w", err)
	}

	return e, nil
}

func getEntryTx(tx *sql.Tx, id string, includeInactive bool) (*Entry, error) {
	row := tx.QueryRow(`
		SELECT id, short_title, long_title, details, entry_type, project_ref,
		       tags, hints, base_confidence, created_at, updated_at,
		       last_accessed, is_active, has_embedding, version
		FROM knowledge_entries WHERE id = ?
	`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !e.IsActive && !includeInactive {
		return nil, nil
	}
	return e, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scannable) (*Entry, error) {
	var e Entry
	var projectRef sql.NullString
	var tagsStr, hintsJSON string

	if err := row.Scan(
		&e.ID, &e.ShortTitle, &e.LongTitle, &e.Details, &e.EntryType, &projectRef,
		&tagsStr, &hintsJSON, &e.BaseConfidence, &e.CreatedAt, &e.UpdatedAt,
		&e.LastAccessed, &e.IsActive, &e.HasEmbedding, &e.Version,
	); err != nil {
		return nil, err
	}

	e.ProjectRef = projectRef.String
	if tagsStr != "" {
		e.Tags = strings.Fields(tagsStr)
	}
	e.Hints = map[string]interface{}{}
	if hintsJSON != "" {
		_ = json.Unmarshal([]byte(hintsJSON), &e.Hints)
	}

	return &e, nil
}

// GetEntries fetches entries by id, skipping inactive ones unless
// includeInactive is set. The returned order mirrors ids where
// possible.
func (s *Store) GetEntries(ids []string, includeInactive bool) ([]*Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, short_title, long_title, details, entry_type, project_ref,
		       tags, hints, base_confidence, created_at, updated_at,
		       last_accessed, is_active, has_embedding, version
		FROM knowledge_entries WHERE id IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get_entries query: %w", err)
	}
	defer rows.Close()

	byID := map[string]*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if !e.IsActive && !includeInactive {
			continue
		}
		byID[e.ID] = e
	}

	ordered := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

// TouchAccessed batch-sets last_accessed=now. Invoked only on
// explicit retrieval (kb_get), never on search.
func (s *Store) TouchAccessed(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids)+1)
	args[0] = time.Now()
	for i, id := range ids {
		placeholders[i] = "?"
		args[i+1] = id
	}

	query := fmt.Sprintf(`UPDATE knowledge_entries SET last_accessed = ? WHERE id IN (%s)`, strings.Join(placeholders, ","))
	_, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("touch_accessed: %w", err)
	}
	return nil
}

// DeactivateEntry flips is_active to false (soft delete).
func (s *Store) DeactivateEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE knowledge_entries SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// PurgeEntry hard-deletes the entry row (cascading to versions via FK).
func (s *Store) PurgeEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM knowledge_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("purge entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// SetHasEmbedding updates the has_embedding flag outside of
// UpdateEntry's version bump — used by the embed step of the store
// pipeline, which must not create a spurious version row.
func (s *Store) SetHasEmbedding(id string, has bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE knowledge_entries SET has_embedding = ? WHERE id = ?`, has, id)
	if err != nil {
		return fmt.Errorf("set has_embedding: %w", err)
	}
	return nil
}

// EntriesByType lists active entries of the given type, most recently
// updated first. Used to resolve an entry-type-name graph scope (as
// opposed to a tag:/project:/person:/tool: node scope).
func (s *Store) EntriesByType(entryType string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, short_title, long_title, details, entry_type, project_ref,
		       tags, hints, base_confidence, created_at, updated_at,
		       last_accessed, is_active, has_embedding, version
		FROM knowledge_entries WHERE entry_type = ? AND is_active = 1
		ORDER BY updated_at DESC LIMIT ?
	`, entryType, limit)
	if err != nil {
		return nil, fmt.Errorf("entries_by_type query: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
