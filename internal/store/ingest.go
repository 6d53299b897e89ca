package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// IngestedFile is a row in ingested_files, uniquely keyed by
// absolute path.
type IngestedFile struct {
	AbsolutePath string
	SHA256       string
	NoteNodeID   string
	EntryIDs     []string
	Summary      string
	Size         int64
	Extension    string
	ProjectRef   string
	Redactions   []Redaction
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsActive     bool
}

// Redaction records one secret/PII match the ingestion pipeline
// scrubbed before summarisation.
type Redaction struct {
	Offset  int    `json:"offset"`
	Pattern string `json:"pattern"`
}

// RecordIngestedFile upserts by absolute path.
func (s *Store) RecordIngestedFile(f *IngestedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryIDsJSON, err := json.Marshal(f.EntryIDs)
	if err != nil {
		return &CorruptionError{What: "entry_ids", Err: err}
	}
	redactionsJSON, err := json.Marshal(f.Redactions)
	if err != nil {
		return &CorruptionError{What: "redactions", Err: err}
	}

	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO ingested_files (
			absolute_path, sha256, note_node_id, entry_ids, summary, size,
			extension, project_ref, redactions, created_at, updated_at, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(absolute_path) DO UPDATE SET
			sha256 = excluded.sha256,
			note_node_id = excluded.note_node_id,
			entry_ids = excluded.entry_ids,
			summary = excluded.summary,
			size = excluded.size,
			extension = excluded.extension,
			project_ref = excluded.project_ref,
			redactions = excluded.redactions,
			updated_at = excluded.updated_at,
			is_active = 1
	`, f.AbsolutePath, f.SHA256, f.NoteNodeID, string(entryIDsJSON), f.Summary, f.Size,
		f.Extension, nullString(f.ProjectRef), string(redactionsJSON), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record_ingested_file: %w", err)
	}
	return nil
}

// GetIngestedFile looks up a record by absolute path, or nil if absent.
func (s *Store) GetIngestedFile(path string) (*IngestedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f IngestedFile
	var projectRef sql.NullString
	var entryIDsJSON, redactionsJSON string

	err := s.db.QueryRow(`
		SELECT absolute_path, sha256, note_node_id, entry_ids, summary, size,
		       extension, project_ref, redactions, created_at, updated_at, is_active
		FROM ingested_files WHERE absolute_path = ?
	`, path).Scan(&f.AbsolutePath, &f.SHA256, &f.NoteNodeID, &entryIDsJSON, &f.Summary, &f.Size,
		&f.Extension, &projectRef, &redactionsJSON, &f.CreatedAt, &f.UpdatedAt, &f.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_ingested_file: %w", err)
	}

	f.ProjectRef = projectRef.String
	_ = json.Unmarshal([]byte(entryIDsJSON), &f.EntryIDs)
	_ = json.Unmarshal([]byte(redactionsJSON), &f.Redactions)

	return &f, nil
}
