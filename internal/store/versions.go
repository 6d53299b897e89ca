package store

import (
	"fmt"
	"time"
)

// VersionRecord is a single snapshot row in entry_versions.
type VersionRecord struct {
	EntryID            string
	VersionNumber      int
	SnapshotDetails    string
	SnapshotConfidence float64
	ChangeReason       string
	CreatedAt          time.Time
}

// GetVersions returns every version row for an entry, ordered by
// version_number ascending.
func (s *Store) GetVersions(entryID string) ([]*VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT entry_id, version_number, snapshot_details, snapshot_confidence, change_reason, created_at
		FROM entry_versions WHERE entry_id = ? ORDER BY version_number ASC
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("get_versions query: %w", err)
	}
	defer rows.Close()

	var out []*VersionRecord
	for rows.Next() {
		var v VersionRecord
		if err := rows.Scan(&v.EntryID, &v.VersionNumber, &v.SnapshotDetails, &v.SnapshotConfidence, &v.ChangeReason, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, &v)
	}
	return out, nil
}
