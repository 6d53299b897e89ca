package store

import (
	"fmt"
	"time"
)

// SessionStats is the observational record for one process lifetime,
// consumed only by administrative/statistics tooling — never by the
// retrieval core.
type SessionStats struct {
	SessionID      string
	StartedAt      time.Time
	LastSeenAt     time.Time
	OperationCount int
}

// EnsureSession creates the session row on first call for a given id
// and bumps last_seen_at/operation_count on every subsequent call,
// mirroring the update-then-insert-if-0-rows convention this store's
// predecessor uses for session bookkeeping.
func (s *Store) EnsureSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE sessions SET last_seen_at = ?, operation_count = operation_count + 1
		WHERE session_id = ?
	`, now, sessionID)
	if err != nil {
		return fmt.Errorf("ensure_session update: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (session_id, started_at, last_seen_at, operation_count)
		VALUES (?, ?, ?, 1)
	`, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("ensure_session insert: %w", err)
	}
	return nil
}

// GetSessionStats returns the row for sessionID, or nil if it has
// never been seen.
func (s *Store) GetSessionStats(sessionID string) (*SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st SessionStats
	err := s.db.QueryRow(`
		SELECT session_id, started_at, last_seen_at, operation_count FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&st.SessionID, &st.StartedAt, &st.LastSeenAt, &st.OperationCount)
	if err != nil {
		return nil, nil
	}
	return &st, nil
}
