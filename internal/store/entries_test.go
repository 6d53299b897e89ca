package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, 8)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateEntryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	e, err := s.CreateEntry(CreateFields{
		ShortTitle: "short",
		LongTitle:  "a longer title",
		Details:    "some details",
		EntryType:  "decision",
		Tags:       []string{"foo", "bar"},
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}

	if !matchKBID(e.ID) {
		t.Fatalf("id %q does not match kb-XXXXX shape", e.ID)
	}
	if e.Version != 1 {
		t.Fatalf("expected version 1, got %d", e.Version)
	}
	if e.BaseConfidence != 0.9 {
		t.Fatalf("expected default confidence 0.9, got %v", e.BaseConfidence)
	}

	fetched, err := s.GetEntries([]string{e.ID}, false)
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}
	if len(fetched) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(fetched))
	}
	if fetched[0].ShortTitle != "short" || fetched[0].Details != "some details" {
		t.Fatalf("round-trip mismatch: %+v", fetched[0])
	}
}

func TestCreateEntryRejectsInvalidType(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateEntry(CreateFields{ShortTitle: "x", LongTitle: "y", EntryType: "not_a_real_type"})
	if err == nil {
		t.Fatal("expected validation error for invalid entry_type")
	}
	var ve *ValidationError
	if !asValidationError(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func TestCreateEntryRejectsTagsWithWhitespace(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateEntry(CreateFields{ShortTitle: "x", LongTitle: "y", EntryType: "decision", Tags: []string{"has space"}})
	if err == nil {
		t.Fatal("expected validation error for whitespace-containing tag")
	}
}

func TestUpdateEntryVersionsAreMonotone(t *testing.T) {
	s := newTestStore(t)

	e, err := s.CreateEntry(CreateFields{ShortTitle: "x", LongTitle: "y", Details: "v1", EntryType: "decision"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		detail := "v" + string(rune('2'+i))
		_, err := s.UpdateEntry(e.ID, UpdatePatch{Details: &detail}, "edit")
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	versions, err := s.GetVersions(e.ID)
	if err != nil {
		t.Fatalf("get versions: %v", err)
	}
	if len(versions) != 4 {
		t.Fatalf("expected 4 version rows (1 create + 3 updates), got %d", len(versions))
	}
	for i, v := range versions {
		if v.VersionNumber != i+1 {
			t.Fatalf("expected monotone version numbers, got %d at index %d", v.VersionNumber, i)
		}
	}
	if versions[0].ChangeReason != "Initial creation" {
		t.Fatalf("expected first version reason 'Initial creation', got %q", versions[0].ChangeReason)
	}
}

func TestUpdateEntryClearsHasEmbeddingOnDetailsChange(t *testing.T) {
	s := newTestStore(t)

	e, err := s.CreateEntry(CreateFields{ShortTitle: "x", LongTitle: "y", Details: "orig", EntryType: "decision"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetHasEmbedding(e.ID, true); err != nil {
		t.Fatalf("set has_embedding: %v", err)
	}

	newDetails := "changed"
	updated, err := s.UpdateEntry(e.ID, UpdatePatch{Details: &newDetails}, "edit")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.HasEmbedding {
		t.Fatal("expected has_embedding cleared after details change")
	}
}

func TestUpdateEntryNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateEntry("kb-99999", UpdatePatch{}, "edit")
	if err == nil {
		t.Fatal("expected NotFoundError")
	}
}

func TestDeactivateEntryHidesFromDefaultGet(t *testing.T) {
	s := newTestStore(t)
	e, err := s.CreateEntry(CreateFields{ShortTitle: "x", LongTitle: "y", EntryType: "decision"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeactivateEntry(e.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	visible, err := s.GetEntries([]string{e.ID}, false)
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}
	if len(visible) != 0 {
		t.Fatal("expected deactivated entry to be invisible by default")
	}

	withInactive, err := s.GetEntries([]string{e.ID}, true)
	if err != nil {
		t.Fatalf("get entries (include inactive): %v", err)
	}
	if len(withInactive) != 1 {
		t.Fatal("expected deactivated entry visible with include_inactive=true")
	}
}

func matchKBID(id string) bool {
	if len(id) != 8 || id[:3] != "kb-" {
		return false
	}
	for _, c := range id[3:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func asValidationError(err error, target **ValidationError) bool {
	if ve, ok := err.(*ValidationError); ok {
		*target = ve
		return true
	}
	return false
}
