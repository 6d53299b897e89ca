package store

import "testing"

func TestBuildFTSQueryQuotesSpecialCharacters(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hello world", `"hello" "world"`},
		{"foo:bar", `"foo:bar"`},
		{"a-b(c)", `"a-b(c)"`},
		{"", `""`},
	}
	for _, c := range cases {
		got := buildFTSQuery(c.in)
		if got != c.want {
			t.Errorf("buildFTSQuery(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFTSSearchDoesNotErrorOnSpecialCharacters(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateEntry(CreateFields{
		ShortTitle: "colon test", LongTitle: "has a colon: and a dash-and (parens)",
		Details: "body", EntryType: "factual_reference",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, q := range []string{"foo:bar", "a-b", "(parens)"} {
		if _, err := s.FTSSearch(q, FTSFilters{}, 10); err != nil {
			t.Fatalf("fts_search(%q) returned error: %v", q, err)
		}
	}
}

func TestFTSSearchTagFilterIsBoundarySafe(t *testing.T) {
	s := newTestStore(t)

	match, err := s.CreateEntry(CreateFields{
		ShortTitle: "has foo tag", LongTitle: "l", Details: "d",
		EntryType: "factual_reference", Tags: []string{"foo", "bar"},
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	_, err = s.CreateEntry(CreateFields{
		ShortTitle: "has foobar tag", LongTitle: "l", Details: "d",
		EntryType: "factual_reference", Tags: []string{"foobar"},
	})
	if err != nil {
		t.Fatalf("create non-match: %v", err)
	}

	results, err := s.FTSSearch("has", FTSFilters{Tag: "foo"}, 10)
	if err != nil {
		t.Fatalf("fts_search: %v", err)
	}

	found := map[string]bool{}
	for _, r := range results {
		found[r.EntryID] = true
	}
	if !found[match.ID] {
		t.Fatalf("expected tag filter 'foo' to match entry with tags 'foo bar'")
	}
	for id := range found {
		if id != match.ID {
			t.Fatalf("tag filter 'foo' incorrectly matched %q (tags 'foobar')", id)
		}
	}
}

func TestFTSSearchExcludesInactiveEntries(t *testing.T) {
	s := newTestStore(t)

	e, err := s.CreateEntry(CreateFields{ShortTitle: "findme", LongTitle: "l", Details: "d", EntryType: "factual_reference"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeactivateEntry(e.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	results, err := s.FTSSearch("findme", FTSFilters{}, 10)
	if err != nil {
		t.Fatalf("fts_search: %v", err)
	}
	for _, r := range results {
		if r.EntryID == e.ID {
			t.Fatal("expected deactivated entry to be excluded from FTS results")
		}
	}
}
