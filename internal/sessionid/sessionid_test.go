package sessionid

import (
	"testing"

	"github.com/kbgraph/kbd/pkg/config"
)

func TestResolveManualRequiresID(t *testing.T) {
	_, err := Resolve(config.SessionConfig{Strategy: "manual"})
	if err == nil {
		t.Fatal("expected error when manual_id is empty")
	}

	id, err := Resolve(config.SessionConfig{Strategy: "manual", ManualID: "fixed-id"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "fixed-id" {
		t.Fatalf("expected fixed-id, got %s", id)
	}
}

func TestResolveHashIsStableWithinProcess(t *testing.T) {
	a, err := Resolve(config.SessionConfig{Strategy: "hash"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	b, err := Resolve(config.SessionConfig{Strategy: "hash"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a != b {
		t.Fatalf("expected stable hash within one process, got %s and %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16-char hash, got %q", a)
	}
}

func TestResolveUnknownStrategy(t *testing.T) {
	if _, err := Resolve(config.SessionConfig{Strategy: "bogus"}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestResolveGitDirectoryFallsBackToWorkingDir(t *testing.T) {
	id, err := Resolve(config.SessionConfig{Strategy: "git-directory"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(id) != 16 {
		t.Fatalf("expected 16-char hash, got %q", id)
	}
}
