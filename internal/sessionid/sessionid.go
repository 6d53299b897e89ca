// Package sessionid resolves the process-lifetime session identifier
// used for observational tracking (internal/store's sessions table).
package sessionid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kbgraph/kbd/pkg/config"
)

// Resolve derives a session id per cfg.Strategy. It never returns an
// error for "hash" or "manual" with a non-empty ManualID; "git-directory"
// falls back to a working-directory hash when no .git is found.
func Resolve(cfg config.SessionConfig) (string, error) {
	switch cfg.Strategy {
	case "manual":
		if cfg.ManualID == "" {
			return "", fmt.Errorf("session.manual_id must be set when session.strategy is manual")
		}
		return cfg.ManualID, nil
	case "hash":
		host, _ := os.Hostname()
		return hash(fmt.Sprintf("%s-%d", host, os.Getpid())), nil
	case "git-directory", "":
		root, err := gitRoot()
		if err != nil {
			wd, _ := os.Getwd()
			return hash(wd), nil
		}
		return hash(root), nil
	default:
		return "", fmt.Errorf("unknown session strategy %q", cfg.Strategy)
	}
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// gitRoot walks upward from the working directory looking for a .git
// entry, mirroring how a git worktree identifies its own repository.
func gitRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .git directory found above %s", dir)
		}
		dir = parent
	}
}
