package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kbgraph/kbd/internal/logging"
)

var log = logging.GetLogger("store")

func init() {
	sqlite_vec.Auto()
}

// Store is the single-file transactional knowledge store. It owns the
// physical schema — entries, versions, FTS index, vector index, graph
// nodes and edges, the id sequence, and the ingested-file registry —
// and is the only component that talks to SQLite directly.
type Store struct {
	db          *sql.DB
	path        string
	mu          sync.RWMutex
	vecDim      int
	vecEnabled  bool
	vecTable    string
}

// Open opens (creating if absent) the single store file, enables WAL
// and foreign keys, and initialises the schema including the vec0
// vector table sized to dim. A failure to load the vector extension
// degrades vecEnabled to false rather than failing the open.
func Open(path string, dim int) (*Store, error) {
	log.Info("opening store", "path", path, "dim", dim)

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	s := &Store{
		db:       db,
		path:     path,
		vecDim:   dim,
		vecTable: VecTableName,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	s.probeVector()

	return s, nil
}

func (s *Store) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='knowledge_entries' LIMIT 1`).Scan(&existing)
	if err == nil && existing != "" {
		log.Debug("schema already initialized")
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(CoreSchema); err != nil {
		return fmt.Errorf("apply core schema: %w", err)
	}
	if _, err := tx.Exec(FTS5Schema); err != nil {
		return fmt.Errorf("apply fts schema: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// probeVector checks whether the vec0 extension loaded successfully
// and, if so, creates the dimension-sized virtual table. Any failure
// here only disables vector indexing; it never fails Open.
func (s *Store) probeVector() {
	var version string
	if err := s.db.QueryRow(`SELECT vec_version()`).Scan(&version); err != nil {
		log.Warn("vector extension unavailable, embeddings disabled", "error", err)
		s.vecEnabled = false
		return
	}

	ddl := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d], +entry_id TEXT)`,
		s.vecTable, s.vecDim,
	)
	if _, err := s.db.Exec(ddl); err != nil {
		log.Warn("failed to create vector table, embeddings disabled", "error", err)
		s.vecEnabled = false
		return
	}

	log.Info("vector index ready", "extension_version", version, "dim", s.vecDim)
	s.vecEnabled = true
}

// VectorAvailable reports whether the backing vec0 extension loaded
// and the vector table is usable.
func (s *Store) VectorAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vecEnabled
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the store's file path.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying *sql.DB for components that need raw
// access (migrations, stats); most callers should prefer the typed
// primitives on Store.
func (s *Store) DB() *sql.DB {
	return s.db
}
