package store

// CoreSchema creates the physical tables backing the knowledge store.
// Applied once, inside a transaction, on first open of a fresh file.
const CoreSchema = `
CREATE TABLE IF NOT EXISTS entry_id_seq (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	next_value INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO entry_id_seq (id, next_value) VALUES (1, 1);

CREATE TABLE IF NOT EXISTS knowledge_entries (
	id TEXT PRIMARY KEY,
	short_title TEXT NOT NULL,
	long_title TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	entry_type TEXT NOT NULL CHECK (entry_type IN ('factual_reference', 'decision', 'pattern_convention', 'lesson_learned')),
	project_ref TEXT,
	tags TEXT NOT NULL DEFAULT '',
	hints TEXT NOT NULL DEFAULT '{}',
	base_confidence REAL NOT NULL DEFAULT 0.9 CHECK (base_confidence >= 0.0 AND base_confidence <= 1.0),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_accessed DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	has_embedding BOOLEAN NOT NULL DEFAULT 0,
	version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_entries_active ON knowledge_entries(is_active);
CREATE INDEX IF NOT EXISTS idx_entries_project ON knowledge_entries(project_ref);
CREATE INDEX IF NOT EXISTS idx_entries_type ON knowledge_entries(entry_type);

CREATE TABLE IF NOT EXISTS entry_versions (
	entry_id TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	snapshot_details TEXT NOT NULL,
	snapshot_confidence REAL NOT NULL,
	change_reason TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (entry_id, version_number),
	FOREIGN KEY (entry_id) REFERENCES knowledge_entries(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS graph_nodes (
	node_id TEXT PRIMARY KEY,
	node_type TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_graph_nodes_type ON graph_nodes(node_type);

CREATE TABLE IF NOT EXISTS graph_edges (
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	edge_type TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (source_id, target_id, edge_type)
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(target_id);

CREATE TABLE IF NOT EXISTS ingested_files (
	absolute_path TEXT PRIMARY KEY,
	sha256 TEXT NOT NULL,
	note_node_id TEXT NOT NULL,
	entry_ids TEXT NOT NULL DEFAULT '[]',
	summary TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	extension TEXT NOT NULL DEFAULT '',
	project_ref TEXT,
	redactions TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	is_active BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	operation_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// FTS5Schema creates the lexical index and the triggers that keep it
// synchronised with knowledge_entries. The Porter tokenizer is layered
// on top of unicode61 so stemming and unicode normalisation both apply.
const FTS5Schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
	entry_id UNINDEXED,
	short_title,
	long_title,
	details,
	tags,
	tokenize = 'porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS trg_entries_fts_insert
AFTER INSERT ON knowledge_entries
WHEN new.is_active = 1
BEGIN
	INSERT INTO knowledge_fts (entry_id, short_title, long_title, details, tags)
	VALUES (new.id, new.short_title, new.long_title, new.details, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS trg_entries_fts_update
AFTER UPDATE ON knowledge_entries
BEGIN
	DELETE FROM knowledge_fts WHERE entry_id = old.id;
	INSERT INTO knowledge_fts (entry_id, short_title, long_title, details, tags)
	SELECT new.id, new.short_title, new.long_title, new.details, new.tags
	WHERE new.is_active = 1;
END;

CREATE TRIGGER IF NOT EXISTS trg_entries_fts_delete
AFTER DELETE ON knowledge_entries
BEGIN
	DELETE FROM knowledge_fts WHERE entry_id = old.id;
END;
`

// VecTableName is the name of the vec0 virtual table backing the
// vector index. Its dimension is fixed at creation time from the
// configured embedding dimension, so it is built with a format string
// rather than a static constant (see OpenVectorTable).
const VecTableName = "knowledge_vec"

// CurrentSchemaVersion is recorded in schema_version after a
// successful InitSchema on a fresh file.
const CurrentSchemaVersion = 1
