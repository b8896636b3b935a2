// Package storage implements the DB Writer (C8) and Storage Schema (C9):
// a single-writer, batched SQLite store with mandatory per-batch
// operation ordering, a staging table for full-scan merges, and a
// dead-letter queue table (failed_tasks). A batch whose commit fails is
// retried item by item; an item that still fails is logged and skipped,
// not queued in the dead-letter table.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // driver registration

	"github.com/sariproject/sari/internal/logging"
)

// schema holds every table and index. Columns follow conceptual domain
// types; SQLite's dynamic typing means "INTEGER"
// and "TEXT" here are storage affinities, not strict constraints.
const schema = `
CREATE TABLE IF NOT EXISTS roots (
	root_id    TEXT PRIMARY KEY,
	root_path  TEXT UNIQUE NOT NULL,
	real_path  TEXT,
	label      TEXT,
	created_ts INTEGER,
	updated_ts INTEGER
);

CREATE TABLE IF NOT EXISTS files (
	path          TEXT PRIMARY KEY,
	rel_path      TEXT NOT NULL,
	root_id       TEXT NOT NULL REFERENCES roots(root_id),
	repo          TEXT NOT NULL,
	mtime         INTEGER,
	size          INTEGER,
	content       TEXT,
	content_hash  INTEGER,
	fts_content   TEXT,
	last_seen     INTEGER,
	is_binary     INTEGER DEFAULT 0,
	is_minified   INTEGER DEFAULT 0,
	deleted       INTEGER DEFAULT 0,
	content_bytes INTEGER,
	parse_status  TEXT,
	parse_reason  TEXT,
	ast_status    TEXT,
	ast_reason    TEXT,
	metadata_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_files_root   ON files(root_id);
CREATE INDEX IF NOT EXISTS idx_files_repo   ON files(root_id, repo);

CREATE TABLE IF NOT EXISTS staging_files (
	path          TEXT PRIMARY KEY,
	rel_path      TEXT NOT NULL,
	root_id       TEXT NOT NULL,
	repo          TEXT NOT NULL,
	mtime         INTEGER,
	size          INTEGER,
	content       TEXT,
	content_hash  INTEGER,
	fts_content   TEXT,
	last_seen     INTEGER,
	is_binary     INTEGER DEFAULT 0,
	is_minified   INTEGER DEFAULT 0,
	deleted       INTEGER DEFAULT 0,
	content_bytes INTEGER,
	parse_status  TEXT,
	parse_reason  TEXT,
	ast_status    TEXT,
	ast_reason    TEXT,
	metadata_json TEXT
);

CREATE TABLE IF NOT EXISTS symbols (
	symbol_id      INTEGER NOT NULL,
	path           TEXT NOT NULL REFERENCES files(path),
	root_id        TEXT NOT NULL,
	name           TEXT NOT NULL,
	symbol_name_lc TEXT NOT NULL,
	kind           TEXT NOT NULL,
	line           INTEGER,
	end_line       INTEGER,
	decl_line      TEXT,
	parent         TEXT,
	docstring      TEXT,
	metadata_json  TEXT,
	PRIMARY KEY (symbol_id, path)
);
CREATE INDEX IF NOT EXISTS idx_symbols_path   ON symbols(path);
CREATE INDEX IF NOT EXISTS idx_symbols_name   ON symbols(symbol_name_lc);

CREATE TABLE IF NOT EXISTS symbol_relations (
	from_path        TEXT NOT NULL,
	from_root_id     TEXT NOT NULL,
	from_symbol      TEXT NOT NULL,
	from_symbol_id   INTEGER NOT NULL,
	to_path          TEXT,
	to_root_id       TEXT,
	to_symbol        TEXT NOT NULL,
	to_symbol_id     INTEGER,
	rel_type         TEXT NOT NULL,
	line             INTEGER,
	metadata_json    TEXT,
	UNIQUE (from_path, from_symbol_id, to_symbol, rel_type, line)
);
CREATE INDEX IF NOT EXISTS idx_relations_from ON symbol_relations(from_path);
CREATE INDEX IF NOT EXISTS idx_relations_to   ON symbol_relations(to_symbol);

CREATE TABLE IF NOT EXISTS repo_meta (
	repo_name   TEXT PRIMARY KEY,
	tags        TEXT,
	domain      TEXT,
	description TEXT,
	priority    INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS snippets (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	tag          TEXT NOT NULL,
	path         TEXT NOT NULL,
	root_id      TEXT NOT NULL,
	start_line   INTEGER,
	end_line     INTEGER,
	content      TEXT,
	content_hash INTEGER,
	created_ts   INTEGER,
	updated_ts   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_snippets_tag ON snippets(tag);

CREATE TABLE IF NOT EXISTS failed_tasks (
	path         TEXT NOT NULL,
	root_id      TEXT NOT NULL,
	attempts     INTEGER DEFAULT 0,
	error        TEXT,
	ts           INTEGER,
	next_retry   INTEGER,
	payload_json TEXT,
	PRIMARY KEY (path, root_id)
);
CREATE INDEX IF NOT EXISTS idx_failed_next_retry ON failed_tasks(next_retry);

CREATE VIRTUAL TABLE IF NOT EXISTS files_fts USING fts5(
	path UNINDEXED, rel_path, fts_content, content='files', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS files_ai AFTER INSERT ON files BEGIN
	INSERT INTO files_fts(rowid, path, rel_path, fts_content)
	VALUES (new.rowid, new.path, new.rel_path, new.fts_content);
END;
CREATE TRIGGER IF NOT EXISTS files_ad AFTER DELETE ON files BEGIN
	INSERT INTO files_fts(files_fts, rowid, path, rel_path, fts_content)
	VALUES ('delete', old.rowid, old.path, old.rel_path, old.fts_content);
END;
CREATE TRIGGER IF NOT EXISTS files_au AFTER UPDATE ON files BEGIN
	INSERT INTO files_fts(files_fts, rowid, path, rel_path, fts_content)
	VALUES ('delete', old.rowid, old.path, old.rel_path, old.fts_content);
	INSERT INTO files_fts(rowid, path, rel_path, fts_content)
	VALUES (new.rowid, new.path, new.rel_path, new.fts_content);
END;
`

// DB wraps the ACID SQLite store. Batched mutation goes through a
// Writer; ApplyBatch (synchronous index_file), TouchLastSeen and the
// staging methods also write directly. DB itself also serves read queries directly (readsvc/search), since
// SQLite's WAL mode allows concurrent readers alongside the one writer.
type DB struct {
	sql *sql.DB
}

// Open creates dbPath's parent directory if needed, opens it with WAL
// mode and a busy timeout appropriate for a single-writer/many-reader
// daemon, and applies the schema (idempotent: every statement is
// CREATE ... IF NOT EXISTS).
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY storms; readers use
	// the same *sql.DB but WAL mode lets them proceed concurrently.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{sql: conn}, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.sql.Close()
}

var log = logging.For("storage")
