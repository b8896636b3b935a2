package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sariproject/sari/internal/model"
)

// EngineVersion is the adapter's own version string, written into the
// readiness sidecar; bumped whenever the docs.db schema changes
// incompatibly.
const EngineVersion = "sari-sqlite-engine/1"

const schemaVersion = 1

// versionSidecar mirrors the on-disk readiness sidecar.
type versionSidecar struct {
	SchemaVersion  int    `json:"schema_version"`
	BuildTimestamp int64  `json:"build_timestamp"`
	DocCount       int    `json:"doc_count"`
	EngineVersion  string `json:"engine_version"`
	ConfigHash     string `json:"config_hash"`
}

const docsSchema = `
CREATE TABLE IF NOT EXISTS docs (
	id TEXT PRIMARY KEY,
	root_id TEXT, repo TEXT, path TEXT, rel_path TEXT,
	preview TEXT, mtime INTEGER, size INTEGER
);
CREATE VIRTUAL TABLE IF NOT EXISTS docs_fts USING fts5(
	id UNINDEXED, path_text, body_text
);
`

// SQLiteEngine is the one concrete Engine implementation: a second,
// independent modernc.org/sqlite database (its own file, its own
// commit) so an engine-sync failure never touches the primary store's
// transaction
type SQLiteEngine struct {
	dir        string
	db         *sql.DB
	configHash string
}

// Open opens (creating if absent) the engine database under dir
// ("engine-index/<roots-hash>" in the daemon's data dir), and reads or
// initializes the index_version.json sidecar. configHash identifies the
// current configuration; a mismatch against the sidecar's stored hash
// means the engine must be rebuilt before it can be trusted.
func Open(dir string, configHash string) (*SQLiteEngine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create engine dir: %w", err)
	}
	dbPath := filepath.Join(dir, "docs.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open engine db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(docsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply engine schema: %w", err)
	}
	return &SQLiteEngine{dir: dir, db: db, configHash: configHash}, nil
}

func (e *SQLiteEngine) sidecarPath() string {
	return filepath.Join(e.dir, "index_version.json")
}

func (e *SQLiteEngine) writeSidecar(ctx context.Context) error {
	var count int
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs`).Scan(&count); err != nil {
		return fmt.Errorf("count docs: %w", err)
	}
	sc := versionSidecar{
		SchemaVersion:  schemaVersion,
		BuildTimestamp: time.Now().Unix(),
		DocCount:       count,
		EngineVersion:  EngineVersion,
		ConfigHash:     e.configHash,
	}
	b, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	return os.WriteFile(e.sidecarPath(), b, 0o644)
}

func (e *SQLiteEngine) readSidecar() (versionSidecar, bool) {
	b, err := os.ReadFile(e.sidecarPath())
	if err != nil {
		return versionSidecar{}, false
	}
	var sc versionSidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return versionSidecar{}, false
	}
	return sc, true
}

// UpsertDocuments writes docs into both the metadata table and the FTS
// index, then refreshes the readiness sidecar.
func (e *SQLiteEngine) UpsertDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, d := range docs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO docs (id, root_id, repo, path, rel_path, preview, mtime, size)
			VALUES (?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET root_id=excluded.root_id, repo=excluded.repo,
				path=excluded.path, rel_path=excluded.rel_path, preview=excluded.preview,
				mtime=excluded.mtime, size=excluded.size`,
			d.ID, d.RootID.Hex(), d.Repo, d.Path, d.RelPath, d.Preview, d.Mtime, d.Size); err != nil {
			return fmt.Errorf("upsert doc metadata %s: %w", d.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM docs_fts WHERE id = ?`, d.ID); err != nil {
			return fmt.Errorf("clear doc fts %s: %w", d.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO docs_fts (id, path_text, body_text) VALUES (?,?,?)`,
			d.ID, d.PathText, d.BodyText); err != nil {
			return fmt.Errorf("upsert doc fts %s: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return e.writeSidecar(ctx)
}

// DeleteDocuments removes docIDs from both tables.
func (e *SQLiteEngine) DeleteDocuments(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()
	for _, id := range docIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM docs WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete doc %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM docs_fts WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete doc fts %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return e.writeSidecar(ctx)
}

// Search runs a conjunctive FTS5 MATCH query, then applies the
// root/repo/extension/path filters  on the joined
// metadata row. Scores are FTS5's bm25(), negated so higher is better.
func (e *SQLiteEngine) Search(ctx context.Context, query string, limits Limits) ([]Hit, SearchMeta, error) {
	max := limits.Max
	if max <= 0 {
		max = 20
	}

	match := ftsMatchExpr(query)
	if match == "" {
		return nil, SearchMeta{TotalMode: "exact", Total: 0}, nil
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT d.id, d.root_id, d.repo, d.path, -bm25(docs_fts) AS score
		FROM docs_fts JOIN docs d ON d.id = docs_fts.id
		WHERE docs_fts MATCH ?
		ORDER BY score DESC
		LIMIT ?`, match, max*4) // over-fetch, filters below may drop rows
	if err != nil {
		return nil, SearchMeta{}, fmt.Errorf("engine search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id, rootHex, repo, path string
		var score float64
		if err := rows.Scan(&id, &rootHex, &repo, &path, &score); err != nil {
			return nil, SearchMeta{}, fmt.Errorf("engine search scan: %w", err)
		}
		if !passesLimits(rootHex, repo, path, limits) {
			continue
		}
		hits = append(hits, Hit{DocID: id, Score: score})
		if len(hits) >= max {
			break
		}
	}
	return hits, SearchMeta{TotalMode: "approx", Total: len(hits)}, rows.Err()
}

func passesLimits(rootHex, repo, path string, limits Limits) bool {
	if limits.RootID != nil && rootHex != limits.RootID.Hex() {
		return false
	}
	if limits.Repo != "" && repo != limits.Repo {
		return false
	}
	if limits.FileExt != "" && !strings.HasSuffix(path, limits.FileExt) {
		return false
	}
	if limits.PathGlob != "" {
		if ok, _ := filepath.Match(limits.PathGlob, path); !ok {
			return false
		}
	}
	for _, ex := range limits.ExcludeGlobs {
		if ok, _ := filepath.Match(ex, path); ok {
			return false
		}
	}
	return true
}

// ftsMatchExpr turns a pre-normalized query (see internal/search) into
// an FTS5 MATCH expression: quoted phrases pass through, bare tokens are
// ANDed, matching  "conjunctive parser".
func ftsMatchExpr(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " AND ")
}

// Status reports readiness: the sidecar must exist, its config hash
// must match the current configuration, and it must carry a non-empty
// engine version
func (e *SQLiteEngine) Status(ctx context.Context) Status {
	sc, ok := e.readSidecar()
	if !ok {
		return Status{Ready: false, Reason: "NOT_BUILT", Hint: "run a full scan to build the engine index"}
	}
	if sc.EngineVersion == "" {
		return Status{Ready: false, Reason: "NO_VERSION", Hint: "rebuild the engine index"}
	}
	if sc.ConfigHash != e.configHash {
		return Status{Ready: false, Reason: "CONFIG_CHANGED", Hint: "configuration changed since the engine index was built; rebuild it",
			Version: sc.EngineVersion, DocCount: sc.DocCount}
	}
	return Status{Ready: true, Version: sc.EngineVersion, DocCount: sc.DocCount}
}

// Close releases the underlying connection.
func (e *SQLiteEngine) Close() error {
	return e.db.Close()
}

var _ = model.RootID{} // keep model imported for the Document.RootID type above
