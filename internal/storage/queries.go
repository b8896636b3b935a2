package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/sariproject/sari/internal/indexworker"
	"github.com/sariproject/sari/internal/model"
)

// Lookup adapts DB's read path to indexworker.Lookup: the (mtime, size)
// state the index worker compares against to decide whether a file's
// content is unchanged.
func (db *DB) Lookup(fileKey string) indexworker.Existing {
	var mtime, size, hash int64
	err := db.sql.QueryRow(`SELECT mtime, size, content_hash FROM files WHERE path = ?`, fileKey).
		Scan(&mtime, &size, &hash)
	if err != nil {
		return indexworker.Existing{}
	}
	return indexworker.Existing{Found: true, Mtime: mtime, Size: size, ContentHash: uint64(hash)}
}

// GetFile returns the stored row for path, if any.
func (db *DB) GetFile(ctx context.Context, path string) (model.File, bool) {
	var f model.File
	var rootHex, parseStatus, astStatus string
	var contentHash int64
	err := db.sql.QueryRowContext(ctx, `SELECT path, rel_path, root_id, repo, mtime, size, content,
		content_hash, fts_content, last_seen, is_binary, is_minified, deleted, content_bytes,
		parse_status, parse_reason, ast_status, ast_reason, metadata_json
		FROM files WHERE path = ?`, path).Scan(
		&f.Path, &f.RelPath, &rootHex, &f.Repo, &f.Mtime, &f.Size, &f.Content,
		&contentHash, &f.FTSContent, &f.LastSeen, &f.IsBinary, &f.IsMinified, &f.Deleted,
		&f.ContentBytes, &parseStatus, &f.ParseReason, &astStatus, &f.ASTReason, &f.MetadataJSON)
	if err != nil {
		return model.File{}, false
	}
	f.ContentHash = uint64(contentHash)
	f.ParseStatus = model.ParseStatus(parseStatus)
	f.ASTStatus = model.ParseStatus(astStatus)
	f.RootID, _ = model.ParseRootID(rootHex)
	return f, true
}

// ListSymbolsByPath returns every symbol stored for path.
func (db *DB) ListSymbolsByPath(ctx context.Context, path string) ([]model.Symbol, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT symbol_id, path, root_id, name, kind, line,
		end_line, decl_line, parent, docstring, metadata_json FROM symbols WHERE path = ? ORDER BY line`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Symbol
	for rows.Next() {
		var s model.Symbol
		var rootHex, kind string
		var symbolID int64
		if err := rows.Scan(&symbolID, &s.Path, &rootHex, &s.Name, &kind, &s.Line,
			&s.EndLine, &s.DeclLine, &s.Parent, &s.Docstring, &s.MetadataJSON); err != nil {
			return nil, err
		}
		s.SymbolID = uint64(symbolID)
		s.Kind = model.SymbolKind(kind)
		s.NameLower = lower(s.Name)
		s.RootID, _ = model.ParseRootID(rootHex)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSymbolsByName returns every symbol whose lowercased name equals
// nameLower, across all files.
func (db *DB) ListSymbolsByName(ctx context.Context, nameLower string) ([]model.Symbol, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT symbol_id, path, root_id, name, kind, line,
		end_line, decl_line, parent, docstring, metadata_json FROM symbols
		WHERE symbol_name_lc = ? ORDER BY path, line`, nameLower)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Symbol
	for rows.Next() {
		var s model.Symbol
		var rootHex, kind string
		var symbolID int64
		if err := rows.Scan(&symbolID, &s.Path, &rootHex, &s.Name, &kind, &s.Line,
			&s.EndLine, &s.DeclLine, &s.Parent, &s.Docstring, &s.MetadataJSON); err != nil {
			return nil, err
		}
		s.SymbolID = uint64(symbolID)
		s.Kind = model.SymbolKind(kind)
		s.NameLower = nameLower
		s.RootID, _ = model.ParseRootID(rootHex)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListRelationsTo returns every relation whose to_symbol equals name
// (the "callers of" / "implementations of" query shape).
func (db *DB) ListRelationsTo(ctx context.Context, name string) ([]model.Relation, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT from_path, from_root_id, from_symbol,
		from_symbol_id, to_path, to_root_id, to_symbol, to_symbol_id, rel_type, line, metadata_json
		FROM symbol_relations WHERE to_symbol = ? ORDER BY from_path, line`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelations(rows)
}

// ListRelationsFrom returns every relation whose from_symbol equals name
// (the call-graph "outgoing edges" query shape).
func (db *DB) ListRelationsFrom(ctx context.Context, name string) ([]model.Relation, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT from_path, from_root_id, from_symbol,
		from_symbol_id, to_path, to_root_id, to_symbol, to_symbol_id, rel_type, line, metadata_json
		FROM symbol_relations WHERE from_symbol = ? ORDER BY to_path, line`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelations(rows)
}

func scanRelations(rows *sql.Rows) ([]model.Relation, error) {
	var out []model.Relation
	for rows.Next() {
		var r model.Relation
		var fromRootHex, toRootHex, relType string
		var fromSymbolID, toSymbolID int64
		if err := rows.Scan(&r.FromPath, &fromRootHex, &r.FromSymbol, &fromSymbolID,
			&r.ToPath, &toRootHex, &r.ToSymbol, &toSymbolID, &relType, &r.Line, &r.MetadataJSON); err != nil {
			return nil, err
		}
		r.FromSymbolID = uint64(fromSymbolID)
		r.ToSymbolID = uint64(toSymbolID)
		r.RelType = model.RelationType(relType)
		r.FromRootID, _ = model.ParseRootID(fromRootHex)
		if toRootHex != "" {
			r.ToRootID, _ = model.ParseRootID(toRootHex)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SearchSymbolsByNameSubstring returns every symbol whose lowercased
// name contains substrLower, across all files, capped at limit. Used by
// the symbol-search and API-endpoint tool surface, which need a broader
// match than ListSymbolsByName's exact lookup.
func (db *DB) SearchSymbolsByNameSubstring(ctx context.Context, substrLower string, limit int) ([]model.Symbol, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(substrLower)
	pattern := "%" + escaped + "%"
	rows, err := db.sql.QueryContext(ctx, `SELECT symbol_id, path, root_id, name, kind, line,
		end_line, decl_line, parent, docstring, metadata_json FROM symbols
		WHERE symbol_name_lc LIKE ? ESCAPE '\' ORDER BY path, line LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Symbol
	for rows.Next() {
		var s model.Symbol
		var rootHex, kind string
		var symbolID int64
		if err := rows.Scan(&symbolID, &s.Path, &rootHex, &s.Name, &kind, &s.Line,
			&s.EndLine, &s.DeclLine, &s.Parent, &s.Docstring, &s.MetadataJSON); err != nil {
			return nil, err
		}
		s.SymbolID = uint64(symbolID)
		s.Kind = model.SymbolKind(kind)
		s.NameLower = lower(s.Name)
		s.RootID, _ = model.ParseRootID(rootHex)
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetRepoMeta returns the stored metadata for repoName, if any.
func (db *DB) GetRepoMeta(ctx context.Context, repoName string) (model.RepoMeta, bool) {
	var m model.RepoMeta
	var tagsJSON string
	err := db.sql.QueryRowContext(ctx, `SELECT repo_name, tags, domain, description, priority
		FROM repo_meta WHERE repo_name = ?`, repoName).
		Scan(&m.RepoName, &tagsJSON, &m.Domain, &m.Description, &m.Priority)
	if err != nil {
		return model.RepoMeta{}, false
	}
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	return m, true
}

// DueFailedTasks returns DLQ rows whose next_retry has passed asOf,
// the scheduler's retry-sweep query.
func (db *DB) DueFailedTasks(ctx context.Context, asOf int64, limit int) ([]model.FailedTask, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT path, root_id, attempts, error, ts, next_retry,
		payload_json FROM failed_tasks WHERE next_retry <= ? ORDER BY next_retry LIMIT ?`, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FailedTask
	for rows.Next() {
		var ft model.FailedTask
		var rootHex string
		if err := rows.Scan(&ft.Path, &rootHex, &ft.Attempts, &ft.Error, &ft.TS, &ft.NextRetry, &ft.PayloadJSON); err != nil {
			return nil, err
		}
		ft.RootID, _ = model.ParseRootID(rootHex)
		out = append(out, ft)
	}
	return out, rows.Err()
}

// FTSMatch runs matchExpr (an FTS5 MATCH expression) against files_fts
// and returns matching paths ordered by bm25 (best first), capped at
// limit.
func (db *DB) FTSMatch(ctx context.Context, matchExpr string, limit int) ([]string, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT f.path FROM files_fts JOIN files f ON f.rowid = files_fts.rowid
		WHERE files_fts MATCH ? AND f.deleted = 0
		ORDER BY bm25(files_fts) LIMIT ?`, matchExpr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPaths(rows)
}

// LikeMatch performs a plain substring scan over rel_path and content,
// the fallback used for short/CJK queries and when FTS fails
// operationally.
func (db *DB) LikeMatch(ctx context.Context, likePattern string, limit int) ([]string, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT path FROM files
		WHERE deleted = 0 AND (rel_path LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')
		ORDER BY path LIMIT ?`, likePattern, likePattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPaths(rows)
}

// RegexCandidates returns every non-deleted, non-binary file's path and
// content, for the regex search path to scan in Go (sqlite has no native
// regex operator here). Capped at limit to bound worst-case scan cost.
func (db *DB) RegexCandidates(ctx context.Context, limit int) ([]model.File, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT path, rel_path, root_id, repo, mtime, content
		FROM files WHERE deleted = 0 AND is_binary = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.File
	for rows.Next() {
		var f model.File
		var rootHex string
		if err := rows.Scan(&f.Path, &f.RelPath, &rootHex, &f.Repo, &f.Mtime, &f.Content); err != nil {
			return nil, err
		}
		f.RootID, _ = model.ParseRootID(rootHex)
		out = append(out, f)
	}
	return out, rows.Err()
}

// DistinctSymbolNames returns a sample of distinct symbol names, the
// vocabulary the fuzzy did-you-mean suggestion compares a query against.
func (db *DB) DistinctSymbolNames(ctx context.Context, limit int) ([]string, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT DISTINCT name FROM symbols LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPaths(rows)
}

// GetFilesByPaths batch-fetches file rows for a known set of paths,
// preserving no particular order; callers re-order by their own ranking.
func (db *DB) GetFilesByPaths(ctx context.Context, paths []string) ([]model.File, error) {
	out := make([]model.File, 0, len(paths))
	for _, p := range paths {
		if f, ok := db.GetFile(ctx, p); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// RegisterRoot upserts one resolved workspace root, so a restart recognizes
// the same root-id/path pair it registered before.
func (db *DB) RegisterRoot(ctx context.Context, id model.RootID, path, realPath, label string, now int64) error {
	_, err := db.sql.ExecContext(ctx, `
		INSERT INTO roots (root_id, root_path, real_path, label, created_ts, updated_ts)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(root_id) DO UPDATE SET
			root_path=excluded.root_path, real_path=excluded.real_path,
			label=excluded.label, updated_ts=excluded.updated_ts`,
		id.Hex(), path, realPath, label, now, now)
	return err
}

// TouchLastSeen refreshes a single live file row's last_seen without
// touching content, symbols or relations — the direct-write counterpart
// to a RefreshOnly worker result, used outside the batch writer by a
// synchronous full scan.
func (db *DB) TouchLastSeen(ctx context.Context, path string, lastSeen int64) error {
	_, err := db.sql.ExecContext(ctx, `UPDATE files SET last_seen = ? WHERE path = ?`, lastSeen, path)
	return err
}

// CountFailedTasks reports the current dead-letter queue size, for
// status/doctor.
func (db *DB) CountFailedTasks(ctx context.Context) (int, error) {
	var n int
	err := db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_tasks`).Scan(&n)
	return n, err
}

// ListPaths returns every non-deleted file path, optionally restricted
// to one repo, ordered by path; the source list_files filters/paginates.
func (db *DB) ListPaths(ctx context.Context, repo string) ([]string, error) {
	var rows *sql.Rows
	var err error
	if repo == "" {
		rows, err = db.sql.QueryContext(ctx, `SELECT path FROM files WHERE deleted = 0 ORDER BY path`)
	} else {
		rows, err = db.sql.QueryContext(ctx, `SELECT path FROM files WHERE deleted = 0 AND repo = ? ORDER BY path`, repo)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPaths(rows)
}

// ListRepoMetas returns every stored repo_meta row, ordered by priority
// descending then repo_name, the source for repo_candidates.
func (db *DB) ListRepoMetas(ctx context.Context) ([]model.RepoMeta, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT repo_name, tags, domain, description, priority
		FROM repo_meta ORDER BY priority DESC, repo_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RepoMeta
	for rows.Next() {
		var m model.RepoMeta
		var tagsJSON string
		if err := rows.Scan(&m.RepoName, &tagsJSON, &m.Domain, &m.Description, &m.Priority); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateSnippet inserts a new retained code range and returns it with
// its assigned ID and timestamps populated.
func (db *DB) CreateSnippet(ctx context.Context, s model.Snippet, now int64) (model.Snippet, error) {
	res, err := db.sql.ExecContext(ctx, `INSERT INTO snippets
		(tag, path, root_id, start_line, end_line, content, content_hash, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Tag, s.Path, s.RootID.Hex(), s.StartLine, s.EndLine, s.Content, int64(s.ContentHash), now, now)
	if err != nil {
		return model.Snippet{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Snippet{}, err
	}
	s.ID = id
	s.CreatedTS, s.UpdatedTS = now, now
	return s, nil
}

// ListSnippets returns every snippet matching tag, or every snippet if
// tag is empty, most-recently-updated first.
func (db *DB) ListSnippets(ctx context.Context, tag string) ([]model.Snippet, error) {
	var rows *sql.Rows
	var err error
	if tag == "" {
		rows, err = db.sql.QueryContext(ctx, `SELECT id, tag, path, root_id, start_line, end_line,
			content, content_hash, created_ts, updated_ts FROM snippets ORDER BY updated_ts DESC`)
	} else {
		rows, err = db.sql.QueryContext(ctx, `SELECT id, tag, path, root_id, start_line, end_line,
			content, content_hash, created_ts, updated_ts FROM snippets WHERE tag = ? ORDER BY updated_ts DESC`, tag)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Snippet
	for rows.Next() {
		var s model.Snippet
		var rootHex string
		var contentHash int64
		if err := rows.Scan(&s.ID, &s.Tag, &s.Path, &rootHex, &s.StartLine, &s.EndLine,
			&s.Content, &contentHash, &s.CreatedTS, &s.UpdatedTS); err != nil {
			return nil, err
		}
		s.RootID, _ = model.ParseRootID(rootHex)
		s.ContentHash = uint64(contentHash)
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSnippet removes a snippet by ID, reporting whether a row was
// actually deleted.
func (db *DB) DeleteSnippet(ctx context.Context, id int64) (bool, error) {
	res, err := db.sql.ExecContext(ctx, `DELETE FROM snippets WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanPaths(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
