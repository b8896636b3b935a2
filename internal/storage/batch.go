package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sariproject/sari/internal/manifest"
	"github.com/sariproject/sari/internal/model"
)

// FileWrite bundles one file row together with the symbol/relation rows
// that replace its prior set wholesale: a file's symbols and relations
// are always replaced as a unit, never diffed.
type FileWrite struct {
	File        model.File
	Symbols     []model.Symbol
	Relations   []model.Relation
	RefreshOnly bool // only File.Path/LastSeen are meaningful
}

// RepoMetaUpdate is one manifest-derived contribution to repo_meta,
// merged onto whatever is already stored for RepoName.
type RepoMetaUpdate struct {
	RepoName string
	Update   manifest.Update
}

// Batch is one unit of work for the writer: every op type the schema
// supports, executed in a mandatory order: delete_path -> upsert_files ->
// upsert_symbols -> upsert_relations -> update_last_seen ->
// upsert_repo_meta -> DLQ ops.
type Batch struct {
	DeletePaths []string
	Files       []FileWrite
	RepoMeta    []RepoMetaUpdate
	FailedTasks []model.FailedTask
	// ClearedFailedTasks lists (path, root_id) pairs whose DLQ entry
	// should be removed after a task finally succeeds.
	ClearedFailedTasks []model.CoalesceKey
}

// Empty reports whether the batch has nothing to do.
func (b Batch) Empty() bool {
	return len(b.DeletePaths) == 0 && len(b.Files) == 0 && len(b.RepoMeta) == 0 &&
		len(b.FailedTasks) == 0 && len(b.ClearedFailedTasks) == 0
}

// ApplyBatch executes one batch inside a single transaction, in the
// fixed step order Batch documents.
func (db *DB) ApplyBatch(ctx context.Context, b Batch) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback()

	if err := deletePaths(tx, b.DeletePaths); err != nil {
		return err
	}
	if err := upsertFiles(tx, b.Files); err != nil {
		return err
	}
	if err := upsertSymbols(tx, b.Files); err != nil {
		return err
	}
	if err := upsertRelations(tx, b.Files); err != nil {
		return err
	}
	if err := updateLastSeen(tx, b.Files); err != nil {
		return err
	}
	if err := upsertRepoMeta(tx, b.RepoMeta); err != nil {
		return err
	}
	if err := applyDLQ(tx, b.FailedTasks, b.ClearedFailedTasks); err != nil {
		return err
	}

	return tx.Commit()
}

func deletePaths(tx *sql.Tx, paths []string) error {
	for _, p := range paths {
		if _, err := tx.Exec(`DELETE FROM files WHERE path = ?`, p); err != nil {
			return fmt.Errorf("delete_path files %s: %w", p, err)
		}
		if _, err := tx.Exec(`DELETE FROM symbols WHERE path = ?`, p); err != nil {
			return fmt.Errorf("delete_path symbols %s: %w", p, err)
		}
		if _, err := tx.Exec(`DELETE FROM symbol_relations WHERE from_path = ?`, p); err != nil {
			return fmt.Errorf("delete_path relations %s: %w", p, err)
		}
	}
	return nil
}

func upsertFiles(tx *sql.Tx, writes []FileWrite) error {
	for _, w := range writes {
		if w.RefreshOnly {
			continue // handled by update_last_seen
		}
		f := w.File
		_, err := tx.Exec(`
			INSERT INTO files (path, rel_path, root_id, repo, mtime, size, content,
				content_hash, fts_content, last_seen, is_binary, is_minified, deleted,
				content_bytes, parse_status, parse_reason, ast_status, ast_reason, metadata_json)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(path) DO UPDATE SET
				rel_path=excluded.rel_path, root_id=excluded.root_id, repo=excluded.repo,
				mtime=excluded.mtime, size=excluded.size, content=excluded.content,
				content_hash=excluded.content_hash, fts_content=excluded.fts_content,
				last_seen=excluded.last_seen, is_binary=excluded.is_binary,
				is_minified=excluded.is_minified, deleted=excluded.deleted,
				content_bytes=excluded.content_bytes, parse_status=excluded.parse_status,
				parse_reason=excluded.parse_reason, ast_status=excluded.ast_status,
				ast_reason=excluded.ast_reason, metadata_json=excluded.metadata_json`,
			f.Path, f.RelPath, f.RootID.Hex(), f.Repo, f.Mtime, f.Size, f.Content,
			int64(f.ContentHash), f.FTSContent, f.LastSeen, f.IsBinary, f.IsMinified, f.Deleted,
			f.ContentBytes, string(f.ParseStatus), f.ParseReason, string(f.ASTStatus), f.ASTReason, f.MetadataJSON)
		if err != nil {
			return fmt.Errorf("upsert_files %s: %w", f.Path, err)
		}
	}
	return nil
}

func upsertSymbols(tx *sql.Tx, writes []FileWrite) error {
	for _, w := range writes {
		if w.RefreshOnly {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM symbols WHERE path = ?`, w.File.Path); err != nil {
			return fmt.Errorf("upsert_symbols clear %s: %w", w.File.Path, err)
		}
		for _, s := range w.Symbols {
			_, err := tx.Exec(`
				INSERT INTO symbols (symbol_id, path, root_id, name, symbol_name_lc, kind,
					line, end_line, decl_line, parent, docstring, metadata_json)
				VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
				ON CONFLICT(symbol_id, path) DO UPDATE SET
					name=excluded.name, symbol_name_lc=excluded.symbol_name_lc, kind=excluded.kind,
					line=excluded.line, end_line=excluded.end_line, decl_line=excluded.decl_line,
					parent=excluded.parent, docstring=excluded.docstring, metadata_json=excluded.metadata_json`,
				int64(s.SymbolID), s.Path, s.RootID.Hex(), s.Name, s.NameLower, string(s.Kind),
				s.Line, s.EndLine, s.DeclLine, s.Parent, s.Docstring, s.MetadataJSON)
			if err != nil {
				return fmt.Errorf("upsert_symbols %s: %w", s.Name, err)
			}
		}
	}
	return nil
}

func upsertRelations(tx *sql.Tx, writes []FileWrite) error {
	for _, w := range writes {
		if w.RefreshOnly {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM symbol_relations WHERE from_path = ?`, w.File.Path); err != nil {
			return fmt.Errorf("upsert_relations clear %s: %w", w.File.Path, err)
		}
		for _, r := range w.Relations {
			_, err := tx.Exec(`
				INSERT INTO symbol_relations (from_path, from_root_id, from_symbol, from_symbol_id,
					to_path, to_root_id, to_symbol, to_symbol_id, rel_type, line, metadata_json)
				VALUES (?,?,?,?,?,?,?,?,?,?,?)
				ON CONFLICT(from_path, from_symbol_id, to_symbol, rel_type, line) DO UPDATE SET
					metadata_json=excluded.metadata_json`,
				r.FromPath, r.FromRootID.Hex(), r.FromSymbol, int64(r.FromSymbolID),
				r.ToPath, r.ToRootID.Hex(), r.ToSymbol, int64(r.ToSymbolID), string(r.RelType), r.Line, r.MetadataJSON)
			if err != nil {
				return fmt.Errorf("upsert_relations %s->%s: %w", r.FromSymbol, r.ToSymbol, err)
			}
		}
	}
	return nil
}

func updateLastSeen(tx *sql.Tx, writes []FileWrite) error {
	for _, w := range writes {
		if !w.RefreshOnly {
			continue
		}
		if _, err := tx.Exec(`UPDATE files SET last_seen = ? WHERE path = ?`, w.File.LastSeen, w.File.Path); err != nil {
			return fmt.Errorf("update_last_seen %s: %w", w.File.Path, err)
		}
	}
	return nil
}

func upsertRepoMeta(tx *sql.Tx, updates []RepoMetaUpdate) error {
	for _, u := range updates {
		var curDesc, curTagsJSON string
		err := tx.QueryRow(`SELECT description, tags FROM repo_meta WHERE repo_name = ?`, u.RepoName).
			Scan(&curDesc, &curTagsJSON)
		var curTags []string
		if err == nil && curTagsJSON != "" {
			_ = json.Unmarshal([]byte(curTagsJSON), &curTags)
		} else if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("upsert_repo_meta read %s: %w", u.RepoName, err)
		}

		desc, tags := manifest.Merge(curDesc, curTags, u.Update)
		tagsJSON, _ := json.Marshal(tags)

		_, err = tx.Exec(`
			INSERT INTO repo_meta (repo_name, tags, domain, description, priority)
			VALUES (?, ?, '', ?, 0)
			ON CONFLICT(repo_name) DO UPDATE SET tags=excluded.tags, description=excluded.description`,
			u.RepoName, string(tagsJSON), desc)
		if err != nil {
			return fmt.Errorf("upsert_repo_meta %s: %w", u.RepoName, err)
		}
	}
	return nil
}

func applyDLQ(tx *sql.Tx, failed []model.FailedTask, cleared []model.CoalesceKey) error {
	for _, ft := range failed {
		_, err := tx.Exec(`
			INSERT INTO failed_tasks (path, root_id, attempts, error, ts, next_retry, payload_json)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(path, root_id) DO UPDATE SET
				attempts=excluded.attempts, error=excluded.error, ts=excluded.ts,
				next_retry=excluded.next_retry, payload_json=excluded.payload_json`,
			ft.Path, ft.RootID.Hex(), ft.Attempts, ft.Error, ft.TS, ft.NextRetry, ft.PayloadJSON)
		if err != nil {
			return fmt.Errorf("dlq insert %s: %w", ft.Path, err)
		}
	}
	for _, k := range cleared {
		if _, err := tx.Exec(`DELETE FROM failed_tasks WHERE path = ? AND root_id = ?`,
			pathFromKey(k), k.RootID.Hex()); err != nil {
			return fmt.Errorf("dlq clear %s: %w", k.Path, err)
		}
	}
	return nil
}

// pathFromKey exists only so applyDLQ reads clearly; failed_tasks keys
// its rows by the coalesce task's root-relative path, same as the path
// the DLQ row was inserted with.
func pathFromKey(k model.CoalesceKey) string { return strings.TrimSpace(k.Path) }
