package storage

import (
	"context"
	"fmt"

	"github.com/sariproject/sari/internal/model"
)

// BeginScan clears any stale staging rows for rootID, left behind by a
// scan that never reached MergeScan (crash, restart). It returns only an
// error and does not use scanStartedTS; callers stamp staged rows with
// that timestamp themselves and later pass it to MergeScan for pruning.
func (db *DB) BeginScan(ctx context.Context, rootID model.RootID, scanStartedTS int64) error {
	_, err := db.sql.ExecContext(ctx, `DELETE FROM staging_files WHERE root_id = ?`, rootID.Hex())
	if err != nil {
		return fmt.Errorf("begin scan: clear stale staging rows: %w", err)
	}
	return nil
}

// StageFile inserts one file's discovery result into staging_files,
// scoped to one full-scan pass. Only the file row is staged; symbols and
// relations are not staged. MergeScan's prune deletes only the files row
// of a file the scan did not see; that file's symbol and relation rows
// are left in place. Staging exists for the `files` row merge/prune, not
// as a second symbol store.
func (db *DB) StageFile(ctx context.Context, f model.File) error {
	_, err := db.sql.ExecContext(ctx, `
		INSERT INTO staging_files (path, rel_path, root_id, repo, mtime, size, content,
			content_hash, fts_content, last_seen, is_binary, is_minified, deleted,
			content_bytes, parse_status, parse_reason, ast_status, ast_reason, metadata_json)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(path) DO UPDATE SET
			rel_path=excluded.rel_path, repo=excluded.repo, mtime=excluded.mtime,
			size=excluded.size, content=excluded.content, content_hash=excluded.content_hash,
			fts_content=excluded.fts_content, last_seen=excluded.last_seen,
			is_binary=excluded.is_binary, is_minified=excluded.is_minified,
			deleted=excluded.deleted, content_bytes=excluded.content_bytes,
			parse_status=excluded.parse_status, parse_reason=excluded.parse_reason,
			ast_status=excluded.ast_status, ast_reason=excluded.ast_reason,
			metadata_json=excluded.metadata_json`,
		f.Path, f.RelPath, f.RootID.Hex(), f.Repo, f.Mtime, f.Size, f.Content,
		int64(f.ContentHash), f.FTSContent, f.LastSeen, f.IsBinary, f.IsMinified, f.Deleted,
		f.ContentBytes, string(f.ParseStatus), f.ParseReason, string(f.ASTStatus), f.ASTReason, f.MetadataJSON)
	if err != nil {
		return fmt.Errorf("stage file %s: %w", f.Path, err)
	}
	return nil
}

// MergeScan atomically swaps staging_files into files for rootID, then
// prunes any live row for rootID whose last_seen predates scanStartedTS
// (a file the scan never re-observed, i.e. deleted or moved away).
func (db *DB) MergeScan(ctx context.Context, rootID model.RootID, scanStartedTS int64) (pruned int64, err error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("merge scan begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT path, rel_path, root_id, repo, mtime, size, content,
		content_hash, fts_content, last_seen, is_binary, is_minified, deleted, content_bytes,
		parse_status, parse_reason, ast_status, ast_reason, metadata_json
		FROM staging_files WHERE root_id = ?`, rootID.Hex())
	if err != nil {
		return 0, fmt.Errorf("merge scan read staging: %w", err)
	}
	var staged []model.File
	for rows.Next() {
		var f model.File
		var rootHex, parseStatus, astStatus string
		var contentHash int64
		if err := rows.Scan(&f.Path, &f.RelPath, &rootHex, &f.Repo, &f.Mtime, &f.Size, &f.Content,
			&contentHash, &f.FTSContent, &f.LastSeen, &f.IsBinary, &f.IsMinified, &f.Deleted,
			&f.ContentBytes, &parseStatus, &f.ParseReason, &astStatus, &f.ASTReason, &f.MetadataJSON); err != nil {
			rows.Close()
			return 0, fmt.Errorf("merge scan scan staging row: %w", err)
		}
		f.ContentHash = uint64(contentHash)
		f.ParseStatus = model.ParseStatus(parseStatus)
		f.ASTStatus = model.ParseStatus(astStatus)
		f.RootID = rootID
		staged = append(staged, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("merge scan iterate staging: %w", err)
	}
	rows.Close()

	if err := upsertFiles(tx, wrapFiles(staged)); err != nil {
		return 0, fmt.Errorf("merge scan apply: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE root_id = ? AND last_seen < ?`,
		rootID.Hex(), scanStartedTS)
	if err != nil {
		return 0, fmt.Errorf("merge scan prune: %w", err)
	}
	pruned, _ = res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM staging_files WHERE root_id = ?`, rootID.Hex()); err != nil {
		return 0, fmt.Errorf("merge scan clear staging: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("merge scan commit: %w", err)
	}
	return pruned, nil
}

func wrapFiles(files []model.File) []FileWrite {
	writes := make([]FileWrite, len(files))
	for i, f := range files {
		writes[i] = FileWrite{File: f}
	}
	return writes
}
