//go:build !sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Without FTS5 every note keeps its set of stemmed tokens. Matching is
// whole-token and stem-aware; recency orders the results.
func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS note_terms (
			note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			stem    TEXT NOT NULL,
			UNIQUE(note_id, stem)
		);
		CREATE INDEX IF NOT EXISTS idx_note_terms_stem ON note_terms(stem);
	`)
	return err
}

func ftsUpsert(ctx context.Context, tx *sql.Tx, id, title, content string, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_terms WHERE note_id = ?`, id); err != nil {
		return fmt.Errorf("index: clear terms: %w", err)
	}
	text := title + " " + content + " " + strings.Join(tags, " ")
	for _, s := range stemWords(searchWords(text)) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO note_terms (note_id, stem) VALUES (?, ?)`, id, s); err != nil {
			return fmt.Errorf("index: upsert terms: %w", err)
		}
	}
	return nil
}

func ftsDelete(ctx context.Context, tx *sql.Tx, id string) {
	_, _ = tx.ExecContext(ctx, `DELETE FROM note_terms WHERE note_id = ?`, id)
}

// termFilter requires every stemmed word to be one of the note's tokens.
func termFilter(words []string) termSQL {
	stems := stemWords(words)
	conds := make([]string, 0, len(stems))
	args := make([]any, 0, len(stems))
	for _, s := range stems {
		conds = append(conds, "EXISTS (SELECT 1 FROM note_terms w WHERE w.note_id = n.id AND w.stem = ?)")
		args = append(args, s)
	}
	return termSQL{where: strings.Join(conds, " AND "), whereArgs: args}
}
