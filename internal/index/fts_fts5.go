//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// The porter tokenizer makes matching stem-aware: "fractures" finds
// "fractured".
func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			id UNINDEXED,
			title,
			content,
			tags,
			tokenize = 'porter unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(ctx context.Context, tx *sql.Tx, id, title, content string, tags []string) error {
	_, _ = tx.ExecContext(ctx, `DELETE FROM notes_fts WHERE id = ?`, id)
	_, err := tx.ExecContext(ctx, `INSERT INTO notes_fts (id, title, content, tags) VALUES (?, ?, ?, ?)`,
		id, title, content, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(ctx context.Context, tx *sql.Tx, id string) {
	_, _ = tx.ExecContext(ctx, `DELETE FROM notes_fts WHERE id = ?`, id)
}

// termFilter ranks matches by bm25; recency breaks ties.
func termFilter(words []string) termSQL {
	return termSQL{
		join:     "JOIN (SELECT id, rank FROM notes_fts WHERE notes_fts MATCH ?) f ON f.id = n.id",
		joinArgs: []any{ftsQuery(words)},
		order:    "f.rank, " + feedOrder,
	}
}
