package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// UpsertNote inserts or replaces a note, its FTS entry and its tag rows
// within a transaction.
func (db *DB) UpsertNote(ctx context.Context, n *models.Note) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	var token any
	if n.ShareToken != "" {
		token = n.ShareToken
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (id, owner, title, content, tags, starred, shared, share_token, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner       = excluded.owner,
			title       = excluded.title,
			content     = excluded.content,
			tags        = excluded.tags,
			starred     = excluded.starred,
			shared      = excluded.shared,
			share_token = excluded.share_token,
			checksum    = excluded.checksum,
			created_at  = excluded.created_at,
			updated_at  = excluded.updated_at
	`, n.ID, n.Owner, n.Title, n.Content, string(tagsJSON), n.IsStarred, n.Shared, token,
		n.Checksum, n.CreatedAt.UTC(), n.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(ctx, tx, n.ID, n.Title, n.Content, tags); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM note_tags WHERE note_id = ?`, n.ID); err != nil {
		return fmt.Errorf("index: clear tags: %w", err)
	}
	if len(tags) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO note_tags (note_id, tag) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare tag insert: %w", err)
		}
		defer stmt.Close()
		for _, tag := range tags {
			if _, err := stmt.ExecContext(ctx, n.ID, tag); err != nil {
				return fmt.Errorf("index: insert tag: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteNote removes a note and its FTS entry. Tags and attachment rows go
// with it through ON DELETE CASCADE.
func (db *DB) DeleteNote(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(ctx, tx, id)
	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete note: %w", err)
	}
	return tx.Commit()
}

// GetNote returns a single note by id.
func (db *DB) GetNote(ctx context.Context, id string) (*models.Note, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes n WHERE n.id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get note: %w", err)
	}
	return n, nil
}

// GetByShareToken returns the shared note published under token.
func (db *DB) GetByShareToken(ctx context.Context, token string) (*models.Note, error) {
	if token == "" {
		return nil, apperr.ErrNotFound
	}
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes n WHERE n.share_token = ? AND n.shared = 1`, token)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get shared note: %w", err)
	}
	return n, nil
}

// ListNotes returns notes matching q, newest first unless a term ranks them.
func (db *DB) ListNotes(ctx context.Context, q ListQuery) ([]models.Note, error) {
	query, args := buildListQuery(q)
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list notes: %w", err)
	}
	defer rows.Close()

	out := []models.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan note: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// AllChecksums returns the stored checksum of every indexed note.
func (db *DB) AllChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

func scanNote(r rowScanner) (*models.Note, error) {
	var (
		n        models.Note
		tagsJSON string
	)
	if err := r.Scan(&n.ID, &n.Owner, &n.Title, &n.Content, &tagsJSON, &n.IsStarred, &n.Shared,
		&n.ShareToken, &n.Checksum, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Tags = []string{}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &n.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", n.ID, err)
		}
	}
	return &n, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
