package index

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/carenotes/internal/models"
)

// UpsertAttachment records an attachment blob. The owning note must already
// be indexed.
func (db *DB) UpsertAttachment(ctx context.Context, a models.Attachment) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO attachments (path, note_id, media_type, size, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			note_id    = excluded.note_id,
			media_type = excluded.media_type,
			size       = excluded.size
	`, a.Path, a.NoteID, models.NormalizeMediaType(a.MediaType), a.Size, created.UTC())
	if err != nil {
		return fmt.Errorf("index: upsert attachment: %w", err)
	}
	return nil
}

// DeleteAttachment forgets the attachment stored at path.
func (db *DB) DeleteAttachment(ctx context.Context, path string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM attachments WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete attachment: %w", err)
	}
	return nil
}

// ListAttachments returns the attachments of noteIDs in one query.
func (db *DB) ListAttachments(ctx context.Context, viewerID string, noteIDs []string) ([]models.Attachment, error) {
	out := []models.Attachment{}
	if len(noteIDs) == 0 {
		return out, nil
	}
	query := `
		SELECT a.note_id, a.path, a.media_type, a.size, a.created_at
		FROM attachments a
		JOIN notes n ON n.id = a.note_id
		WHERE a.note_id IN (` + placeholders(len(noteIDs)) + `)`
	args := make([]any, 0, len(noteIDs)+1)
	for _, id := range noteIDs {
		args = append(args, id)
	}
	if viewerID != "" {
		query += ` AND (n.owner = ? OR n.shared = 1)`
		args = append(args, viewerID)
	}
	query += ` ORDER BY a.note_id, a.created_at, a.path`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.NoteID, &a.Path, &a.MediaType, &a.Size, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("index: scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AllAttachmentPaths returns the path of every indexed attachment.
func (db *DB) AllAttachmentPaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path FROM attachments`)
	if err != nil {
		return nil, fmt.Errorf("index: all attachment paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}
