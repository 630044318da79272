package pgindex

import (
	"strings"

	"github.com/starford/carenotes/internal/index"
)

const noteColumns = `id, owner, title, content, tags::text AS tags, starred, shared,
	COALESCE(share_token, '') AS share_token, checksum, created_at, updated_at`

func makePlaceParams(n int) string {
	return strings.TrimRight(strings.Repeat("?,", n), ",")
}

// buildListQuery renders q as a SELECT. A free-text term is matched against
// the stored tsvector with plainto_tsquery, which stems and AND-s the words,
// and ranked with ts_rank before recency.
func buildListQuery(q index.ListQuery) (string, []any) {
	var conditions []string
	var params []any

	if q.ViewerID != "" {
		conditions = append(conditions, `(owner = ? OR shared)`)
		params = append(params, q.ViewerID)
	}
	if q.OwnerID != "" {
		conditions = append(conditions, `owner = ?`)
		params = append(params, q.OwnerID)
	}
	if tag := strings.TrimSpace(q.Tag); tag != "" {
		conditions = append(conditions, `tags @> jsonb_build_array(?::text)`)
		params = append(params, tag)
	}

	orderBy := `ORDER BY created_at DESC, id`
	if term := strings.TrimSpace(q.Term); term != "" {
		conditions = append(conditions, `search @@ plainto_tsquery('english', ?)`)
		params = append(params, term)
		orderBy = `ORDER BY ts_rank(search, plainto_tsquery('english', ?)) DESC, created_at DESC, id`
		params = append(params, term)
	}

	if len(conditions) == 0 {
		conditions = append(conditions, `TRUE`)
	}

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = index.DefaultLimit
	case limit > index.MaxLimit:
		limit = index.MaxLimit
	}
	params = append(params, limit)

	sql := `SELECT ` + noteColumns + `
			FROM notes
			WHERE ` + strings.Join(conditions, " AND ") + `
			` + orderBy + ` LIMIT ?`
	return sql, params
}

func buildAttachmentQuery(viewerID string, noteIDs []string) (string, []any) {
	params := make([]any, 0, len(noteIDs)+1)
	for _, id := range noteIDs {
		params = append(params, id)
	}
	sql := `SELECT a.note_id, a.path, a.media_type, a.size, a.created_at
			FROM attachments a
			JOIN notes n ON n.id = a.note_id
			WHERE a.note_id IN (` + makePlaceParams(len(noteIDs)) + `)`
	if viewerID != "" {
		sql += ` AND (n.owner = ? OR n.shared)`
		params = append(params, viewerID)
	}
	sql += ` ORDER BY a.note_id, a.created_at, a.path`
	return sql, params
}
