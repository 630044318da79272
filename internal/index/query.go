package index

import (
	"strings"
	"unicode"
)

// termSQL is the fragment a build variant contributes for a free-text term.
type termSQL struct {
	join      string
	joinArgs  []any
	where     string
	whereArgs []any
	order     string
}

const noteColumns = `n.id, n.owner, n.title, n.content, n.tags, n.starred, n.shared,
	COALESCE(n.share_token, ''), n.checksum, n.created_at, n.updated_at`

const feedOrder = "n.created_at DESC, n.id ASC"

// buildListQuery renders q as a SELECT over notes. It has no side effects so
// it can be checked without a database.
func buildListQuery(q ListQuery) (string, []any) {
	var (
		sb    strings.Builder
		where []string
		args  []any
		order = feedOrder
	)
	sb.WriteString("SELECT " + noteColumns + " FROM notes n")

	var term termSQL
	if words := searchWords(q.Term); len(words) > 0 {
		term = termFilter(words)
		if term.order != "" {
			order = term.order
		}
	}
	if term.join != "" {
		sb.WriteString(" " + term.join)
		args = append(args, term.joinArgs...)
	}

	if q.ViewerID != "" {
		where = append(where, "(n.owner = ? OR n.shared = 1)")
		args = append(args, q.ViewerID)
	}
	if q.OwnerID != "" {
		where = append(where, "n.owner = ?")
		args = append(args, q.OwnerID)
	}
	if tag := strings.TrimSpace(q.Tag); tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM note_tags t WHERE t.note_id = n.id AND t.tag = ?)")
		args = append(args, tag)
	}
	if term.where != "" {
		where = append(where, term.where)
		args = append(args, term.whereArgs...)
	}

	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY " + order + " LIMIT ?")
	args = append(args, clampLimit(q.Limit))
	return sb.String(), args
}

// searchWords splits free text into letter/digit runs. Operators and
// punctuation typed by the user never reach the query engine.
func searchWords(term string) []string {
	return strings.FieldsFunc(term, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ftsQuery turns words into an FTS5 MATCH expression. Each word is quoted so
// it is matched as a token, and adjacent tokens are implicitly AND-ed.
func ftsQuery(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + w + `"`
	}
	return strings.Join(quoted, " ")
}
