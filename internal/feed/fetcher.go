package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jinzhu/copier"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/models"
	"github.com/starford/carenotes/internal/parser"
)

// DefaultLimit is the number of notes requested per fetch.
const DefaultLimit = 50

const excerptRunes = 160

// Fetcher builds a Snapshot from the note and attachment queries.
type Fetcher struct {
	notes   NoteQuery
	atts    AttachmentQuery
	session Session
	limit   int
	logger  *slog.Logger
}

// NewFetcher returns a Fetcher for the signed-in session. limit <= 0 uses
// DefaultLimit.
func NewFetcher(notes NoteQuery, atts AttachmentQuery, session Session, limit int, logger *slog.Logger) *Fetcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{notes: notes, atts: atts, session: session, limit: limit, logger: logger}
}

// Fetch runs the note query for filter, then one attachment query for the
// whole page. Any failure aborts the fetch; no partial snapshot is returned.
func (f *Fetcher) Fetch(ctx context.Context, filter Filter) (Snapshot, error) {
	filter = filter.Normalize()
	params := NoteQueryParams{Term: filter.Term, Tag: filter.Tag, Limit: f.limit}
	if filter.Scope == ScopeMine {
		if f.session.UserID == "" {
			return nil, apperr.Authorization("fetch feed", apperr.ErrUnauthorized)
		}
		params.OwnerID = f.session.UserID
	}

	records, err := f.notes.ListNotes(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("fetch notes: %w", err)
	}
	snap, err := summarize(records)
	if err != nil {
		return nil, fmt.Errorf("fetch notes: %w", err)
	}
	if len(snap) == 0 {
		return snap, nil
	}

	atts, err := f.atts.ListAttachments(ctx, snap.IDs())
	if err != nil {
		return nil, fmt.Errorf("fetch attachments: %w", err)
	}
	attach(snap, atts)

	f.logger.Debug("feed fetched", slog.String("filter", filter.String()), slog.Int("count", len(snap)))
	return snap, nil
}

// copyRecord fills a NoteSummary from a NoteRecord. Tests swap it out.
var copyRecord = copier.Copy

// summarize converts records into feed order, dropping duplicate ids. One
// record that cannot be converted fails the whole page.
func summarize(records []NoteRecord) (Snapshot, error) {
	snap := make(Snapshot, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, dup := seen[r.ID]; dup || r.ID == "" {
			continue
		}
		seen[r.ID] = struct{}{}
		var n NoteSummary
		// Field names line up with NoteRecord.
		if err := copyRecord(&n, &r); err != nil {
			return nil, fmt.Errorf("convert note %s: %w", r.ID, err)
		}
		n.Tags = append([]string{}, r.Tags...)
		n.ImagePaths = []string{}
		n.Title, n.Excerpt = parser.Summarize(r.Content, excerptRunes)
		snap = append(snap, n)
	}
	sortFeed(snap)
	return snap, nil
}

func sortFeed(s Snapshot) {
	sort.SliceStable(s, func(i, j int) bool { return before(s[i], s[j]) })
}

// attach folds attachments into their notes. Attachments of notes outside
// the page are ignored.
func attach(snap Snapshot, atts []AttachmentRecord) {
	pos := make(map[string]int, len(snap))
	for i, n := range snap {
		pos[n.ID] = i
	}
	for _, a := range atts {
		i, ok := pos[a.NoteID]
		if !ok {
			continue
		}
		switch models.NormalizeMediaType(a.MediaType) {
		case models.MediaImage:
			snap[i].ImagePaths = append(snap[i].ImagePaths, a.Path)
		case models.MediaPDF:
			snap[i].HasPDF = true
		}
	}
}
