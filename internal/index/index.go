package index

import (
	"context"

	"github.com/starford/carenotes/internal/models"
)

// DefaultLimit caps ListNotes when the caller passes no limit.
const DefaultLimit = 50

// MaxLimit is the largest page a single ListNotes call returns.
const MaxLimit = 500

// ListQuery selects notes for a feed.
type ListQuery struct {
	// ViewerID applies the visibility policy: the viewer's own notes plus
	// shared notes. Empty means no policy (trusted internal callers only).
	ViewerID string
	// OwnerID narrows the result to one owner's notes.
	OwnerID string
	// Term is a free-text query. Matching is ranked.
	Term string
	// Tag restricts the result to notes carrying this exact label.
	Tag   string
	Limit int
}

// NoteIndex defines the interface for note indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NoteIndex interface {
	UpsertNote(ctx context.Context, n *models.Note) error
	DeleteNote(ctx context.Context, id string) error
	// GetNote returns apperr.ErrNotFound when id is not indexed.
	GetNote(ctx context.Context, id string) (*models.Note, error)
	GetByShareToken(ctx context.Context, token string) (*models.Note, error)
	ListNotes(ctx context.Context, q ListQuery) ([]models.Note, error)

	UpsertAttachment(ctx context.Context, a models.Attachment) error
	DeleteAttachment(ctx context.Context, path string) error
	// ListAttachments returns attachments of the given notes. When viewerID
	// is set, attachments of notes the viewer cannot see are omitted.
	ListAttachments(ctx context.Context, viewerID string, noteIDs []string) ([]models.Attachment, error)
	AllAttachmentPaths(ctx context.Context) (map[string]struct{}, error)

	// AllChecksums maps note id to the checksum of its indexed file.
	AllChecksums(ctx context.Context) (map[string]string, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}
