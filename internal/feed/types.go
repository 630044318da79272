// Package feed keeps a client-side snapshot of the notes feed in sync with
// the server. Fetches, merges, optimistic mutations and cancellation all run
// through a single event loop so the snapshot is never written concurrently.
package feed

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/carenotes/internal/apperr"
)

// Scope selects whose notes the feed shows.
type Scope string

const (
	ScopeMine Scope = "mine"
	ScopeAll  Scope = "all"
)

// Filter is the active scope, search term and tag. The zero value is the
// unfiltered "mine" feed.
type Filter struct {
	Scope Scope  `json:"scope"`
	Term  string `json:"term,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Normalize trims the term and tag and defaults the scope.
func (f Filter) Normalize() Filter {
	if f.Scope != ScopeAll {
		f.Scope = ScopeMine
	}
	f.Term = strings.TrimSpace(f.Term)
	f.Tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(f.Tag), "#"))
	return f
}

// Key identifies a filter in the session cache.
func (f Filter) Key() string {
	f = f.Normalize()
	return string(f.Scope) + "\x00" + f.Term + "\x00" + f.Tag
}

func (f Filter) String() string {
	f = f.Normalize()
	s := string(f.Scope)
	if f.Term != "" {
		s += " q=" + f.Term
	}
	if f.Tag != "" {
		s += " #" + f.Tag
	}
	return s
}

// NoteSummary is one feed entry.
type NoteSummary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Content    string    `json:"content"`
	Tags       []string  `json:"tags"`
	IsStarred  bool      `json:"is_starred"`
	ImagePaths []string  `json:"image_paths"`
	HasPDF     bool      `json:"has_pdf"`
	Title      string    `json:"title,omitempty"`
	Excerpt    string    `json:"excerpt,omitempty"`
}

// Snapshot is the ordered feed: createdAt descending, ties by id ascending,
// ids unique.
type Snapshot []NoteSummary

// Clone deep-copies s so callers can keep it while the engine moves on.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for i, n := range s {
		out[i] = n.clone()
	}
	return out
}

func (n NoteSummary) clone() NoteSummary {
	n.Tags = append([]string{}, n.Tags...)
	n.ImagePaths = append([]string{}, n.ImagePaths...)
	return n
}

// IDs returns the entry ids in feed order.
func (s Snapshot) IDs() []string {
	ids := make([]string, len(s))
	for i, n := range s {
		ids[i] = n.ID
	}
	return ids
}

func (s Snapshot) index(id string) int {
	for i := range s {
		if s[i].ID == id {
			return i
		}
	}
	return -1
}

// Session is the signed-in user as seen by the client.
type Session struct {
	UserID string
	Name   string
}

// NoteRecord is a note as returned by the note query.
type NoteRecord struct {
	ID        string
	CreatedAt time.Time
	Content   string
	Tags      []string
	IsStarred bool
}

// NoteQueryParams restricts a note query. OwnerID is empty for "all".
type NoteQueryParams struct {
	OwnerID string
	Term    string
	Tag     string
	Limit   int
}

// NoteQuery lists notes visible to the signed-in user.
type NoteQuery interface {
	ListNotes(ctx context.Context, p NoteQueryParams) ([]NoteRecord, error)
}

// AttachmentRecord is one attachment of a note.
type AttachmentRecord struct {
	NoteID    string
	Path      string
	MediaType string
}

// AttachmentQuery lists attachments for a batch of notes in one call.
type AttachmentQuery interface {
	ListAttachments(ctx context.Context, noteIDs []string) ([]AttachmentRecord, error)
}

// NotePatch carries the fields an update changes. Nil fields are untouched.
type NotePatch struct {
	Content   *string
	Tags      []string
	IsStarred *bool
}

// NoteMutator applies changes to notes on the server.
type NoteMutator interface {
	UpdateNote(ctx context.Context, id string, p NotePatch) error
	DeleteNote(ctx context.Context, id string) error
}

// MaxContentRunes bounds note content accepted by the client.
const MaxContentRunes = 100_000

// ValidateContent rejects blank or oversized note content before any
// network call.
func ValidateContent(content string) error {
	err := validation.Validate(strings.TrimSpace(content),
		validation.Required.Error("content cannot be blank"),
		validation.RuneLength(0, MaxContentRunes),
	)
	if err != nil {
		return apperr.Validation("validate content", err)
	}
	return nil
}
