// Package noteservice coordinates the vault and the index. Every operation
// takes the calling principal explicitly and applies the visibility policy:
// owners see and change their notes, everybody signed in may read shared
// notes, and anything else is reported as not found.
package noteservice

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/index"
	"github.com/starford/carenotes/internal/models"
	"github.com/starford/carenotes/internal/parser"
	"github.com/starford/carenotes/internal/storage"
)

// Option configures a Service.
type Option func(*Service)

// WithEventHook registers fn to receive note change events.
func WithEventHook(fn func(models.NoteEvent)) Option {
	return func(s *Service) { s.onEvent = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service coordinates storage and index operations.
type Service struct {
	store storage.Provider
	idx   index.NoteIndex

	mu      sync.Mutex // serialises read-modify-write of note files
	entropy io.Reader
	now     func() time.Time
	onEvent func(models.NoteEvent)
}

// NewService creates a new note service.
func NewService(store storage.Provider, idx index.NoteIndex, opts ...Option) *Service {
	s := &Service{
		store:   store,
		idx:     idx,
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListParams narrows a note listing.
type ListParams struct {
	OwnerID string
	Term    string
	Tag     string
	Limit   int
}

// List returns notes visible to p that match params.
func (s *Service) List(ctx context.Context, p models.Principal, params ListParams) ([]models.Note, error) {
	notes, err := s.idx.ListNotes(ctx, index.ListQuery{
		ViewerID: p.UserID,
		OwnerID:  params.OwnerID,
		Term:     params.Term,
		Tag:      params.Tag,
		Limit:    params.Limit,
	})
	if err != nil {
		return nil, err
	}
	for i := range notes {
		notes[i].Tags = nonNilSlice(notes[i].Tags)
		redact(p, &notes[i])
	}
	return notes, nil
}

// Get returns the note id if p may see it.
func (s *Service) Get(ctx context.Context, p models.Principal, id string) (*models.Note, error) {
	n, err := s.idx.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanSee(n) {
		return nil, apperr.ErrNotFound
	}
	redact(p, n)
	return n, nil
}

// GetShared resolves a public share token.
func (s *Service) GetShared(ctx context.Context, token string) (*models.Note, error) {
	n, err := s.idx.GetByShareToken(ctx, token)
	if err != nil {
		return nil, err
	}
	redact(models.Principal{}, n)
	return n, nil
}

// redact hides the share token from everybody but the owner.
func redact(p models.Principal, n *models.Note) {
	if n.Owner != p.UserID {
		n.ShareToken = ""
	}
}

// Create writes a new note owned by p and indexes it.
func (s *Service) Create(ctx context.Context, p models.Principal, in CreateInput) (*models.Note, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.Validation("create note", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Truncate(time.Millisecond)
	id := ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
	meta := parser.Frontmatter{
		ID:      id,
		Owner:   p.UserID,
		Created: now,
		Tags:    in.Tags,
	}
	n, err := s.write(ctx, meta, in.Content)
	if err != nil {
		return nil, err
	}
	s.emit(models.EventCreated, n)
	return n, nil
}

// Update applies patch to a note owned by p.
func (s *Service) Update(ctx context.Context, p models.Principal, id string, patch Patch) (*models.Note, error) {
	if err := patch.Validate(); err != nil {
		return nil, apperr.Validation("update note", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, body, err := s.readOwned(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if patch.Content != nil {
		body = *patch.Content
	}
	if patch.Tags != nil {
		meta.Tags = *patch.Tags
	}
	if patch.IsStarred != nil {
		meta.Starred = *patch.IsStarred
	}
	if patch.Shared != nil {
		meta.Shared = *patch.Shared
		switch {
		case meta.Shared && meta.ShareToken == "":
			meta.ShareToken = uuid.NewString()
		case !meta.Shared:
			// Unsharing revokes the public link for good.
			meta.ShareToken = ""
		}
	}

	n, err := s.write(ctx, meta, body)
	if err != nil {
		return nil, err
	}
	s.emit(models.EventUpdated, n)
	return n, nil
}

// Delete removes a note owned by p together with its attachments.
func (s *Service) Delete(ctx context.Context, p models.Principal, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.idx.GetNote(ctx, id)
	if err != nil {
		return err
	}
	if n.Owner != p.UserID {
		return apperr.ErrNotFound
	}
	if err := s.store.Delete(models.NotePath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := s.store.DeleteDir(models.AttachmentDir(id)); err != nil {
		return err
	}
	if err := s.idx.DeleteNote(ctx, id); err != nil {
		return err
	}
	s.emit(models.EventDeleted, n)
	return nil
}

// ListAttachments returns attachments of the notes in ids that p may see.
func (s *Service) ListAttachments(ctx context.Context, p models.Principal, ids []string) ([]models.Attachment, error) {
	return s.idx.ListAttachments(ctx, p.UserID, ids)
}

// AddAttachment stores data as an attachment of a note owned by p. An
// existing file of the same name is kept; the new one gets a unique prefix.
func (s *Service) AddAttachment(ctx context.Context, p models.Principal, noteID, name string, data []byte) (*models.Attachment, error) {
	name, err := cleanFileName(name)
	if err != nil {
		return nil, apperr.Validation("add attachment", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.idx.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if n.Owner != p.UserID {
		return nil, apperr.ErrNotFound
	}

	rel := models.AttachmentPath(noteID, name)
	if _, err := s.store.Read(rel); err == nil {
		prefix := ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
		rel = models.AttachmentPath(noteID, strings.ToLower(prefix[len(prefix)-6:])+"-"+name)
	}
	if err := s.store.Write(rel, data); err != nil {
		return nil, err
	}
	a := models.Attachment{
		NoteID:    noteID,
		Path:      rel,
		MediaType: detectMediaType(name, data),
		Size:      int64(len(data)),
		CreatedAt: s.now().UTC(),
	}
	if err := s.idx.UpsertAttachment(ctx, a); err != nil {
		return nil, err
	}
	a.MediaType = models.NormalizeMediaType(a.MediaType)
	s.emit(models.EventUpdated, n)
	return &a, nil
}

// AuthorizeMedia reports whether p may obtain a download URL for the vault
// path of an attachment.
func (s *Service) AuthorizeMedia(ctx context.Context, p models.Principal, mediaPath string) error {
	noteID, _, ok := models.SplitAttachmentPath(mediaPath)
	if !ok {
		return apperr.ErrNotFound
	}
	_, err := s.Get(ctx, p, noteID)
	return err
}

// ReadMedia returns the bytes of an attachment. Callers must have checked a
// signature or AuthorizeMedia first.
func (s *Service) ReadMedia(mediaPath string) ([]byte, error) {
	if _, _, ok := models.SplitAttachmentPath(mediaPath); !ok {
		return nil, apperr.ErrNotFound
	}
	data, err := s.store.Read(mediaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.ErrNotFound
	}
	return data, err
}

func (s *Service) readOwned(ctx context.Context, p models.Principal, id string) (parser.Frontmatter, string, error) {
	n, err := s.idx.GetNote(ctx, id)
	if err != nil {
		return parser.Frontmatter{}, "", err
	}
	if n.Owner != p.UserID {
		return parser.Frontmatter{}, "", apperr.ErrNotFound
	}
	data, err := s.store.Read(models.NotePath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return parser.Frontmatter{}, "", apperr.ErrNotFound
		}
		return parser.Frontmatter{}, "", err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return parser.Frontmatter{}, "", err
	}
	meta := res.Meta
	meta.ID = id
	meta.Owner = n.Owner
	if meta.Created.IsZero() {
		meta.Created = n.CreatedAt
	}
	return meta, res.Body, nil
}

// write persists the note file and indexes it.
func (s *Service) write(ctx context.Context, meta parser.Frontmatter, body string) (*models.Note, error) {
	data, err := parser.Encode(meta, body)
	if err != nil {
		return nil, err
	}
	rel := models.NotePath(meta.ID)
	if err := s.store.Write(rel, data); err != nil {
		return nil, err
	}
	n, err := index.ParseNote(rel, data)
	if err != nil {
		return nil, err
	}
	n.UpdatedAt = s.now().UTC()
	if err := s.idx.UpsertNote(ctx, n); err != nil {
		return nil, fmt.Errorf("noteservice: index %s: %w", meta.ID, err)
	}
	n.Tags = nonNilSlice(n.Tags)
	return n, nil
}

func (s *Service) emit(kind string, n *models.Note) {
	if s.onEvent == nil {
		return
	}
	s.onEvent(models.NoteEvent{Kind: kind, NoteID: n.ID, Owner: n.Owner, Shared: n.Shared})
}

func cleanFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	base := filepath.Base(filepath.Clean(name))
	if name == "" || base != name || base == "." || base == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if strings.HasPrefix(base, storage.TempPrefix) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return base, nil
}

func detectMediaType(name string, data []byte) string {
	if ext := strings.ToLower(path.Ext(name)); ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
	}
	return http.DetectContentType(data)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
