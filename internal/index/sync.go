package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"time"

	"github.com/starford/carenotes/internal/models"
	"github.com/starford/carenotes/internal/parser"
	"github.com/starford/carenotes/internal/storage"
)

// EventCallback is called after a vault-driven index change.
type EventCallback func(ev models.NoteEvent)

// Sync walks the vault and brings the index up to date:
//   - new/changed note files are parsed and upserted
//   - notes removed from disk are deleted from the index
//   - attachment blobs are recorded or forgotten to match the disk
func Sync(ctx context.Context, idx NoteIndex, store storage.Provider, logger *slog.Logger) error {
	return reconcile(ctx, idx, store, logger, nil)
}

func reconcile(ctx context.Context, idx NoteIndex, store storage.Provider, logger *slog.Logger, cb EventCallback) error {
	metas, err := store.List(models.NotesDir)
	if err != nil {
		return err
	}
	checksums, err := idx.AllChecksums(ctx)
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		id, ok := models.NoteIDFromPath(m.Path)
		if !ok {
			continue
		}
		disk[id] = struct{}{}

		prev, known := checksums[id]
		if prev == m.Checksum {
			continue
		}
		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		n, err := indexFile(ctx, idx, m.Path, data)
		if err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: indexed", slog.String("path", m.Path))
		kind := models.EventUpdated
		if !known {
			kind = models.EventCreated
		}
		notify(cb, kind, n)
	}

	for id := range checksums {
		if _, ok := disk[id]; ok {
			continue
		}
		if err := removeNote(ctx, idx, id, cb); err != nil {
			logger.Warn("sync: delete failed", slog.String("id", id), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: removed stale", slog.String("id", id))
		}
	}

	return syncAttachments(ctx, idx, store, logger, disk)
}

func syncAttachments(ctx context.Context, idx NoteIndex, store storage.Provider, logger *slog.Logger, notes map[string]struct{}) error {
	blobs, err := store.ListFiles(models.AttachmentsDir)
	if err != nil {
		return err
	}
	indexed, err := idx.AllAttachmentPaths(ctx)
	if err != nil {
		return err
	}

	onDisk := make(map[string]struct{}, len(blobs))
	for _, b := range blobs {
		a, ok := AttachmentFromFile(b)
		if !ok {
			continue
		}
		if _, ok := notes[a.NoteID]; !ok {
			logger.Warn("sync: orphaned attachment", slog.String("path", b.Path))
			continue
		}
		onDisk[a.Path] = struct{}{}
		if _, ok := indexed[a.Path]; ok {
			continue
		}
		if err := idx.UpsertAttachment(ctx, a); err != nil {
			logger.Warn("sync: attachment failed", slog.String("path", a.Path), slog.String("error", err.Error()))
		}
	}
	for p := range indexed {
		if _, ok := onDisk[p]; ok {
			continue
		}
		if err := idx.DeleteAttachment(ctx, p); err != nil {
			logger.Warn("sync: attachment delete failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
	return nil
}

// ParseNote decodes a note file stored at notes/<id>.md. The file name is
// authoritative for the id.
func ParseNote(p string, data []byte) (*models.Note, error) {
	id, ok := models.NoteIDFromPath(p)
	if !ok {
		return nil, fmt.Errorf("index: not a note path: %s", p)
	}
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	if !res.HasFrontmatter || res.Meta.Owner == "" {
		return nil, errors.New("index: note has no owner")
	}
	created := res.Meta.Created
	if created.IsZero() {
		created = time.Now()
	}
	return &models.Note{
		ID:         id,
		Owner:      res.Meta.Owner,
		Content:    res.Body,
		Title:      res.Title,
		Tags:       res.Meta.Tags,
		IsStarred:  res.Meta.Starred,
		Shared:     res.Meta.Shared,
		ShareToken: res.Meta.ShareToken,
		Checksum:   storage.Checksum(data),
		CreatedAt:  created,
		UpdatedAt:  time.Now(),
	}, nil
}

// AttachmentFromFile maps a blob under attachments/ onto an Attachment.
func AttachmentFromFile(m models.FileMetadata) (models.Attachment, bool) {
	noteID, name, ok := models.SplitAttachmentPath(m.Path)
	if !ok {
		return models.Attachment{}, false
	}
	return models.Attachment{
		NoteID:    noteID,
		Path:      m.Path,
		MediaType: models.NormalizeMediaType(mime.TypeByExtension(path.Ext(name))),
		Size:      m.Size,
		CreatedAt: m.UpdatedAt,
	}, true
}

// indexFile parses data and upserts it into the index.
func indexFile(ctx context.Context, idx NoteIndex, p string, data []byte) (*models.Note, error) {
	n, err := ParseNote(p, data)
	if err != nil {
		return nil, err
	}
	if err := idx.UpsertNote(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// removeNote deletes id from the index and reports who could see it.
func removeNote(ctx context.Context, idx NoteIndex, id string, cb EventCallback) error {
	prev, err := idx.GetNote(ctx, id)
	if err != nil {
		return err
	}
	if err := idx.DeleteNote(ctx, id); err != nil {
		return err
	}
	notify(cb, models.EventDeleted, prev)
	return nil
}

func notify(cb EventCallback, kind string, n *models.Note) {
	if cb == nil || n == nil {
		return
	}
	cb(models.NoteEvent{Kind: kind, NoteID: n.ID, Owner: n.Owner, Shared: n.Shared})
}
