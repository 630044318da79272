package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/models"
	"github.com/starford/carenotes/internal/storage"
)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the vault and processes file change
// events until ctx is cancelled. It calls cb (if non-nil) after each index
// mutation caused by an edit made outside the server.
//
// Writes whose checksum already matches the index are skipped, so changes
// made through the service are not reported twice. New directories are added
// to the watch list and rename events trigger a debounced reconciliation
// pass.
func Watch(ctx context.Context, idx NoteIndex, store storage.Provider, vaultRoot string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, dir := range []string{models.NotesDir, models.AttachmentsDir} {
		if err := os.MkdirAll(filepath.Join(vaultRoot, dir), 0o755); err != nil {
			return err
		}
	}
	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if err := reconcile(ctx, idx, store, logger, cb); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					// Files may have landed before the watch was added.
					scheduleReconcile()
					continue
				}
			}

			if strings.HasPrefix(filepath.Base(ev.Name), storage.TempPrefix) {
				continue
			}
			rel, relErr := filepath.Rel(vaultRoot, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			if id, ok := models.NoteIDFromPath(rel); ok {
				if handleNoteEvent(ctx, idx, store, logger, cb, ev, rel, id) {
					scheduleReconcile()
				}
				continue
			}
			if _, _, ok := models.SplitAttachmentPath(rel); ok {
				handleAttachmentEvent(ctx, idx, logger, ev, rel)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// handleNoteEvent applies one note file event. It reports whether a
// reconciliation pass is needed.
func handleNoteEvent(ctx context.Context, idx NoteIndex, store storage.Provider, logger *slog.Logger,
	cb EventCallback, ev fsnotify.Event, rel, id string) bool {
	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		data, err := store.Read(rel)
		if err != nil {
			logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
			return false
		}
		kind := models.EventCreated
		prev, err := idx.GetNote(ctx, id)
		if err == nil {
			if prev.Checksum == storage.Checksum(data) {
				return false
			}
			kind = models.EventUpdated
		}
		n, err := indexFile(ctx, idx, rel, data)
		if err != nil {
			logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
			return false
		}
		logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
		notify(cb, kind, n)

	case ev.Op&fsnotify.Remove != 0:
		deleteFromWatch(ctx, idx, logger, cb, id)

	case ev.Op&fsnotify.Rename != 0:
		// fsnotify fires Rename on the old path only; the new path arrives
		// as a Create if it stays inside a watched dir.
		deleteFromWatch(ctx, idx, logger, cb, id)
		return true
	}
	return false
}

func deleteFromWatch(ctx context.Context, idx NoteIndex, logger *slog.Logger, cb EventCallback, id string) {
	err := removeNote(ctx, idx, id, cb)
	switch {
	case err == nil:
		logger.Debug("watcher: deleted", slog.String("id", id))
	case errors.Is(err, apperr.ErrNotFound):
		// Already removed by the service.
	default:
		logger.Warn("watcher: delete failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func handleAttachmentEvent(ctx context.Context, idx NoteIndex, logger *slog.Logger, ev fsnotify.Event, rel string) {
	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info, err := os.Stat(ev.Name)
		if err != nil || info.IsDir() {
			return
		}
		a, ok := AttachmentFromFile(models.FileMetadata{Path: rel, Size: info.Size(), UpdatedAt: info.ModTime()})
		if !ok {
			return
		}
		if err := idx.UpsertAttachment(ctx, a); err != nil {
			logger.Warn("watcher: attachment failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if err := idx.DeleteAttachment(ctx, rel); err != nil {
			logger.Warn("watcher: attachment delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
