package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/models"
	"github.com/starford/carenotes/internal/parser"
	"github.com/starford/carenotes/internal/storage"
)

// watcherTestEnv sets up a vault dir, storage, and DB for watcher tests.
func watcherTestEnv(t *testing.T) (string, storage.Provider, *DB) {
	t.Helper()
	vaultDir := t.TempDir()
	for _, dir := range []string{models.NotesDir, models.AttachmentsDir} {
		if err := os.MkdirAll(filepath.Join(vaultDir, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store, testDB(t)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func noteFile(t *testing.T, owner, body string) []byte {
	t.Helper()
	data, err := parser.Encode(parser.Frontmatter{Owner: owner, Created: base}, body)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func writeNote(t *testing.T, vaultDir, id, owner, body string) {
	t.Helper()
	p := filepath.Join(vaultDir, filepath.FromSlash(models.NotePath(id)))
	if err := os.WriteFile(p, noteFile(t, owner, body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func indexed(db *DB, id string) bool {
	_, err := db.GetNote(context.Background(), id)
	return err == nil
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestSync_IndexesAndRemoves(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	ctx := context.Background()
	writeNote(t, vaultDir, "n1", "u1", "# One\nfirst")
	writeNote(t, vaultDir, "n2", "u1", "second")
	_ = os.MkdirAll(filepath.Join(vaultDir, "attachments", "n1"), 0o755)
	_ = os.WriteFile(filepath.Join(vaultDir, "attachments", "n1", "scan.png"), []byte("png"), 0o644)
	_ = os.MkdirAll(filepath.Join(vaultDir, "attachments", "ghost"), 0o755)
	_ = os.WriteFile(filepath.Join(vaultDir, "attachments", "ghost", "x.png"), []byte("png"), 0o644)

	if err := Sync(ctx, db, store, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	n1, err := db.GetNote(ctx, "n1")
	if err != nil {
		t.Fatalf("n1 not indexed: %v", err)
	}
	if n1.Title != "One" || n1.Owner != "u1" {
		t.Errorf("n1 = %+v", n1)
	}
	atts, _ := db.ListAttachments(ctx, "", []string{"n1", "ghost"})
	if len(atts) != 1 || atts[0].MediaType != models.MediaImage {
		t.Errorf("attachments = %+v", atts)
	}

	_ = os.Remove(filepath.Join(vaultDir, "notes", "n2.md"))
	if err := Sync(ctx, db, store, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := db.GetNote(ctx, "n2"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("n2 should be removed, got %v", err)
	}
}

func TestSync_SkipsFilesWithoutOwner(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	_ = os.WriteFile(filepath.Join(vaultDir, "notes", "bare.md"), []byte("no frontmatter"), 0o644)
	if err := Sync(context.Background(), db, store, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if indexed(db, "bare") {
		t.Error("file without owner should not be indexed")
	}
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []models.NoteEvent

	go Watch(ctx, db, store, vaultDir, quietLogger(), func(ev models.NoteEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	writeNote(t, vaultDir, "new", "u1", "# New")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return indexed(db, "new")
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e.Kind == models.EventCreated && e.NoteID == "new" && e.Owner == "u1" {
				return true
			}
		}
		return false
	}, "expected created event for new")
}

func TestWatcher_UnchangedChecksumNotReported(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	writeNote(t, vaultDir, "same", "u1", "body")
	_ = Sync(context.Background(), db, store, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []models.NoteEvent
	go Watch(ctx, db, store, vaultDir, quietLogger(), func(ev models.NoteEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	writeNote(t, vaultDir, "same", "u1", "body")
	writeNote(t, vaultDir, "marker", "u1", "marker")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return indexed(db, "marker")
	}, "marker not indexed")
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, e := range events {
		if e.NoteID == "same" {
			t.Errorf("unexpected event for unchanged file: %+v", e)
		}
	}
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)

	writeNote(t, vaultDir, "del", "u1", "# Delete Me")
	_ = Sync(context.Background(), db, store, quietLogger())
	if !indexed(db, "del") {
		t.Fatal("precondition: file should be indexed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, vaultDir, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(vaultDir, "notes", "del.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !indexed(db, "del")
	}, "deleted file still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)

	writeNote(t, vaultDir, "old", "u1", "# Rename")
	_ = Sync(context.Background(), db, store, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, vaultDir, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(vaultDir, "notes", "old.md"), filepath.Join(vaultDir, "notes", "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !indexed(db, "old") && indexed(db, "renamed")
	}, "rename reconciliation failed: old id should be removed and new id indexed")
}

func TestWatcher_AttachmentAdded(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	writeNote(t, vaultDir, "n1", "u1", "with scan")
	_ = Sync(context.Background(), db, store, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, store, vaultDir, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	dir := filepath.Join(vaultDir, "attachments", "n1")
	_ = os.MkdirAll(dir, 0o755)
	_ = os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("%PDF"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		atts, _ := db.ListAttachments(context.Background(), "", []string{"n1"})
		return len(atts) == 1 && atts[0].MediaType == models.MediaPDF
	}, "attachment not indexed by watcher")
}
