package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempVault(t)
	content := []byte("---\nid: 01HX\n---\nWorld\n")
	if err := s.Write("notes/01HX.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("notes/01HX.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("notes/del.md", []byte("bye"))
	if err := s.Delete("notes/del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err := s.Read("notes/del.md")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestDeleteDir(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("attachments/n1/scan.png", []byte("png"))
	_ = s.Write("attachments/n1/report.pdf", []byte("pdf"))
	if err := s.DeleteDir("attachments/n1"); err != nil {
		t.Fatalf("DeleteDir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "attachments", "n1")); !os.IsNotExist(err) {
		t.Errorf("directory still present: %v", err)
	}
	if err := s.DeleteDir("attachments/missing"); err != nil {
		t.Errorf("missing dir should not fail: %v", err)
	}
	if err := s.DeleteDir(""); err == nil {
		t.Error("expected refusal to delete vault root")
	}
}

func TestList(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("notes/a.md", []byte("a"))
	_ = s.Write("notes/b.md", []byte("b"))
	_ = s.Write("attachments/a/readme.txt", []byte("not md"))

	items, err := s.List("notes")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	for _, it := range items {
		if filepath.Dir(filepath.FromSlash(it.Path)) != "notes" {
			t.Errorf("unexpected path %q", it.Path)
		}
		if it.Checksum == "" || it.Size != 1 {
			t.Errorf("metadata = %+v", it)
		}
	}
}

func TestListFiles(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("attachments/n1/scan.png", []byte("png!"))
	_ = s.Write("attachments/n2/report.pdf", []byte("pdf"))

	items, err := s.ListFiles("attachments")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	for _, it := range items {
		if it.Checksum != "" {
			t.Errorf("blob listing should not checksum: %+v", it)
		}
	}
}

func TestList_MissingDir(t *testing.T) {
	s := tempVault(t)
	items, err := s.List("notes")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("len = %d, want 0", len(items))
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
		if err := s.DeleteDir(p); err == nil {
			t.Errorf("expected error for delete dir %q", p)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("notes/atomic.md", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("notes/atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("notes/atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, "notes", TempPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestChecksumStable(t *testing.T) {
	if Checksum([]byte("x")) != Checksum([]byte("x")) {
		t.Error("checksum not deterministic")
	}
	if Checksum([]byte("x")) == Checksum([]byte("y")) {
		t.Error("checksum collision on different input")
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp(t.TempDir(), "carenotes-test-*")
	_ = f.Close()
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
