// Package models defines the server-side domain types for carenotes.
package models

import (
	"path"
	"strings"
	"time"
)

// Note is a markdown note stored as notes/<id>.md in the vault.
type Note struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Content    string    `json:"content"`
	Title      string    `json:"title,omitempty"`
	Tags       []string  `json:"tags"`
	IsStarred  bool      `json:"is_starred"`
	Shared     bool      `json:"shared"`
	ShareToken string    `json:"share_token,omitempty"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NotePath returns the vault-relative path of the note file with the given id.
func NotePath(id string) string {
	return NotesDir + "/" + id + ".md"
}

// Vault layout.
const (
	NotesDir       = "notes"
	AttachmentsDir = "attachments"
)

// Media types recognised for attachments. Anything else keeps its MIME type.
const (
	MediaImage = "image"
	MediaPDF   = "pdf"
)

// NormalizeMediaType folds a MIME type onto the short media types used by
// the feed. Unknown types are returned lower-cased without parameters.
func NormalizeMediaType(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case mt == MediaImage || strings.HasPrefix(mt, "image/"):
		return MediaImage
	case mt == MediaPDF || mt == "application/pdf":
		return MediaPDF
	case mt == "":
		return "application/octet-stream"
	}
	return mt
}

// AttachmentPath returns the vault-relative path of an attachment blob.
func AttachmentPath(noteID, name string) string {
	return AttachmentsDir + "/" + noteID + "/" + name
}

// AttachmentDir returns the directory holding a note's attachment blobs.
func AttachmentDir(noteID string) string {
	return AttachmentsDir + "/" + noteID
}

// SplitAttachmentPath extracts the note id and file name from an attachment
// path. ok is false for paths outside the attachments layout.
func SplitAttachmentPath(p string) (noteID, name string, ok bool) {
	p = path.Clean(p)
	rest, found := strings.CutPrefix(p, AttachmentsDir+"/")
	if !found {
		return "", "", false
	}
	noteID, name, found = strings.Cut(rest, "/")
	if !found || noteID == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return noteID, name, true
}

// NoteIDFromPath extracts the note id from a notes/<id>.md path.
func NoteIDFromPath(p string) (string, bool) {
	p = path.Clean(p)
	rest, found := strings.CutPrefix(p, NotesDir+"/")
	if !found || strings.Contains(rest, "/") {
		return "", false
	}
	id, found := strings.CutSuffix(rest, ".md")
	if !found || id == "" {
		return "", false
	}
	return id, true
}

// Attachment is a file associated with a note. Path is vault-relative.
type Attachment struct {
	NoteID    string    `json:"note_id"`
	Path      string    `json:"path"`
	MediaType string    `json:"media_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// FileMetadata is a lightweight representation returned by vault listings.
type FileMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Principal is the authenticated caller. It is passed explicitly; there is no
// ambient "current user".
type Principal struct {
	UserID string `json:"user_id" yaml:"user_id"`
	Name   string `json:"name" yaml:"name"`
}

// CanSee reports whether p may read n under the visibility policy: owners see
// their notes, everybody signed in sees shared notes.
func (p Principal) CanSee(n *Note) bool {
	return n.Owner == p.UserID || n.Shared
}

// Note event kinds published to push subscribers.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// NoteEvent describes a change to a note.
type NoteEvent struct {
	Kind   string `json:"kind"`
	NoteID string `json:"note_id"`
	Owner  string `json:"owner"`
	Shared bool   `json:"shared"`
}
