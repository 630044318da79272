// Package storage defines the vault file-system abstraction. The vault holds
// note files under notes/ and attachment blobs under attachments/<noteID>/.
package storage

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/starford/carenotes/internal/models"
)

// Provider is the interface for vault file operations. Paths are relative to
// the vault root.
type Provider interface {
	// List returns metadata for every .md file under dir.
	List(dir string) ([]models.FileMetadata, error)
	// ListFiles returns every regular file under dir without checksums.
	ListFiles(dir string) ([]models.FileMetadata, error)
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path, creating parent directories.
	Write(path string, content []byte) error
	Delete(path string) error
	// DeleteDir removes dir and everything below it. A missing dir is not an
	// error.
	DeleteDir(dir string) error
}

// Checksum returns the hex-encoded SHA-256 digest of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
