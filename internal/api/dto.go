package api

import "github.com/starford/carenotes/internal/models"

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for later requests.
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []models.Note `json:"notes"`
}

// AttachmentListResponse wraps attachment listings.
type AttachmentListResponse struct {
	Attachments []models.Attachment `json:"attachments"`
}

// SignRequest is the body of POST /media/sign.
type SignRequest struct {
	Path       string `json:"path"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// SignResponse returns a time-limited download URL.
type SignResponse struct {
	URL string `json:"url"`
}
