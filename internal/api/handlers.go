package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/auth"
	"github.com/starford/carenotes/internal/models"
	"github.com/starford/carenotes/internal/noteservice"
	"github.com/starford/carenotes/internal/signer"
)

const maxJSONBytes = 2 << 20

// Handler holds API route handlers.
type Handler struct {
	svc       *noteservice.Service
	auth      *auth.Authenticator
	anonymous models.Principal
	signer    *signer.Signer
	mediaTTL  time.Duration
	publicURL string
	logger    *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(o Options) *Handler {
	return &Handler{
		svc:       o.Service,
		auth:      o.Auth,
		anonymous: o.Anonymous,
		signer:    o.Signer,
		mediaTTL:  o.MediaTTL,
		publicURL: o.PublicURL,
		logger:    o.Logger,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if h.auth == nil {
		// Authentication disabled: every caller is the anonymous principal.
		writeJSON(w, http.StatusOK, LoginResponse{UserID: h.anonymous.UserID, Name: h.anonymous.Name})
		return
	}
	token, p, err := h.auth.Login(req.Name, req.Password)
	if err != nil {
		h.logger.Warn("login rejected", slog.String("name", req.Name))
		writeError(w, h.logger, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, UserID: p.UserID, Name: p.Name})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.auth != nil {
		if token, ok := bearerToken(r); ok {
			h.auth.Sessions().Revoke(token)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNotes handles GET /api/notes?owner=&q=&tag=&limit=.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	notes, err := h.svc.List(r.Context(), principal(r), noteservice.ListParams{
		OwnerID: q.Get("owner"),
		Term:    q.Get("q"),
		Tag:     q.Get("tag"),
		Limit:   limit,
	})
	if err != nil {
		writeError(w, h.logger, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes})
}

// GetNote handles GET /api/notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// GetShared handles GET /api/share/{token}.
func (h *Handler) GetShared(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.GetShared(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, h.logger, "get shared note", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// CreateNote handles POST /api/notes.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var in noteservice.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}
	n, err := h.svc.Create(r.Context(), principal(r), in)
	if err != nil {
		writeError(w, h.logger, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// UpdateNote handles PATCH /api/notes/{id}.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var patch noteservice.Patch
	if !decodeJSON(w, r, &patch) {
		return
	}
	id := chi.URLParam(r, "id")
	n, err := h.svc.Update(r.Context(), principal(r), id, patch)
	if err != nil {
		writeError(w, h.logger, "update note", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// DeleteNote handles DELETE /api/notes/{id}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAttachments handles GET /api/attachments?note_ids=a,b.
func (h *Handler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, v := range r.URL.Query()["note_ids"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusOK, AttachmentListResponse{Attachments: []models.Attachment{}})
		return
	}
	atts, err := h.svc.ListAttachments(r.Context(), principal(r), ids)
	if err != nil {
		writeError(w, h.logger, "list attachments", err)
		return
	}
	writeJSON(w, http.StatusOK, AttachmentListResponse{Attachments: atts})
}

var errMissingPath = errors.New("path is required")

// SignMedia handles POST /api/media/sign.
func (h *Handler) SignMedia(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, h.logger, "sign media", apperr.Validation("sign media", errMissingPath))
		return
	}
	if err := h.svc.AuthorizeMedia(r.Context(), principal(r), req.Path); err != nil {
		writeError(w, h.logger, "sign media", err)
		return
	}
	ttl := h.mediaTTL
	if req.TTLSeconds > 0 {
		ttl = secondsToDuration(req.TTLSeconds)
	}
	writeJSON(w, http.StatusOK, SignResponse{URL: h.signer.URL(h.baseURL(r), req.Path, ttl)})
}
