package api

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/carenotes/internal/signer"
)

const (
	maxUploadBytes = 50 << 20 // 50 MB
	maxMediaTTL    = time.Hour
)

// wildcardPath extracts the vault path from a /media/* route. Encoded
// slashes from clients are decoded.
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// UploadAttachment handles POST /api/notes/{id}/attachments
// (multipart/form-data, field "file").
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	a, err := h.svc.AddAttachment(r.Context(), principal(r), chi.URLParam(r, "id"), header.Filename, data)
	if err != nil {
		writeError(w, h.logger, "upload attachment", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ServeMedia handles GET /api/media/*?exp=&sig=. The signature stands in for
// the bearer token so that links work from plain <img> tags.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	p := wildcardPath(r)
	q := r.URL.Query()
	exp, err := strconv.ParseInt(q.Get("exp"), 10, 64)
	if p == "" || err != nil || q.Get("sig") == "" {
		writeJSON(w, http.StatusForbidden, errorBody("missing signature"))
		return
	}
	if err := h.signer.Verify(p, exp, q.Get("sig")); err != nil {
		msg := "invalid signature"
		if errors.Is(err, signer.ErrExpired) {
			msg = "link expired"
		}
		writeJSON(w, http.StatusForbidden, errorBody(msg))
		return
	}

	data, err := h.svc.ReadMedia(p)
	if err != nil {
		writeError(w, h.logger, "serve media", err)
		return
	}
	ct := mime.TypeByExtension(strings.ToLower(path.Ext(p)))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "private, max-age=60")
	http.ServeContent(w, r, path.Base(p), time.Time{}, bytes.NewReader(data))
}

// baseURL is the prefix signed links are built on: the configured public
// URL, or the scheme and host of r plus the mount point of this router.
func (h *Handler) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	prefix := strings.TrimSuffix(r.URL.Path, "/media/sign")
	return scheme + "://" + r.Host + prefix
}

func secondsToDuration(n int) time.Duration {
	d := time.Duration(n) * time.Second
	if d > maxMediaTTL {
		return maxMediaTTL
	}
	return d
}
