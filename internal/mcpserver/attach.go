package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/carenotes/internal/models"
)

const maxAttachmentBytes = 10 << 20

// fileKinds maps accepted extensions to the MIME type their content must sniff as.
var fileKinds = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// extFor returns the canonical extension for a MIME type, or "".
func extFor(mimeType string) string {
	mt, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mimeType)), ";")
	switch mt {
	case "image/jpeg":
		return ".jpg"
	case "":
		return ""
	}
	for ext, m := range fileKinds {
		if m == mt && ext != ".jpeg" {
			return ext
		}
	}
	return ""
}

// downloader fetches remote attachments. Tests point it at httptest servers.
var downloader = &http.Client{
	Timeout: 30 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("too many redirects")
		}
		return guardHost(req.URL.Hostname())
	},
}

// guardHost rejects internal destinations. Swapped out in tests.
var guardHost = rejectInternalHost

type attachArgs struct {
	NoteID string `json:"note_id"`
	Source string `json:"source"`
	Name   string `json:"name"`
}

type attachResult struct {
	NoteID    string `json:"note_id"`
	Path      string `json:"path"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
}

// blob is a loaded attachment source. Ext is derived from the declared MIME
// type and may be empty.
type blob struct {
	data []byte
	ext  string
}

func (s *Server) attachFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := decode[attachArgs](req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if a.NoteID == "" || a.Source == "" {
		return mcp.NewToolResultError("note_id and source are required"), nil
	}

	b, err := loadSource(ctx, a.Source)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name := a.Name
	if name == "" {
		name = nameFromSource(a.Source, b.ext)
	}
	name = cleanName(name)
	if err := checkContent(b.data, path.Ext(name)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	att, err := s.svc.AddAttachment(ctx, s.user, a.NoteID, name, b.data)
	if err != nil {
		return toolError(err), nil
	}
	out, _ := json.Marshal(attachResult{
		NoteID:    att.NoteID,
		Path:      att.Path,
		MediaType: att.MediaType,
		Size:      att.Size,
	})
	return mcp.NewToolResultText(string(out)), nil
}

func loadSource(ctx context.Context, src string) (blob, error) {
	var (
		b   blob
		err error
	)
	if rest, ok := strings.CutPrefix(src, "data:"); ok {
		b, err = parseDataURI(rest)
	} else {
		b, err = download(ctx, src)
	}
	if err != nil {
		return blob{}, err
	}
	if len(b.data) > maxAttachmentBytes {
		return blob{}, fmt.Errorf("attachment too large: %d bytes (max %d)", len(b.data), maxAttachmentBytes)
	}
	return b, nil
}

// parseDataURI decodes the part of a data: URI after the scheme. Only base64
// payloads of accepted MIME types are allowed.
func parseDataURI(rest string) (blob, error) {
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return blob{}, errors.New("malformed data URI")
	}
	mimeType, enc, _ := strings.Cut(header, ";")
	if !strings.Contains(enc, "base64") {
		return blob{}, errors.New("data URI must be base64 encoded")
	}
	ext := extFor(mimeType)
	if ext == "" {
		return blob{}, fmt.Errorf("unsupported media type %q", mimeType)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return blob{}, fmt.Errorf("decode data URI: %w", err)
		}
	}
	return blob{data: data, ext: ext}, nil
}

func download(ctx context.Context, rawURL string) (blob, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return blob{}, fmt.Errorf("parse source: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return blob{}, fmt.Errorf("source must be http(s) or a data URI, got %q", u.Scheme)
	}
	if err := guardHost(u.Hostname()); err != nil {
		return blob{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return blob{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := downloader.Do(req)
	if err != nil {
		return blob{}, fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return blob{}, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return blob{}, fmt.Errorf("download: %w", err)
	}
	return blob{data: data, ext: extFor(resp.Header.Get("Content-Type"))}, nil
}

// rejectInternalHost refuses loopback, link-local and unspecified addresses
// together with well-known metadata endpoints. Unresolvable names pass; the
// request itself will fail.
func rejectInternalHost(host string) error {
	if strings.EqualFold(host, "metadata.google.internal") {
		return fmt.Errorf("host %s is not allowed", host)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil
		}
		ip = ips[0]
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("host %s is not allowed", host)
	}
	return nil
}

// nameFromSource picks the last path segment of an http source, or a random
// name carrying ext.
func nameFromSource(src, ext string) string {
	if !strings.HasPrefix(src, "data:") {
		if u, err := url.Parse(src); err == nil {
			if base := path.Base(u.Path); strings.Contains(base, ".") && base != "." {
				return base
			}
		}
	}
	if ext == "" {
		ext = ".bin"
	}
	return uuid.NewString() + ext
}

func cleanName(name string) string {
	name = unsafeNameChars.ReplaceAllString(path.Base(strings.ReplaceAll(name, `\`, "/")), "_")
	if strings.Trim(name, ".") == "" {
		return uuid.NewString()
	}
	return name
}

// checkContent sniffs data and requires it to match ext.
func checkContent(data []byte, ext string) error {
	ext = strings.ToLower(ext)
	want, ok := fileKinds[ext]
	if !ok {
		return fmt.Errorf("unsupported file type %q (allowed: png, jpg, gif, webp, svg, pdf)", ext)
	}
	if want == "image/svg+xml" {
		head := data[:min(len(data), 1024)]
		if !bytes.Contains(head, []byte("<svg")) {
			return errors.New("content is not an SVG document")
		}
		return nil
	}
	got, _, _ := strings.Cut(http.DetectContentType(data), ";")
	if got != want {
		return fmt.Errorf("content is %s, not %s", got, models.NormalizeMediaType(want))
	}
	return nil
}
