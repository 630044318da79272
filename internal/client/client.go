// Package client talks to the carenotes REST API. It implements the note,
// attachment and media collaborators the feed engine depends on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/carenotes/internal/api"
	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/feed"
	"github.com/starford/carenotes/internal/models"
)

const defaultTimeout = 30 * time.Second

// Client is safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
	token  atomic.Pointer[string]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.SetToken(token) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the API rooted at baseURL, e.g.
// http://localhost:8080/api.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: base url must be http or https, got %q", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: slog.Default(),
	}
	c.SetToken("")
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) { c.token.Store(&token) }

// Token returns the current bearer token.
func (c *Client) Token() string { return *c.token.Load() }

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a JSON request and decodes a JSON response into out. Failures
// come back classified for the feed: rejected requests as authorization
// errors, bad input as validation errors, everything else as transient.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), r)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return classify(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Transient(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func classify(op string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return apperr.Authorization(op, apperr.ErrUnauthorized)
	case http.StatusForbidden, http.StatusNotFound:
		return apperr.Authorization(op, nil)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.Validation(op, errors.New(msg))
	case http.StatusConflict:
		return apperr.Validation(op, fmt.Errorf("%s: %w", msg, apperr.ErrConflict))
	}
	return apperr.Transient(op, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, name, password string) (api.LoginResponse, error) {
	var out api.LoginResponse
	err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil, api.LoginRequest{Name: name, Password: password}, &out)
	if err != nil {
		return out, err
	}
	c.SetToken(out.Token)
	return out, nil
}

// Logout revokes the current token.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, "logout", http.MethodPost, "/auth/logout", nil, nil, nil)
	c.SetToken("")
	return err
}

// ListNotes implements feed.NoteQuery.
func (c *Client) ListNotes(ctx context.Context, p feed.NoteQueryParams) ([]feed.NoteRecord, error) {
	q := url.Values{}
	setIf(q, "owner", p.OwnerID)
	setIf(q, "q", p.Term)
	setIf(q, "tag", p.Tag)
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	var out api.NoteListResponse
	if err := c.do(ctx, "list notes", http.MethodGet, "/notes", q, nil, &out); err != nil {
		return nil, err
	}
	recs := make([]feed.NoteRecord, len(out.Notes))
	for i, n := range out.Notes {
		recs[i] = toRecord(n)
	}
	return recs, nil
}

// ListAttachments implements feed.AttachmentQuery with one request for all
// ids.
func (c *Client) ListAttachments(ctx context.Context, noteIDs []string) ([]feed.AttachmentRecord, error) {
	if len(noteIDs) == 0 {
		return nil, nil
	}
	q := url.Values{"note_ids": {strings.Join(noteIDs, ",")}}
	var out api.AttachmentListResponse
	if err := c.do(ctx, "list attachments", http.MethodGet, "/attachments", q, nil, &out); err != nil {
		return nil, err
	}
	recs := make([]feed.AttachmentRecord, len(out.Attachments))
	for i, a := range out.Attachments {
		recs[i] = feed.AttachmentRecord{NoteID: a.NoteID, Path: a.Path, MediaType: a.MediaType}
	}
	return recs, nil
}

// SignURL implements mediaurl.Signer.
func (c *Client) SignURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	var out api.SignResponse
	req := api.SignRequest{Path: path, TTLSeconds: int(ttl / time.Second)}
	if err := c.do(ctx, "sign media", http.MethodPost, "/media/sign", nil, req, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// UpdateNote implements feed.NoteMutator.
func (c *Client) UpdateNote(ctx context.Context, id string, p feed.NotePatch) error {
	body := map[string]any{}
	if p.Content != nil {
		if err := feed.ValidateContent(*p.Content); err != nil {
			return err
		}
		body["content"] = *p.Content
	}
	if p.Tags != nil {
		body["tags"] = p.Tags
	}
	if p.IsStarred != nil {
		body["is_starred"] = *p.IsStarred
	}
	return c.do(ctx, "update note", http.MethodPatch, "/notes/"+url.PathEscape(id), nil, body, nil)
}

// DeleteNote implements feed.NoteMutator.
func (c *Client) DeleteNote(ctx context.Context, id string) error {
	return c.do(ctx, "delete note", http.MethodDelete, "/notes/"+url.PathEscape(id), nil, nil, nil)
}

// CreateNote adds a note owned by the signed-in user.
func (c *Client) CreateNote(ctx context.Context, content string, tags []string) (*models.Note, error) {
	if err := feed.ValidateContent(content); err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	var n models.Note
	body := map[string]any{"content": content, "tags": tags}
	if err := c.do(ctx, "create note", http.MethodPost, "/notes", nil, body, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// GetNote fetches one note.
func (c *Client) GetNote(ctx context.Context, id string) (*models.Note, error) {
	var n models.Note
	if err := c.do(ctx, "get note", http.MethodGet, "/notes/"+url.PathEscape(id), nil, nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ShareNote turns the public link of a note on or off and returns the note.
func (c *Client) ShareNote(ctx context.Context, id string, shared bool) (*models.Note, error) {
	var n models.Note
	body := map[string]any{"shared": shared}
	if err := c.do(ctx, "share note", http.MethodPatch, "/notes/"+url.PathEscape(id), nil, body, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ShareURL returns the public URL for a share token.
func (c *Client) ShareURL(token string) string {
	return c.endpoint("/share/"+url.PathEscape(token), nil)
}

func toRecord(n models.Note) feed.NoteRecord {
	return feed.NoteRecord{
		ID:        n.ID,
		CreatedAt: n.CreatedAt,
		Content:   n.Content,
		Tags:      n.Tags,
		IsStarred: n.IsStarred,
	}
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
