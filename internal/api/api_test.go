package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/starford/carenotes/internal/auth"
	"github.com/starford/carenotes/internal/models"
	"github.com/starford/carenotes/internal/noteservice"
	"github.com/starford/carenotes/internal/signer"
	"github.com/starford/carenotes/internal/sse"
	"github.com/starford/carenotes/internal/testutil"
)

type apiEnv struct {
	svc      *noteservice.Service
	router   http.Handler
	sessions *auth.Sessions
}

// testEnv builds a router over a temp vault. With authEnabled false every
// request acts as testutil.Alice.
func testEnv(t *testing.T, authEnabled bool) *apiEnv {
	t.Helper()
	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	svc := noteservice.NewService(store, db)

	opts := Options{
		Service:   svc,
		Anonymous: testutil.Alice,
		Signer:    signer.New([]byte("test-secret")),
		Logger:    testutil.QuietLogger(),
	}
	env := &apiEnv{svc: svc}
	if authEnabled {
		hash, err := auth.HashPassword("hunter2")
		if err != nil {
			t.Fatal(err)
		}
		env.sessions = auth.NewSessions(time.Hour)
		a, err := auth.NewAuthenticator([]auth.User{
			{ID: testutil.Alice.UserID, Name: testutil.Alice.Name, PasswordHash: hash},
		}, env.sessions)
		if err != nil {
			t.Fatal(err)
		}
		opts.Auth = a
	}
	env.router = NewRouter(opts)
	return env
}

func (e *apiEnv) do(t *testing.T, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestCreateAndGetNote(t *testing.T) {
	env := testEnv(t, false)

	w := env.do(t, http.MethodPost, "/notes", map[string]any{"content": "# Rounds\nStable.", "tags": []string{"ward"}}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[models.Note](t, w)
	if created.ID == "" || created.Owner != testutil.Alice.UserID {
		t.Fatalf("created = %+v", created)
	}

	w = env.do(t, http.MethodGet, "/notes/"+created.ID, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decode[models.Note](t, w)
	if got.Title != "Rounds" || len(got.Tags) != 1 || got.Tags[0] != "ward" {
		t.Errorf("got = %+v", got)
	}
}

func TestCreateNote_Validation(t *testing.T) {
	env := testEnv(t, false)

	w := env.do(t, http.MethodPost, "/notes", map[string]any{"content": "   "}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank content = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/notes", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", rec.Code)
	}
}

func TestGetNote_NotFound(t *testing.T) {
	env := testEnv(t, false)
	w := env.do(t, http.MethodGet, "/notes/01HXNOPE", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetNote_ForeignIsNotFound(t *testing.T) {
	env := testEnv(t, false)
	n, err := env.svc.Create(t.Context(), testutil.Bob, noteservice.CreateInput{Content: "bob's private note"})
	if err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/notes/"+n.ID, nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign get = %d, want 404", w.Code)
	}
	w = env.do(t, http.MethodPatch, "/notes/"+n.ID, map[string]any{"is_starred": true}, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign patch = %d, want 404", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/notes/"+n.ID, nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign delete = %d, want 404", w.Code)
	}
}

func TestUpdateNote_PartialAndShare(t *testing.T) {
	env := testEnv(t, false)
	created := decode[models.Note](t, env.do(t, http.MethodPost, "/notes", map[string]any{"content": "v1"}, ""))

	w := env.do(t, http.MethodPatch, "/notes/"+created.ID, map[string]any{"is_starred": true, "shared": true}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", w.Code, w.Body.String())
	}
	updated := decode[models.Note](t, w)
	if !updated.IsStarred || !updated.Shared || updated.Content != "v1\n" {
		t.Errorf("updated = %+v", updated)
	}
	if updated.ShareToken == "" {
		t.Fatal("owner should see the share token")
	}

	w = env.do(t, http.MethodGet, "/share/"+updated.ShareToken, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("share status = %d", w.Code)
	}
	if pub := decode[models.Note](t, w); pub.ID != created.ID || pub.ShareToken != "" {
		t.Errorf("public note = %+v", pub)
	}

	w = env.do(t, http.MethodPatch, "/notes/"+created.ID, map[string]any{}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty patch = %d, want 400", w.Code)
	}
}

func TestDeleteNote(t *testing.T) {
	env := testEnv(t, false)
	created := decode[models.Note](t, env.do(t, http.MethodPost, "/notes", map[string]any{"content": "bye"}, ""))

	w := env.do(t, http.MethodDelete, "/notes/"+created.ID, nil, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/notes/"+created.ID, nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestListNotes_FiltersAndVisibility(t *testing.T) {
	env := testEnv(t, false)
	ctx := t.Context()
	if _, err := env.svc.Create(ctx, testutil.Alice, noteservice.CreateInput{Content: "fracture follow-up", Tags: []string{"ortho"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Create(ctx, testutil.Alice, noteservice.CreateInput{Content: "asthma review"}); err != nil {
		t.Fatal(err)
	}
	bobNote, err := env.svc.Create(ctx, testutil.Bob, noteservice.CreateInput{Content: "bob fracture notes"})
	if err != nil {
		t.Fatal(err)
	}

	list := decode[NoteListResponse](t, env.do(t, http.MethodGet, "/notes", nil, ""))
	if len(list.Notes) != 2 {
		t.Errorf("all visible = %d, want 2", len(list.Notes))
	}

	list = decode[NoteListResponse](t, env.do(t, http.MethodGet, "/notes?tag=ortho", nil, ""))
	if len(list.Notes) != 1 || list.Notes[0].Tags[0] != "ortho" {
		t.Errorf("tag filter = %+v", list.Notes)
	}

	list = decode[NoteListResponse](t, env.do(t, http.MethodGet, "/notes?q=asthma", nil, ""))
	if len(list.Notes) != 1 {
		t.Errorf("term filter = %+v", list.Notes)
	}

	if _, err := env.svc.Update(ctx, testutil.Bob, bobNote.ID, noteservice.Patch{Shared: boolPtr(true)}); err != nil {
		t.Fatal(err)
	}
	list = decode[NoteListResponse](t, env.do(t, http.MethodGet, "/notes", nil, ""))
	if len(list.Notes) != 3 {
		t.Errorf("with shared = %d, want 3", len(list.Notes))
	}
	list = decode[NoteListResponse](t, env.do(t, http.MethodGet, "/notes?owner="+testutil.Alice.UserID, nil, ""))
	if len(list.Notes) != 2 {
		t.Errorf("mine = %d, want 2", len(list.Notes))
	}
	for _, n := range list.Notes {
		if n.Owner != testutil.Alice.UserID {
			t.Errorf("foreign note in mine: %+v", n)
		}
	}
}

func boolPtr(b bool) *bool { return &b }

func TestAuthMiddleware(t *testing.T) {
	env := testEnv(t, true)

	if w := env.do(t, http.MethodGet, "/notes", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing token = %d, want 401", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/notes", nil, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}

	w := env.do(t, http.MethodPost, "/auth/login", LoginRequest{Name: "alice", Password: "nope"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password = %d, want 401", w.Code)
	}

	w = env.do(t, http.MethodPost, "/auth/login", LoginRequest{Name: "alice", Password: "hunter2"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d, body = %s", w.Code, w.Body.String())
	}
	login := decode[LoginResponse](t, w)
	if login.Token == "" || login.UserID != testutil.Alice.UserID {
		t.Fatalf("login = %+v", login)
	}

	if w := env.do(t, http.MethodGet, "/notes", nil, login.Token); w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/auth/logout", nil, login.Token); w.Code != http.StatusNoContent {
		t.Errorf("logout = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/notes", nil, login.Token); w.Code != http.StatusUnauthorized {
		t.Errorf("revoked token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	env := testEnv(t, true)
	token, _ := env.sessions.Issue(testutil.Alice)
	w := env.do(t, http.MethodGet, "/notes?access_token="+url.QueryEscape(token), nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("query token = %d, want 200", w.Code)
	}
}

func TestLogin_AuthDisabled(t *testing.T) {
	env := testEnv(t, false)
	w := env.do(t, http.MethodPost, "/auth/login", LoginRequest{Name: "x"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d", w.Code)
	}
	if got := decode[LoginResponse](t, w); got.UserID != testutil.Alice.UserID || got.Token != "" {
		t.Errorf("login = %+v", got)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	_, store := testutil.TestVault(t)
	router := NewRouter(Options{
		Service:    noteservice.NewService(store, testutil.TestDB(t)),
		Anonymous:  testutil.Alice,
		Signer:     signer.New([]byte("s")),
		LoginLimit: rate.Every(time.Hour),
		LoginBurst: 2,
		Logger:     testutil.QuietLogger(),
	})

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	// Another address has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other ip = %d", w.Code)
	}
}

func uploadFile(t *testing.T, router http.Handler, noteID, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/notes/"+noteID+"/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadListSignAndServeMedia(t *testing.T) {
	env := testEnv(t, false)
	created := decode[models.Note](t, env.do(t, http.MethodPost, "/notes", map[string]any{"content": "x-ray"}, ""))

	png := []byte("\x89PNG\r\n\x1a\nfake image data")
	w := uploadFile(t, env.router, created.ID, "scan.png", png)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	att := decode[models.Attachment](t, w)
	if att.MediaType != models.MediaImage || att.Path != models.AttachmentPath(created.ID, "scan.png") {
		t.Errorf("attachment = %+v", att)
	}

	list := decode[AttachmentListResponse](t, env.do(t, http.MethodGet, "/attachments?note_ids="+created.ID+",other", nil, ""))
	if len(list.Attachments) != 1 || list.Attachments[0].Path != att.Path {
		t.Errorf("attachments = %+v", list.Attachments)
	}

	w = env.do(t, http.MethodPost, "/media/sign", SignRequest{Path: att.Path, TTLSeconds: 60}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("sign = %d, body = %s", w.Code, w.Body.String())
	}
	signed := decode[SignResponse](t, w)
	u, err := url.Parse(signed.URL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("sig") == "" || !strings.HasSuffix(u.Path, "/media/"+att.Path) {
		t.Fatalf("signed url = %s", signed.URL)
	}

	w = env.do(t, http.MethodGet, u.RequestURI(), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("serve = %d", w.Code)
	}
	if !bytes.Equal(w.Body.Bytes(), png) {
		t.Error("served bytes differ")
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}

	// Tampered signature.
	q := u.Query()
	q.Set("sig", "AAAA")
	w = env.do(t, http.MethodGet, u.Path+"?"+q.Encode(), nil, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("tampered = %d, want 403", w.Code)
	}
}

func TestListAttachments_Empty(t *testing.T) {
	env := testEnv(t, false)
	w := env.do(t, http.MethodGet, "/attachments", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode[AttachmentListResponse](t, w); got.Attachments == nil || len(got.Attachments) != 0 {
		t.Errorf("attachments = %#v", got.Attachments)
	}
}

func TestSignMedia_ForeignIsNotFound(t *testing.T) {
	env := testEnv(t, false)
	n, err := env.svc.Create(t.Context(), testutil.Bob, noteservice.CreateInput{Content: "private"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.AddAttachment(t.Context(), testutil.Bob, n.ID, "a.pdf", []byte("%PDF-1.4")); err != nil {
		t.Fatal(err)
	}
	w := env.do(t, http.MethodPost, "/media/sign", SignRequest{Path: models.AttachmentPath(n.ID, "a.pdf")}, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign sign = %d, want 404", w.Code)
	}
}

func TestUploadAttachment_InvalidFilename(t *testing.T) {
	env := testEnv(t, false)
	created := decode[models.Note](t, env.do(t, http.MethodPost, "/notes", map[string]any{"content": "x"}, ""))
	w := uploadFile(t, env.router, created.ID, "..", []byte("data"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUploadAttachment_MissingFileField(t *testing.T) {
	env := testEnv(t, false)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "value")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/notes/x/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestEvents_AuthProtected(t *testing.T) {
	_, store := testutil.TestVault(t)
	sessions := auth.NewSessions(time.Hour)
	a, err := auth.NewAuthenticator(nil, sessions)
	if err != nil {
		t.Fatal(err)
	}
	broker := sse.NewBroker()
	t.Cleanup(broker.Close)
	router := NewRouter(Options{
		Service: noteservice.NewService(store, testutil.TestDB(t)),
		Auth:    a,
		Signer:  signer.New([]byte("s")),
		Events:  broker,
		Logger:  testutil.QuietLogger(),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("events without token = %d, want 401", w.Code)
	}
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("ws without token = %d, want 401", w.Code)
	}
}
