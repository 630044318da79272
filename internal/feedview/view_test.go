package feedview

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/feed"
)

func entries(n int) feed.Snapshot {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := make(feed.Snapshot, n)
	for i := range s {
		id := string(rune('a' + i))
		s[i] = feed.NoteSummary{
			ID:         id,
			CreatedAt:  base.Add(-time.Duration(i) * time.Hour),
			Content:    "note " + id,
			Title:      "Title " + id,
			Tags:       []string{},
			ImagePaths: []string{},
		}
	}
	return s
}

func populated(s feed.Snapshot) feed.State {
	return feed.State{Status: feed.StatusPopulated, Filter: feed.Filter{Scope: feed.ScopeMine}, Snapshot: s}
}

type stubResolver map[string]string

func (r stubResolver) Resolve(_ context.Context, path string) (string, bool) {
	u, ok := r[path]
	return u, ok
}

func nextIntent(t *testing.T, v *View) Intent {
	t.Helper()
	select {
	case i := <-v.Intents():
		return i
	default:
		t.Fatal("no intent")
		return nil
	}
}

func TestRenderShowsEntriesAndBadges(t *testing.T) {
	var buf bytes.Buffer
	s := entries(2)
	s[0].IsStarred = true
	s[0].Tags = []string{"cardio", "ward"}
	s[0].ImagePaths = []string{"attachments/a/x.png", "attachments/a/y.png"}
	s[1].HasPDF = true
	s[1].ImagePaths = []string{"attachments/b/broken.png"}

	v := New(&buf, nil, WithMedia(stubResolver{"attachments/a/x.png": "https://media.test/x"}))
	v.Render(populated(s))

	out := buf.String()
	require.Contains(t, out, "mine · populated")
	require.Contains(t, out, "1. ★")
	require.Contains(t, out, "Title a")
	require.Contains(t, out, "#cardio #ward")
	require.Contains(t, out, "[2 img]")
	require.Contains(t, out, "https://media.test/x")
	require.Contains(t, out, "[pdf]")
	require.Contains(t, out, "[!] image unavailable")
	require.Contains(t, out, "1-2 of 2")
	require.Equal(t, 2, v.RenderedCount())
}

func TestRenderStatusLines(t *testing.T) {
	var buf bytes.Buffer
	v := New(&buf, nil)

	v.Render(feed.State{Status: feed.StatusLoading, Filter: feed.Filter{Scope: feed.ScopeAll, Term: "x"}})
	require.Contains(t, buf.String(), "all q=x · loading")
	require.Contains(t, buf.String(), "loading…")

	buf.Reset()
	v.Render(feed.State{Status: feed.StatusErrored, Err: apperr.Transient("fetch", errors.New("x")), Snapshot: entries(1), Pending: 2})
	out := buf.String()
	require.Contains(t, out, "could not reach the server, try again (r to retry)")
	require.Contains(t, out, "saving 2")
	require.Contains(t, out, "Title a")

	buf.Reset()
	v.Render(feed.State{Status: feed.StatusPopulated})
	require.Contains(t, buf.String(), "no notes")

	buf.Reset()
	v.Render(feed.State{Status: feed.StatusLoading, Provisional: true, Snapshot: entries(1)})
	require.Contains(t, buf.String(), "loading, cached")
}

func TestPagingAndScroll(t *testing.T) {
	var buf bytes.Buffer
	v := New(&buf, nil, WithPageSize(3))
	v.Render(populated(entries(7)))
	require.Contains(t, buf.String(), "1-3 of 7")

	require.NoError(t, v.Handle("n"))
	require.Equal(t, 3, v.Offset())
	require.Contains(t, buf.String(), "4-6 of 7")

	require.NoError(t, v.Handle("next"))
	require.NoError(t, v.Handle("next"))
	require.Equal(t, 6, v.Offset(), "clamped to the last page")

	require.NoError(t, v.Handle("p"))
	require.Equal(t, 3, v.Offset())

	v.ScrollTo(-5)
	require.Zero(t, v.Offset())

	// A new filter starts at the top.
	v.ScrollTo(6)
	st := populated(entries(7))
	st.Filter.Term = "x"
	v.Render(st)
	require.Zero(t, v.Offset())
}

func TestHandleEmitsIntents(t *testing.T) {
	v := New(&bytes.Buffer{}, nil)
	v.Render(populated(entries(3)))

	cases := []struct {
		line string
		want Intent
	}{
		{"/ward 3", Search{Term: "ward 3"}},
		{"/", Search{}},
		{"search  cardio ", Search{Term: "cardio"}},
		{"#icu", FilterTag{Tag: "icu"}},
		{"tag icu", FilterTag{Tag: "icu"}},
		{"all", SetScope{Scope: feed.ScopeAll}},
		{"mine", SetScope{Scope: feed.ScopeMine}},
		{"r", Refresh{}},
		{"open 2", Open{ID: "b"}},
		{"star 1", ToggleStar{ID: "a"}},
		{"d 3", Delete{ID: "c"}},
		{`edit 1 # New\nbody`, Edit{ID: "a", Content: "# New\nbody"}},
		{"back", Back{}},
		{"logout", Logout{}},
		{"q", Quit{}},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			require.NoError(t, v.Handle(tc.line))
			require.Equal(t, tc.want, nextIntent(t, v))
		})
	}
}

func TestHandleRejectsBadInput(t *testing.T) {
	v := New(&bytes.Buffer{}, entries(2))

	require.NoError(t, v.Handle("   "))
	require.ErrorIs(t, v.Handle("frobnicate"), ErrUnknownCommand)
	require.ErrorIs(t, v.Handle("star"), apperr.ErrInvalid)
	require.ErrorIs(t, v.Handle("open 9"), apperr.ErrInvalid)
	require.ErrorIs(t, v.Handle("del 0"), apperr.ErrInvalid)

	select {
	case i := <-v.Intents():
		t.Fatalf("unexpected intent %#v", i)
	default:
	}
}

func TestRestoreThroughView(t *testing.T) {
	var buf bytes.Buffer
	v := New(&buf, nil, WithPageSize(2))
	v.Render(populated(entries(6)))
	v.ScrollTo(4)

	r := feed.NewRestorer(time.Millisecond, 50)
	r.Save(v.Offset(), v.RenderedCount())

	// Leaving the feed and coming back redraws from the top with fewer
	// entries first.
	v.ScrollTo(0)
	v.Render(populated(entries(2)))
	done := make(chan bool)
	go func() { done <- r.Restore(context.Background(), v) }()

	time.Sleep(5 * time.Millisecond)
	v.Render(populated(entries(6)))
	require.True(t, <-done)
	require.Equal(t, 4, v.Offset())
}

func TestNotifyAndShowNote(t *testing.T) {
	var buf bytes.Buffer
	v := New(&buf, nil)

	v.Notify(feed.Notice{Op: "star note", Message: "not found or not yours"})
	v.Notify(feed.Notice{Op: "sign", Err: apperr.Partial("sign", errors.New("x"))})
	v.ShowNote("Rounds", "Patient stable.\n", []string{"cardio"})

	out := buf.String()
	require.Contains(t, out, "! star note: not found or not yours")
	require.Contains(t, out, "! sign: some items could not be loaded")
	require.Contains(t, out, "Rounds")
	require.Contains(t, out, "#cardio")
	require.True(t, strings.Contains(out, "Patient stable.\n"))
}

type slowResolver struct {
	delay time.Duration
	calls atomic.Int32
}

func (r *slowResolver) Resolve(ctx context.Context, path string) (string, bool) {
	r.calls.Add(1)
	select {
	case <-time.After(r.delay):
		return "https://media.test/" + path, true
	case <-ctx.Done():
		return "", false
	}
}

func TestRenderResolvesThumbnailsConcurrently(t *testing.T) {
	s := entries(5)
	for i := range s {
		s[i].ImagePaths = []string{"attachments/" + s[i].ID + "/scan.png"}
	}
	res := &slowResolver{delay: 100 * time.Millisecond}
	var buf bytes.Buffer
	v := New(&buf, nil, WithMedia(res))

	start := time.Now()
	v.Render(populated(s))
	elapsed := time.Since(start)

	require.Equal(t, int32(5), res.calls.Load())
	require.Less(t, elapsed, 350*time.Millisecond)
	for _, n := range s {
		require.Contains(t, buf.String(), "https://media.test/attachments/"+n.ID+"/scan.png")
	}
}

func TestRenderDoesNotBlockReaders(t *testing.T) {
	s := entries(1)
	s[0].ImagePaths = []string{"attachments/a/scan.png"}
	v := New(io.Discard, nil, WithMedia(&slowResolver{delay: 200 * time.Millisecond}))

	go v.Render(populated(s))
	require.Eventually(t, func() bool { return v.RenderedCount() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	_ = v.RenderedCount()
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

// frameWriter records whole writes and fails on overlapping ones.
type frameWriter struct {
	inFlight atomic.Int32
	overlap  atomic.Bool
	mu       sync.Mutex
	frames   []string
}

func (w *frameWriter) Write(p []byte) (int, error) {
	if w.inFlight.Add(1) > 1 {
		w.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
	w.mu.Lock()
	w.frames = append(w.frames, string(p))
	w.mu.Unlock()
	w.inFlight.Add(-1)
	return len(p), nil
}

func TestConcurrentRenderScrollAndNotify(t *testing.T) {
	w := &frameWriter{}
	v := New(w, nil, WithPageSize(2))
	v.Render(populated(entries(6)))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(3)
		go func() { defer wg.Done(); v.Render(populated(entries(6))) }()
		go func() { defer wg.Done(); v.ScrollTo(i % 6) }()
		go func() { defer wg.Done(); v.Notify(feed.Notice{Op: "star", Message: "failed"}) }()
	}
	wg.Wait()

	require.False(t, w.overlap.Load())
	// The last frame written reflects the final state.
	v.ScrollTo(4)
	w.mu.Lock()
	last := w.frames[len(w.frames)-1]
	w.mu.Unlock()
	require.Contains(t, last, "5-6 of 6")
}
