// Package feedview renders the notes feed to a terminal and turns typed
// commands into intents for the feed engine.
package feedview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/feed"
)

// DefaultPageSize is the number of entries shown at once.
const DefaultPageSize = 10

const resolveTimeout = 5 * time.Second

// ErrUnknownCommand is returned by Handle for input it cannot parse.
var ErrUnknownCommand = errors.New("unknown command")

// Resolver turns an attachment path into a displayable URL.
type Resolver interface {
	Resolve(ctx context.Context, path string) (string, bool)
}

type styles struct {
	header lipgloss.Style
	star   lipgloss.Style
	tag    lipgloss.Style
	faint  lipgloss.Style
	alert  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header: r.NewStyle().Bold(true),
		star:   r.NewStyle().Foreground(lipgloss.Color("11")),
		tag:    r.NewStyle().Foreground(lipgloss.Color("6")),
		faint:  r.NewStyle().Faint(true),
		alert:  r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// View is a paged, line-oriented rendering of the feed.
type View struct {
	w        io.Writer
	styles   styles
	media    Resolver
	pageSize int
	intents  chan Intent

	// mu guards the fields below and every write to w.
	mu     sync.Mutex
	state  feed.State
	offset int
	// frame increments whenever state or offset change. A frame whose
	// thumbnails resolved after a newer one started is dropped.
	frame uint64
}

// Option configures a View.
type Option func(*View)

// WithMedia resolves image attachments of visible entries.
func WithMedia(r Resolver) Option {
	return func(v *View) { v.media = r }
}

// WithPageSize sets how many entries are shown at once.
func WithPageSize(n int) Option {
	return func(v *View) {
		if n > 0 {
			v.pageSize = n
		}
	}
}

// New returns a view writing to w, seeded with initial entries.
func New(w io.Writer, initial feed.Snapshot, opts ...Option) *View {
	v := &View{
		w:        w,
		styles:   newStyles(lipgloss.NewRenderer(w)),
		pageSize: DefaultPageSize,
		intents:  make(chan Intent, 16),
		state:    feed.State{Status: feed.StatusPopulated, Filter: feed.Filter{}.Normalize(), Snapshot: initial},
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Intents delivers user commands.
func (v *View) Intents() <-chan Intent { return v.intents }

// Close ends the intent stream.
func (v *View) Close() { close(v.intents) }

// Render draws st. The current page is kept when possible.
func (v *View) Render(st feed.State) {
	v.mu.Lock()
	if st.Filter != v.state.Filter {
		v.offset = 0
	}
	v.state = st
	v.offset = v.clamp(v.offset)
	v.frame++
	frame, page := v.frame, v.page()
	v.mu.Unlock()

	v.present(frame, v.resolve(page))
}

// RenderedCount returns the number of entries in the last rendered state.
func (v *View) RenderedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.state.Snapshot)
}

// ScrollTo moves the page to start at offset and redraws.
func (v *View) ScrollTo(offset int) {
	v.mu.Lock()
	v.offset = v.clamp(offset)
	v.frame++
	frame, page := v.frame, v.page()
	v.mu.Unlock()

	v.present(frame, v.resolve(page))
}

// present writes the frame unless a newer one has been started.
func (v *View) present(frame uint64, thumbs map[string]thumb) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if frame != v.frame {
		return
	}
	_, _ = io.WriteString(v.w, v.draw(thumbs))
}

// page returns the entries visible at the current offset. Callers hold mu.
func (v *View) page() feed.Snapshot {
	end := min(v.offset+v.pageSize, len(v.state.Snapshot))
	if v.offset >= end {
		return nil
	}
	return v.state.Snapshot[v.offset:end]
}

type thumb struct {
	url string
	ok  bool
}

// resolve looks up the first image of every entry on page concurrently.
func (v *View) resolve(page feed.Snapshot) map[string]thumb {
	if v.media == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		thumbs = make(map[string]thumb)
		g      errgroup.Group
	)
	for _, n := range page {
		if len(n.ImagePaths) == 0 {
			continue
		}
		path := n.ImagePaths[0]
		g.Go(func() error {
			url, ok := v.media.Resolve(ctx, path)
			mu.Lock()
			thumbs[path] = thumb{url: url, ok: ok}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return thumbs
}

// Offset returns the index of the first entry on the page.
func (v *View) Offset() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

// Notify prints a one-off failure.
func (v *View) Notify(n feed.Notice) {
	msg := n.Message
	if msg == "" {
		msg = apperr.UserMessage(n.Err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	_, _ = fmt.Fprintln(v.w, v.styles.alert.Render("! "+n.Op+": "+msg))
}

// ShowNote prints a full note after an Open intent.
func (v *View) ShowNote(title, content string, tags []string) {
	var sb strings.Builder
	if title != "" {
		sb.WriteString(v.styles.header.Render(title) + "\n")
	}
	if len(tags) > 0 {
		sb.WriteString(v.styles.tag.Render(hashTags(tags)) + "\n")
	}
	sb.WriteString(strings.TrimRight(content, "\n") + "\n")
	sb.WriteString(v.styles.faint.Render("(b)ack to the feed") + "\n")
	v.mu.Lock()
	defer v.mu.Unlock()
	_, _ = io.WriteString(v.w, sb.String())
}

func (v *View) clamp(offset int) int {
	n := len(v.state.Snapshot)
	if offset >= n {
		offset = (n - 1) / v.pageSize * v.pageSize
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

func (v *View) draw(thumbs map[string]thumb) string {
	st := v.state
	var sb strings.Builder

	status := st.Status.String()
	if st.Provisional {
		status += ", cached"
	}
	if st.Pending > 0 {
		status += fmt.Sprintf(", saving %d", st.Pending)
	}
	sb.WriteString(v.styles.header.Render(fmt.Sprintf("carenotes · %s · %s", st.Filter, status)) + "\n")

	if st.Status == feed.StatusErrored {
		sb.WriteString(v.styles.alert.Render("! "+apperr.UserMessage(st.Err)+" (r to retry)") + "\n")
	}
	if len(st.Snapshot) == 0 {
		switch st.Status {
		case feed.StatusLoading, feed.StatusUninitialized:
			sb.WriteString(v.styles.faint.Render("loading…") + "\n")
		default:
			sb.WriteString(v.styles.faint.Render("no notes") + "\n")
		}
		return sb.String()
	}

	end := min(v.offset+v.pageSize, len(st.Snapshot))
	for i := v.offset; i < end; i++ {
		v.drawEntry(&sb, i+1, st.Snapshot[i], thumbs)
	}
	sb.WriteString(v.styles.faint.Render(fmt.Sprintf("%d-%d of %d · (n)ext (p)rev", v.offset+1, end, len(st.Snapshot))) + "\n")
	return sb.String()
}

func (v *View) drawEntry(sb *strings.Builder, row int, n feed.NoteSummary, thumbs map[string]thumb) {
	star := " "
	if n.IsStarred {
		star = v.styles.star.Render("★")
	}
	line := n.Title
	if line == "" {
		line = n.Excerpt
	}
	if line == "" {
		line = firstLine(n.Content)
	}
	fmt.Fprintf(sb, "%3d. %s %s  %s", row, star, n.CreatedAt.Local().Format("2006-01-02 15:04"), line)
	if len(n.Tags) > 0 {
		sb.WriteString("  " + v.styles.tag.Render(hashTags(n.Tags)))
	}
	if len(n.ImagePaths) > 0 {
		fmt.Fprintf(sb, "  [%d img]", len(n.ImagePaths))
	}
	if n.HasPDF {
		sb.WriteString("  [pdf]")
	}
	sb.WriteString("\n")

	if v.media == nil || len(n.ImagePaths) == 0 {
		return
	}
	// Only entries on the current page resolve their thumbnail.
	if t := thumbs[n.ImagePaths[0]]; t.ok {
		sb.WriteString("      " + v.styles.faint.Render(t.url) + "\n")
	} else {
		sb.WriteString("      " + v.styles.alert.Render("[!] image unavailable") + "\n")
	}
}

func hashTags(tags []string) string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = "#" + t
	}
	return strings.Join(out, " ")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Handle parses one line of input. Paging is handled in place; everything
// else becomes an Intent.
func (v *View) Handle(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	switch {
	case strings.HasPrefix(line, "/"):
		return v.emit(Search{Term: strings.TrimSpace(line[1:])})
	case strings.HasPrefix(line, "#"):
		return v.emit(FilterTag{Tag: strings.TrimSpace(line[1:])})
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "q", "quit", "exit":
		return v.emit(Quit{})
	case "logout":
		return v.emit(Logout{})
	case "r", "refresh", "retry":
		return v.emit(Refresh{})
	case "b", "back":
		return v.emit(Back{})
	case "mine":
		return v.emit(SetScope{Scope: feed.ScopeMine})
	case "all":
		return v.emit(SetScope{Scope: feed.ScopeAll})
	case "search":
		return v.emit(Search{Term: arg})
	case "tag":
		return v.emit(FilterTag{Tag: arg})
	case "n", "next":
		v.ScrollTo(v.Offset() + v.pageSize)
		return nil
	case "p", "prev":
		v.ScrollTo(v.Offset() - v.pageSize)
		return nil
	case "o", "open":
		id, err := v.rowID(arg)
		if err != nil {
			return err
		}
		return v.emit(Open{ID: id})
	case "s", "star":
		id, err := v.rowID(arg)
		if err != nil {
			return err
		}
		return v.emit(ToggleStar{ID: id})
	case "d", "del", "delete":
		id, err := v.rowID(arg)
		if err != nil {
			return err
		}
		return v.emit(Delete{ID: id})
	case "e", "edit":
		row, content, _ := strings.Cut(arg, " ")
		id, err := v.rowID(row)
		if err != nil {
			return err
		}
		return v.emit(Edit{ID: id, Content: strings.ReplaceAll(content, `\n`, "\n")})
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

// rowID maps a 1-based row number to a note id.
func (v *View) rowID(arg string) (string, error) {
	row, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return "", fmt.Errorf("row number required: %w", apperr.ErrInvalid)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if row < 1 || row > len(v.state.Snapshot) {
		return "", fmt.Errorf("no row %d: %w", row, apperr.ErrInvalid)
	}
	return v.state.Snapshot[row-1].ID, nil
}

func (v *View) emit(i Intent) error {
	v.intents <- i
	return nil
}
