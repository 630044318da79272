package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/starford/carenotes/internal/apperr"
)

// Status is the lifecycle state of the feed.
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusPopulated
	StatusErrored
	StatusUnmounted
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusPopulated:
		return "populated"
	case StatusErrored:
		return "errored"
	case StatusUnmounted:
		return "unmounted"
	default:
		return "uninitialized"
	}
}

// State is what the view renders. Snapshot is a private copy.
type State struct {
	Status Status
	Filter Filter
	// Snapshot is retained across failed loads.
	Snapshot Snapshot
	// Provisional is set while Snapshot comes from the session cache and the
	// first fetch for Filter has not landed yet.
	Provisional bool
	Refreshing  bool
	// Pending counts optimistic changes the server has not answered yet.
	Pending int
	// Err is the failure behind StatusErrored.
	Err     error
	Version uint64
}

// Notice reports a failure the user should see once.
type Notice struct {
	Kind    apperr.Kind
	Op      string
	NoteID  string
	Message string
	Err     error
}

// Loader fetches a snapshot for a filter. *Fetcher is the production Loader.
type Loader interface {
	Fetch(ctx context.Context, filter Filter) (Snapshot, error)
}

// MediaCycler is told when a new render cycle starts so failed media URLs
// can be retried.
type MediaCycler interface {
	NextCycle()
}

// Options configures an Engine. Loader and Mutator are required.
type Options struct {
	Loader  Loader
	Mutator NoteMutator
	Cache   *SessionCache
	Media   MediaCycler
	// RefreshSpec is a cron schedule for background refreshes, e.g.
	// "@every 30s". Empty disables the schedule.
	RefreshSpec string
	Logger      *slog.Logger
}

type event any

type (
	mountEvent     struct{ filter Filter }
	setFilterEvent struct{ filter Filter }
	retryEvent     struct{}
	refreshEvent   struct{}
	starEvent      struct{ id string }
	deleteEvent    struct{ id string }
	editEvent      struct{ id, content string }
	stateRequest   struct{ resp chan State }

	loadDone struct {
		token uint64
		snap  Snapshot
		err   error
	}
	refreshDone struct {
		token uint64
		snap  Snapshot
		err   error
	}
	mutationDone struct {
		key fieldKey
		seq uint64
		err error
	}
	deleteDone struct {
		id  string
		err error
	}
)

// Engine owns the feed snapshot. All state lives in one goroutine; public
// methods post events to it and never block on network calls.
type Engine struct {
	loader  Loader
	mutator NoteMutator
	cache   *SessionCache
	media   MediaCycler
	logger  *slog.Logger
	cron    *cron.Cron

	events  chan event
	states  chan State
	notices chan Notice

	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewEngine starts an engine in StatusUninitialized. Call Mount to load.
func NewEngine(o Options) (*Engine, error) {
	if o.Loader == nil || o.Mutator == nil {
		return nil, errors.New("feed: loader and mutator are required")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		loader:  o.Loader,
		mutator: o.Mutator,
		cache:   o.Cache,
		media:   o.Media,
		logger:  o.Logger,
		events:  make(chan event, 64),
		states:  make(chan State, 1),
		notices: make(chan Notice, 16),
		ctx:     ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if o.RefreshSpec != "" {
		e.cron = cron.New()
		if _, err := e.cron.AddFunc(o.RefreshSpec, e.Refresh); err != nil {
			cancel()
			return nil, fmt.Errorf("feed: refresh schedule %q: %w", o.RefreshSpec, err)
		}
		e.cron.Start()
	}

	go e.run()
	return e, nil
}

// States delivers the latest state. Intermediate states may be skipped; the
// channel is closed after Close.
func (e *Engine) States() <-chan State { return e.states }

// Notices delivers user-facing failures. Notices are dropped when nobody
// reads them; the channel is closed after Close.
func (e *Engine) Notices() <-chan Notice { return e.notices }

// Mount loads filter, painting the cached snapshot for it first if any.
func (e *Engine) Mount(filter Filter) { e.post(mountEvent{filter: filter}) }

// SetFilter replaces the feed with the result for filter. Any in-flight
// load is cancelled and its result discarded.
func (e *Engine) SetFilter(filter Filter) { e.post(setFilterEvent{filter: filter}) }

// Retry reloads the current filter after a failure.
func (e *Engine) Retry() { e.post(retryEvent{}) }

// Refresh fetches the current filter in the background and prepends notes
// that are not yet shown. Ignored unless the feed is populated.
func (e *Engine) Refresh() { e.post(refreshEvent{}) }

// ToggleStar flips the star of a note immediately and rolls back if the
// server rejects it.
func (e *Engine) ToggleStar(id string) { e.post(starEvent{id: id}) }

// Delete removes a note immediately and restores it at its old position if
// the server rejects it.
func (e *Engine) Delete(id string) { e.post(deleteEvent{id: id}) }

// Edit replaces the content of a note immediately. Blank content is
// rejected with a validation notice and never sent.
func (e *Engine) Edit(id, content string) { e.post(editEvent{id: id, content: content}) }

// Current returns the current state. After Close it returns an empty
// StatusUnmounted state.
func (e *Engine) Current() State {
	resp := make(chan State, 1)
	select {
	case e.events <- stateRequest{resp: resp}:
	case <-e.stopped:
		return State{Status: StatusUnmounted}
	}
	select {
	case st := <-resp:
		return st
	case <-e.stopped:
		return State{Status: StatusUnmounted}
	}
}

// Close unmounts the feed: in-flight requests are cancelled and their
// results are never applied.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		if e.cron != nil {
			e.cron.Stop()
		}
		close(e.stopCh)
	}
	<-e.stopped
}

func (e *Engine) post(ev event) {
	if e.closed.Load() {
		return
	}
	select {
	case e.events <- ev:
	case <-e.stopped:
	}
}

// loop holds the state owned by the run goroutine.
type loop struct {
	*Engine

	status      Status
	filter      Filter
	snap        Snapshot
	provisional bool
	err         error
	version     uint64

	// token identifies the current filter epoch. Results carrying an older
	// token are stale.
	token      uint64
	cancelLoad context.CancelFunc
	refreshing bool

	pending *ledger
}

func (e *Engine) run() {
	l := &loop{Engine: e, pending: newLedger(), filter: Filter{}.Normalize()}
	defer close(e.stopped)

	for {
		select {
		case <-e.stopCh:
			l.unmount()
			return
		case ev := <-e.events:
			l.handle(ev)
		}
	}
}

func (l *loop) handle(ev event) {
	switch ev := ev.(type) {
	case mountEvent:
		l.load(ev.filter)
	case setFilterEvent:
		f := ev.filter.Normalize()
		if f == l.filter && l.status == StatusPopulated {
			return
		}
		l.load(f)
	case retryEvent:
		if l.status == StatusErrored || l.status == StatusUninitialized {
			l.load(l.filter)
		}
	case refreshEvent:
		l.refresh()
	case starEvent:
		l.toggleStar(ev.id)
	case editEvent:
		l.edit(ev.id, ev.content)
	case deleteEvent:
		l.delete(ev.id)
	case loadDone:
		l.loaded(ev)
	case refreshDone:
		l.refreshed(ev)
	case mutationDone:
		l.mutated(ev)
	case deleteDone:
		l.deleted(ev)
	case stateRequest:
		ev.resp <- l.state()
	}
}

// load starts a replace fetch for filter, superseding any in-flight one.
func (l *loop) load(filter Filter) {
	filter = filter.Normalize()
	if l.cancelLoad != nil {
		l.cancelLoad()
	}
	// Reloading the same filter keeps what is on screen. A new filter paints
	// its cached snapshot when there is one; otherwise the last good snapshot
	// stays up, marked provisional, until the fetch succeeds.
	if filter != l.filter || l.status == StatusUninitialized {
		if l.cache != nil {
			if cached, ok := l.cache.Load(filter); ok {
				l.snap = Replace(cached, l.pending.excluded())
			}
		}
		l.provisional = l.snap != nil
	}
	l.token++
	l.filter = filter
	l.status = StatusLoading
	l.err = nil
	l.refreshing = false
	l.publish()

	ctx, cancel := context.WithCancel(l.ctx)
	l.cancelLoad = cancel
	token := l.token
	go func() {
		snap, err := l.loader.Fetch(ctx, filter)
		l.post(loadDone{token: token, snap: snap, err: err})
	}()
}

func (l *loop) loaded(ev loadDone) {
	if ev.token != l.token {
		l.logger.Debug("discarding stale feed load", slog.Uint64("token", ev.token), slog.Uint64("current", l.token))
		return
	}
	l.cancelLoad = nil
	if ev.err != nil {
		l.status = StatusErrored
		l.err = ev.err
		l.notify("load feed", "", ev.err)
		l.publish()
		return
	}
	l.snap = l.pending.overlay(Replace(ev.snap, l.pending.excluded()))
	l.status = StatusPopulated
	l.provisional = false
	l.nextCycle()
	l.save()
	l.publish()
}

func (l *loop) refresh() {
	if l.status != StatusPopulated || l.refreshing {
		return
	}
	l.refreshing = true
	token, filter := l.token, l.filter
	go func() {
		snap, err := l.loader.Fetch(l.ctx, filter)
		l.post(refreshDone{token: token, snap: snap, err: err})
	}()
}

func (l *loop) refreshed(ev refreshDone) {
	if ev.token != l.token {
		return
	}
	l.refreshing = false
	if ev.err != nil {
		// The snapshot stays as it is; the user already has a usable feed.
		l.logger.Warn("feed refresh failed", slog.String("error", ev.err.Error()))
		l.notify("refresh feed", "", ev.err)
		return
	}
	merged, added := Prepend(l.snap, ev.snap, l.pending.excluded())
	l.nextCycle()
	if added == 0 {
		return
	}
	l.snap = merged
	l.save()
	l.publish()
}

func (l *loop) toggleStar(id string) {
	i := l.snap.index(id)
	if i < 0 {
		l.notify("star note", id, apperr.Authorization("star note", nil))
		return
	}
	value := !l.snap[i].IsStarred
	l.apply(fieldKey{id: id, field: fieldStar}, value, NotePatch{IsStarred: &value})
}

func (l *loop) edit(id, content string) {
	if err := ValidateContent(content); err != nil {
		l.notify("edit note", id, err)
		return
	}
	if l.snap.index(id) < 0 {
		l.notify("edit note", id, apperr.Authorization("edit note", nil))
		return
	}
	l.apply(fieldKey{id: id, field: fieldContent}, content, NotePatch{Content: &content})
}

// apply shows value immediately and sends patch.
func (l *loop) apply(k fieldKey, value any, patch NotePatch) {
	var prior any
	l.snap, _ = update(l.snap, k.id, func(n *NoteSummary) {
		prior = getField(n, k.field)
		setField(n, k.field, value)
	})
	seq := l.pending.push(k, prior, value)
	l.publish()

	ctx := l.ctx
	go func() {
		err := l.mutator.UpdateNote(ctx, k.id, patch)
		l.post(mutationDone{key: k, seq: seq, err: err})
	}()
}

func (l *loop) mutated(ev mutationDone) {
	restore, ok := l.pending.settle(ev.key, ev.seq, ev.err != nil)
	if ev.err == nil {
		l.save()
		l.publish()
		return
	}
	if ok {
		l.snap, _ = update(l.snap, ev.key.id, func(n *NoteSummary) { setField(n, ev.key.field, restore) })
	}
	l.notify(ev.key.field.String()+" note", ev.key.id, ev.err)
	l.publish()
}

func (l *loop) delete(id string) {
	if _, busy := l.pending.deletes[id]; busy {
		return
	}
	snap, entry, ok := without(l.snap, id)
	if !ok {
		l.notify("delete note", id, apperr.Authorization("delete note", nil))
		return
	}
	l.snap = snap
	l.pending.deletes[id] = pendingDelete{entry: entry, epoch: l.token}
	l.publish()

	ctx := l.ctx
	go func() {
		err := l.mutator.DeleteNote(ctx, id)
		l.post(deleteDone{id: id, err: err})
	}()
}

func (l *loop) deleted(ev deleteDone) {
	pd, ok := l.pending.deletes[ev.id]
	if !ok {
		return
	}
	delete(l.pending.deletes, ev.id)
	if ev.err == nil {
		l.save()
		l.publish()
		return
	}
	// After a filter change the note may not match any more; the next load
	// brings it back if it does.
	if pd.epoch == l.token {
		l.snap = insertOrdered(l.snap, pd.entry)
	}
	l.notify("delete note", ev.id, ev.err)
	l.publish()
}

func (l *loop) unmount() {
	l.cancel()
	if l.status == StatusPopulated {
		l.save()
	}
	l.status = StatusUnmounted
	l.publish()
	close(l.states)
	close(l.notices)
}

func (l *loop) nextCycle() {
	if l.media != nil {
		l.media.NextCycle()
	}
}

func (l *loop) save() {
	if l.cache == nil || l.status != StatusPopulated {
		return
	}
	if err := l.cache.Save(l.filter, l.snap); err != nil {
		l.logger.Warn("feed cache save failed", slog.String("error", err.Error()))
	}
}

func (l *loop) state() State {
	return State{
		Status:      l.status,
		Filter:      l.filter,
		Snapshot:    l.snap.Clone(),
		Provisional: l.provisional,
		Refreshing:  l.refreshing,
		Pending:     l.pending.count(),
		Err:         l.err,
		Version:     l.version,
	}
}

// publish hands the latest state to the view, replacing an unread one.
func (l *loop) publish() {
	l.version++
	st := l.state()
	select {
	case <-l.states:
	default:
	}
	l.states <- st
}

func (l *loop) notify(op, noteID string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	n := Notice{Kind: apperr.KindOf(err), Op: op, NoteID: noteID, Message: apperr.UserMessage(err), Err: err}
	select {
	case l.notices <- n:
	default:
		l.logger.Debug("notice dropped", slog.String("op", op), slog.String("error", err.Error()))
	}
}
