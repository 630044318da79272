package feed

import "github.com/starford/carenotes/internal/parser"

// field names a note field changed by an optimistic mutation.
type field int

const (
	fieldStar field = iota
	fieldContent
)

func (f field) String() string {
	if f == fieldStar {
		return "star"
	}
	return "content"
}

type fieldKey struct {
	id    string
	field field
}

// mutation is one in-flight optimistic change. prior is the value shown
// before it was applied.
type mutation struct {
	seq   uint64
	prior any
	value any
}

// ledger tracks in-flight optimistic changes per note field, oldest first.
// When a change fails its prior is handed to the next pending change on the
// same field, so a later rollback still lands on the last value the server
// is known to hold.
type ledger struct {
	seq     uint64
	chains  map[fieldKey][]*mutation
	deletes map[string]pendingDelete
}

type pendingDelete struct {
	entry NoteSummary
	epoch uint64
}

func newLedger() *ledger {
	return &ledger{
		chains:  make(map[fieldKey][]*mutation),
		deletes: make(map[string]pendingDelete),
	}
}

func (l *ledger) push(k fieldKey, prior, value any) uint64 {
	l.seq++
	l.chains[k] = append(l.chains[k], &mutation{seq: l.seq, prior: prior, value: value})
	return l.seq
}

// settle removes mutation seq from the chain of k. On failure it returns the
// value to restore and true when seq was the newest change; otherwise the
// newer change inherits the prior and the shown value stays.
func (l *ledger) settle(k fieldKey, seq uint64, failed bool) (restore any, apply bool) {
	chain := l.chains[k]
	i := -1
	for j, m := range chain {
		if m.seq == seq {
			i = j
			break
		}
	}
	if i < 0 {
		return nil, false
	}
	m := chain[i]
	if failed {
		if i == len(chain)-1 {
			restore, apply = m.prior, true
		} else {
			chain[i+1].prior = m.prior
		}
	}
	chain = append(chain[:i], chain[i+1:]...)
	if len(chain) == 0 {
		delete(l.chains, k)
	} else {
		l.chains[k] = chain
	}
	return restore, apply
}

// latest returns the newest pending value for k.
func (l *ledger) latest(k fieldKey) (any, bool) {
	chain := l.chains[k]
	if len(chain) == 0 {
		return nil, false
	}
	return chain[len(chain)-1].value, true
}

func (l *ledger) count() int {
	n := len(l.deletes)
	for _, c := range l.chains {
		n += len(c)
	}
	return n
}

// excluded returns the ids with a pending delete.
func (l *ledger) excluded() map[string]struct{} {
	out := make(map[string]struct{}, len(l.deletes))
	for id := range l.deletes {
		out[id] = struct{}{}
	}
	return out
}

// overlay re-applies pending values to s, used after a replace fetch that
// may predate them.
func (l *ledger) overlay(s Snapshot) Snapshot {
	for k := range l.chains {
		v, _ := l.latest(k)
		s, _ = update(s, k.id, func(n *NoteSummary) { setField(n, k.field, v) })
	}
	return s
}

func getField(n *NoteSummary, f field) any {
	if f == fieldStar {
		return n.IsStarred
	}
	return n.Content
}

func setField(n *NoteSummary, f field, v any) {
	switch f {
	case fieldStar:
		n.IsStarred = v.(bool)
	case fieldContent:
		n.Content = v.(string)
		n.Title, n.Excerpt = parser.Summarize(n.Content, excerptRunes)
	}
}
