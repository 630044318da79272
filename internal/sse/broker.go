// Package sse fans note change events out to connected clients over
// Server-Sent Events and websocket.
package sse

import (
	"encoding/json"
	"sync/atomic"

	"github.com/starford/carenotes/internal/models"
)

// Message is one event as delivered to a subscriber.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NoteData is the payload of note.* messages.
type NoteData struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

type subscription struct {
	ch        chan Message
	principal models.Principal
}

// Broker manages subscribers and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns the
// subscriber set. Public methods communicate with this loop through channels,
// so no mutexes are required.
type Broker struct {
	subscribeCh   chan subscription
	unsubscribeCh chan chan Message
	noteEventCh   chan models.NoteEvent
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker and starts its loop.
func NewBroker() *Broker {
	b := &Broker{
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan Message),
		noteEventCh:   make(chan models.NoteEvent, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan Message]models.Principal)

	broadcast := func(ev models.NoteEvent) {
		payload, err := json.Marshal(NoteData{ID: ev.NoteID, Owner: ev.Owner})
		if err != nil {
			return
		}
		msg := Message{Type: "note." + ev.Kind, Data: payload}
		for ch, p := range clients {
			// Same rule as the index: owners see their notes, everybody
			// sees shared ones.
			if ev.Owner != p.UserID && !ev.Shared {
				continue
			}
			select {
			case ch <- msg:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.principal

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.noteEventCh:
			switch ev.Kind {
			case models.EventCreated, models.EventUpdated, models.EventDeleted:
				broadcast(ev)
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client acting as p and returns its channel.
func (b *Broker) Subscribe(p models.Principal) chan Message {
	ch := make(chan Message, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, principal: p}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan Message) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishNoteEvent queues a note change for delivery.
func (b *Broker) PublishNoteEvent(ev models.NoteEvent) {
	if b.closed.Load() {
		return
	}
	select {
	case b.noteEventCh <- ev:
	case <-b.stopped:
	}
}
