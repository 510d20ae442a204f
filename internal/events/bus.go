// Package events fans conversation events out to presentation layers.
package events

import (
	"sync"
	"time"

	"github.com/emmett/companion/internal/turn"
)

// Type identifies an event
type Type string

const (
	TypeState      Type = "state"
	TypeSpeaking   Type = "speaking"
	TypeTranscript Type = "transcript"
	TypeError      Type = "error"
)

// Event is one notification for subscribers
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	State     string    `json:"state,omitempty"`
	From      string    `json:"from,omitempty"`
	Speaking  bool      `json:"speaking"`
	Role      string    `json:"role,omitempty"`
	Text      string    `json:"text,omitempty"`
	Partial   bool      `json:"partial,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Bus delivers events to subscribers in publish order. A subscriber that
// falls behind by more than its buffer loses events rather than stalling
// the publisher.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	dropped int
	closed  bool
	now     func() time.Time
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), now: time.Now}
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish stamps ev and hands it to every subscriber without blocking
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
		}
	}
}

// Dropped counts events lost to slow subscribers
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close closes every subscriber channel
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Hooks returns coordinator hooks that publish to the bus. sessionID is
// read when each event is published.
func (b *Bus) Hooks(sessionID func() string) turn.Hooks {
	return turn.Hooks{
		OnStateChange: func(from, to turn.State) {
			b.Publish(Event{Type: TypeState, SessionID: sessionID(), From: from.String(), State: to.String()})
		},
		OnSpeakingChanged: func(speaking bool) {
			b.Publish(Event{Type: TypeSpeaking, SessionID: sessionID(), Speaking: speaking})
		},
		OnTranscript: func(e turn.Entry) {
			b.Publish(Event{
				Type:      TypeTranscript,
				SessionID: e.SessionID,
				Role:      string(e.Role),
				Text:      e.Text,
				Partial:   e.Partial,
				Fallback:  e.Fallback,
			})
		},
		OnError: func(err error) {
			b.Publish(Event{Type: TypeError, SessionID: sessionID(), Error: err.Error()})
		},
	}
}
