// Package events is the in-process feed of job and scheduler activity that
// backs the server's event stream and the watch UI.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the payload of e into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// subBuffer is the channel depth of one subscription.
const subBuffer = 128

type subscription struct {
	ch     chan Event
	filter Filter
}

// Hub fans events out to subscribers and keeps the most recent ones so a
// reconnecting stream can resume from its Last-Event-ID.
type Hub struct {
	seq     atomic.Int64
	dropped atomic.Int64
	now     func() time.Time

	mu     sync.Mutex
	recent []Event
	keep   int
	subs   map[int]*subscription
	nextID int
}

func NewHub(keep int) *Hub {
	if keep <= 0 {
		keep = 100
	}
	return &Hub{
		now:    time.Now,
		recent: make([]Event, 0, keep),
		keep:   keep,
		subs:   make(map[int]*subscription),
	}
}

// Publish records an event. Payloads that fail to marshal are sent as {}.
// A subscriber whose buffer is full misses the event.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	ev := Event{
		ID:   h.seq.Add(1),
		Type: eventType,
		At:   h.now().UTC(),
		Data: payload,
	}
	if len(h.recent) == h.keep {
		copy(h.recent, h.recent[1:])
		h.recent = h.recent[:h.keep-1]
	}
	h.recent = append(h.recent, ev)

	for _, s := range h.subs {
		if !s.filter.Match(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// PublishJobStatus publishes a job.status event.
func (h *Hub) PublishJobStatus(s JobStatus) {
	h.Publish(TypeJobStatus, s)
}

// Subscribe returns a channel of events matching f. The returned func
// unsubscribes and closes the channel; it may be called more than once.
func (h *Hub) Subscribe(f Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	s := &subscription{ch: make(chan Event, subBuffer), filter: f}
	h.subs[id] = s

	return s.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// not keeping up.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// SnapshotSince returns kept events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	return h.Snapshot(lastID, Filter{})
}

// Snapshot returns kept events with ID > lastID that match f, oldest first.
func (h *Hub) Snapshot(lastID int64, f Filter) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.recent))
	for _, ev := range h.recent {
		if ev.ID > lastID && f.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}
