// Package progress delivers job progress events to in-process subscribers
// and optional external sinks. Delivery is best effort and never blocks the
// publisher.
package progress

import (
	"sync"
	"time"
)

// Event types.
const (
	TypeProgress  = "progress"
	TypeStage     = "stage"
	TypeCompleted = "completed"
	TypeFailed    = "failed"
)

// Event is one progress update for a job.
type Event struct {
	JobID    string    `json:"job_id"`
	Type     string    `json:"type"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// Terminal reports whether no further events follow for the job.
func (e Event) Terminal() bool {
	return e.Type == TypeCompleted || e.Type == TypeFailed
}

// Sink receives progress events. Publish must not block.
type Sink interface {
	Publish(ev Event)
}

// Hub fans events out to per-job subscribers. Each subscriber owns a bounded
// channel; when it is full the oldest event is dropped.
type Hub struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[int]chan Event
	next   int
	closed bool
}

// NewHub creates a Hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{buffer: buffer, subs: make(map[string]map[int]chan Event)}
}

// Subscribe returns a channel of events for jobID and a cancel func that
// unsubscribes and closes the channel. Cancel is safe to call more than once.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[int]chan Event)
	}
	h.subs[jobID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(jobID, id) })
	}
}

func (h *Hub) remove(jobID string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[jobID]
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.subs, jobID)
	}
	close(ch)
}

// Publish implements Sink. A terminal event closes every subscription of
// the job after delivery.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs[ev.JobID] {
		offer(ch, ev)
	}
	if ev.Terminal() {
		for _, ch := range h.subs[ev.JobID] {
			close(ch)
		}
		delete(h.subs, ev.JobID)
	}
}

// offer sends without blocking, evicting the oldest buffered event if
// needed.
func offer(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions for jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// Close closes every subscription. Later publishes are dropped and later
// subscriptions receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	h.subs = nil
}

// Multi fans an event out to several sinks.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(Event) {}
