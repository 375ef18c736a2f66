// Package events fans dispatch activity out to live observers such as
// the daemon's SSE stream.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types.
const (
	TypeRequest  = "request"  // message received and classified
	TypeDispatch = "dispatch" // command finished successfully
	TypeError    = "error"    // command or request failed
	TypeStatus   = "status"   // service lifecycle
)

// Event is one observable step of request handling.
type Event struct {
	Type      string  `json:"type"`
	RequestID string  `json:"request_id,omitempty"`
	Source    string  `json:"source,omitempty"` // rpc, matrix, http
	Command   string  `json:"command,omitempty"`
	Score     float64 `json:"score,omitempty"`
	Code      int     `json:"code,omitempty"`
	Message   string  `json:"message,omitempty"`
	TS        string  `json:"ts"`
}

// JSON serializes the event, stamping it if needed.
func (e Event) JSON() []byte {
	if e.TS == "" {
		e.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b, _ := json.Marshal(e)
	return b
}

// Subscription receives events until closed.
type Subscription struct {
	C <-chan Event

	bus *Bus
	ch  chan Event
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; ok {
		delete(s.bus.subs, s)
		close(s.ch)
	}
}

// Bus delivers events to every subscriber without ever blocking the
// publisher. A subscriber that falls behind misses events.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	recentMu  sync.RWMutex
	recent    []Event
	maxRecent int
}

// NewBus creates a bus remembering the last maxRecent events (200 when
// maxRecent <= 0).
func NewBus(maxRecent int) *Bus {
	if maxRecent <= 0 {
		maxRecent = 200
	}
	return &Bus{
		subs:      make(map[*Subscription]struct{}),
		maxRecent: maxRecent,
	}
}

// Publish stamps e and hands it to all subscribers. Safe on a nil bus.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.TS == "" {
		e.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}

	b.recentMu.Lock()
	b.recent = append(b.recent, e)
	if len(b.recent) > b.maxRecent {
		b.recent = b.recent[len(b.recent)-b.maxRecent:]
	}
	b.recentMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribe registers a new subscriber. Callers must Close it.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, 64)
	s := &Subscription{C: ch, bus: b, ch: ch}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Recent returns up to n of the latest events, oldest first. n <= 0
// returns all retained events.
func (b *Bus) Recent(n int) []Event {
	b.recentMu.RLock()
	defer b.recentMu.RUnlock()
	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	out := make([]Event, n)
	copy(out, b.recent[len(b.recent)-n:])
	return out
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
