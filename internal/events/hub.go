// Package events is the relay's in-memory observability stream.
//
// Dispatch loops publish what happened to each update; the API streams the
// records to monitors over SSE. Nothing is persisted: late subscribers see
// at most the last Capacity records.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the ring size used when none is given.
const DefaultCapacity = 256

// subscriberBuffer is the per-subscriber channel size. A subscriber that
// falls this far behind misses records instead of blocking publishers.
const subscriberBuffer = 128

// Record is one published event.
type Record struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu     sync.Mutex
	ring   []Record
	start  int
	size   int
	counts map[string]int64

	subs      map[int]chan Record
	nextSubID int
}

// NewHub creates a hub keeping the last capacity records.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		ring:   make([]Record, capacity),
		counts: make(map[string]int64),
		subs:   make(map[int]chan Record),
	}
}

// Publish records an event. data is encoded as JSON; encoding failures publish "{}".
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rec := Record{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.pushLocked(rec)
	h.counts[eventType]++

	for _, ch := range h.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Subscribe returns a channel of new records and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Record, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Record, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// SnapshotSince returns buffered records with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Record, 0, h.size)
	for i := 0; i < h.size; i++ {
		rec := h.ring[(h.start+i)%len(h.ring)]
		if rec.ID > lastID {
			out = append(out, rec)
		}
	}
	return out
}

// Counts returns the number of records published per type since start.
func (h *Hub) Counts() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]int64, len(h.counts))
	for k, v := range h.counts {
		out[k] = v
	}
	return out
}

func (h *Hub) pushLocked(rec Record) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = rec
		h.size++
		return
	}
	// Overwrite oldest.
	h.ring[h.start] = rec
	h.start = (h.start + 1) % capacity
}
