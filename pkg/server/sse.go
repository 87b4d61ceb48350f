// Server-Sent Events for pushing refreshed analyses to open charts.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
)

// Event is sent to SSE clients.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	ID    string      `json:"id,omitempty"`
}

// Broker fans events out to SSE subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	seq         atomic.Uint64
}

// NewBroker creates a new SSE broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 10)
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Subscribers returns the number of connected subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish sends an event to all subscribers. Slow subscribers miss events.
func (b *Broker) Publish(name string, data interface{}) {
	ev := Event{Event: name, Data: data, ID: strconv.FormatUint(b.seq.Add(1), 10)}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Channel full, skip
		}
	}
}

// Handler streams events to one client until it disconnects. initial, when
// non-nil, supplies the first event.
func (b *Broker) Handler(initial func() *Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "SSE not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch := b.Subscribe()
		defer b.Unsubscribe(ch)

		if initial != nil {
			if ev := initial(); ev != nil {
				writeEvent(w, *ev)
			}
		}
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				writeEvent(w, ev)
				flusher.Flush()
			}
		}
	}
}

// writeEvent writes an event in SSE format.
func writeEvent(w http.ResponseWriter, ev Event) {
	if ev.ID != "" {
		fmt.Fprintf(w, "id: %s\n", ev.ID)
	}
	fmt.Fprintf(w, "event: %s\n", ev.Event)

	data, _ := json.Marshal(ev.Data)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
