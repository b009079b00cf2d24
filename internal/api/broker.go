package api

import (
	"sync"
)

// Event is one message fanned out to trip subscribers (SSE and WebSocket).
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans out per-trip events. Implementations drop events for
// subscribers whose buffer is full rather than block publishers.
type EventBroker interface {
	Subscribe(tripID string) chan Event
	Unsubscribe(tripID string, ch chan Event)
	Publish(tripID string, evt Event)
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // trip id -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(tripID string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[tripID] == nil {
		b.subs[tripID] = map[chan Event]struct{}{}
	}
	b.subs[tripID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(tripID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[tripID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, tripID)
	}
	close(ch)
}

func (b *Broker) Publish(tripID string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[tripID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func tripChannel(tripID string) string { return "trip:" + tripID }
