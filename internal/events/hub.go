package events

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 128

// Hub fans events out to in-process subscribers. A subscriber whose buffer
// is full misses the event; the hub never blocks the emitter.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{subs: map[uint64]*Subscription{}, buffer: buffer}
}

type Subscription struct {
	id      uint64
	hub     *Hub
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped reports how many events were missed because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Subscription{id: h.nextID, hub: h, ch: make(chan Event, h.buffer)}
	h.subs[s.id] = s
	return s
}

func (h *Hub) Emit(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
