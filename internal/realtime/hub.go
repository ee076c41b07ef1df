// Package realtime delivers session-change notifications to open browser
// connections.
package realtime

import (
	"errors"
	"strings"
	"sync"
	"time"
)

const EventSessionChanged = "session_changed"

const DefaultSubscriberBuffer = 4

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidRoom    = errors.New("invalid_room")
)

// Event is sent to every subscriber of a room.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Hub is an in-process pub/sub keyed by room. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu               sync.RWMutex
	rooms            map[string]*room
	subscriberBuffer int
}

type room struct {
	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
}

type Subscription struct {
	hub  *Hub
	room string
	id   uint64
	ch   chan Event
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		rooms:            make(map[string]*room),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers event to the current subscribers of key and reports how
// many received it.
func (h *Hub) Publish(key string, event Event) int {
	if h == nil {
		return 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return 0
	}

	h.mu.RLock()
	r := h.rooms[key]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}

	r.mu.Lock()
	subs := make([]chan Event, 0, len(r.subs))
	for _, ch := range r.subs {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	delivered := 0
	for _, ch := range subs {
		select {
		case ch <- event:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *Hub) Subscribe(key string) (*Subscription, error) {
	if h == nil {
		return nil, ErrHubUnavailable
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrInvalidRoom
	}

	// The room is looked up and joined under the hub lock so a concurrent
	// unsubscribe cannot drop it in between.
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[key]
	if r == nil {
		r = &room{subs: make(map[uint64]chan Event)}
		h.rooms[key] = r
	}
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	r.subs[id] = ch
	r.mu.Unlock()

	return &Subscription{hub: h, room: key, id: id, ch: ch}, nil
}

// Subscribers returns the number of open subscriptions for key.
func (h *Hub) Subscribers(key string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	r := h.rooms[strings.TrimSpace(key)]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (h *Hub) unsubscribe(key string, id uint64) {
	h.mu.RLock()
	r := h.rooms[key]
	h.mu.RUnlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	delete(r.subs, id)
	remaining := len(r.subs)
	r.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[key] != r {
		return
	}
	r.mu.Lock()
	empty := len(r.subs) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, key)
	}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.room, s.id)
	})
}
