package session

import (
	"context"
	"sync"
	"time"

	"github.com/moneykeeper/authkit/internal/ids"
)

// EventType identifies a session lifecycle transition.
type EventType string

const (
	EventLogin   EventType = "login"
	EventLogout  EventType = "logout"
	EventExpired EventType = "expired"
)

// Event is published on session transitions. Session is nil for logout and
// expiry events.
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Session *Session  `json:"session,omitempty"`
	At      time.Time `json:"at"`
}

// EventBus fan-outs session events to all active subscribers. UI layers and
// caches subscribe to react to login/logout without polling.
type EventBus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewEventBus initialises an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (b *EventBus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (b *EventBus) Publish(typ EventType, s *Session) {
	evt := Event{
		ID:      ids.New(),
		Type:    typ,
		Session: s,
		At:      time.Now().UTC(),
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
