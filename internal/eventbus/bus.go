package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies what happened.
type EventType string

const (
	// EventPromptOpened fires when a permission prompt is opened for a
	// suspended request.
	EventPromptOpened EventType = "prompt.opened"
	// EventPromptClosed fires when a prompt is torn down after resolution.
	EventPromptClosed EventType = "prompt.closed"
	// EventRequestResolved fires when a request reaches its final response.
	EventRequestResolved EventType = "request.resolved"
	// EventPermissionUpdated fires when a domain's permission state changes.
	EventPermissionUpdated EventType = "permission.updated"
)

// Event is a broadcast notification about broker activity.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	ResourceID string            `json:"resourceId"`
	Payload    string            `json:"payload,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Bus fans events out to subscribers. Publishing never blocks: an event is
// dropped for a subscriber whose channel is full.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

func New() *Bus {
	return &Bus{subscribers: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber and returns its id and channel.
func (b *Bus) Subscribe(buffer int) (string, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := ulid.Make().String()
	ch := make(chan Event, buffer)
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish delivers the event to all current subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			slog.Warn("event dropped for slow subscriber",
				"subscriber_id", id, "event_type", event.Type, "resource_id", event.ResourceID)
		}
	}
}

// PublishNew builds an event with a fresh id and timestamp and publishes it.
func (b *Bus) PublishNew(eventType EventType, resourceID, payload string, metadata map[string]string) {
	b.Publish(Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		ResourceID: resourceID,
		Payload:    payload,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	})
}
