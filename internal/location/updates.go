package location

import (
	"sync"

	"github.com/google/uuid"

	"github.com/floodwatch/location-agent/internal/models"
)

// UpdateHub fans location updates out to registered subscribers.
// Subscribers hold an opaque handle and can unsubscribe
// deterministically; slow subscribers drop updates rather than block
// the subsystem. One lock guards both delivery and the subscriber map,
// so a channel can never be closed while a broadcast can still reach it.
type UpdateHub struct {
	mu          sync.RWMutex
	subscribers map[string]chan models.Coordinate
}

// NewUpdateHub creates an empty hub.
func NewUpdateHub() *UpdateHub {
	return &UpdateHub{
		subscribers: make(map[string]chan models.Coordinate),
	}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns the update channel plus a handle for Unsubscribe.
func (h *UpdateHub) Subscribe(buffer int) (<-chan models.Coordinate, string) {
	handle := uuid.New().String()
	ch := make(chan models.Coordinate, buffer)

	h.mu.Lock()
	h.subscribers[handle] = ch
	h.mu.Unlock()

	return ch, handle
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *UpdateHub) Unsubscribe(handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[handle]; ok {
		delete(h.subscribers, handle)
		close(ch)
	}
}

// Broadcast delivers a coordinate to every subscriber without blocking.
func (h *UpdateHub) Broadcast(coord models.Coordinate) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- coord:
		default:
		}
	}
}
