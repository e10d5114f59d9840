// Package events fans deposit attempt transitions out to interested
// subscribers (the websocket progress endpoint).
package events

import (
	"sync"

	"github.com/goalvault/goalvault/internal/app/domain/deposit"
)

const subscriberBuffer = 16

// Hub is an in-process publish/subscribe fan-out keyed by attempt id.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan deposit.Attempt
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan deposit.Attempt)}
}

// Publish delivers the attempt snapshot to all subscribers of its id. Slow
// subscribers miss intermediate snapshots rather than blocking the workflow.
func (h *Hub) Publish(att deposit.Attempt) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[att.ID] {
		select {
		case ch <- att:
		default:
		}
	}
}

// Subscribe registers interest in one attempt's transitions. The returned
// cancel func must be called to release the subscription.
func (h *Hub) Subscribe(attemptID string) (<-chan deposit.Attempt, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan deposit.Attempt, subscriberBuffer)
	if h.subs[attemptID] == nil {
		h.subs[attemptID] = make(map[int]chan deposit.Attempt)
	}
	h.subs[attemptID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if chans, ok := h.subs[attemptID]; ok {
			if c, ok := chans[id]; ok {
				delete(chans, id)
				close(c)
			}
			if len(chans) == 0 {
				delete(h.subs, attemptID)
			}
		}
	}
	return ch, cancel
}
