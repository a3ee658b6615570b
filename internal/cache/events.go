package cache

import (
	"sync"

	"github.com/dennisdiepolder/monti/acd/internal/types"
)

// DefaultEventCapacity is how many queue events are kept by default
const DefaultEventCapacity = 2000

// EventCache keeps the most recent queue events in a fixed-size ring
type EventCache struct {
	events []types.QueueEvent
	next   int
	full   bool
	mu     sync.RWMutex
}

// NewEventCache creates an event cache holding up to capacity events
func NewEventCache(capacity int) *EventCache {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventCache{
		events: make([]types.QueueEvent, capacity),
	}
}

// OnQueueEvent records an event, overwriting the oldest once full
func (c *EventCache) OnQueueEvent(ev types.QueueEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[c.next] = ev
	c.next = (c.next + 1) % len(c.events)
	if c.next == 0 {
		c.full = true
	}
}

// Recent returns up to n events, oldest first, optionally limited to one domain
func (c *EventCache) Recent(n int, domain string) []types.QueueEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ordered := make([]types.QueueEvent, 0, c.sizeLocked())
	if c.full {
		ordered = append(ordered, c.events[c.next:]...)
	}
	ordered = append(ordered, c.events[:c.next]...)

	if domain != "" {
		filtered := ordered[:0]
		for _, ev := range ordered {
			if ev.Domain == domain {
				filtered = append(filtered, ev)
			}
		}
		ordered = filtered
	}
	if n > 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// Size returns the current number of cached events
func (c *EventCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sizeLocked()
}

func (c *EventCache) sizeLocked() int {
	if c.full {
		return len(c.events)
	}
	return c.next
}
