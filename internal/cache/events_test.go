package cache

import (
	"testing"

	"github.com/dennisdiepolder/monti/acd/internal/types"
)

func TestEventCacheRing(t *testing.T) {
	c := NewEventCache(3)
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		c.OnQueueEvent(types.QueueEvent{Type: types.EventEntered, Domain: "d", CallID: id})
	}

	if c.Size() != 3 {
		t.Fatalf("expected 3 events, got %d", c.Size())
	}
	got := c.Recent(0, "")
	if len(got) != 3 || got[0].CallID != "c2" || got[2].CallID != "c4" {
		t.Errorf("expected c2..c4 oldest first, got %+v", got)
	}

	got = c.Recent(1, "")
	if len(got) != 1 || got[0].CallID != "c4" {
		t.Errorf("expected only the newest event, got %+v", got)
	}
}

func TestEventCacheDomainFilter(t *testing.T) {
	c := NewEventCache(10)
	c.OnQueueEvent(types.QueueEvent{Domain: "a", CallID: "1"})
	c.OnQueueEvent(types.QueueEvent{Domain: "b", CallID: "2"})
	c.OnQueueEvent(types.QueueEvent{Domain: "a", CallID: "3"})

	got := c.Recent(0, "a")
	if len(got) != 2 || got[0].CallID != "1" || got[1].CallID != "3" {
		t.Errorf("unexpected events for domain a: %+v", got)
	}
	if len(c.Recent(0, "z")) != 0 {
		t.Error("expected no events for an unknown domain")
	}
}
