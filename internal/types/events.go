package types

import "time"

// EventType names a queue notification
type EventType string

const (
	EventEntered EventType = "queue.entered"
	EventUpdated EventType = "queue.position"
	EventLeft    EventType = "queue.left"
	EventHangup  EventType = "queue.hangup"
	EventStats   EventType = "queue.stats"
)

// QueueEvent is emitted by a queue on every observable transition.
// Position and State are only meaningful for per-call events.
type QueueEvent struct {
	Type      EventType `json:"type"`
	Domain    string    `json:"domain"`
	Queue     string    `json:"queue"`
	CallID    string    `json:"callId,omitempty"`
	Position  int       `json:"position"`
	State     CallState `json:"state,omitempty"`
	Counts    Counts    `json:"counts"`
	Timestamp time.Time `json:"timestamp"`
}

// LifecycleEvent is posted by an external signaling stack to report
// call and registration facts about agent endpoints
type LifecycleEvent struct {
	Type      string    `json:"type"` // "entity.busy", "call.ended", "registered", "unregistered"
	URI       string    `json:"uri"`
	CallCount int       `json:"callCount"`
	Answered  bool      `json:"answered,omitempty"`
	Contacts  []string  `json:"contacts,omitempty"`
	Expires   int       `json:"expires,omitempty"` // seconds
	Timestamp time.Time `json:"timestamp"`
}

// Lifecycle event types accepted on the intake endpoint
const (
	LifecycleBusy         = "entity.busy"
	LifecycleCallEnded    = "call.ended"
	LifecycleRegistered   = "registered"
	LifecycleUnregistered = "unregistered"
)
