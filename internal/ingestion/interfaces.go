package ingestion

import (
	"errors"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/types"
)

var (
	// ErrInvalidEvent is returned for events missing required fields
	ErrInvalidEvent = errors.New("invalid lifecycle event")
	// ErrUnknownEvent is returned for event types the processor does not handle
	ErrUnknownEvent = errors.New("unknown lifecycle event type")
)

// EventProcessor processes lifecycle events from any signaling source
type EventProcessor interface {
	Process(ev *types.LifecycleEvent) error
}

// Registrations stores the device contacts reported by registration events
type Registrations interface {
	Register(uri string, contacts []string, ttl time.Duration)
	Unregister(uri string) bool
}
