package ingestion

import (
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/rs/zerolog"
)

// DefaultProcessor maps lifecycle events onto the registration cache and a
// telephony listener (the queue manager)
type DefaultProcessor struct {
	listener      telephony.Listener
	registrations Registrations
	logger        zerolog.Logger
}

var _ EventProcessor = (*DefaultProcessor)(nil)

// NewDefaultProcessor creates a new DefaultProcessor
func NewDefaultProcessor(listener telephony.Listener, registrations Registrations, logger zerolog.Logger) *DefaultProcessor {
	return &DefaultProcessor{
		listener:      listener,
		registrations: registrations,
		logger:        logger,
	}
}

// Process applies one lifecycle event
func (p *DefaultProcessor) Process(ev *types.LifecycleEvent) error {
	if ev.URI == "" {
		return fmt.Errorf("%w: missing uri", ErrInvalidEvent)
	}
	if ev.CallCount < 0 {
		return fmt.Errorf("%w: negative callCount", ErrInvalidEvent)
	}

	entity := telephony.Entity{URI: ev.URI, CallCount: ev.CallCount}

	switch ev.Type {
	case types.LifecycleBusy:
		p.listener.EntityBecameBusy(entity)

	case types.LifecycleCallEnded:
		p.listener.EntityMightBeFree(entity, ev.Answered)

	case types.LifecycleRegistered:
		if len(ev.Contacts) == 0 {
			return fmt.Errorf("%w: registration without contacts", ErrInvalidEvent)
		}
		p.registrations.Register(ev.URI, ev.Contacts, time.Duration(ev.Expires)*time.Second)
		p.listener.EntityRegistered(ev.URI)

	case types.LifecycleUnregistered:
		p.registrations.Unregister(ev.URI)
		p.listener.EntityUnregistered(ev.URI)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	p.logger.Debug().
		Str("type", ev.Type).
		Str("agent_uri", ev.URI).
		Int("call_count", ev.CallCount).
		Msg("lifecycle event processed")
	return nil
}
