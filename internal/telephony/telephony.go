// Package telephony defines the boundary between the call-distribution core
// and whatever signaling stack actually places and answers calls.
package telephony

import (
	"context"
	"errors"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/types"
)

// ErrUnreachable is returned when no dialer can reach a target
var ErrUnreachable = errors.New("target unreachable")

// Entity identifies the far end of a call together with its current
// number of concurrent calls
type Entity struct {
	URI       string `json:"uri"`
	CallCount int    `json:"callCount"`
}

// CallerID overrides the identity presented to an agent
type CallerID struct {
	Number string `json:"number,omitempty"`
	Name   string `json:"name,omitempty"`
}

// HangupReason is passed to the signaling layer when a probe is released
type HangupReason struct {
	Reason string `json:"reason"`
	SIP    int    `json:"sip"`
}

var (
	ReasonPickedOff      = HangupReason{Reason: "PICKED_OFF", SIP: 487}
	ReasonLoseRace       = HangupReason{Reason: "LOSE_RACE", SIP: 487}
	ReasonUserGone       = HangupReason{Reason: "USER_GONE", SIP: 410}
	ReasonServerTimeout  = HangupReason{Reason: "SERVER_TIMEOUT", SIP: 504}
	ReasonRequestTimeout = HangupReason{Reason: "REQUEST_TIMEOUT", SIP: 408}
)

// OriginateRequest describes one outbound probe to an agent
type OriginateRequest struct {
	Target      string
	Contacts    []string
	RingTimeout time.Duration
	CallerID    *CallerID
}

// ProbeEvents are the progress callbacks of a probe. Ended is called exactly
// once for every probe returned by a successful Originate; Answered at most
// once and always before Ended. Callbacks may run on any goroutine.
type ProbeEvents struct {
	Ringing  func()
	Answered func()
	Ended    func(answered bool)
}

// Probe is an outbound call attempt to an agent device
type Probe interface {
	ID() string
	Target() string
	Hangup(reason HangupReason)
	Bridge(caller Call) error
}

// Call is a caller waiting in a queue
type Call interface {
	ID() string
	CallerID() CallerID
	Originate(ctx context.Context, req OriginateRequest, events ProbeEvents) (Probe, error)
	// OnHangup registers fn to run once the caller leg is gone
	OnHangup(fn func())
}

// QueueEventSink is implemented by calls that want their own queue
// notifications (position updates and so on)
type QueueEventSink interface {
	OnQueueEvent(ev types.QueueEvent)
}

// Registrar resolves an agent URI to its registered device contacts
type Registrar interface {
	ContactsFor(ctx context.Context, uri string) ([]string, error)
}

// Listener receives call-lifecycle facts about agent endpoints
type Listener interface {
	EntityBecameBusy(e Entity)
	EntityMightBeFree(e Entity, answered bool)
	EntityRegistered(uri string)
	EntityUnregistered(uri string)
}

// Dialer places probes towards the endpoints it knows about
type Dialer interface {
	Reaches(uri string) bool
	Dial(ctx context.Context, caller Call, req OriginateRequest, events ProbeEvents) (Probe, error)
}

// Router tries each dialer in order and uses the first that reaches the target
type Router struct {
	dialers []Dialer
}

// NewRouter creates a Router over the given dialers
func NewRouter(dialers ...Dialer) *Router {
	return &Router{dialers: dialers}
}

// Reaches reports whether any dialer reaches uri
func (r *Router) Reaches(uri string) bool {
	for _, d := range r.dialers {
		if d.Reaches(uri) {
			return true
		}
	}
	return false
}

// Dial routes the probe to the first dialer that reaches the target
func (r *Router) Dial(ctx context.Context, caller Call, req OriginateRequest, events ProbeEvents) (Probe, error) {
	for _, d := range r.dialers {
		if d.Reaches(req.Target) {
			return d.Dial(ctx, caller, req, events)
		}
	}
	return nil, ErrUnreachable
}

// RegistrarChain asks each registrar in turn and returns the first
// non-empty contact list
type RegistrarChain []Registrar

// ContactsFor returns the contacts of the first registrar that knows uri
func (c RegistrarChain) ContactsFor(ctx context.Context, uri string) ([]string, error) {
	var firstErr error
	for _, r := range c {
		contacts, err := r.ContactsFor(ctx, uri)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(contacts) > 0 {
			return contacts, nil
		}
	}
	return nil, firstErr
}
