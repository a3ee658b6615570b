package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/google/uuid"
)

var errCallerGone = errors.New("caller has hung up")

// Caller is a simulated inbound call. Probes it originates go through its dialer.
type Caller struct {
	id       string
	callerID telephony.CallerID
	dialer   telephony.Dialer

	mu       sync.Mutex
	gone     bool
	bridged  string
	onHangup []func()
	events   []types.QueueEvent
}

// NewCaller creates a caller. An empty id gets a random one.
func NewCaller(id string, callerID telephony.CallerID, dialer telephony.Dialer) *Caller {
	if id == "" {
		id = uuid.New().String()
	}
	return &Caller{
		id:       id,
		callerID: callerID,
		dialer:   dialer,
	}
}

// ID returns the call identifier
func (c *Caller) ID() string { return c.id }

// CallerID returns the caller's presented identity
func (c *Caller) CallerID() telephony.CallerID { return c.callerID }

// Originate places a probe on behalf of this caller
func (c *Caller) Originate(ctx context.Context, req telephony.OriginateRequest, events telephony.ProbeEvents) (telephony.Probe, error) {
	c.mu.Lock()
	gone := c.gone
	c.mu.Unlock()
	if gone {
		return nil, errCallerGone
	}
	return c.dialer.Dial(ctx, c, req, events)
}

// OnHangup registers fn to run when the caller hangs up. It runs right
// away if the caller is already gone.
func (c *Caller) OnHangup(fn func()) {
	c.mu.Lock()
	if c.gone {
		c.mu.Unlock()
		fn()
		return
	}
	c.onHangup = append(c.onHangup, fn)
	c.mu.Unlock()
}

// Hangup ends the call from the caller side
func (c *Caller) Hangup() {
	c.mu.Lock()
	if c.gone {
		c.mu.Unlock()
		return
	}
	c.gone = true
	fns := c.onHangup
	c.onHangup = nil
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Gone reports whether the caller has hung up
func (c *Caller) Gone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gone
}

// BridgedTo returns the agent the caller is talking to, if any
func (c *Caller) BridgedTo() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bridged
}

func (c *Caller) markBridged(agent string) {
	c.mu.Lock()
	c.bridged = agent
	c.mu.Unlock()
}

// OnQueueEvent records the queue notifications addressed to this caller
func (c *Caller) OnQueueEvent(ev types.QueueEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// Events returns the queue notifications received so far
func (c *Caller) Events() []types.QueueEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.QueueEvent, len(c.events))
	copy(out, c.events)
	return out
}
