// Package sim is an in-process telephony network: simulated agent phones
// that ring, answer and hang up on their own, and simulated callers that
// place probes through it.
package sim

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var errProbeEnded = errors.New("probe already ended")

// Behavior describes how a simulated agent reacts to a ringing probe
type Behavior struct {
	AnswerProb float64       // chance of answering, 0..1
	RingDelay  time.Duration // time until the agent answers or declines
	TalkTime   time.Duration // how long an answered call lasts
}

// DefaultBehavior is a fairly attentive agent
func DefaultBehavior() Behavior {
	return Behavior{
		AnswerProb: 0.9,
		RingDelay:  2 * time.Second,
		TalkTime:   30 * time.Second,
	}
}

type simAgent struct {
	uri      string
	behavior Behavior
	active   int
}

// Network owns the simulated agent phones and places probes to them
type Network struct {
	mu       sync.Mutex
	agents   map[string]*simAgent
	listener telephony.Listener
	rng      *rand.Rand
	logger   zerolog.Logger
}

// NewNetwork creates an empty simulated network
func NewNetwork(logger zerolog.Logger) *Network {
	return &Network{
		agents: make(map[string]*simAgent),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.With().Str("component", "sim").Logger(),
	}
}

// SetListener sets who is told about agent lifecycle facts
func (n *Network) SetListener(l telephony.Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = l
}

// Seed makes answer decisions and jitter reproducible
func (n *Network) Seed(seed int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rng = rand.New(rand.NewSource(seed))
}

// AddAgent adds or updates a simulated agent phone
func (n *Network) AddAgent(uri string, b Behavior) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if a, ok := n.agents[uri]; ok {
		a.behavior = b
		return
	}
	n.agents[uri] = &simAgent{uri: uri, behavior: b}
}

// RemoveAgent takes a phone off the network
func (n *Network) RemoveAgent(uri string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.agents, uri)
}

// URIs returns all simulated agent URIs
func (n *Network) URIs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.agents))
	for uri := range n.agents {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// Reaches reports whether uri is a simulated agent
func (n *Network) Reaches(uri string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.agents[uri]
	return ok
}

// ContactsFor gives every simulated phone a single sim: contact
func (n *Network) ContactsFor(_ context.Context, uri string) ([]string, error) {
	if !n.Reaches(uri) {
		return nil, nil
	}
	return []string{"sim:" + uri}, nil
}

// Dial rings a simulated agent. The agent answers or declines after its
// ring delay; a delay beyond the ring timeout ends the probe unanswered.
func (n *Network) Dial(_ context.Context, caller telephony.Call, req telephony.OriginateRequest, events telephony.ProbeEvents) (telephony.Probe, error) {
	n.mu.Lock()
	a, ok := n.agents[req.Target]
	if !ok {
		n.mu.Unlock()
		return nil, telephony.ErrUnreachable
	}
	a.active++
	b := a.behavior
	answer := n.rng.Float64() < b.AnswerProb
	delay := jitter(n.rng, b.RingDelay)
	n.mu.Unlock()

	p := &probe{
		id:     uuid.New().String(),
		target: req.Target,
		net:    n,
		events: events,
		talk:   b.TalkTime,
	}

	if req.RingTimeout > 0 && delay >= req.RingTimeout {
		delay = req.RingTimeout
		answer = false
	}

	n.logger.Debug().
		Str("probe_id", p.id).
		Str("agent_uri", req.Target).
		Str("call_id", caller.ID()).
		Bool("will_answer", answer).
		Dur("ring_delay", delay).
		Msg("probe ringing")

	p.mu.Lock()
	p.timer = time.AfterFunc(delay, func() {
		if answer {
			p.answer()
		} else {
			p.end()
		}
	})
	p.mu.Unlock()

	if events.Ringing != nil {
		go events.Ringing()
	}
	return p, nil
}

func (n *Network) busy(uri string) {
	n.mu.Lock()
	count := 0
	if a, ok := n.agents[uri]; ok {
		count = a.active
	}
	l := n.listener
	n.mu.Unlock()

	if l != nil {
		l.EntityBecameBusy(telephony.Entity{URI: uri, CallCount: count})
	}
}

func (n *Network) release(uri string, answered bool) {
	n.mu.Lock()
	count := 0
	if a, ok := n.agents[uri]; ok {
		if a.active > 0 {
			a.active--
		}
		count = a.active
	}
	l := n.listener
	n.mu.Unlock()

	if l != nil {
		l.EntityMightBeFree(telephony.Entity{URI: uri, CallCount: count}, answered)
	}
}

// jitter spreads d by +/-25%
func jitter(rng *rand.Rand, d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(float64(d)*(rng.Float64()*0.5-0.25))
}

// probe is a simulated outbound leg to an agent phone
type probe struct {
	id     string
	target string
	net    *Network
	events telephony.ProbeEvents
	talk   time.Duration

	mu       sync.Mutex
	answered bool
	ended    bool
	timer    *time.Timer
	caller   telephony.Call
}

func (p *probe) ID() string     { return p.id }
func (p *probe) Target() string { return p.target }

func (p *probe) answer() {
	p.mu.Lock()
	if p.ended || p.answered {
		p.mu.Unlock()
		return
	}
	p.answered = true
	p.mu.Unlock()

	p.net.busy(p.target)
	if p.events.Answered != nil {
		p.events.Answered()
	}
}

func (p *probe) end() {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return
	}
	p.ended = true
	answered := p.answered
	if p.timer != nil {
		p.timer.Stop()
	}
	caller := p.caller
	p.mu.Unlock()

	if p.events.Ended != nil {
		p.events.Ended(answered)
	}
	p.net.release(p.target, answered)

	if c, ok := caller.(*Caller); ok {
		c.Hangup()
	}
}

// Hangup releases the probe. A bridged caller goes with it.
func (p *probe) Hangup(reason telephony.HangupReason) {
	p.net.logger.Debug().
		Str("probe_id", p.id).
		Str("agent_uri", p.target).
		Str("reason", reason.Reason).
		Msg("probe hung up")
	p.end()
}

// Bridge connects the answered probe to a caller for the agent's talk time
func (p *probe) Bridge(caller telephony.Call) error {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return errProbeEnded
	}
	p.caller = caller
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.talk, p.end)
	p.mu.Unlock()

	if c, ok := caller.(*Caller); ok {
		c.markBridged(p.target)
	}
	caller.OnHangup(p.end)
	return nil
}
