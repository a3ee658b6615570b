package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/metrics"
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	errAgentBacklogged = errors.New("agent send buffer full")
	errProbeEnded      = errors.New("probe already ended")
)

// agentRegistrationTTL outlives several pong intervals so a live
// connection never lapses between refreshes
const agentRegistrationTTL = 3 * agentPongWait

// Registrations is the part of the registration cache the agent hub keeps
// current for connected softphones
type Registrations interface {
	Register(uri string, contacts []string, ttl time.Duration)
	Unregister(uri string) bool
}

// AgentHub maintains the agent softphone connections and places probes to
// them. A connected agent is reachable; its connection is its registration.
type AgentHub struct {
	// Registered agent clients by URI
	agents map[string]*AgentClient

	// Probes offered and not yet ended, by probe ID
	probes map[string]*agentProbe

	// Register requests from agent clients
	register chan *AgentClient

	// Unregister requests from agent clients
	unregister chan *AgentClient

	// Mutex to protect agents and probes
	mu sync.RWMutex

	logger        zerolog.Logger
	registrations Registrations
	listener      telephony.Listener
}

var _ telephony.Dialer = (*AgentHub)(nil)

// NewAgentHub creates a new AgentHub
func NewAgentHub(registrations Registrations, logger zerolog.Logger) *AgentHub {
	return &AgentHub{
		agents:        make(map[string]*AgentClient),
		probes:        make(map[string]*agentProbe),
		register:      make(chan *AgentClient),
		unregister:    make(chan *AgentClient),
		logger:        logger.With().Str("component", "agent_hub").Logger(),
		registrations: registrations,
	}
}

// SetListener sets who is told about agent lifecycle facts
func (h *AgentHub) SetListener(l telephony.Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listener = l
}

// Run starts the hub's main loop
func (h *AgentHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addAgent(client)
		case client := <-h.unregister:
			h.removeAgent(client)
		}
	}
}

func (h *AgentHub) addAgent(c *AgentClient) {
	h.mu.Lock()
	old := h.agents[c.uri]
	h.agents[c.uri] = c
	total := len(h.agents)
	l := h.listener
	h.mu.Unlock()

	if old != nil && old != c {
		old.Close()
		h.dropProbes(old)
		metrics.Get().RecordAgentDisconnect()
	}
	if h.registrations != nil {
		h.registrations.Register(c.uri, []string{c.contact()}, agentRegistrationTTL)
	}
	metrics.Get().RecordAgentConnect()

	h.logger.Info().
		Str("agent_uri", c.uri).
		Int("total_agents", total).
		Msg("agent connected")

	if l != nil {
		l.EntityRegistered(c.uri)
	}
}

func (h *AgentHub) removeAgent(c *AgentClient) {
	h.mu.Lock()
	existing, ok := h.agents[c.uri]
	if !ok || existing != c {
		h.mu.Unlock()
		c.Close()
		return
	}
	delete(h.agents, c.uri)
	total := len(h.agents)
	l := h.listener
	h.mu.Unlock()

	c.Close()
	h.dropProbes(c)
	if h.registrations != nil {
		h.registrations.Unregister(c.uri)
	}
	metrics.Get().RecordAgentDisconnect()

	h.logger.Info().
		Str("agent_uri", c.uri).
		Int("total_agents", total).
		Msg("agent disconnected")

	if l != nil {
		l.EntityUnregistered(c.uri)
	}
}

// refresh renews the registration of a live connection
func (h *AgentHub) refresh(c *AgentClient) {
	h.mu.RLock()
	current := h.agents[c.uri] == c
	h.mu.RUnlock()
	if current && h.registrations != nil {
		h.registrations.Register(c.uri, []string{c.contact()}, agentRegistrationTTL)
	}
}

// dropProbes ends every probe offered over a closed connection
func (h *AgentHub) dropProbes(c *AgentClient) {
	h.mu.RLock()
	var gone []*agentProbe
	for _, p := range h.probes {
		if p.client == c {
			gone = append(gone, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range gone {
		p.end()
	}
}

// AgentCount returns the number of connected agents
func (h *AgentHub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

// Reaches reports whether an agent softphone is connected for uri
func (h *AgentHub) Reaches(uri string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.agents[uri]
	return ok
}

// Dial offers a probe to a connected agent. The agent reports ringing,
// answer and hangup back over its connection.
func (h *AgentHub) Dial(_ context.Context, caller telephony.Call, req telephony.OriginateRequest, events telephony.ProbeEvents) (telephony.Probe, error) {
	h.mu.Lock()
	client, ok := h.agents[req.Target]
	if !ok {
		h.mu.Unlock()
		return nil, telephony.ErrUnreachable
	}
	p := &agentProbe{
		id:     uuid.New().String(),
		target: req.Target,
		hub:    h,
		client: client,
		events: events,
	}
	h.probes[p.id] = p
	h.mu.Unlock()

	offer := types.ProbeOffer{
		Type:        "offer",
		ProbeID:     p.id,
		CallID:      caller.ID(),
		RingTimeout: req.RingTimeout.Milliseconds(),
		Timestamp:   time.Now(),
	}
	if req.CallerID != nil {
		offer.CallerNumber = req.CallerID.Number
		offer.CallerName = req.CallerID.Name
	}
	if !h.send(client, offer) {
		h.forget(p.id)
		return nil, errAgentBacklogged
	}

	if req.RingTimeout > 0 {
		p.mu.Lock()
		p.timer = time.AfterFunc(req.RingTimeout, p.expire)
		p.mu.Unlock()
	}

	h.logger.Debug().
		Str("probe_id", p.id).
		Str("agent_uri", req.Target).
		Str("call_id", caller.ID()).
		Msg("probe offered")
	return p, nil
}

// handleProgress applies a progress report from the agent that owns the probe
func (h *AgentHub) handleProgress(c *AgentClient, msg *types.ProbeProgress) {
	h.mu.RLock()
	p := h.probes[msg.ProbeID]
	h.mu.RUnlock()

	if p == nil || p.client != c {
		h.logger.Debug().
			Str("probe_id", msg.ProbeID).
			Str("agent_uri", c.uri).
			Msg("progress for unknown probe")
		return
	}

	switch msg.Type {
	case "ringing":
		p.ringing()
	case "answer":
		p.answer()
	case "reject", "hangup":
		p.end()
	}
}

func (h *AgentHub) forget(id string) {
	h.mu.Lock()
	delete(h.probes, id)
	h.mu.Unlock()
}

// activeProbes counts the live probes of an agent
func (h *AgentHub) activeProbes(uri string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, p := range h.probes {
		if p.target == uri {
			n++
		}
	}
	return n
}

func (h *AgentHub) currentListener() telephony.Listener {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listener
}

func (h *AgentHub) send(c *AgentClient, msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal agent message")
		return false
	}
	return c.safeSend(data)
}

// agentProbe is a probe offered to a connected softphone
type agentProbe struct {
	id     string
	target string
	hub    *AgentHub
	client *AgentClient
	events telephony.ProbeEvents

	mu       sync.Mutex
	answered bool
	ended    bool
	timer    *time.Timer
	caller   telephony.Call
}

func (p *agentProbe) ID() string     { return p.id }
func (p *agentProbe) Target() string { return p.target }

func (p *agentProbe) ringing() {
	p.mu.Lock()
	live := !p.ended && !p.answered
	p.mu.Unlock()
	if live && p.events.Ringing != nil {
		p.events.Ringing()
	}
}

func (p *agentProbe) answer() {
	p.mu.Lock()
	if p.ended || p.answered {
		p.mu.Unlock()
		return
	}
	p.answered = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	if l := p.hub.currentListener(); l != nil {
		l.EntityBecameBusy(telephony.Entity{URI: p.target, CallCount: p.hub.activeProbes(p.target)})
	}
	if p.events.Answered != nil {
		p.events.Answered()
	}
}

// expire ends a probe the agent let ring past its timeout
func (p *agentProbe) expire() {
	p.mu.Lock()
	answered := p.answered
	p.mu.Unlock()
	if answered {
		return
	}
	p.Hangup(telephony.ReasonRequestTimeout)
}

func (p *agentProbe) end() {
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

	p.hub.forget(p.id)
	if p.events.Ended != nil {
		p.events.Ended(answered)
	}
	if l := p.hub.currentListener(); l != nil {
		l.EntityMightBeFree(telephony.Entity{URI: p.target, CallCount: p.hub.activeProbes(p.target)}, answered)
	}

	// A bridged caller leaves with the agent
	if hc, ok := caller.(interface{ Hangup() }); ok {
		hc.Hangup()
	}
}

// Hangup cancels the probe on the agent's phone and ends it
func (p *agentProbe) Hangup(reason telephony.HangupReason) {
	p.mu.Lock()
	ended := p.ended
	p.mu.Unlock()
	if ended {
		return
	}
	p.hub.send(p.client, types.ProbeCancel{Type: "cancel", ProbeID: p.id, Reason: reason.Reason})
	p.end()
}

// Bridge tells the agent which caller it is connected to
func (p *agentProbe) Bridge(caller telephony.Call) error {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return errProbeEnded
	}
	p.caller = caller
	p.mu.Unlock()

	p.hub.send(p.client, types.ProbeBridged{Type: "bridged", ProbeID: p.id, CallID: caller.ID()})
	caller.OnHangup(func() { p.Hangup(telephony.ReasonUserGone) })
	return nil
}

// Disconnect closes the connection of an agent softphone. Its probes end
// and its registration is dropped.
func (h *AgentHub) Disconnect(uri string) bool {
	h.mu.RLock()
	client, ok := h.agents[uri]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	h.removeAgent(client)
	h.logger.Info().Str("agent_uri", uri).Msg("agent force-disconnected")
	return true
}
