package callqueue

import (
	"context"
	"sort"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/metrics"
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/google/uuid"
)

// effects are telephony calls collected under the manager lock and run
// after it is released
type effects []func()

func (fx *effects) add(f func()) {
	*fx = append(*fx, f)
}

// locked runs fn with the manager lock held, then runs the effects fn queued
func (m *Manager) locked(fn func(fx *effects)) {
	var fx effects
	m.mu.Lock()
	fn(&fx)
	m.mu.Unlock()
	for _, f := range fx {
		f()
	}
}

// probeLeg is the manager's view of one outbound probe to an agent
type probeLeg struct {
	id       string
	seq      uint64
	queue    QueueKey
	mode     types.Mode
	agentURI string
	callID   string // ringall: the call being offered; enterprise: set once bonded
	started  time.Time

	handle   telephony.Probe
	answered bool
	released bool
	ended    bool

	// set while the handle has not arrived yet
	pendingHangup *telephony.HangupReason
	pendingBridge telephony.Call

	bridged *QueuedCall
}

func (l *probeLeg) outstanding() bool {
	return !l.answered && !l.released && !l.ended
}

// outstandingLocked returns the unanswered live probes of a queue, oldest first
func (q *Queue) outstandingLocked() []*probeLeg {
	var out []*probeLeg
	for _, leg := range q.probes {
		if leg.outstanding() {
			out = append(out, leg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// startProbeLocked books an agent for a probe and queues the origination
func (m *Manager) startProbeLocked(q *Queue, a *Agent, cand *QueuedCall, callID string, fx *effects) {
	if cand == nil {
		return
	}
	m.probeSeq++
	now := time.Now()
	leg := &probeLeg{
		id:       uuid.New().String(),
		seq:      m.probeSeq,
		queue:    q.key,
		mode:     q.mode,
		agentURI: a.URI,
		callID:   callID,
		started:  now,
	}
	q.probes[leg.id] = leg

	a.LastContacted = now
	if a.CallCount == 0 {
		a.State = types.StateRinging
		a.gen++
	}
	a.CallCount++

	cid := cand.presentedCallerID()
	req := telephony.OriginateRequest{
		Target:      a.URI,
		RingTimeout: q.cfg.RingTimeout,
		CallerID:    &cid,
	}
	call := cand.call

	q.logger.Debug().
		Str("probe_id", leg.id).
		Str("agent_uri", a.URI).
		Str("call_id", cand.id).
		Msg("probing agent")
	metrics.Get().ProbeStarted(string(q.mode))

	fx.add(func() { m.originate(leg, call, req) })
}

// originate resolves the agent contacts and places the probe. It runs
// without the lock.
func (m *Manager) originate(leg *probeLeg, call telephony.Call, req telephony.OriginateRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), originateRPCTimeout)
	defer cancel()

	if m.registrar != nil {
		contacts, err := m.registrar.ContactsFor(ctx, req.Target)
		if err != nil || len(contacts) == 0 {
			m.logger.Debug().Err(err).
				Str("agent_uri", req.Target).
				Str("probe_id", leg.id).
				Msg("no registered contacts for agent")
			m.locked(func(fx *effects) { m.probeEndedLocked(leg, fx) })
			return
		}
		req.Contacts = contacts
	}

	probe, err := call.Originate(ctx, req, telephony.ProbeEvents{
		Ringing: func() {
			m.locked(func(*effects) { m.probeRingingLocked(leg) })
		},
		Answered: func() {
			m.locked(func(fx *effects) { m.probeAnsweredLocked(leg, fx) })
		},
		Ended: func(bool) {
			m.locked(func(fx *effects) { m.probeEndedLocked(leg, fx) })
		},
	})
	if err != nil {
		m.logger.Warn().Err(err).
			Str("agent_uri", req.Target).
			Str("probe_id", leg.id).
			Msg("failed to originate probe")
		m.locked(func(fx *effects) { m.probeEndedLocked(leg, fx) })
		return
	}

	m.locked(func(fx *effects) { m.attachLocked(leg, probe, fx) })
}

// attachLocked stores the probe handle and replays what happened before it arrived
func (m *Manager) attachLocked(leg *probeLeg, probe telephony.Probe, fx *effects) {
	leg.handle = probe
	if leg.ended {
		return
	}
	if leg.pendingHangup != nil {
		reason := *leg.pendingHangup
		leg.pendingHangup = nil
		fx.add(func() { probe.Hangup(reason) })
		return
	}
	if leg.pendingBridge != nil {
		caller := leg.pendingBridge
		leg.pendingBridge = nil
		fx.add(func() { m.bridge(leg, probe, caller) })
	}
}

func (m *Manager) probeRingingLocked(leg *probeLeg) {
	if leg.ended || leg.answered {
		return
	}
	if a := m.agents.Get(leg.agentURI); a != nil && a.CallCount > 0 && a.State == types.StateAvailable {
		a.State = types.StateRinging
	}
}

func (m *Manager) probeAnsweredLocked(leg *probeLeg, fx *effects) {
	if leg.ended || leg.answered || leg.released {
		return
	}
	leg.answered = true
	if a := m.agents.Get(leg.agentURI); a != nil {
		a.State = types.StateBusy
		a.gen++
	}

	q := m.queueByKeyLocked(leg.queue)
	if q == nil {
		m.releaseLocked(leg, telephony.ReasonLoseRace, fx)
		return
	}
	q.strategy.answered(q, leg, fx)
}

// probeEndedLocked books the end of a probe: the agent is released and may
// rest, and a probe that never talked to a caller lets the queue try again.
// An agent who answered but lost the race rests like an unanswered one.
func (m *Manager) probeEndedLocked(leg *probeLeg, fx *effects) {
	if leg.ended {
		return
	}
	leg.ended = true
	answered := leg.bridged != nil

	q := m.queueByKeyLocked(leg.queue)
	cfg := QueueConfig{}
	if q != nil {
		delete(q.probes, leg.id)
		cfg = q.cfg
		if leg.bridged != nil {
			q.talkEndedLocked(leg.bridged)
		}
	}

	result := "failed"
	switch {
	case answered:
		result = "answered"
	case leg.released:
		result = "cancelled"
	}
	metrics.Get().ProbeEnded(string(leg.mode), result)

	if a := m.agents.Get(leg.agentURI); a != nil {
		if a.CallCount > 0 {
			a.CallCount--
		}
		if a.CallCount == 0 {
			m.restLocked(a, answered, cfg)
		}
	}

	if q != nil && !answered {
		q.strategy.probeFailed(q, leg, fx)
	}
}

// cancelLocked hangs up a probe unless it has been answered
func (m *Manager) cancelLocked(leg *probeLeg, reason telephony.HangupReason, fx *effects) {
	if leg.answered {
		return
	}
	m.releaseLocked(leg, reason, fx)
}

// releaseLocked hangs up a probe, answered or not
func (m *Manager) releaseLocked(leg *probeLeg, reason telephony.HangupReason, fx *effects) {
	if leg.ended || leg.released {
		return
	}
	leg.released = true
	if leg.handle == nil {
		leg.pendingHangup = &reason
		return
	}
	h := leg.handle
	fx.add(func() { h.Hangup(reason) })
}

// bridgeLocked connects an answered probe to its caller once the handle is known
func (m *Manager) bridgeLocked(leg *probeLeg, qc *QueuedCall, fx *effects) {
	leg.bridged = qc
	if leg.handle == nil {
		leg.pendingBridge = qc.call
		return
	}
	h := leg.handle
	caller := qc.call
	fx.add(func() { m.bridge(leg, h, caller) })
}

func (m *Manager) bridge(leg *probeLeg, probe telephony.Probe, caller telephony.Call) {
	if err := probe.Bridge(caller); err != nil {
		m.logger.Warn().Err(err).
			Str("probe_id", leg.id).
			Str("call_id", caller.ID()).
			Msg("failed to bridge probe to caller")
	}
}

// restLocked moves an agent to resting and schedules its return
func (m *Manager) restLocked(a *Agent, answered bool, cfg QueueConfig) {
	lag, ok := m.agents.rest(a, answered, cfg)
	if !ok {
		return
	}
	gen := a.gen
	uri := a.URI
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(lag, func() {
		m.locked(func(fx *effects) { m.wakeLocked(uri, gen, fx) })
	})

	m.logger.Debug().
		Str("agent_uri", uri).
		Bool("answered", answered).
		Dur("lag", lag).
		Msg("agent resting")
}

// wakeLocked ends a rest period unless something else happened to the agent meanwhile
func (m *Manager) wakeLocked(uri string, gen uint64, fx *effects) {
	a := m.agents.Get(uri)
	if a == nil || a.gen != gen || a.State != types.StateResting {
		return
	}
	a.State = types.StateAvailable
	a.gen++
	m.logger.Debug().Str("agent_uri", uri).Msg("agent available")
	m.retriggerLocked(a, fx)
}
