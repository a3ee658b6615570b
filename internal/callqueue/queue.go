package callqueue

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/metrics"
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/rs/zerolog"
)

var (
	// ErrNoCall is returned when enqueueing without a call
	ErrNoCall = errors.New("no call to enqueue")
	// ErrUnknownQueue is returned for lookups on a queue that does not exist
	ErrUnknownQueue = errors.New("unknown queue")
	// ErrUnknownCall is returned when a call is not waiting in the queue
	ErrUnknownCall = errors.New("call not waiting in queue")
	// ErrAlreadyQueued is returned when the same call is enqueued twice
	ErrAlreadyQueued = errors.New("call already queued")
)

// Queue holds the callers waiting for one named queue of a domain and the
// agents serving it. All methods expect the manager lock to be held.
type Queue struct {
	key      QueueKey
	mgr      *Manager
	cfg      QueueConfig
	mode     types.Mode
	strategy dispatcher

	bands   [priorityBands][]string
	calls   map[string]*QueuedCall
	waiting int
	talking int

	members map[string]struct{}
	probes  map[string]*probeLeg
	sl      *serviceLevel
	logger  zerolog.Logger
}

func newQueue(m *Manager, key QueueKey, cfg QueueConfig) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		key:      key,
		mgr:      m,
		cfg:      cfg,
		mode:     cfg.Mode,
		strategy: dispatcherFor(cfg.Mode),
		calls:    make(map[string]*QueuedCall),
		members:  make(map[string]struct{}),
		probes:   make(map[string]*probeLeg),
		sl:       newServiceLevel(cfg.SLTarget, cfg.SLSeconds),
		logger: m.logger.With().
			Str("domain", key.Domain).
			Str("queue", key.Name).
			Logger(),
	}
}

// Key returns the queue identity
func (q *Queue) Key() QueueKey { return q.key }

func (q *Queue) enqueueLocked(opts EnqueueOptions, fx *effects) (*QueuedCall, error) {
	if opts.Call == nil {
		return nil, ErrNoCall
	}
	if _, dup := q.calls[opts.Call.ID()]; dup {
		return nil, ErrAlreadyQueued
	}
	if opts.Mode != "" {
		q.setModeLocked(opts.Mode)
	}

	m := q.mgr
	qc := newQueuedCall(q.key, opts, func(qc *QueuedCall) {
		m.locked(func(fx *effects) { q.timeoutLocked(qc, fx) })
	})
	qc.resolve = func(qc *QueuedCall, state types.CallState) bool {
		var ok bool
		m.locked(func(fx *effects) { ok = q.resolveLocked(qc, state, fx) })
		return ok
	}

	band := qc.priority - 1
	q.bands[band] = append(q.bands[band], qc.id)
	q.calls[qc.id] = qc
	q.waiting++
	qc.position = len(q.bands[band]) - 1

	call := qc.call
	fx.add(func() {
		call.OnHangup(func() {
			m.locked(func(fx *effects) { q.callerGoneLocked(qc, fx) })
		})
	})

	q.logger.Debug().
		Str("call_id", qc.id).
		Int("priority", qc.priority).
		Int("position", qc.position).
		Int("waiting", q.waiting).
		Msg("call entered queue")
	metrics.Get().CallEnqueued(q.key.Domain, q.key.Name)

	q.emitCallLocked(types.EventEntered, qc)
	q.emitStatsLocked()
	return qc, nil
}

// nextCandidate returns the oldest call of the highest non-empty priority
// band. With pop the call is taken out of the queue without notifications.
func (q *Queue) nextCandidate(pop bool) *QueuedCall {
	for b := range q.bands {
		if len(q.bands[b]) == 0 {
			continue
		}
		id := q.bands[b][0]
		qc := q.calls[id]
		if pop {
			q.bands[b] = q.bands[b][1:]
			delete(q.calls, id)
			q.waiting--
		}
		return qc
	}
	return nil
}

// removeCall takes a call out of its band, emits left and then one position
// update for each call that was behind it
func (q *Queue) removeCall(id string) *QueuedCall {
	qc, ok := q.calls[id]
	if !ok {
		return nil
	}
	delete(q.calls, id)

	band := qc.priority - 1
	idx := -1
	for i, other := range q.bands[band] {
		if other == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		q.bands[band] = append(q.bands[band][:idx], q.bands[band][idx+1:]...)
		q.waiting--
	}

	q.emitCallLocked(types.EventLeft, qc)
	if idx >= 0 {
		q.emitPositionsLocked(band, idx)
	}
	return qc
}

// popCandidateLocked pops the next call and notifies like removeCall does
func (q *Queue) popCandidateLocked() *QueuedCall {
	qc := q.nextCandidate(true)
	if qc == nil {
		return nil
	}
	q.emitCallLocked(types.EventLeft, qc)
	q.emitPositionsLocked(qc.priority-1, 0)
	return qc
}

func (q *Queue) addAgentLocked(a *Agent) bool {
	if _, ok := q.members[a.URI]; ok {
		return false
	}
	q.members[a.URI] = struct{}{}
	a.MemberOf[q.key] = struct{}{}
	return true
}

func (q *Queue) removeAgentLocked(a *Agent) bool {
	if _, ok := q.members[a.URI]; !ok {
		return false
	}
	delete(q.members, a.URI)
	delete(a.MemberOf, q.key)
	return true
}

// setModeLocked switches the dispatch mode, only while nobody is waiting
func (q *Queue) setModeLocked(mode types.Mode) bool {
	if q.waiting != 0 {
		return false
	}
	if mode == q.mode {
		return true
	}
	q.mode = mode
	q.strategy = dispatcherFor(mode)
	q.logger.Info().Str("mode", string(mode)).Msg("queue mode changed")
	return true
}

func (q *Queue) dispatchLocked(fx *effects) {
	if q.waiting == 0 {
		return
	}
	q.strategy.dispatch(q, fx)
}

// timeoutLocked handles the expiry timer of a waiting call
func (q *Queue) timeoutLocked(qc *QueuedCall, fx *effects) {
	if _, ok := q.calls[qc.id]; !ok {
		return
	}
	if !qc.signalTimeout() {
		return
	}
	q.removeCall(qc.id)
	q.logger.Debug().Str("call_id", qc.id).Msg("call timed out in queue")
	q.callLeftLocked(qc, telephony.ReasonServerTimeout, fx)
}

// callerGoneLocked handles the caller hanging up, whether still waiting or
// already talking
func (q *Queue) callerGoneLocked(qc *QueuedCall, fx *effects) {
	if _, waiting := q.calls[qc.id]; waiting {
		if !qc.noRemoveOnHangup {
			q.abandonLocked(qc, fx)
		}
		return
	}
	q.talkEndedLocked(qc)
}

// abandonLocked takes a waiting call out because its caller is gone
func (q *Queue) abandonLocked(qc *QueuedCall, fx *effects) bool {
	if !qc.signalAbandoned() {
		return false
	}
	q.removeCall(qc.id)
	q.logger.Debug().Str("call_id", qc.id).Msg("caller abandoned queue")
	q.callLeftLocked(qc, telephony.ReasonUserGone, fx)
	return true
}

// resolveLocked applies a terminal signal raised on the call handle. Only a
// call still waiting in this queue can be resolved.
func (q *Queue) resolveLocked(qc *QueuedCall, state types.CallState, fx *effects) bool {
	if q.calls[qc.id] != qc {
		return false
	}
	switch state {
	case types.CallAbandoned:
		return q.abandonLocked(qc, fx)
	case types.CallPicked:
		_, err := q.pickLocked(qc.id, fx)
		return err == nil
	case types.CallConfirm:
		if !qc.signalConfirm() {
			return false
		}
		q.removeCall(qc.id)
		q.startTalkLocked(qc)
		q.sl.record(qc.Age())
		q.logger.Debug().Str("call_id", qc.id).Msg("call answered outside the queue")
		q.callLeftLocked(qc, telephony.ReasonPickedOff, fx)
		return true
	}
	return false
}

// pickLocked hands a waiting call to an outside party
func (q *Queue) pickLocked(id string, fx *effects) (*QueuedCall, error) {
	qc, ok := q.calls[id]
	if !ok {
		return nil, ErrUnknownCall
	}
	if !qc.signalPicked() {
		return nil, ErrUnknownCall
	}
	q.removeCall(id)
	q.startTalkLocked(qc)
	q.logger.Debug().Str("call_id", id).Msg("call picked from queue")
	q.callLeftLocked(qc, telephony.ReasonPickedOff, fx)
	return qc, nil
}

// callLeftLocked finishes a call that left without being answered by a probe
func (q *Queue) callLeftLocked(qc *QueuedCall, reason telephony.HangupReason, fx *effects) {
	q.strategy.callLeft(q, qc, reason, fx)
	q.emitStatsLocked()
	q.recordOutcomeLocked(qc)
	q.mgr.domainLocked(q.key.Domain).onQueueChangedLocked(fx)
}

// confirmLocked bonds an answered probe to a caller
func (q *Queue) confirmLocked(qc *QueuedCall, leg *probeLeg, fx *effects) {
	qc.agentURI = leg.agentURI
	q.startTalkLocked(qc)
	q.mgr.bridgeLocked(leg, qc, fx)
	q.sl.record(qc.Age())

	q.logger.Debug().
		Str("call_id", qc.id).
		Str("agent_uri", leg.agentURI).
		Str("probe_id", leg.id).
		Dur("wait", qc.Age()).
		Msg("call answered by agent")

	q.emitStatsLocked()
	q.recordOutcomeLocked(qc)
}

func (q *Queue) startTalkLocked(qc *QueuedCall) {
	qc.talking = true
	q.talking++
}

// talkEndedLocked releases the talking slot of a call, once
func (q *Queue) talkEndedLocked(qc *QueuedCall) {
	if !qc.talking || qc.talkDone {
		return
	}
	qc.talkDone = true
	q.talking--
	if q.talking < 0 {
		q.talking = 0
	}
	q.emitCallLocked(types.EventHangup, qc)
	q.emitStatsLocked()
}

func (q *Queue) recordOutcomeLocked(qc *QueuedCall) {
	outcome := qc.State()
	wait := qc.Age()
	metrics.Get().CallLeft(q.key.Domain, q.key.Name, string(outcome), wait.Seconds())

	store := q.mgr.store
	if store == nil {
		return
	}
	record := callToRecord(qc, q.mode, q.cfg.SLSeconds)
	logger := q.logger
	go func() {
		if err := store.SaveCallRecord(record); err != nil {
			logger.Error().Err(err).Str("call_id", record.CallID).Msg("failed to save call record")
		}
	}()
}

// availableMembersLocked returns members that may be probed right now
func (q *Queue) availableMembersLocked() []*Agent {
	var out []*Agent
	for uri := range q.members {
		if a := q.mgr.agents.Get(uri); a != nil && a.State == types.StateAvailable {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

func (q *Queue) countsLocked() types.Counts {
	return types.Counts{
		Waiting: q.waiting,
		Talking: q.talking,
		Agents:  len(q.members),
	}
}

func (q *Queue) statsLocked() types.QueueStats {
	stats := types.QueueStats{
		Name:         q.key.Name,
		Domain:       q.key.Domain,
		Mode:         q.mode,
		Waiting:      q.waiting,
		Talking:      q.talking,
		Agents:       len(q.members),
		Available:    len(q.availableMembersLocked()),
		ServiceLevel: q.sl.snapshot(),
	}
	if qc := q.oldestWaitingLocked(); qc != nil {
		stats.LongestWait = qc.Age().Seconds()
	}
	return stats
}

// oldestWaitingLocked returns the call that entered first, whatever its priority
func (q *Queue) oldestWaitingLocked() *QueuedCall {
	var oldest *QueuedCall
	for b := range q.bands {
		if len(q.bands[b]) == 0 {
			continue
		}
		qc := q.calls[q.bands[b][0]]
		if qc != nil && (oldest == nil || qc.enteredAt.Before(oldest.enteredAt)) {
			oldest = qc
		}
	}
	return oldest
}

func (q *Queue) infoLocked() types.QueueInfo {
	info := types.QueueInfo{
		Name:          q.key.Name,
		Domain:        q.key.Domain,
		Mode:          q.mode,
		Size:          q.waiting,
		Talking:       q.talking,
		RingTimeoutMs: q.cfg.RingTimeout.Milliseconds(),
		Outstanding:   len(q.outstandingLocked()),
		Agents:        make([]types.AgentSnapshot, 0, len(q.members)),
		Calls:         make([]types.CallSnapshot, 0, q.waiting),
		ServiceLevel:  q.sl.snapshot(),
	}
	for uri := range q.members {
		if a := q.mgr.agents.Get(uri); a != nil {
			info.Agents = append(info.Agents, q.mgr.agents.snapshotOf(a))
		}
	}
	sort.Slice(info.Agents, func(i, j int) bool { return info.Agents[i].URI < info.Agents[j].URI })

	for b := range q.bands {
		for _, id := range q.bands[b] {
			if qc := q.calls[id]; qc != nil {
				info.Calls = append(info.Calls, qc.snapshot())
			}
		}
	}
	return info
}

func (q *Queue) callByIDLocked(id string) *QueuedCall {
	return q.calls[id]
}

// callByCallerIDLocked finds a waiting call by the user part of its caller ID
func (q *Queue) callByCallerIDLocked(user string) *QueuedCall {
	for b := range q.bands {
		for _, id := range q.bands[b] {
			qc := q.calls[id]
			if qc == nil {
				continue
			}
			number := qc.call.CallerID().Number
			if at := strings.IndexByte(number, '@'); at >= 0 {
				number = number[:at]
			}
			if number == user {
				return qc
			}
		}
	}
	return nil
}

func callToRecord(qc *QueuedCall, mode types.Mode, slSeconds int) types.CallRecord {
	leftAt := qc.enteredAt.Add(qc.Age())
	wait := qc.Age().Seconds()
	return types.CallRecord{
		DateKey:   qc.enteredAt.Format("2006-01-02"),
		CallID:    qc.id,
		Domain:    qc.queue.Domain,
		Queue:     qc.queue.Name,
		Mode:      mode,
		Priority:  qc.priority,
		CallerID:  qc.presentedCallerID().Number,
		AgentURI:  qc.agentURI,
		Outcome:   qc.State(),
		EnterTime: qc.enteredAt.Format(time.RFC3339),
		LeaveTime: leftAt.Format(time.RFC3339),
		WaitTime:  wait,
		InSL:      qc.State() == types.CallConfirm && wait <= float64(slSeconds),
	}
}
