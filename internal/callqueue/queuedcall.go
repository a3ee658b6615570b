package callqueue

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
)

// QueuedCall is one caller waiting in a queue. Its outcome is decided
// exactly once by whichever of confirm, abandon, pick or timeout wins.
type QueuedCall struct {
	id               string
	call             telephony.Call
	queue            QueueKey
	priority         int
	timeout          time.Duration
	callerID         *telephony.CallerID
	noRemoveOnHangup bool
	enteredAt        time.Time

	// guarded by the manager lock
	position int
	agentURI string
	talking  bool
	talkDone bool

	// resolve applies an outside terminal signal through the owning queue
	resolve func(qc *QueuedCall, state types.CallState) bool

	mu     sync.Mutex
	state  types.CallState
	leftAt time.Time
	timer  *time.Timer
	done   chan struct{}
}

// NormalizePriority maps any value outside 1..10, or a fractional one, to
// the default priority
func NormalizePriority(p float64) int {
	if p != math.Trunc(p) || p < 1 || p > priorityBands {
		return defaultPriority
	}
	return int(p)
}

func newQueuedCall(key QueueKey, opts EnqueueOptions, onTimeout func(*QueuedCall)) *QueuedCall {
	qc := &QueuedCall{
		id:               opts.Call.ID(),
		call:             opts.Call,
		queue:            key,
		priority:         NormalizePriority(float64(opts.Priority)),
		timeout:          opts.Timeout,
		callerID:         opts.CallerID,
		noRemoveOnHangup: opts.NoRemoveOnHangup,
		enteredAt:        time.Now(),
		state:            types.CallWaiting,
		done:             make(chan struct{}),
	}
	if qc.timeout <= 0 {
		qc.timeout = DefaultCallTimeout
	}
	qc.mu.Lock()
	qc.timer = time.AfterFunc(qc.timeout, func() {
		if onTimeout != nil {
			onTimeout(qc)
		}
	})
	qc.mu.Unlock()
	return qc
}

// ID returns the identifier of the underlying call
func (qc *QueuedCall) ID() string { return qc.id }

// Call returns the underlying caller
func (qc *QueuedCall) Call() telephony.Call { return qc.call }

// Queue returns the key of the queue the call entered
func (qc *QueuedCall) Queue() QueueKey { return qc.queue }

// Priority returns the normalized priority, 1 being the highest
func (qc *QueuedCall) Priority() int { return qc.priority }

// EnteredAt returns when the call was queued
func (qc *QueuedCall) EnteredAt() time.Time { return qc.enteredAt }

// Age returns how long the call has been (or was) in the queue
func (qc *QueuedCall) Age() time.Duration {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if !qc.leftAt.IsZero() {
		return qc.leftAt.Sub(qc.enteredAt)
	}
	return time.Since(qc.enteredAt)
}

// State returns the current state
func (qc *QueuedCall) State() types.CallState {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.state
}

// Done is closed once the call reaches a terminal state
func (qc *QueuedCall) Done() <-chan struct{} {
	return qc.done
}

// Outcome returns the terminal state, or CallWaiting while unresolved
func (qc *QueuedCall) Outcome() types.CallState {
	return qc.State()
}

// Wait blocks until the call has an outcome or ctx is done
func (qc *QueuedCall) Wait(ctx context.Context) (types.CallState, error) {
	select {
	case <-qc.done:
		return qc.State(), nil
	case <-ctx.Done():
		return types.CallWaiting, ctx.Err()
	}
}

// SignalConfirm resolves the call as answered outside the queue's own
// probes. The call leaves its queue and its unanswered probes are hung up.
// Like the other signals it must not be called from an Observer.
func (qc *QueuedCall) SignalConfirm() bool { return qc.resolveWith(types.CallConfirm) }

// SignalAbandoned resolves the call as abandoned by the caller, even when
// hangups were set not to remove it
func (qc *QueuedCall) SignalAbandoned() bool { return qc.resolveWith(types.CallAbandoned) }

// SignalPicked resolves the call as picked by an outside party
func (qc *QueuedCall) SignalPicked() bool { return qc.resolveWith(types.CallPicked) }

func (qc *QueuedCall) resolveWith(state types.CallState) bool {
	if qc.resolve != nil {
		return qc.resolve(qc, state)
	}
	return qc.signal(state)
}

func (qc *QueuedCall) signalConfirm() bool   { return qc.signal(types.CallConfirm) }
func (qc *QueuedCall) signalAbandoned() bool { return qc.signal(types.CallAbandoned) }
func (qc *QueuedCall) signalPicked() bool    { return qc.signal(types.CallPicked) }
func (qc *QueuedCall) signalTimeout() bool   { return qc.signal(types.CallTimeout) }

func (qc *QueuedCall) signal(state types.CallState) bool {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	if qc.state.Terminal() {
		return false
	}
	qc.state = state
	qc.leftAt = time.Now()
	if qc.timer != nil {
		qc.timer.Stop()
	}
	close(qc.done)
	return true
}

func (qc *QueuedCall) snapshot() types.CallSnapshot {
	snap := types.CallSnapshot{
		CallID:    qc.id,
		Priority:  qc.priority,
		Position:  qc.position,
		State:     qc.State(),
		EnteredAt: qc.enteredAt,
		WaitSecs:  qc.Age().Seconds(),
	}
	if cid := qc.presentedCallerID(); cid.Number != "" {
		snap.CallerID = cid.Number
	}
	return snap
}

// presentedCallerID is the identity shown to agents: the override if one
// was given, otherwise the caller's own
func (qc *QueuedCall) presentedCallerID() telephony.CallerID {
	if qc.callerID != nil {
		return *qc.callerID
	}
	return qc.call.CallerID()
}
