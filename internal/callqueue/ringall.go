package callqueue

import (
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
)

// ringall offers the next caller to every available member at once; the
// first agent to answer gets the call
type ringall struct{}

func (ringall) mode() types.Mode { return types.ModeRingall }

func (ringall) eligible(q *Queue) bool {
	return q.waiting > 0 && len(q.availableMembersLocked()) > 0
}

func (ringall) dispatch(q *Queue, fx *effects) {
	cand := q.nextCandidate(false)
	if cand == nil {
		return
	}
	for _, a := range q.availableMembersLocked() {
		q.mgr.startProbeLocked(q, a, cand, cand.id, fx)
	}
}

func (ringall) answered(q *Queue, leg *probeLeg, fx *effects) {
	qc, waiting := q.calls[leg.callID]
	if !waiting || !qc.signalConfirm() {
		q.mgr.releaseLocked(leg, telephony.ReasonLoseRace, fx)
		return
	}
	q.removeCall(qc.id)

	for _, other := range q.probes {
		if other != leg && other.callID == qc.id {
			q.mgr.cancelLocked(other, telephony.ReasonPickedOff, fx)
		}
	}
	q.confirmLocked(qc, leg, fx)
	q.mgr.domainLocked(q.key.Domain).onQueueChangedLocked(fx)
}

func (ringall) probeFailed(*Queue, *probeLeg, *effects) {}

func (ringall) callLeft(q *Queue, qc *QueuedCall, reason telephony.HangupReason, fx *effects) {
	for _, leg := range q.probes {
		if leg.callID == qc.id {
			q.mgr.cancelLocked(leg, reason, fx)
		}
	}
}
