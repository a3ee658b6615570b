package callqueue

import (
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
)

// enterprise keeps a bounded number of probes ringing, each to the member
// that was contacted longest ago. A probe is bonded to whichever caller is
// at the head of the queue when it answers.
type enterprise struct{}

func (enterprise) mode() types.Mode { return types.ModeEnterprise }

func (enterprise) eligible(q *Queue) bool {
	if q.waiting == 0 || len(q.availableMembersLocked()) == 0 {
		return false
	}
	return len(q.outstandingLocked()) < enterpriseCap(q)
}

// enterpriseCap is the current bound on unanswered probes. Eligible agents
// are the available members plus the agents still ringing for this queue.
func enterpriseCap(q *Queue) int {
	ringing := make(map[string]struct{})
	for _, leg := range q.outstandingLocked() {
		ringing[leg.agentURI] = struct{}{}
	}
	eligible := len(ringing)
	for _, a := range q.availableMembersLocked() {
		if _, dup := ringing[a.URI]; !dup {
			eligible++
		}
	}
	return q.cfg.CapPolicy.Cap(q.waiting, eligible)
}

func (e enterprise) dispatch(q *Queue, fx *effects) {
	for q.waiting > 0 && len(q.outstandingLocked()) < enterpriseCap(q) {
		a := leastRecentlyContacted(q.availableMembersLocked())
		if a == nil {
			return
		}
		q.mgr.startProbeLocked(q, a, q.nextCandidate(false), "", fx)
	}
}

func (enterprise) answered(q *Queue, leg *probeLeg, fx *effects) {
	var qc *QueuedCall
	for {
		qc = q.popCandidateLocked()
		if qc == nil || qc.signalConfirm() {
			break
		}
	}
	if qc == nil {
		q.mgr.releaseLocked(leg, telephony.ReasonLoseRace, fx)
		return
	}
	leg.callID = qc.id
	q.confirmLocked(qc, leg, fx)
	trimProbes(q, telephony.ReasonLoseRace, fx)
	q.mgr.domainLocked(q.key.Domain).onQueueChangedLocked(fx)
}

func (e enterprise) probeFailed(q *Queue, _ *probeLeg, fx *effects) {
	e.dispatch(q, fx)
}

func (enterprise) callLeft(q *Queue, _ *QueuedCall, reason telephony.HangupReason, fx *effects) {
	trimProbes(q, reason, fx)
}

// trimProbes hangs up unanswered probes above the cap, newest first
func trimProbes(q *Queue, reason telephony.HangupReason, fx *effects) {
	legs := q.outstandingLocked()
	limit := enterpriseCap(q)
	if q.waiting == 0 {
		limit = 0
	}
	for i := len(legs) - 1; i >= limit && i >= 0; i-- {
		q.mgr.cancelLocked(legs[i], reason, fx)
	}
}
