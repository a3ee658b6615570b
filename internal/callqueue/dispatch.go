package callqueue

import (
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
)

// dispatcher is the per-mode strategy that decides which agents are probed
// for which callers. Every method runs with the manager lock held.
type dispatcher interface {
	mode() types.Mode
	// eligible reports whether dispatching now could start a probe
	eligible(q *Queue) bool
	dispatch(q *Queue, fx *effects)
	answered(q *Queue, leg *probeLeg, fx *effects)
	// probeFailed runs after a probe ended without being answered
	probeFailed(q *Queue, leg *probeLeg, fx *effects)
	// callLeft runs after a waiting call was abandoned, timed out or picked
	callLeft(q *Queue, qc *QueuedCall, reason telephony.HangupReason, fx *effects)
}

func dispatcherFor(mode types.Mode) dispatcher {
	if mode == types.ModeEnterprise {
		return enterprise{}
	}
	return ringall{}
}
