package callqueue

import (
	"github.com/dennisdiepolder/monti/acd/internal/metrics"
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
)

var _ telephony.Listener = (*Manager)(nil)

// EntityBecameBusy marks a known agent busy once the signaling layer reports
// a call on it. A pending return to available is cancelled.
func (m *Manager) EntityBecameBusy(e telephony.Entity) {
	metrics.Get().LifecycleEvent(types.LifecycleBusy)
	m.locked(func(*effects) {
		a := m.agents.Get(e.URI)
		if a == nil || e.CallCount <= 0 {
			return
		}
		a.State = types.StateBusy
		a.gen++
		m.logger.Debug().Str("agent_uri", e.URI).Int("call_count", e.CallCount).Msg("agent busy")
	})
}

// EntityMightBeFree rests an agent whose last call ended. When the lag runs
// out the agent becomes available and its queues are offered to it.
func (m *Manager) EntityMightBeFree(e telephony.Entity, answered bool) {
	metrics.Get().LifecycleEvent(types.LifecycleCallEnded)
	m.locked(func(*effects) {
		a := m.agents.Get(e.URI)
		if a == nil || e.CallCount != 0 || !a.State.Engaged() {
			return
		}
		m.restLocked(a, answered, QueueConfig{})
	})
}

// EntityRegistered offers the queues of an available agent again, since its
// earlier probes may have failed for lack of a contact
func (m *Manager) EntityRegistered(uri string) {
	metrics.Get().LifecycleEvent(types.LifecycleRegistered)
	m.locked(func(fx *effects) {
		a := m.agents.Get(uri)
		if a == nil || a.State != types.StateAvailable {
			return
		}
		m.retriggerLocked(a, fx)
	})
}

// EntityUnregistered is informational only
func (m *Manager) EntityUnregistered(uri string) {
	metrics.Get().LifecycleEvent(types.LifecycleUnregistered)
	m.logger.Debug().Str("agent_uri", uri).Msg("agent unregistered")
}
