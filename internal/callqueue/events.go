package callqueue

import (
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/metrics"
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
)

// Observer receives every queue event in the order it happened. It is
// called with the manager locked and must not call back into the Manager.
type Observer interface {
	OnQueueEvent(ev types.QueueEvent)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ev types.QueueEvent)

// OnQueueEvent calls f(ev)
func (f ObserverFunc) OnQueueEvent(ev types.QueueEvent) { f(ev) }

// Subscribe registers an observer for all domains
func (m *Manager) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Manager) publishLocked(ev types.QueueEvent) {
	for _, o := range m.observers {
		o.OnQueueEvent(ev)
	}
}

func (q *Queue) eventLocked(t types.EventType) types.QueueEvent {
	return types.QueueEvent{
		Type:      t,
		Domain:    q.key.Domain,
		Queue:     q.key.Name,
		Counts:    q.countsLocked(),
		Timestamp: time.Now(),
	}
}

// emitCallLocked publishes a per-call event to the observers and, when it
// listens, to the call itself
func (q *Queue) emitCallLocked(t types.EventType, qc *QueuedCall) {
	ev := q.eventLocked(t)
	ev.CallID = qc.id
	ev.Position = qc.position
	ev.State = qc.State()

	if sink, ok := qc.call.(telephony.QueueEventSink); ok {
		sink.OnQueueEvent(ev)
	}
	q.mgr.publishLocked(ev)
}

func (q *Queue) emitStatsLocked() {
	ev := q.eventLocked(types.EventStats)
	metrics.Get().SetQueueCounts(q.key.Domain, q.key.Name, ev.Counts.Waiting, ev.Counts.Talking, ev.Counts.Agents)
	q.mgr.publishLocked(ev)
}

// emitPositionsLocked sends a position update to every call of a band at or
// after index from
func (q *Queue) emitPositionsLocked(band, from int) {
	ids := q.bands[band]
	for i := max(from, 0); i < len(ids); i++ {
		qc := q.calls[ids[i]]
		if qc == nil {
			continue
		}
		qc.position = i
		q.emitCallLocked(types.EventUpdated, qc)
	}
}
