package callqueue

import "sort"

// Domain groups the queues of one tenant. When anything changes it offers
// the agents to the queue whose next caller has waited longest.
type Domain struct {
	name   string
	mgr    *Manager
	queues map[string]*Queue
}

func newDomain(m *Manager, name string) *Domain {
	return &Domain{
		name:   name,
		mgr:    m,
		queues: make(map[string]*Queue),
	}
}

// Name returns the domain name
func (d *Domain) Name() string { return d.name }

// queueLocked returns the named queue, creating it on first use
func (d *Domain) queueLocked(name string) *Queue {
	if q, ok := d.queues[name]; ok {
		return q
	}
	key := QueueKey{Domain: d.name, Name: name}
	q := newQueue(d.mgr, key, d.mgr.queueConfigFor(key))
	d.queues[name] = q
	d.mgr.logger.Info().
		Str("domain", d.name).
		Str("queue", name).
		Str("mode", string(q.mode)).
		Msg("queue created")
	return q
}

func (d *Domain) enqueueLocked(opts EnqueueOptions, fx *effects) (*QueuedCall, error) {
	if opts.Queue == "" {
		return nil, ErrUnknownQueue
	}
	qc, err := d.queueLocked(opts.Queue).enqueueLocked(opts, fx)
	if err != nil {
		return nil, err
	}
	d.onQueueChangedLocked(fx)
	return qc, nil
}

// onQueueChangedLocked dispatches the single queue whose candidate is the
// oldest among queues that could start a probe right now
func (d *Domain) onQueueChangedLocked(fx *effects) {
	var (
		winner *Queue
		oldest *QueuedCall
	)
	for _, q := range d.sortedQueues() {
		cand := q.nextCandidate(false)
		if cand == nil || !q.strategy.eligible(q) {
			continue
		}
		if oldest == nil || cand.enteredAt.Before(oldest.enteredAt) {
			winner, oldest = q, cand
		}
	}
	if winner != nil {
		winner.dispatchLocked(fx)
	}
}

func (d *Domain) addAgentLocked(queue, uri string, opts AgentOptions, fx *effects) bool {
	q := d.queueLocked(queue)
	a, _ := d.mgr.agents.GetOrCreate(uri)
	if !q.addAgentLocked(a) {
		return false
	}
	// a repeated add leaves the agent's lag alone
	if opts.WrapupLag > 0 {
		a.WrapupLag = opts.WrapupLag
	}
	q.dispatchLocked(fx)
	return true
}

func (d *Domain) removeAgentLocked(queue, uri string) bool {
	q, ok := d.queues[queue]
	if !ok {
		return false
	}
	a := d.mgr.agents.Get(uri)
	if a == nil || !q.removeAgentLocked(a) {
		return false
	}
	if len(a.MemberOf) == 0 {
		d.mgr.agents.Delete(uri)
	}
	return true
}

// sortedQueues returns the queues ordered by name so ties resolve the same way every time
func (d *Domain) sortedQueues() []*Queue {
	out := make([]*Queue, 0, len(d.queues))
	for _, q := range d.queues {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.Name < out[j].key.Name })
	return out
}
