package callqueue

import (
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/rs/zerolog"
)

// CallStore is the subset of storage.Store needed by Manager
type CallStore interface {
	SaveCallRecord(record types.CallRecord) error
}

// Manager owns every domain, queue and agent of the process. A single lock
// serializes all of them; telephony side effects run after it is released.
type Manager struct {
	mu        sync.Mutex
	domains   map[string]*Domain
	agents    *AgentRegistry
	defaults  QueueConfig
	queueCfgs map[QueueKey]QueueConfig
	registrar telephony.Registrar
	store     CallStore
	observers []Observer
	probeSeq  uint64
	logger    zerolog.Logger
}

// NewManager creates a call distribution manager
func NewManager(opts Options, logger zerolog.Logger) *Manager {
	defaults := opts.Queue
	if defaults == (QueueConfig{}) {
		defaults = DefaultQueueConfig()
	}
	cfgs := make(map[QueueKey]QueueConfig, len(opts.Queues))
	for k, v := range opts.Queues {
		cfgs[k] = v
	}

	return &Manager{
		domains:   make(map[string]*Domain),
		agents:    NewAgentRegistry(opts.AgentLag, opts.RetryLag, opts.MinLag),
		defaults:  defaults.withDefaults(),
		queueCfgs: cfgs,
		registrar: opts.Registrar,
		store:     opts.Store,
		logger:    logger.With().Str("component", "callqueue").Logger(),
	}
}

// SetStore sets the persistence store for call outcomes
func (m *Manager) SetStore(store CallStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store
}

// SetRegistrar sets the registrar consulted before each probe
func (m *Manager) SetRegistrar(r telephony.Registrar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrar = r
}

// ConfigureQueue sets the configuration of a queue, creating it if needed.
// The mode of an existing queue only changes while nobody is waiting.
func (m *Manager) ConfigureQueue(domain, name string, cfg QueueConfig) {
	m.locked(func(fx *effects) {
		key := QueueKey{Domain: domain, Name: name}
		m.queueCfgs[key] = cfg
		q := m.domainLocked(domain).queueLocked(name)
		mode := q.mode
		q.cfg = cfg.withDefaults()
		q.sl.configure(q.cfg.SLTarget, q.cfg.SLSeconds)
		if cfg.Mode != "" && cfg.Mode != mode {
			q.setModeLocked(cfg.Mode)
		}
	})
}

func (m *Manager) queueConfigFor(key QueueKey) QueueConfig {
	if cfg, ok := m.queueCfgs[key]; ok {
		return cfg
	}
	return m.defaults
}

// domainLocked returns the named domain, creating it on first use
func (m *Manager) domainLocked(name string) *Domain {
	if d, ok := m.domains[name]; ok {
		return d
	}
	d := newDomain(m, name)
	m.domains[name] = d
	m.logger.Info().Str("domain", name).Msg("domain created")
	return d
}

func (m *Manager) queueByKeyLocked(key QueueKey) *Queue {
	d, ok := m.domains[key.Domain]
	if !ok {
		return nil
	}
	return d.queues[key.Name]
}

func (m *Manager) lookupLocked(domain, queue string) (*Queue, error) {
	q := m.queueByKeyLocked(QueueKey{Domain: domain, Name: queue})
	if q == nil {
		return nil, ErrUnknownQueue
	}
	return q, nil
}

// Enqueue places a caller in a queue of a domain and returns its handle
func (m *Manager) Enqueue(domain string, opts EnqueueOptions) (*QueuedCall, error) {
	var (
		qc  *QueuedCall
		err error
	)
	m.locked(func(fx *effects) {
		qc, err = m.domainLocked(domain).enqueueLocked(opts, fx)
	})
	return qc, err
}

// AddAgent makes uri a member of a queue. It reports false when it already was one.
func (m *Manager) AddAgent(domain, queue, uri string, opts AgentOptions) bool {
	var added bool
	m.locked(func(fx *effects) {
		added = m.domainLocked(domain).addAgentLocked(queue, uri, opts, fx)
	})
	if added {
		m.logger.Debug().Str("domain", domain).Str("queue", queue).Str("agent_uri", uri).Msg("agent added")
	}
	return added
}

// AddAgents adds several members and returns how many were new
func (m *Manager) AddAgents(domain, queue string, uris []string, opts AgentOptions) int {
	var n int
	m.locked(func(fx *effects) {
		d := m.domainLocked(domain)
		for _, uri := range uris {
			if d.addAgentLocked(queue, uri, opts, fx) {
				n++
			}
		}
	})
	return n
}

// RemoveAgent removes a member from a queue. An agent that leaves its last
// queue is forgotten.
func (m *Manager) RemoveAgent(domain, queue, uri string) bool {
	var removed bool
	m.locked(func(fx *effects) {
		if d, ok := m.domains[domain]; ok {
			removed = d.removeAgentLocked(queue, uri)
		}
	})
	return removed
}

// SyncAgents makes the membership of a queue exactly uris
func (m *Manager) SyncAgents(domain, queue string, uris []string, opts AgentOptions) (added, removed int) {
	want := make(map[string]struct{}, len(uris))
	for _, uri := range uris {
		want[uri] = struct{}{}
	}

	m.locked(func(fx *effects) {
		d := m.domainLocked(domain)
		q := d.queueLocked(queue)

		var stale []string
		for uri := range q.members {
			if _, keep := want[uri]; !keep {
				stale = append(stale, uri)
			}
		}
		sort.Strings(stale)
		for _, uri := range stale {
			if d.removeAgentLocked(queue, uri) {
				removed++
			}
		}
		for _, uri := range uris {
			if d.addAgentLocked(queue, uri, opts, fx) {
				added++
			}
		}
	})

	m.logger.Debug().
		Str("domain", domain).
		Str("queue", queue).
		Int("added", added).
		Int("removed", removed).
		Msg("queue agents synced")
	return added, removed
}

// SetMode switches the dispatch mode of a queue. It reports false while
// calls are waiting.
func (m *Manager) SetMode(domain, queue string, mode types.Mode) (bool, error) {
	var (
		ok  bool
		err error
	)
	m.locked(func(fx *effects) {
		var q *Queue
		if q, err = m.lookupLocked(domain, queue); err == nil {
			ok = q.setModeLocked(mode)
		}
	})
	return ok, err
}

// Pick hands a waiting call to an outside party, for instance a supervisor
// answering it directly
func (m *Manager) Pick(domain, queue, callID string) (*QueuedCall, error) {
	var (
		qc  *QueuedCall
		err error
	)
	m.locked(func(fx *effects) {
		var q *Queue
		if q, err = m.lookupLocked(domain, queue); err == nil {
			qc, err = q.pickLocked(callID, fx)
		}
	})
	return qc, err
}

// CallByID returns a waiting call by its ID
func (m *Manager) CallByID(domain, queue, callID string) (*QueuedCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.lookupLocked(domain, queue)
	if err != nil {
		return nil, err
	}
	if qc := q.callByIDLocked(callID); qc != nil {
		return qc, nil
	}
	return nil, ErrUnknownCall
}

// CallByCallerID returns a waiting call by the user part of its caller ID
func (m *Manager) CallByCallerID(domain, queue, user string) (*QueuedCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.lookupLocked(domain, queue)
	if err != nil {
		return nil, err
	}
	if qc := q.callByCallerIDLocked(user); qc != nil {
		return qc, nil
	}
	return nil, ErrUnknownCall
}

// Info returns the detailed view of a queue
func (m *Manager) Info(domain, queue string) (types.QueueInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.lookupLocked(domain, queue)
	if err != nil {
		return types.QueueInfo{}, err
	}
	return q.infoLocked(), nil
}

// Stats returns the counters of a queue
func (m *Manager) Stats(domain, queue string) (types.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.lookupLocked(domain, queue)
	if err != nil {
		return types.QueueStats{}, err
	}
	return q.statsLocked(), nil
}

// AllStats returns the counters of every queue sorted by domain and name
func (m *Manager) AllStats() []types.QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.QueueStats
	for _, name := range m.domainNamesLocked() {
		for _, q := range m.domains[name].sortedQueues() {
			out = append(out, q.statsLocked())
		}
	}
	return out
}

func (m *Manager) snapshotCall(qc *QueuedCall) types.CallSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return qc.snapshot()
}

// Agents returns every known agent
func (m *Manager) Agents() []types.AgentSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agents.Snapshot()
}

// Domains returns the names of all domains
func (m *Manager) Domains() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domainNamesLocked()
}

func (m *Manager) domainNamesLocked() []string {
	names := make([]string, 0, len(m.domains))
	for name := range m.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kick re-runs arbitration in every domain
func (m *Manager) Kick() {
	m.locked(func(fx *effects) {
		for _, name := range m.domainNamesLocked() {
			m.domains[name].onQueueChangedLocked(fx)
		}
	})
}

// retriggerLocked offers a newly available agent to its queues, oldest
// waiting caller first
func (m *Manager) retriggerLocked(a *Agent, fx *effects) {
	type pending struct {
		q  *Queue
		at time.Time
	}
	var queues []pending
	for key := range a.MemberOf {
		q := m.queueByKeyLocked(key)
		if q == nil {
			continue
		}
		cand := q.nextCandidate(false)
		if cand == nil || !q.strategy.eligible(q) {
			continue
		}
		queues = append(queues, pending{q: q, at: cand.enteredAt})
	}
	sort.Slice(queues, func(i, j int) bool {
		if !queues[i].at.Equal(queues[j].at) {
			return queues[i].at.Before(queues[j].at)
		}
		return queues[i].q.key.String() < queues[j].q.key.String()
	})
	for _, p := range queues {
		p.q.dispatchLocked(fx)
	}
}
