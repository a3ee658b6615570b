package callqueue

import (
	"sort"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/types"
)

// Agent is an endpoint that can be offered queued calls
type Agent struct {
	URI           string
	State         types.AgentState
	CallCount     int
	LastContacted time.Time
	WrapupLag     time.Duration
	MemberOf      map[QueueKey]struct{}

	// gen invalidates pending rest timers whenever the state changes underneath them
	gen   uint64
	timer *time.Timer
}

// AgentRegistry holds every agent known to the manager, keyed by URI
type AgentRegistry struct {
	agents   map[string]*Agent
	agentLag time.Duration
	retryLag time.Duration
	minLag   time.Duration
}

// NewAgentRegistry creates a registry with the given default lags
func NewAgentRegistry(agentLag, retryLag, minLag time.Duration) *AgentRegistry {
	if agentLag <= 0 {
		agentLag = DefaultAgentLag
	}
	if retryLag <= 0 {
		retryLag = DefaultRetryLag
	}
	if minLag <= 0 {
		minLag = DefaultMinLag
	}
	return &AgentRegistry{
		agents:   make(map[string]*Agent),
		agentLag: agentLag,
		retryLag: retryLag,
		minLag:   minLag,
	}
}

// GetOrCreate returns the agent for uri, creating an available one if needed.
// The boolean reports whether the agent was created.
func (r *AgentRegistry) GetOrCreate(uri string) (*Agent, bool) {
	if a, ok := r.agents[uri]; ok {
		return a, false
	}
	a := &Agent{
		URI:      uri,
		State:    types.StateAvailable,
		MemberOf: make(map[QueueKey]struct{}),
	}
	r.agents[uri] = a
	return a, true
}

// Get returns the agent for uri or nil
func (r *AgentRegistry) Get(uri string) *Agent {
	return r.agents[uri]
}

// Delete forgets an agent and stops its rest timer
func (r *AgentRegistry) Delete(uri string) {
	a, ok := r.agents[uri]
	if !ok {
		return
	}
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
	}
	delete(r.agents, uri)
}

// Len returns the number of known agents
func (r *AgentRegistry) Len() int {
	return len(r.agents)
}

// Lag returns how long an agent rests after its last call ended
func (r *AgentRegistry) Lag(a *Agent, answered bool) time.Duration {
	return r.lagFor(a, answered, QueueConfig{})
}

func (r *AgentRegistry) lagFor(a *Agent, answered bool, cfg QueueConfig) time.Duration {
	lag := r.agentLag
	if a.WrapupLag > 0 {
		lag = a.WrapupLag
	}
	if !answered {
		lag = r.retryLag
		if cfg.RetryLag > 0 {
			lag = cfg.RetryLag
		}
	}
	floor := r.minLag
	if cfg.MinLag > 0 {
		floor = cfg.MinLag
	}
	if lag < floor {
		lag = floor
	}
	return lag
}

// Rest moves an engaged agent to resting and returns the lag before it may
// become available again. ok is false when the agent was not engaged.
func (r *AgentRegistry) Rest(a *Agent, answered bool) (time.Duration, bool) {
	return r.rest(a, answered, QueueConfig{})
}

func (r *AgentRegistry) rest(a *Agent, answered bool, cfg QueueConfig) (time.Duration, bool) {
	if !a.State.Engaged() {
		return 0, false
	}
	a.State = types.StateResting
	a.gen++
	return r.lagFor(a, answered, cfg), true
}

// Snapshot returns every agent sorted by URI
func (r *AgentRegistry) Snapshot() []types.AgentSnapshot {
	out := make([]types.AgentSnapshot, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, r.snapshotOf(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

func (r *AgentRegistry) snapshotOf(a *Agent) types.AgentSnapshot {
	return types.AgentSnapshot{
		URI:           a.URI,
		State:         a.State,
		CallCount:     a.CallCount,
		LastContacted: a.LastContacted,
		AgentLagMs:    r.Lag(a, true).Milliseconds(),
		QueueCount:    len(a.MemberOf),
	}
}

// leastRecentlyContacted picks the agent that was offered a call longest ago
func leastRecentlyContacted(agents []*Agent) *Agent {
	if len(agents) == 0 {
		return nil
	}

	oldest := agents[0]
	for _, a := range agents[1:] {
		if a.LastContacted.Before(oldest.LastContacted) ||
			(a.LastContacted.Equal(oldest.LastContacted) && a.URI < oldest.URI) {
			oldest = a
		}
	}
	return oldest
}
