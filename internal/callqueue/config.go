package callqueue

import (
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/types"
)

const (
	priorityBands   = 10
	defaultPriority = 5

	DefaultRingTimeout  = 60 * time.Second
	DefaultAgentLag     = 30 * time.Second
	DefaultRetryLag     = 5 * time.Second
	DefaultMinLag       = 100 * time.Millisecond
	DefaultCallTimeout  = 3600 * time.Second
	DefaultSLTarget     = 80
	DefaultSLSeconds    = 20
	originateRPCTimeout = 10 * time.Second
)

// CapPolicy bounds the number of unanswered enterprise probes
type CapPolicy string

const (
	// CapWaitingAndAgents caps probes at min(waiting, eligible agents)
	CapWaitingAndAgents CapPolicy = "dual"
	// CapWaitingOnly caps probes at the number of waiting calls
	CapWaitingOnly CapPolicy = "waiting"
)

// ParseCapPolicy maps a policy name to a CapPolicy, defaulting to CapWaitingAndAgents
func ParseCapPolicy(s string) CapPolicy {
	if CapPolicy(s) == CapWaitingOnly {
		return CapWaitingOnly
	}
	return CapWaitingAndAgents
}

// Cap returns the maximum number of outstanding probes
func (p CapPolicy) Cap(waiting, eligible int) int {
	if p == CapWaitingOnly {
		return waiting
	}
	return min(waiting, eligible)
}

// QueueConfig holds the tunables of a single queue
type QueueConfig struct {
	Mode        types.Mode
	RingTimeout time.Duration // uactimeout
	RetryLag    time.Duration // zero uses the registry default
	MinLag      time.Duration // zero uses the registry default
	CapPolicy   CapPolicy
	SLTarget    int // target percentage (e.g., 80)
	SLSeconds   int // threshold in seconds (e.g., 20)
}

// DefaultQueueConfig returns the configuration new queues start with
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Mode:        types.ModeRingall,
		RingTimeout: DefaultRingTimeout,
		CapPolicy:   CapWaitingAndAgents,
		SLTarget:    DefaultSLTarget,
		SLSeconds:   DefaultSLSeconds,
	}
}

func (c QueueConfig) withDefaults() QueueConfig {
	if _, ok := types.ParseMode(string(c.Mode)); !ok {
		c.Mode = types.ModeRingall
	}
	if c.RingTimeout <= 0 {
		c.RingTimeout = DefaultRingTimeout
	}
	if c.CapPolicy == "" {
		c.CapPolicy = CapWaitingAndAgents
	}
	if c.SLTarget <= 0 {
		c.SLTarget = DefaultSLTarget
	}
	if c.SLSeconds <= 0 {
		c.SLSeconds = DefaultSLSeconds
	}
	return c
}

// EnqueueOptions describe a caller entering a queue
type EnqueueOptions struct {
	Queue            string
	Call             telephony.Call
	Priority         int
	Timeout          time.Duration
	Mode             types.Mode // applied only while the queue is empty
	CallerID         *telephony.CallerID
	NoRemoveOnHangup bool
}

// AgentOptions describe agents being added to a queue
type AgentOptions struct {
	WrapupLag time.Duration
}

// Options configure a Manager
type Options struct {
	Queue     QueueConfig
	Queues    map[QueueKey]QueueConfig
	AgentLag  time.Duration
	RetryLag  time.Duration
	MinLag    time.Duration
	Registrar telephony.Registrar
	Store     CallStore
}

// QueueKey identifies a queue across domains
type QueueKey struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
}

func (k QueueKey) String() string {
	return k.Domain + "/" + k.Name
}
