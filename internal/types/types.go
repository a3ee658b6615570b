package types

import "time"

// AgentState represents the dispatch state of an agent
type AgentState string

const (
	StateAvailable AgentState = "available"
	StateRinging   AgentState = "ringing"
	StateBusy      AgentState = "busy"
	StateResting   AgentState = "resting"
)

// Engaged reports whether an agent in this state may be moved to resting
// when its last call ends
func (s AgentState) Engaged() bool {
	return s == StateAvailable || s == StateRinging || s == StateBusy
}

// Mode selects how a queue offers waiting callers to its agents
type Mode string

const (
	// ModeRingall probes every available agent for the oldest caller
	ModeRingall Mode = "ringall"
	// ModeEnterprise keeps a bounded number of probes to least recently tried agents
	ModeEnterprise Mode = "enterprise"
)

// ParseMode maps a mode name to a Mode. Unknown names fall back to ringall.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeEnterprise:
		return ModeEnterprise, true
	case ModeRingall:
		return ModeRingall, true
	default:
		return ModeRingall, false
	}
}

// CallState is the lifecycle state of a queued call
type CallState string

const (
	CallWaiting   CallState = "waiting"
	CallConfirm   CallState = "confirm"
	CallAbandoned CallState = "abandoned"
	CallTimeout   CallState = "timeout"
	CallPicked    CallState = "picked"
)

// Terminal reports whether the state is a final outcome
func (s CallState) Terminal() bool {
	return s != CallWaiting && s != ""
}

// AlertSeverity represents the severity of a queue alert
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// QueueAlert represents an alert condition on a queue
type QueueAlert struct {
	Rule     string        `json:"rule"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// ServiceLevel holds service level metrics for a queue
type ServiceLevel struct {
	Target        int     `json:"target"`        // e.g. 80 (%)
	ThresholdSecs int     `json:"thresholdSecs"` // e.g. 20 (seconds)
	AnsweredInSL  int     `json:"answeredInSL"`
	TotalAnswered int     `json:"totalAnswered"`
	CurrentSL     float64 `json:"currentSL"` // 0-100%
}

// Counts are the per-queue counters attached to every queue event
type Counts struct {
	Waiting int `json:"waiting"`
	Talking int `json:"talking"`
	Agents  int `json:"agents"`
}

// QueueStats is a point-in-time snapshot of a queue's counters
type QueueStats struct {
	Name         string       `json:"name"`
	Domain       string       `json:"domain"`
	Mode         Mode         `json:"mode"`
	Waiting      int          `json:"waiting"`
	Talking      int          `json:"talking"`
	Agents       int          `json:"agents"`
	Available    int          `json:"available"`
	LongestWait  float64      `json:"longestWaitSecs"`
	ServiceLevel ServiceLevel `json:"serviceLevel"`
	Alerts       []QueueAlert `json:"alerts,omitempty"`
}

// AgentSnapshot describes one agent as seen from a queue or the registry
type AgentSnapshot struct {
	URI           string     `json:"uri"`
	State         AgentState `json:"state"`
	CallCount     int        `json:"callCount"`
	LastContacted time.Time  `json:"lastContacted"`
	AgentLagMs    int64      `json:"agentLagMs"`
	QueueCount    int        `json:"queueCount"`
}

// CallSnapshot describes one waiting call
type CallSnapshot struct {
	CallID    string    `json:"callId"`
	Priority  int       `json:"priority"`
	Position  int       `json:"position"`
	CallerID  string    `json:"callerId,omitempty"`
	State     CallState `json:"state"`
	EnteredAt time.Time `json:"enteredAt"`
	WaitSecs  float64   `json:"waitSecs"`
}

// QueueInfo is the detailed view of a single queue
type QueueInfo struct {
	Name          string          `json:"name"`
	Domain        string          `json:"domain"`
	Mode          Mode            `json:"mode"`
	Size          int             `json:"size"`
	Talking       int             `json:"talking"`
	RingTimeoutMs int64           `json:"uacTimeoutMs"`
	Outstanding   int             `json:"outstandingProbes"`
	Agents        []AgentSnapshot `json:"agents"`
	Calls         []CallSnapshot  `json:"calls"`
	ServiceLevel  ServiceLevel    `json:"serviceLevel"`
}
