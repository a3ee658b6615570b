package types

import "time"

// Agent softphone protocol. The backend offers probe calls to agents
// connected on /ws/agent and the agent reports progress back.

// AgentRegister is sent by an agent endpoint when it connects
type AgentRegister struct {
	Type string `json:"type"` // "register"
	URI  string `json:"uri"`
}

// ServerAck is sent from backend to agent as acknowledgment
type ServerAck struct {
	Type string `json:"type"` // "ack"
	URI  string `json:"uri"`
}

// ProbeOffer is sent from backend to agent to ring the endpoint
type ProbeOffer struct {
	Type         string    `json:"type"` // "offer"
	ProbeID      string    `json:"probeId"`
	CallID       string    `json:"callId"`
	CallerNumber string    `json:"callerNumber,omitempty"`
	CallerName   string    `json:"callerName,omitempty"`
	RingTimeout  int64     `json:"ringTimeoutMs"`
	Timestamp    time.Time `json:"timestamp"`
}

// ProbeCancel is sent from backend to agent when a probe is hung up
type ProbeCancel struct {
	Type    string `json:"type"` // "cancel"
	ProbeID string `json:"probeId"`
	Reason  string `json:"reason"`
}

// ProbeBridged is sent from backend to agent once the answered probe is
// connected to a caller
type ProbeBridged struct {
	Type    string `json:"type"` // "bridged"
	ProbeID string `json:"probeId"`
	CallID  string `json:"callId"`
}

// ProbeProgress is sent by the agent for an offered probe
type ProbeProgress struct {
	Type    string `json:"type"` // "ringing", "answer", "reject", "hangup"
	ProbeID string `json:"probeId"`
}

// Dashboard stream. Clients on /ws receive queue events and periodic stats
// for the domains they may see.

// Dashboard message types
const (
	DashboardQueueEvent = "queue_event"
	DashboardQueueStats = "queue_stats"
)

// DashboardMessage is one frame of the dashboard stream
type DashboardMessage struct {
	Type      string       `json:"type"`
	Domain    string       `json:"domain"`
	Event     *QueueEvent  `json:"event,omitempty"`
	Queues    []QueueStats `json:"queues,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
