package types

// CallRecord represents a finished queued call for persistence
type CallRecord struct {
	DateKey   string    `json:"dateKey" dynamodbav:"DateKey" db:"date_key"` // YYYY-MM-DD (partition key)
	CallID    string    `json:"callId" dynamodbav:"CallID" db:"call_id"`    // sort key
	Domain    string    `json:"domain" dynamodbav:"Domain" db:"domain"`
	Queue     string    `json:"queue" dynamodbav:"Queue" db:"queue"`
	Mode      Mode      `json:"mode" dynamodbav:"Mode" db:"mode"`
	Priority  int       `json:"priority" dynamodbav:"Priority" db:"priority"`
	CallerID  string    `json:"callerId" dynamodbav:"CallerID" db:"caller_id"`
	AgentURI  string    `json:"agentUri,omitempty" dynamodbav:"AgentURI" db:"agent_uri"`
	Outcome   CallState `json:"outcome" dynamodbav:"Outcome" db:"outcome"`
	EnterTime string    `json:"enterTime" dynamodbav:"EnterTime" db:"enter_time"` // RFC3339
	LeaveTime string    `json:"leaveTime" dynamodbav:"LeaveTime" db:"leave_time"` // RFC3339
	WaitTime  float64   `json:"waitTime" dynamodbav:"WaitTime" db:"wait_time"`    // seconds
	InSL      bool      `json:"inSL" dynamodbav:"InSL" db:"in_sl"`
}
