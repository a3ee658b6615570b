package alerts

import (
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/types"
)

// Rule names
const (
	RuleNoAgents      = "no_agents"
	RuleLongWait      = "long_wait"
	RuleSLBelowTarget = "sl_below_target"
)

// Thresholds configures the queue alert rules
type Thresholds struct {
	LongestWait time.Duration
}

// CheckQueueAlerts evaluates alert rules for a slice of queue stats,
// replacing each queue's Alerts field in place
func CheckQueueAlerts(queues []types.QueueStats, th Thresholds) {
	for i := range queues {
		q := &queues[i]
		q.Alerts = nil

		if q.Waiting > 0 && q.Available == 0 {
			msg := fmt.Sprintf("%d waiting, no agents", q.Waiting)
			if q.Agents > 0 {
				msg = fmt.Sprintf("%d waiting, none of %d agents available", q.Waiting, q.Agents)
			}
			q.Alerts = append(q.Alerts, types.QueueAlert{
				Rule:     RuleNoAgents,
				Severity: types.SeverityCritical,
				Message:  msg,
			})
		}

		if th.LongestWait > 0 && q.Waiting > 0 {
			wait := time.Duration(q.LongestWait * float64(time.Second))
			if wait > th.LongestWait {
				q.Alerts = append(q.Alerts, types.QueueAlert{
					Rule:     RuleLongWait,
					Severity: types.SeverityWarning,
					Message:  fmt.Sprintf("Oldest caller waiting %s", formatDuration(wait)),
				})
			}
		}

		sl := q.ServiceLevel
		if sl.TotalAnswered > 0 && sl.CurrentSL < float64(sl.Target) {
			q.Alerts = append(q.Alerts, types.QueueAlert{
				Rule:     RuleSLBelowTarget,
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("SL %.0f%% below target %d%%", sl.CurrentSL, sl.Target),
			})
		}
	}
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
