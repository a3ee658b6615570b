package alerts

import (
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/types"
)

func rules(q types.QueueStats) []string {
	var out []string
	for _, a := range q.Alerts {
		out = append(out, a.Rule)
	}
	return out
}

func TestCheckQueueAlerts(t *testing.T) {
	th := Thresholds{LongestWait: 2 * time.Minute}

	tests := []struct {
		name  string
		stats types.QueueStats
		want  []string
	}{
		{
			name:  "quiet queue",
			stats: types.QueueStats{Agents: 2, Available: 2},
		},
		{
			name:  "callers without agents",
			stats: types.QueueStats{Waiting: 3, LongestWait: 10},
			want:  []string{RuleNoAgents},
		},
		{
			name:  "all agents engaged",
			stats: types.QueueStats{Waiting: 1, Agents: 4, Available: 0, LongestWait: 10},
			want:  []string{RuleNoAgents},
		},
		{
			name:  "long wait",
			stats: types.QueueStats{Waiting: 1, Agents: 1, Available: 1, LongestWait: 150},
			want:  []string{RuleLongWait},
		},
		{
			name: "service level below target",
			stats: types.QueueStats{Agents: 1, Available: 1, ServiceLevel: types.ServiceLevel{
				Target: 80, TotalAnswered: 10, AnsweredInSL: 5, CurrentSL: 50,
			}},
			want: []string{RuleSLBelowTarget},
		},
		{
			name: "no answered calls yet",
			stats: types.QueueStats{ServiceLevel: types.ServiceLevel{
				Target: 80, CurrentSL: 0,
			}},
		},
		{
			name: "everything at once",
			stats: types.QueueStats{Waiting: 2, LongestWait: 600, ServiceLevel: types.ServiceLevel{
				Target: 80, TotalAnswered: 4, CurrentSL: 25,
			}},
			want: []string{RuleNoAgents, RuleLongWait, RuleSLBelowTarget},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queues := []types.QueueStats{tt.stats}
			CheckQueueAlerts(queues, th)
			got := rules(queues[0])
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestCheckQueueAlertsClearsStaleAlerts(t *testing.T) {
	queues := []types.QueueStats{{
		Agents:    1,
		Available: 1,
		Alerts:    []types.QueueAlert{{Rule: RuleNoAgents}},
	}}
	CheckQueueAlerts(queues, Thresholds{})
	if len(queues[0].Alerts) != 0 {
		t.Errorf("expected alerts cleared, got %v", queues[0].Alerts)
	}
}

func TestSeverities(t *testing.T) {
	queues := []types.QueueStats{{Waiting: 1, LongestWait: 600}}
	CheckQueueAlerts(queues, Thresholds{LongestWait: time.Minute})

	for _, a := range queues[0].Alerts {
		switch a.Rule {
		case RuleNoAgents:
			if a.Severity != types.SeverityCritical {
				t.Errorf("expected no_agents to be critical, got %s", a.Severity)
			}
		case RuleLongWait:
			if a.Severity != types.SeverityWarning {
				t.Errorf("expected long_wait to be a warning, got %s", a.Severity)
			}
			if a.Message != "Oldest caller waiting 10m0s" {
				t.Errorf("unexpected message %q", a.Message)
			}
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{90 * time.Second, "1m30s"},
		{75 * time.Minute, "1h15m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
}
