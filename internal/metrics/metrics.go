package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Lifecycle intake
	eventsReceived  prometheus.Counter
	eventsProcessed prometheus.Counter
	eventErrors     prometheus.Counter
	lifecycleEvents *prometheus.CounterVec

	// Queues
	callsEnqueued *prometheus.CounterVec
	callOutcomes  *prometheus.CounterVec
	waitDuration  *prometheus.HistogramVec
	queueWaiting  *prometheus.GaugeVec
	queueTalking  *prometheus.GaugeVec
	queueAgents   *prometheus.GaugeVec
	probesStarted *prometheus.CounterVec
	probesEnded   *prometheus.CounterVec
	agentsByState *prometheus.GaugeVec

	// WebSocket
	wsConnections    prometheus.Counter
	wsDisconnections prometheus.Counter
	wsMessages       prometheus.Counter
	wsErrors         prometheus.Counter
	wsActive         prometheus.Gauge
	agentEndpoints   prometheus.Gauge
	activeConns      atomic.Int64

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Publishing
	statsPublished prometheus.Counter
	storeErrors    *prometheus.CounterVec
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		eventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_events_received_total",
			Help: "Lifecycle events received on the intake endpoint",
		}),
		eventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_events_processed_total",
			Help: "Lifecycle events applied",
		}),
		eventErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_event_processing_errors_total",
			Help: "Lifecycle events rejected",
		}),
		lifecycleEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acd_lifecycle_events_total",
			Help: "Entity lifecycle facts seen by the manager",
		}, []string{"type"}),
		callsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acd_calls_enqueued_total",
			Help: "Callers that entered a queue",
		}, []string{"domain", "queue"}),
		callOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acd_call_outcomes_total",
			Help: "Callers that left a queue by outcome",
		}, []string{"domain", "queue", "outcome"}),
		waitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acd_call_wait_seconds",
			Help:    "Time callers spent waiting in a queue",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"domain", "queue", "outcome"}),
		queueWaiting: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acd_queue_waiting",
			Help: "Callers currently waiting",
		}, []string{"domain", "queue"}),
		queueTalking: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acd_queue_talking",
			Help: "Callers currently connected to an agent",
		}, []string{"domain", "queue"}),
		queueAgents: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acd_queue_agents",
			Help: "Agents that are members of a queue",
		}, []string{"domain", "queue"}),
		probesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acd_probes_started_total",
			Help: "Probe calls placed to agents",
		}, []string{"mode"}),
		probesEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acd_probes_ended_total",
			Help: "Probe calls ended by result",
		}, []string{"mode", "result"}),
		agentsByState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acd_agents_by_state",
			Help: "Known agents by dispatch state",
		}, []string{"state"}),
		wsConnections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_websocket_connections_total",
			Help: "Dashboard WebSocket connections accepted",
		}),
		wsDisconnections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_websocket_disconnections_total",
			Help: "Dashboard WebSocket connections closed",
		}),
		wsMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_websocket_messages_total",
			Help: "Messages broadcast to dashboard clients",
		}),
		wsErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_websocket_errors_total",
			Help: "WebSocket read and write errors",
		}),
		wsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "acd_websocket_active_connections",
			Help: "Open dashboard WebSocket connections",
		}),
		agentEndpoints: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "acd_agent_endpoints_connected",
			Help: "Agent softphones connected over WebSocket",
		}),
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acd_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"endpoint", "status"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acd_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		statsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_stats_published_total",
			Help: "Stats snapshots published",
		}),
		storeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acd_store_errors_total",
			Help: "Persistence failures by backend",
		}, []string{"backend"}),
	}
}

// RecordEventReceived increments the events received counter
func (m *Metrics) RecordEventReceived() { m.eventsReceived.Inc() }

// RecordEventProcessed increments the events processed counter
func (m *Metrics) RecordEventProcessed() { m.eventsProcessed.Inc() }

// RecordEventError increments the event processing error counter
func (m *Metrics) RecordEventError() { m.eventErrors.Inc() }

// LifecycleEvent counts an entity lifecycle fact by type
func (m *Metrics) LifecycleEvent(kind string) {
	m.lifecycleEvents.WithLabelValues(kind).Inc()
}

// CallEnqueued counts a caller entering a queue
func (m *Metrics) CallEnqueued(domain, queue string) {
	m.callsEnqueued.WithLabelValues(domain, queue).Inc()
}

// CallLeft records the outcome and wait time of a caller
func (m *Metrics) CallLeft(domain, queue, outcome string, waitSecs float64) {
	m.callOutcomes.WithLabelValues(domain, queue, outcome).Inc()
	m.waitDuration.WithLabelValues(domain, queue, outcome).Observe(waitSecs)
}

// SetQueueCounts updates the per-queue gauges
func (m *Metrics) SetQueueCounts(domain, queue string, waiting, talking, agents int) {
	m.queueWaiting.WithLabelValues(domain, queue).Set(float64(waiting))
	m.queueTalking.WithLabelValues(domain, queue).Set(float64(talking))
	m.queueAgents.WithLabelValues(domain, queue).Set(float64(agents))
}

// ProbeStarted counts a probe placed in the given mode
func (m *Metrics) ProbeStarted(mode string) {
	m.probesStarted.WithLabelValues(mode).Inc()
}

// ProbeEnded counts a finished probe by result
func (m *Metrics) ProbeEnded(mode, result string) {
	m.probesEnded.WithLabelValues(mode, result).Inc()
}

// UpdateAgentStats updates agent distribution metrics
func (m *Metrics) UpdateAgentStats(agents []types.AgentSnapshot) {
	counts := map[types.AgentState]int{
		types.StateAvailable: 0,
		types.StateRinging:   0,
		types.StateBusy:      0,
		types.StateResting:   0,
	}
	for _, a := range agents {
		counts[a.State]++
	}
	for state, n := range counts {
		m.agentsByState.WithLabelValues(string(state)).Set(float64(n))
	}
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.wsConnections.Inc()
	m.wsActive.Set(float64(m.activeConns.Add(1)))
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.wsDisconnections.Inc()
	m.wsActive.Set(float64(m.activeConns.Add(-1)))
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() { m.wsMessages.Inc() }

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() { m.wsErrors.Inc() }

// RecordAgentConnect counts a connected agent softphone
func (m *Metrics) RecordAgentConnect() { m.agentEndpoints.Inc() }

// RecordAgentDisconnect counts a disconnected agent softphone
func (m *Metrics) RecordAgentDisconnect() { m.agentEndpoints.Dec() }

// RecordStatsPublished counts a published stats snapshot
func (m *Metrics) RecordStatsPublished() { m.statsPublished.Inc() }

// RecordStoreError counts a persistence failure
func (m *Metrics) RecordStoreError(backend string) {
	m.storeErrors.WithLabelValues(backend).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	m.httpRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	return m.activeConns.Load()
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
