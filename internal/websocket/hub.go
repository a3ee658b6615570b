package websocket

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/metrics"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/rs/zerolog"
)

// outbound is a frame scoped to one domain. An empty domain reaches every client.
type outbound struct {
	domain string
	data   []byte
}

// Hub maintains the set of active dashboard clients and fans out queue
// events and stats to the clients allowed to see their domain
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound frames
	broadcast chan outbound

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan outbound, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger.With().Str("component", "dashboard_hub").Logger(),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	m := metrics.Get()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			m.RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Str("domain", client.domain).
				Int("total_clients", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				m.RecordWebSocketDisconnect()
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- outbound{data: message}
}

// BroadcastDomain sends a message to the clients that may see domain
func (h *Hub) BroadcastDomain(domain string, message []byte) {
	h.broadcast <- outbound{domain: domain, data: message}
}

// OnQueueEvent forwards a queue event to the dashboard. It runs under the
// queue manager's lock, so a full buffer drops the event instead of blocking.
func (h *Hub) OnQueueEvent(ev types.QueueEvent) {
	data, err := json.Marshal(types.DashboardMessage{
		Type:      types.DashboardQueueEvent,
		Domain:    ev.Domain,
		Event:     &ev,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal queue event")
		return
	}

	select {
	case h.broadcast <- outbound{domain: ev.Domain, data: data}:
	default:
		metrics.Get().RecordWebSocketError()
		h.logger.Warn().
			Str("domain", ev.Domain).
			Str("queue", ev.Queue).
			Str("type", string(ev.Type)).
			Msg("dashboard buffer full, dropping queue event")
	}
}

// PublishStats sends one stats frame per domain
func (h *Hub) PublishStats(stats []types.QueueStats, now time.Time) int {
	byDomain := make(map[string][]types.QueueStats)
	for _, s := range stats {
		byDomain[s.Domain] = append(byDomain[s.Domain], s)
	}
	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	sent := 0
	for _, d := range domains {
		data, err := json.Marshal(types.DashboardMessage{
			Type:      types.DashboardQueueStats,
			Domain:    d,
			Queues:    byDomain[d],
			Timestamp: now,
		})
		if err != nil {
			h.logger.Error().Err(err).Str("domain", d).Msg("failed to marshal stats")
			continue
		}
		h.BroadcastDomain(d, data)
		sent++
	}
	return sent
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver sends a frame to every client allowed to see its domain
func (h *Hub) deliver(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.Allows(msg.domain) {
			continue
		}
		select {
		case client.send <- msg.data:
			metrics.Get().RecordWebSocketMessage()
		default:
			// Client's send buffer is full, close and remove it
			close(client.send)
			delete(h.clients, client)
			metrics.Get().RecordWebSocketDisconnect()
			h.logger.Warn().
				Str("client_id", client.id).
				Msg("client send buffer full, closing connection")
		}
	}
}
