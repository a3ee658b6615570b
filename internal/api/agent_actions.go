package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/acd/internal/callqueue"
	"github.com/dennisdiepolder/monti/acd/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AgentActionsHandler provides REST endpoints for agent control actions
type AgentActionsHandler struct {
	agentHub *websocket.AgentHub
	mgr      *callqueue.Manager
	logger   zerolog.Logger
}

// NewAgentActionsHandler creates a new AgentActionsHandler
func NewAgentActionsHandler(agentHub *websocket.AgentHub, mgr *callqueue.Manager, logger zerolog.Logger) *AgentActionsHandler {
	return &AgentActionsHandler{
		agentHub: agentHub,
		mgr:      mgr,
		logger:   logger.With().Str("component", "agent_actions").Logger(),
	}
}

// Logout handles POST /api/agents/{uri}/logout. The softphone is
// disconnected; queue memberships are kept.
func (h *AgentActionsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	uri := chi.URLParam(r, "uri")
	if uri == "" {
		http.Error(w, "uri is required", http.StatusBadRequest)
		return
	}

	if !h.agentHub.Disconnect(uri) {
		http.Error(w, "agent not connected", http.StatusNotFound)
		return
	}

	h.logger.Info().Str("agent_uri", uri).Msg("force-disconnected agent via API")
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "agent logged out",
		"uri":     uri,
	})
}

// Kick handles POST /api/agents/kick. Every queue is offered to its
// available agents again.
func (h *AgentActionsHandler) Kick(w http.ResponseWriter, r *http.Request) {
	h.mgr.Kick()
	writeJSON(w, http.StatusOK, map[string]string{"message": "queues re-dispatched"})
}
