package callqueue

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/auth"
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/telephony/sim"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// QueueHandler handles HTTP requests for queue administration
type QueueHandler struct {
	mgr    *Manager
	dialer telephony.Dialer
	logger zerolog.Logger
}

// NewQueueHandler creates a QueueHandler. Simulated callers created over
// HTTP place their probes through dialer.
func NewQueueHandler(mgr *Manager, dialer telephony.Dialer, logger zerolog.Logger) *QueueHandler {
	return &QueueHandler{
		mgr:    mgr,
		dialer: dialer,
		logger: logger.With().Str("component", "queue_api").Logger(),
	}
}

// QueueRoutes registers the per-queue routes on a router mounted at
// /domains/{domain}/queues/{queue}
func (h *QueueHandler) QueueRoutes(r chi.Router) {
	r.Get("/", h.HandleInfo)
	r.Put("/mode", h.HandleSetMode)
	r.Get("/calls", h.HandleFindCall)
	r.Post("/calls", h.HandleEnqueue)
	r.Get("/calls/{callId}", h.HandleGetCall)
	r.Post("/calls/{callId}/pick", h.HandlePick)
	r.Get("/agents", h.HandleListAgents)
	r.Post("/agents", h.HandleAddAgents)
	r.Put("/agents", h.HandleSyncAgents)
	r.Delete("/agents/{uri}", h.HandleRemoveAgent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownQueue), errors.Is(err, ErrUnknownCall):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrAlreadyQueued):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrNoCall):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func queueParams(r *http.Request) (domain, queue string) {
	return chi.URLParam(r, "domain"), chi.URLParam(r, "queue")
}

// HandleListQueues handles GET /api/queues. Authenticated callers only see
// the queues of their domains.
func (h *QueueHandler) HandleListQueues(w http.ResponseWriter, r *http.Request) {
	claims, scoped := auth.GetUserFromContext(r.Context())
	stats := []types.QueueStats{}
	for _, s := range h.mgr.AllStats() {
		if scoped && !claims.CanAccessDomain(s.Domain) {
			continue
		}
		stats = append(stats, s)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalQueues": len(stats),
		"queues":      stats,
	})
}

// HandleListAllAgents handles GET /api/agents
func (h *QueueHandler) HandleListAllAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Agents())
}

// HandleInfo handles GET /api/domains/{domain}/queues/{queue}
func (h *QueueHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	domain, queue := queueParams(r)
	info, err := h.mgr.Info(domain, queue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// HandleSetMode handles PUT /api/domains/{domain}/queues/{queue}/mode
func (h *QueueHandler) HandleSetMode(w http.ResponseWriter, r *http.Request) {
	domain, queue := queueParams(r)

	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	mode, ok := types.ParseMode(req.Mode)
	if !ok {
		http.Error(w, "invalid mode", http.StatusBadRequest)
		return
	}

	changed, err := h.mgr.SetMode(domain, queue, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	if !changed {
		http.Error(w, "calls are waiting", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})
}

// enqueueRequest is the JSON body for POST .../calls
type enqueueRequest struct {
	CallID           string  `json:"callId,omitempty"`
	CallerNumber     string  `json:"callerNumber,omitempty"`
	CallerName       string  `json:"callerName,omitempty"`
	Priority         float64 `json:"priority,omitempty"`
	TimeoutSecs      int     `json:"timeoutSecs,omitempty"`
	Mode             string  `json:"mode,omitempty"`
	NoRemoveOnHangup bool    `json:"noRemoveOnHangup,omitempty"`
	PatienceSecs     float64 `json:"patienceSecs,omitempty"`
}

// HandleEnqueue handles POST .../calls by queueing a simulated caller
func (h *QueueHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	domain, queue := queueParams(r)

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	opts := EnqueueOptions{
		Queue:            queue,
		Priority:         NormalizePriority(req.Priority),
		Timeout:          time.Duration(req.TimeoutSecs) * time.Second,
		NoRemoveOnHangup: req.NoRemoveOnHangup,
	}
	if req.Mode != "" {
		mode, ok := types.ParseMode(req.Mode)
		if !ok {
			http.Error(w, "invalid mode", http.StatusBadRequest)
			return
		}
		opts.Mode = mode
	}

	caller := sim.NewCaller(req.CallID, telephony.CallerID{Number: req.CallerNumber, Name: req.CallerName}, h.dialer)
	opts.Call = caller

	qc, err := h.mgr.Enqueue(domain, opts)
	if err != nil {
		h.logger.Warn().Err(err).Str("domain", domain).Str("queue", queue).Msg("enqueue rejected")
		writeError(w, err)
		return
	}

	if req.PatienceSecs > 0 {
		time.AfterFunc(time.Duration(req.PatienceSecs*float64(time.Second)), func() {
			if caller.BridgedTo() == "" {
				caller.Hangup()
			}
		})
	}

	writeJSON(w, http.StatusCreated, h.mgr.snapshotCall(qc))
}

// HandleGetCall handles GET .../calls/{callId}
func (h *QueueHandler) HandleGetCall(w http.ResponseWriter, r *http.Request) {
	domain, queue := queueParams(r)
	qc, err := h.mgr.CallByID(domain, queue, chi.URLParam(r, "callId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.mgr.snapshotCall(qc))
}

// HandleFindCall handles GET .../calls?callerid=user
func (h *QueueHandler) HandleFindCall(w http.ResponseWriter, r *http.Request) {
	domain, queue := queueParams(r)
	user := r.URL.Query().Get("callerid")
	if user == "" {
		info, err := h.mgr.Info(domain, queue)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info.Calls)
		return
	}

	qc, err := h.mgr.CallByCallerID(domain, queue, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.mgr.snapshotCall(qc))
}

// HandlePick handles POST .../calls/{callId}/pick
func (h *QueueHandler) HandlePick(w http.ResponseWriter, r *http.Request) {
	domain, queue := queueParams(r)
	qc, err := h.mgr.Pick(domain, queue, chi.URLParam(r, "callId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"callId": qc.ID(),
		"state":  string(qc.State()),
	})
}

// HandleListAgents handles GET .../agents
func (h *QueueHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	domain, queue := queueParams(r)
	info, err := h.mgr.Info(domain, queue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info.Agents)
}

type agentsRequest struct {
	Agents     []string `json:"agents"`
	AgentLagMs int64    `json:"agentLagMs,omitempty"`
}

func decodeAgents(w http.ResponseWriter, r *http.Request) (agentsRequest, bool) {
	var req agentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return req, false
	}
	for _, uri := range req.Agents {
		if uri == "" {
			http.Error(w, "empty agent uri", http.StatusBadRequest)
			return req, false
		}
	}
	return req, true
}

// HandleAddAgents handles POST .../agents
func (h *QueueHandler) HandleAddAgents(w http.ResponseWriter, r *http.Request) {
	domain, queue := queueParams(r)
	req, ok := decodeAgents(w, r)
	if !ok {
		return
	}
	added := h.mgr.AddAgents(domain, queue, req.Agents, AgentOptions{
		WrapupLag: time.Duration(req.AgentLagMs) * time.Millisecond,
	})
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

// HandleSyncAgents handles PUT .../agents, replacing the membership
func (h *QueueHandler) HandleSyncAgents(w http.ResponseWriter, r *http.Request) {
	domain, queue := queueParams(r)
	req, ok := decodeAgents(w, r)
	if !ok {
		return
	}
	added, removed := h.mgr.SyncAgents(domain, queue, req.Agents, AgentOptions{
		WrapupLag: time.Duration(req.AgentLagMs) * time.Millisecond,
	})
	writeJSON(w, http.StatusOK, map[string]int{"added": added, "removed": removed})
}

// HandleRemoveAgent handles DELETE .../agents/{uri}
func (h *QueueHandler) HandleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	domain, queue := queueParams(r)
	uri, err := url.PathUnescape(chi.URLParam(r, "uri"))
	if err != nil {
		http.Error(w, "invalid agent uri", http.StatusBadRequest)
		return
	}
	if !h.mgr.RemoveAgent(domain, queue, uri) {
		http.Error(w, "agent not in queue", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
