package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dennisdiepolder/monti/acd/internal/auth"
	"github.com/dennisdiepolder/monti/acd/internal/callqueue"
	"github.com/dennisdiepolder/monti/acd/internal/storage"
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/telephony/sim"
	"github.com/rs/zerolog"
)

// maxInjectedCalls bounds a single inject request
const maxInjectedCalls = 1000

// AdminHandler serves the operator endpoints: store wipe, simulator control
// and bulk call injection
type AdminHandler struct {
	store  storage.Store
	mgr    *callqueue.Manager
	dialer telephony.Dialer
	gen    *sim.Generator
	logger zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler. gen is nil when the
// simulator is disabled.
func NewAdminHandler(store storage.Store, mgr *callqueue.Manager, dialer telephony.Dialer, gen *sim.Generator, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		store:  store,
		mgr:    mgr,
		dialer: dialer,
		gen:    gen,
		logger: logger.With().Str("component", "admin").Logger(),
	}
}

// RequireAdmin middleware: only admin role allowed
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || !auth.HasRole(claims, "admin") {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSupervisorOrAdmin middleware: supervisor or admin role allowed
func RequireSupervisorOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || (claims.Role != "admin" && claims.Role != "supervisor") {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"supervisor or admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// InjectCalls handles POST /api/admin/calls. It enqueues simulated callers
// into one queue.
func (h *AdminHandler) InjectCalls(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain   string `json:"domain"`
		Queue    string `json:"queue"`
		Count    int    `json:"count"`
		Priority int    `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Domain == "" || req.Queue == "" {
		http.Error(w, `{"error":"domain and queue are required"}`, http.StatusBadRequest)
		return
	}
	if claims, ok := auth.GetUserFromContext(r.Context()); ok && !claims.CanAccessDomain(req.Domain) {
		http.Error(w, `{"error":"no access to domain"}`, http.StatusForbidden)
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > maxInjectedCalls {
		req.Count = maxInjectedCalls
	}

	injected := 0
	for i := 0; i < req.Count; i++ {
		caller := sim.NewCaller("", telephony.CallerID{
			Number: fmt.Sprintf("+1555%07d", i),
			Name:   fmt.Sprintf("Injected %d", i+1),
		}, h.dialer)
		_, err := h.mgr.Enqueue(req.Domain, callqueue.EnqueueOptions{
			Queue:    req.Queue,
			Call:     caller,
			Priority: req.Priority,
		})
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to inject call")
			continue
		}
		injected++
	}

	h.logger.Info().
		Str("domain", req.Domain).
		Str("queue", req.Queue).
		Int("injected", injected).
		Int("requested", req.Count).
		Msg("calls injected via admin")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  fmt.Sprintf("injected %d calls", injected),
		"injected": injected,
		"errors":   req.Count - injected,
	})
}

// GetSimStatus handles GET /api/admin/sim
func (h *AdminHandler) GetSimStatus(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		http.Error(w, `{"error":"simulator disabled"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.gen.GetStats())
}

// SetSimRate handles PUT /api/admin/sim
func (h *AdminHandler) SetSimRate(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		http.Error(w, `{"error":"simulator disabled"}`, http.StatusNotFound)
		return
	}
	var req struct {
		CallsPerMin float64 `json:"callsPerMin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallsPerMin < 0 {
		http.Error(w, `{"error":"callsPerMin must be a non-negative number"}`, http.StatusBadRequest)
		return
	}
	h.gen.SetRate(req.CallsPerMin)

	h.logger.Info().Float64("calls_per_min", req.CallsPerMin).Msg("simulator rate changed")
	writeJSON(w, http.StatusOK, h.gen.GetStats())
}

// WipeStore handles DELETE /api/admin/store
func (h *AdminHandler) WipeStore(w http.ResponseWriter, r *http.Request) {
	if err := h.store.TruncateAll(); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate call records")
		http.Error(w, fmt.Sprintf(`{"error":"failed to truncate: %s"}`, err), http.StatusInternalServerError)
		return
	}

	h.logger.Info().Msg("call records truncated")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "call records truncated",
	})
}
