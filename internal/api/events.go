package api

import (
	"net/http"
	"strconv"

	"github.com/dennisdiepolder/monti/acd/internal/auth"
	"github.com/dennisdiepolder/monti/acd/internal/cache"
	"github.com/dennisdiepolder/monti/acd/internal/types"
)

const defaultEventLimit = 100

// EventsHandler serves the recent queue events kept in memory
type EventsHandler struct {
	cache *cache.EventCache
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(c *cache.EventCache) *EventsHandler {
	return &EventsHandler{cache: c}
}

// GetEvents handles GET /api/events?domain=&limit=
func (h *EventsHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	domain := r.URL.Query().Get("domain")
	claims, scoped := auth.GetUserFromContext(r.Context())
	if domain != "" && scoped && !claims.CanAccessDomain(domain) {
		http.Error(w, "Forbidden: no access to domain", http.StatusForbidden)
		return
	}

	events := h.cache.Recent(0, domain)
	out := make([]types.QueueEvent, 0, min(limit, len(events)))
	// newest last; keep the tail after access filtering
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		if scoped && !claims.CanAccessDomain(events[i].Domain) {
			continue
		}
		out = append(out, events[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":  len(out),
		"events": out,
	})
}
