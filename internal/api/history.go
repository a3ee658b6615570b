package api

import (
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/auth"
	"github.com/dennisdiepolder/monti/acd/internal/storage"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// HistoryHandler provides REST endpoints for persisted call outcomes
type HistoryHandler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewHistoryHandler creates a new HistoryHandler
func NewHistoryHandler(store storage.Store, logger zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		store:  store,
		logger: logger.With().Str("component", "history_handler").Logger(),
	}
}

// GetHistory returns the call outcomes of a day
// GET /api/history/{date}?domain=&queue=
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(dateLayout, date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	records, err := h.store.GetCallRecords(date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to get call records")
		http.Error(w, "failed to retrieve history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, filterRecords(r, records))
}

// GetAgentCalls returns the calls an agent answered on a specific date
// GET /api/agents/{uri}/calls?date=YYYY-MM-DD
func (h *HistoryHandler) GetAgentCalls(w http.ResponseWriter, r *http.Request) {
	uri := chi.URLParam(r, "uri")
	if uri == "" {
		http.Error(w, "uri is required", http.StatusBadRequest)
		return
	}

	date := r.URL.Query().Get("date")
	if _, err := time.Parse(dateLayout, date); err != nil {
		http.Error(w, "date query parameter is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	records, err := h.store.GetAgentCallsByDate(uri, date)
	if err != nil {
		h.logger.Error().Err(err).
			Str("agent_uri", uri).
			Str("date", date).
			Msg("failed to get agent calls")
		http.Error(w, "failed to retrieve calls", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, filterRecords(r, records))
}

// filterRecords applies the domain and queue query filters and the
// caller's domain access
func filterRecords(r *http.Request, records []types.CallRecord) []types.CallRecord {
	domain := r.URL.Query().Get("domain")
	queue := r.URL.Query().Get("queue")
	claims, scoped := auth.GetUserFromContext(r.Context())

	out := []types.CallRecord{}
	for _, rec := range records {
		if domain != "" && rec.Domain != domain {
			continue
		}
		if queue != "" && rec.Queue != queue {
			continue
		}
		if scoped && !claims.CanAccessDomain(rec.Domain) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
