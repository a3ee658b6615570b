package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/callqueue"
	"github.com/rs/zerolog"
)

// RosterEntry places one agent into one queue
type RosterEntry struct {
	URI        string `json:"uri"`
	Domain     string `json:"domain"`
	Queue      string `json:"queue"`
	AgentLagMs int64  `json:"agentLagMs,omitempty"`
}

// RosterHandler handles the roster push from a workforce system
type RosterHandler struct {
	mgr    *callqueue.Manager
	logger zerolog.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(mgr *callqueue.Manager, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		mgr:    mgr,
		logger: logger.With().Str("component", "roster").Logger(),
	}
}

// HandleRoster handles POST /internal/agents/roster. Entries missing a
// field are skipped.
func (h *RosterHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	var roster []RosterEntry
	if err := json.NewDecoder(r.Body).Decode(&roster); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	added, skipped := 0, 0
	for _, entry := range roster {
		if entry.URI == "" || entry.Domain == "" || entry.Queue == "" || entry.AgentLagMs < 0 {
			skipped++
			continue
		}
		opts := callqueue.AgentOptions{WrapupLag: time.Duration(entry.AgentLagMs) * time.Millisecond}
		if h.mgr.AddAgent(entry.Domain, entry.Queue, entry.URI, opts) {
			added++
		}
	}

	h.logger.Info().Int("added", added).Int("skipped", skipped).Msg("roster received")
	writeJSON(w, http.StatusOK, map[string]int{"added": added, "skipped": skipped})
}
