package websocket

import (
	"net/http"
	"slices"

	"github.com/dennisdiepolder/monti/acd/internal/auth"
	"github.com/dennisdiepolder/monti/acd/internal/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// newUpgrader accepts requests without an Origin header and those whose
// origin is in allowed. A "*" entry allows every origin.
func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(allowed, "*") {
				return true
			}
			return slices.Contains(allowed, origin)
		},
	}
}

// Handler handles dashboard WebSocket upgrade requests. The optional
// ?domain= parameter narrows the stream to one domain.
type Handler struct {
	hub      *Hub
	config   *config.Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		config:   cfg,
		upgrader: newUpgrader(cfg.AllowedOrigins),
		logger:   logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())
	domain := r.URL.Query().Get("domain")
	if domain != "" && claims != nil && !claims.CanAccessDomain(domain) {
		http.Error(w, "Forbidden: no access to domain", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(h.hub, conn, h.config, h.logger, claims, domain)
	h.hub.register <- client
	client.Start()
}
