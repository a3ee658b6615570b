package callqueue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RoutingLoop periodically re-runs arbitration in every domain. Dispatch is
// event driven; the loop only picks up callers whose wakeup was lost, for
// instance after a registrar outage.
type RoutingLoop struct {
	mgr      *Manager
	interval time.Duration
	logger   zerolog.Logger
}

// NewRoutingLoop creates a new RoutingLoop
func NewRoutingLoop(mgr *Manager, interval time.Duration, logger zerolog.Logger) *RoutingLoop {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RoutingLoop{
		mgr:      mgr,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the routing loop until the context is cancelled
func (rl *RoutingLoop) Start(ctx context.Context) {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	rl.logger.Info().Dur("interval", rl.interval).Msg("routing loop started")

	for {
		select {
		case <-ctx.Done():
			rl.logger.Info().Msg("routing loop stopped")
			return
		case <-ticker.C:
			rl.mgr.Kick()
		}
	}
}
