package ticker

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/alerts"
	"github.com/dennisdiepolder/monti/acd/internal/metrics"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/dennisdiepolder/monti/acd/internal/websocket"
	"github.com/rs/zerolog"
)

// StatsSource supplies the live queue and agent snapshots
type StatsSource interface {
	AllStats() []types.QueueStats
	Agents() []types.AgentSnapshot
}

// StatsCache mirrors the stats to an external cache
type StatsCache interface {
	PublishStats(ctx context.Context, stats []types.QueueStats) error
}

// Ticker periodically publishes queue stats with their alerts to the
// dashboard hub and the stats cache
type Ticker struct {
	source     StatsSource
	hub        *websocket.Hub
	cache      StatsCache
	interval   time.Duration
	thresholds alerts.Thresholds
	logger     zerolog.Logger
}

// NewTicker creates a new Ticker
func NewTicker(source StatsSource, hub *websocket.Hub, interval time.Duration, logger zerolog.Logger) *Ticker {
	return &Ticker{
		source:   source,
		hub:      hub,
		interval: interval,
		logger:   logger,
	}
}

// SetStatsCache enables publishing to an external stats cache
func (t *Ticker) SetStatsCache(c StatsCache) {
	t.cache = c
}

// SetThresholds sets the alert thresholds
func (t *Ticker) SetThresholds(th alerts.Thresholds) {
	t.thresholds = th
}

// Start publishes stats every interval until ctx is done
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("stats ticker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("stats ticker stopped")
			return

		case now := <-ticker.C:
			t.tick(ctx, now)
		}
	}
}

func (t *Ticker) tick(ctx context.Context, now time.Time) []types.QueueStats {
	stats := t.source.AllStats()
	alerts.CheckQueueAlerts(stats, t.thresholds)

	m := metrics.Get()
	m.UpdateAgentStats(t.source.Agents())

	frames := t.hub.PublishStats(stats, now)

	if t.cache != nil && len(stats) > 0 {
		cctx, cancel := context.WithTimeout(ctx, t.interval)
		if err := t.cache.PublishStats(cctx, stats); err != nil {
			t.logger.Warn().Err(err).Msg("failed to publish stats to cache")
		}
		cancel()
	}

	m.RecordStatsPublished()
	t.logger.Debug().
		Int("queues", len(stats)).
		Int("frames", frames).
		Int("clients", t.hub.ClientCount()).
		Msg("published queue stats")
	return stats
}
