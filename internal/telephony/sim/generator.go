package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/rs/zerolog"
)

// PlaceFunc hands a new caller to the queueing layer
type PlaceFunc func(domain, queue string, c *Caller) error

// GeneratorConfig holds the call generation settings for one queue
type GeneratorConfig struct {
	Domain      string
	Queue       string
	CallsPerMin float64
	// Patience is how long a caller waits before hanging up. Zero waits forever.
	Patience time.Duration
}

// Generator produces simulated callers at a configurable rate
type Generator struct {
	mu     sync.RWMutex
	cfg    GeneratorConfig
	dialer telephony.Dialer
	place  PlaceFunc
	logger zerolog.Logger

	placed    atomic.Int64
	failed    atomic.Int64
	abandoned atomic.Int64
}

// NewGenerator creates a Generator that places callers through place
func NewGenerator(cfg GeneratorConfig, dialer telephony.Dialer, place PlaceFunc, logger zerolog.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		dialer: dialer,
		place:  place,
		logger: logger.With().Str("component", "callgen").Logger(),
	}
}

// SetRate thread-safely changes the call rate
func (g *Generator) SetRate(callsPerMin float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.CallsPerMin = callsPerMin
}

// Config returns a copy of the current settings
func (g *Generator) Config() GeneratorConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Run generates callers until ctx is cancelled
func (g *Generator) Run(ctx context.Context) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	g.logger.Info().Msg("call generator started")

	for {
		cfg := g.Config()
		if cfg.CallsPerMin <= 0 {
			select {
			case <-ctx.Done():
				g.logger.Info().Msg("call generator stopped")
				return
			case <-time.After(time.Second):
				continue
			}
		}

		// Poisson-ish sleep: base interval with jitter.
		base := time.Duration(float64(time.Minute) / cfg.CallsPerMin)
		sleep := jitter(rng, base)
		if sleep < time.Millisecond {
			sleep = time.Millisecond
		}

		select {
		case <-ctx.Done():
			g.logger.Info().Msg("call generator stopped")
			return
		case <-time.After(sleep):
		}

		g.placeOne(cfg, rng)
	}
}

func (g *Generator) placeOne(cfg GeneratorConfig, rng *rand.Rand) {
	n := g.placed.Load() + 1
	caller := NewCaller("", telephony.CallerID{
		Number: fmt.Sprintf("+1555%07d", rng.Intn(10000000)),
		Name:   fmt.Sprintf("Sim Caller %d", n),
	}, g.dialer)

	if err := g.place(cfg.Domain, cfg.Queue, caller); err != nil {
		g.failed.Add(1)
		g.logger.Error().Err(err).
			Str("domain", cfg.Domain).
			Str("queue", cfg.Queue).
			Msg("failed to enqueue call")
		return
	}
	g.placed.Add(1)

	if cfg.Patience > 0 {
		time.AfterFunc(jitter(rng, cfg.Patience), func() {
			if caller.BridgedTo() == "" && !caller.Gone() {
				g.abandoned.Add(1)
				caller.Hangup()
			}
		})
	}

	g.logger.Debug().
		Str("domain", cfg.Domain).
		Str("queue", cfg.Queue).
		Str("call_id", caller.ID()).
		Float64("calls_per_min", cfg.CallsPerMin).
		Msg("enqueued call")
}

// GetStats returns generation statistics
func (g *Generator) GetStats() map[string]interface{} {
	cfg := g.Config()
	return map[string]interface{}{
		"domain":      cfg.Domain,
		"queue":       cfg.Queue,
		"callsPerMin": cfg.CallsPerMin,
		"placed":      g.placed.Load(),
		"failed":      g.failed.Load(),
		"abandoned":   g.abandoned.Load(),
	}
}
