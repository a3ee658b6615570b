package event

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/ingestion"
	"github.com/dennisdiepolder/monti/acd/internal/metrics"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/rs/zerolog"
)

// RegistrationCounter reports the number of live registrations
type RegistrationCounter interface {
	Count() int
}

// Receiver handles lifecycle events posted by the signaling stack
type Receiver struct {
	processor      ingestion.EventProcessor
	registrations  RegistrationCounter
	logger         zerolog.Logger
	eventsReceived int64
	eventsRejected int64
	lastReceived   time.Time
	mu             sync.RWMutex
}

// NewReceiver creates a new event receiver
func NewReceiver(processor ingestion.EventProcessor, registrations RegistrationCounter, logger zerolog.Logger) *Receiver {
	return &Receiver{
		processor:     processor,
		registrations: registrations,
		logger:        logger,
	}
}

// HandleEvent decodes and applies one lifecycle event
func (r *Receiver) HandleEvent(w http.ResponseWriter, req *http.Request) {
	m := metrics.Get()

	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev types.LifecycleEvent
	if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode event")
		m.RecordEventError()
		atomic.AddInt64(&r.eventsRejected, 1)
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	m.RecordEventReceived()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if err := r.processor.Process(&ev); err != nil {
		m.RecordEventError()
		atomic.AddInt64(&r.eventsRejected, 1)
		status := http.StatusBadRequest
		if errors.Is(err, ingestion.ErrUnknownEvent) {
			status = http.StatusUnprocessableEntity
		}
		r.logger.Warn().Err(err).Str("type", ev.Type).Str("uri", ev.URI).Msg("event rejected")
		http.Error(w, err.Error(), status)
		return
	}

	m.RecordEventProcessed()

	count := atomic.AddInt64(&r.eventsReceived, 1)
	r.mu.Lock()
	r.lastReceived = time.Now()
	r.mu.Unlock()

	// Log periodically
	if count%1000 == 0 {
		r.logger.Info().
			Int64("total_received", count).
			Int("registrations", r.registrations.Count()).
			Msg("events received")
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetStats returns receiver statistics
func (r *Receiver) GetStats(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	lastReceived := r.lastReceived
	r.mu.RUnlock()

	stats := map[string]interface{}{
		"events_received": atomic.LoadInt64(&r.eventsReceived),
		"events_rejected": atomic.LoadInt64(&r.eventsRejected),
		"last_received":   lastReceived,
		"registrations":   r.registrations.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
