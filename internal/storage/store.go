package storage

import (
	"context"

	"github.com/dennisdiepolder/monti/acd/internal/metrics"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/rs/zerolog"
)

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, logger zerolog.Logger) (Store, error) {
	switch LoadBackend() {
	case BackendDynamo:
		cfg := LoadDynamoConfig()
		if cfg.Mode == DynamoModeNone {
			cfg.Mode = DynamoModeAWS
		}
		s, err := NewDynamoDBStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return WithMetrics(s, string(BackendDynamo)), nil
	case BackendPostgres:
		s, err := NewPostgresStore(ctx, LoadPostgresConfig(), logger)
		if err != nil {
			return nil, err
		}
		return WithMetrics(s, string(BackendPostgres)), nil
	default:
		logger.Info().Msg("call record persistence disabled (STORE_BACKEND=none)")
		return NewNoopStore(), nil
	}
}

// meteredStore counts failures of the wrapped store per backend
type meteredStore struct {
	Store
	backend string
}

// WithMetrics wraps s so that every failed call is counted
func WithMetrics(s Store, backend string) Store {
	return &meteredStore{Store: s, backend: backend}
}

func (s *meteredStore) observe(err error) error {
	if err != nil {
		metrics.Get().RecordStoreError(s.backend)
	}
	return err
}

func (s *meteredStore) SaveCallRecord(record types.CallRecord) error {
	return s.observe(s.Store.SaveCallRecord(record))
}

func (s *meteredStore) GetCallRecords(dateKey string) ([]types.CallRecord, error) {
	records, err := s.Store.GetCallRecords(dateKey)
	return records, s.observe(err)
}

func (s *meteredStore) GetAgentCallsByDate(agentURI, date string) ([]types.CallRecord, error) {
	records, err := s.Store.GetAgentCallsByDate(agentURI, date)
	return records, s.observe(err)
}

func (s *meteredStore) TruncateAll() error {
	return s.observe(s.Store.TruncateAll())
}
