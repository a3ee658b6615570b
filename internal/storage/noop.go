package storage

import "github.com/dennisdiepolder/monti/acd/internal/types"

// Store defines the storage interface for call outcomes
type Store interface {
	SaveCallRecord(record types.CallRecord) error
	GetCallRecords(dateKey string) ([]types.CallRecord, error)
	GetAgentCallsByDate(agentURI, date string) ([]types.CallRecord, error)
	TruncateAll() error
	Close() error
}

// NoopStore is a no-op implementation when persistence is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveCallRecord(_ types.CallRecord) error                     { return nil }
func (s *NoopStore) GetCallRecords(_ string) ([]types.CallRecord, error)         { return nil, nil }
func (s *NoopStore) GetAgentCallsByDate(_, _ string) ([]types.CallRecord, error) { return nil, nil }
func (s *NoopStore) TruncateAll() error                                          { return nil }
func (s *NoopStore) Close() error                                                { return nil }
