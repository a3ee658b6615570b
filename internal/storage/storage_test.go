package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/types"
)

func TestLoadBackend(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		dynamo  string
		want    Backend
	}{
		{"default", "", "", BackendNone},
		{"explicit postgres", "postgres", "", BackendPostgres},
		{"explicit none wins over dynamo mode", "none", "local", BackendNone},
		{"dynamo mode implies dynamo", "", "aws", BackendDynamo},
		{"unknown backend falls through", "mysql", "", BackendNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_BACKEND", tt.backend)
			t.Setenv("DYNAMO_MODE", tt.dynamo)
			if got := LoadBackend(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestLoadDynamoConfig(t *testing.T) {
	t.Setenv("DYNAMO_MODE", "bogus")
	t.Setenv("DYNAMO_CALL_RECORDS_TABLE", "")

	cfg := LoadDynamoConfig()
	if cfg.Mode != DynamoModeNone {
		t.Errorf("expected unknown mode to map to none, got %s", cfg.Mode)
	}
	if cfg.CallRecordsTable != "acd-call-records" {
		t.Errorf("expected default table, got %s", cfg.CallRecordsTable)
	}
}

func TestPostgresPoolDefaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns != 10 || got.MaxIdleConns != 10 {
		t.Errorf("expected 10 open and idle conns, got %d and %d", got.MaxOpenConns, got.MaxIdleConns)
	}
	if got.PingTimeout != 5*time.Second {
		t.Errorf("expected 5s ping timeout, got %v", got.PingTimeout)
	}

	got = PostgresPoolConfig{MaxOpenConns: 4}.withDefaults()
	if got.MaxIdleConns != 4 {
		t.Errorf("expected idle conns to follow open conns, got %d", got.MaxIdleConns)
	}

	t.Setenv("DATABASE_MAX_CONNS", "25")
	if n := LoadPostgresConfig().Pool.MaxOpenConns; n != 25 {
		t.Errorf("expected 25 from env, got %d", n)
	}
}

func TestRedisConfig(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_STATS_TTL_SECS", "30")
	t.Setenv("REDIS_CHANNEL", "")

	cfg := LoadRedisConfig()
	if cfg.Addr != "localhost:6379" {
		t.Errorf("expected addr from env, got %q", cfg.Addr)
	}
	if cfg.StatsTTL != 30*time.Second {
		t.Errorf("expected 30s ttl, got %v", cfg.StatsTTL)
	}
	if cfg.Channel != "acd:stats" {
		t.Errorf("expected default channel, got %q", cfg.Channel)
	}

	d := RedisConfig{}.withDefaults()
	if d.StatsTTL != 10*time.Second || d.PoolSize != 10 {
		t.Errorf("unexpected defaults %+v", d)
	}
}

func TestStatsKey(t *testing.T) {
	if got := StatsKey("demo", "support"); got != "acd:stats:demo:support" {
		t.Errorf("expected acd:stats:demo:support, got %s", got)
	}
}

func TestNoopStore(t *testing.T) {
	var s Store = NewNoopStore()
	if err := s.SaveCallRecord(types.CallRecord{CallID: "c1"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	records, err := s.GetCallRecords("2026-01-01")
	if err != nil || len(records) != 0 {
		t.Errorf("expected no records, got %v (%v)", records, err)
	}
}

type failingStore struct {
	NoopStore
}

func (failingStore) SaveCallRecord(types.CallRecord) error { return errors.New("boom") }

func TestMeteredStorePassesThrough(t *testing.T) {
	s := WithMetrics(&failingStore{}, "test")

	if err := s.SaveCallRecord(types.CallRecord{}); err == nil || err.Error() != "boom" {
		t.Errorf("expected wrapped error, got %v", err)
	}
	if err := s.TruncateAll(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
