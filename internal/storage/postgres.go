package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/types"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// PostgresPoolConfig controls database/sql pool behavior
type PostgresPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c PostgresPoolConfig) withDefaults() PostgresPoolConfig {
	out := c
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 10
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = out.MaxOpenConns
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// OpenPostgres opens a pool through the pgx database/sql driver and pings it.
// The DSN carries credentials and must not be logged.
func OpenPostgres(ctx context.Context, dsn string, pool PostgresPoolConfig) (*sql.DB, error) {
	pool = pool.withDefaults()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	return db, nil
}

// TxFunc is the unit of work executed inside a transaction
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// WithTx runs fn inside a transaction, rolling back on error or panic
func WithTx(ctx context.Context, db *sql.DB, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS call_records (
		date_key   TEXT NOT NULL,
		call_id    TEXT NOT NULL,
		domain     TEXT NOT NULL,
		queue      TEXT NOT NULL,
		mode       TEXT NOT NULL,
		priority   INTEGER NOT NULL,
		caller_id  TEXT NOT NULL DEFAULT '',
		agent_uri  TEXT NOT NULL DEFAULT '',
		outcome    TEXT NOT NULL,
		enter_time TEXT NOT NULL,
		leave_time TEXT NOT NULL,
		wait_time  DOUBLE PRECISION NOT NULL,
		in_sl      BOOLEAN NOT NULL,
		PRIMARY KEY (date_key, call_id)
	)`,
	`CREATE INDEX IF NOT EXISTS call_records_agent_idx ON call_records (agent_uri, date_key)`,
}

const upsertCallRecord = `
INSERT INTO call_records (date_key, call_id, domain, queue, mode, priority, caller_id,
	agent_uri, outcome, enter_time, leave_time, wait_time, in_sl)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (date_key, call_id) DO UPDATE SET
	outcome = EXCLUDED.outcome,
	agent_uri = EXCLUDED.agent_uri,
	leave_time = EXCLUDED.leave_time,
	wait_time = EXCLUDED.wait_time,
	in_sl = EXCLUDED.in_sl`

const selectCallRecords = `
SELECT date_key, call_id, domain, queue, mode, priority, caller_id, agent_uri,
	outcome, enter_time, leave_time, wait_time, in_sl
FROM call_records`

// PostgresStore implements Store on a Postgres table
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
	logger  zerolog.Logger
}

// NewPostgresStore opens the database and creates the schema if needed
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger zerolog.Logger) (*PostgresStore, error) {
	db, err := OpenPostgres(ctx, cfg.DSN, cfg.Pool)
	if err != nil {
		return nil, err
	}

	err = WithTx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info().Msg("Postgres store initialized")
	return &PostgresStore{
		db:      db,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "postgres").Logger(),
	}, nil
}

// SaveCallRecord upserts one call outcome
func (s *PostgresStore) SaveCallRecord(r types.CallRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, upsertCallRecord,
		r.DateKey, r.CallID, r.Domain, r.Queue, string(r.Mode), r.Priority, r.CallerID,
		r.AgentURI, string(r.Outcome), r.EnterTime, r.LeaveTime, r.WaitTime, r.InSL)
	if err != nil {
		return fmt.Errorf("failed to save call record: %w", err)
	}
	return nil
}

// GetCallRecords returns every outcome of a day ordered by enter time
func (s *PostgresStore) GetCallRecords(dateKey string) ([]types.CallRecord, error) {
	return s.query(selectCallRecords+` WHERE date_key = $1 ORDER BY enter_time, call_id`, dateKey)
}

// GetAgentCallsByDate returns the calls an agent answered on a day
func (s *PostgresStore) GetAgentCallsByDate(agentURI, date string) ([]types.CallRecord, error) {
	return s.query(selectCallRecords+` WHERE date_key = $1 AND agent_uri = $2 ORDER BY enter_time, call_id`, date, agentURI)
}

func (s *PostgresStore) query(q string, args ...any) ([]types.CallRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query call records: %w", err)
	}
	defer rows.Close()

	var records []types.CallRecord
	for rows.Next() {
		var (
			r       types.CallRecord
			mode    string
			outcome string
		)
		if err := rows.Scan(&r.DateKey, &r.CallID, &r.Domain, &r.Queue, &mode, &r.Priority,
			&r.CallerID, &r.AgentURI, &outcome, &r.EnterTime, &r.LeaveTime, &r.WaitTime, &r.InSL); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		r.Mode = types.Mode(mode)
		r.Outcome = types.CallState(outcome)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call records: %w", err)
	}
	return records, nil
}

// TruncateAll deletes every call record
func (s *PostgresStore) TruncateAll() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `TRUNCATE TABLE call_records`); err != nil {
		return fmt.Errorf("failed to truncate call_records: %w", err)
	}
	s.logger.Info().Msg("table truncated")
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
