// Package history persists finalized-call records. It implements the call
// package's Sink boundary; the signaling core hands a record over on every
// terminal transition and never reads it back.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kaahochat/signalcore/internal/call"
)

// PoolConfig controls database/sql pool behavior. Defaults are conservative.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	return c
}

// OpenPostgres opens the call-history database. dsn contains secrets and
// must not be logged.
func OpenPostgres(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	pool = pool.withDefaults()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping call history db: %w", err)
	}
	return db, nil
}

// PostgresRecorder writes finalized calls to the call_history table:
//
//	CREATE TABLE call_history (
//	    call_id     TEXT PRIMARY KEY,
//	    caller      TEXT NOT NULL,
//	    callee      TEXT NOT NULL,
//	    call_type   TEXT NOT NULL,
//	    status      TEXT NOT NULL,
//	    reason      TEXT NOT NULL DEFAULT '',
//	    started_at  TIMESTAMPTZ NOT NULL,
//	    answered_at TIMESTAMPTZ,
//	    ended_at    TIMESTAMPTZ NOT NULL,
//	    duration    INT NOT NULL
//	);
type PostgresRecorder struct {
	db *sql.DB
}

func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (r *PostgresRecorder) RecordCall(ctx context.Context, rec call.Record) error {
	const q = `
INSERT INTO call_history (call_id, caller, callee, call_type, status, reason, started_at, answered_at, ended_at, duration)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (call_id) DO NOTHING
`
	var answeredAt sql.NullTime
	if !rec.AnsweredAt.IsZero() {
		answeredAt = sql.NullTime{Time: rec.AnsweredAt, Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, q,
		rec.CallID,
		rec.Caller,
		rec.Callee,
		string(rec.Kind),
		string(rec.Status),
		rec.Reason,
		rec.StartedAt,
		answeredAt,
		rec.EndedAt,
		rec.DurationSeconds,
	); err != nil {
		return fmt.Errorf("insert call %s: %w", rec.CallID, err)
	}
	return nil
}
