// Package postgres stores alert rules, delivery preferences, delivery history
// and user actions in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// ErrConflict is returned when a write violates a unique or foreign key constraint.
var ErrConflict = errors.New("conflict")

// Schema creates the tables the store reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS alert_rules (
	rule_id             TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	name                TEXT NOT NULL DEFAULT '',
	conditions          JSONB NOT NULL,
	logic               TEXT NOT NULL,
	priority            TEXT NOT NULL,
	status              TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at          TIMESTAMPTZ,
	cooldown_minutes    INTEGER NOT NULL DEFAULT 0,
	last_triggered_at   TIMESTAMPTZ,
	market_hours_only   BOOLEAN NOT NULL DEFAULT FALSE,
	allowed_sessions    TEXT[] NOT NULL DEFAULT '{}',
	position_aware      BOOLEAN NOT NULL DEFAULT FALSE,
	consolidation_group TEXT NOT NULL DEFAULT '',
	allow_consolidation BOOLEAN NOT NULL DEFAULT TRUE,
	relevance_score     DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	trigger_count       INTEGER NOT NULL DEFAULT 0,
	action_count        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS alert_rules_updated_at_idx ON alert_rules (updated_at);

CREATE TABLE IF NOT EXISTS delivery_preferences (
	user_id    TEXT PRIMARY KEY,
	preference JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS delivery_history (
	record_id             TEXT PRIMARY KEY,
	user_id               TEXT NOT NULL,
	consolidated_alert_id TEXT NOT NULL,
	alert_ids             TEXT[] NOT NULL DEFAULT '{}',
	channel               TEXT NOT NULL,
	status                TEXT NOT NULL,
	priority              TEXT NOT NULL,
	error                 TEXT NOT NULL DEFAULT '',
	attempted_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS delivery_history_user_idx ON delivery_history (user_id, attempted_at DESC);

CREATE TABLE IF NOT EXISTS user_actions (
	action_id        TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	alert_id         TEXT NOT NULL,
	rule_id          TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	priority         TEXT NOT NULL,
	condition_types  TEXT[] NOT NULL DEFAULT '{}',
	action_type      TEXT NOT NULL,
	triggered_at     TIMESTAMPTZ NOT NULL,
	action_at        TIMESTAMPTZ NOT NULL,
	response_time_ms BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS user_actions_action_at_idx ON user_actions (action_at);
`

// DB wraps a database connection and provides the store operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an existing connection.
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Migrate creates the tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

// mapError translates driver errors on writes into store sentinels.
func mapError(err error, op, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", op, id, alert.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s %s: %w: %s", op, id, ErrConflict, pqErr.Message)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s %s: %w: %s", op, id, ErrConflict, pqErr.Message)
		}
	}
	return fmt.Errorf("failed to %s %s: %w", op, id, err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
