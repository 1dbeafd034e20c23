// Package postgres provides a PostgreSQL-backed transcript store. A single
// transcripts table holds all sessions, with a GIN full-text index over the
// entry text.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	_ = store.Append(ctx, sessionID, entry)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/cadenza/pkg/history"
)

var _ history.Store = (*Store)(nil)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    role         TEXT         NOT NULL,
    agent_name   TEXT         NOT NULL DEFAULT '',
    text         TEXT         NOT NULL,
    interrupted  BOOLEAN      NOT NULL DEFAULT FALSE,
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns  BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session_timestamp
    ON transcripts (session_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('english', text));
`

// Store is a pgx-pool-backed [history.Store]. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate ensures the transcripts table and its indexes exist. Idempotent
// and safe to call on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("history store: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Append implements [history.Store].
func (s *Store) Append(ctx context.Context, sessionID string, e history.Entry) error {
	if sessionID == "" {
		return fmt.Errorf("history store: empty session id")
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	const q = `
		INSERT INTO transcripts
		    (session_id, role, agent_name, text, interrupted, timestamp, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		sessionID,
		e.Role,
		e.AgentName,
		e.Text,
		e.Interrupted,
		ts,
		e.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("history store: append: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, sessionID string, window time.Duration) ([]history.Entry, error) {
	const q = `
		SELECT role, agent_name, text, interrupted, timestamp, duration_ns
		FROM   transcripts
		WHERE  session_id = $1
		  AND  timestamp  >= now() - ($2::bigint * interval '1 microsecond')
		ORDER  BY timestamp`

	rows, err := s.pool.Query(ctx, q, sessionID, window.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("history store: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [history.Store]. The query goes through plainto_tsquery
// so no operator syntax is required.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]history.Entry, error) {
	q := `
		SELECT role, agent_name, text, interrupted, timestamp, duration_ns
		FROM   transcripts
		WHERE  to_tsvector('english', text) @@ plainto_tsquery('english', $1)
		ORDER  BY timestamp`
	args := []any{query}
	if limit > 0 {
		args = append(args, limit)
		q += "\nLIMIT $2"
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history store: search: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]history.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var (
			e          history.Entry
			durationNS int64
		)
		err := row.Scan(&e.Role, &e.AgentName, &e.Text, &e.Interrupted, &e.Timestamp, &durationNS)
		e.Duration = time.Duration(durationNS)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan: %w", err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}
