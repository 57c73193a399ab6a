package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/google/uuid"
	"github.com/landrop-server/landrop-server/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS transfer_history (
    id               UUID PRIMARY KEY,
    session_id       TEXT NOT NULL,
    direction        TEXT NOT NULL,
    peer_alias       TEXT NOT NULL,
    peer_fingerprint TEXT NOT NULL,
    status           TEXT NOT NULL,
    file_count       INT NOT NULL,
    total_bytes      BIGINT NOT NULL,
    started_at       TIMESTAMPTZ NOT NULL,
    finished_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfer_history_finished
    ON transfer_history (finished_at DESC);
`

// PostgresStore persists transfer history in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to Postgres and bootstraps the schema
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	log.Info().Msg("Transfer history connected to Postgres")
	return &PostgresStore{db: db}, nil
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO transfer_history
            (id, session_id, direction, peer_alias, peer_fingerprint,
             status, file_count, total_bytes, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.SessionID, entry.Direction, entry.PeerAlias,
		entry.PeerFingerprint, string(entry.Status), entry.FileCount,
		entry.TotalBytes, entry.StartedAt, entry.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Entry, int64, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transfer_history`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, session_id, direction, peer_alias, peer_fingerprint,
               status, file_count, total_bytes, started_at, finished_at
        FROM transfer_history
        ORDER BY finished_at DESC
        LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var status string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Direction, &e.PeerAlias,
			&e.PeerFingerprint, &status, &e.FileCount, &e.TotalBytes,
			&e.StartedAt, &e.FinishedAt); err != nil {
			return nil, 0, fmt.Errorf("scan history entry: %w", err)
		}
		e.Status = models.SessionStatus(status)
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
