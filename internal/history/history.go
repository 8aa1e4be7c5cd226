package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store keeps a durable log of every dispatched alert. It is observability
// only: the alerting pipeline treats writes as best-effort.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

const migrationSQL = `
CREATE TABLE IF NOT EXISTS alert_history (
    id BIGSERIAL PRIMARY KEY,
    username TEXT NOT NULL,
    asset TEXT NOT NULL,
    direction TEXT NOT NULL,
    threshold TEXT NOT NULL,
    sent_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS alert_history_sent_at_idx ON alert_history (sent_at DESC);
CREATE INDEX IF NOT EXISTS alert_history_username_idx ON alert_history (username);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}

// Alert is one delivered notification.
type Alert struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Asset     string    `json:"asset"`
	Direction string    `json:"direction"`
	Threshold string    `json:"threshold"`
	SentAt    time.Time `json:"sent_at"`
}

func (s *Store) Insert(ctx context.Context, username, asset, direction, thresholdStr string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_history (username, asset, direction, threshold) VALUES ($1, $2, $3, $4)`,
		username, asset, direction, thresholdStr)
	if err != nil {
		return fmt.Errorf("insert alert history: %w", err)
	}
	return nil
}

// List returns the most recent alerts, newest first. An optional username
// narrows the result to one user.
func (s *Store) List(ctx context.Context, username string, limit int) ([]Alert, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT id, username, asset, direction, threshold, sent_at
	          FROM alert_history ORDER BY sent_at DESC LIMIT $1`
	args := []any{limit}
	if username != "" {
		query = `SELECT id, username, asset, direction, threshold, sent_at
		         FROM alert_history WHERE username = $2 ORDER BY sent_at DESC LIMIT $1`
		args = append(args, username)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alert history: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.Username, &a.Asset, &a.Direction, &a.Threshold, &a.SentAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
