package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL for deployments where the
// governance state must outlive a single host.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
	clock  func() time.Time
}

// NewPostgresStore wraps an open database handle. The caller owns pool
// configuration; Close closes the handle.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "state"),
		clock:  time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the clock for deterministic testing.
func (s *PostgresStore) WithClock(clock func() time.Time) *PostgresStore {
	s.clock = clock
	return s
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("failed to migrate state schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string, dest any) bool {
	var raw []byte
	row := s.db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = $1", key)
	if err := row.Scan(&raw); err != nil {
		if err != sql.ErrNoRows {
			s.logger.ErrorContext(ctx, "state read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.ErrorContext(ctx, "state value undecodable, returning default", "key", key, "error", err)
		return false
	}
	return true
}

func (s *PostgresStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", key, err)
	}
	query := `
	INSERT INTO state (key, value, updated_at) VALUES ($1, $2, $3)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, query, key, raw, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM state WHERE key = $1", key)
	if err != nil {
		return false, fmt.Errorf("failed to delete %q: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) GetPrefix(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM state WHERE key LIKE $1 ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to query prefix %q: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		out[key] = json.RawMessage(raw)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM state WHERE key LIKE $1 ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return 0, fmt.Errorf("failed to delete prefix %q: %w", prefix, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM state WHERE key LIKE $1 ESCAPE '\' ORDER BY key`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys under %q: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, prefix string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM state WHERE key LIKE $1 ESCAPE '\'`, likePrefix(prefix))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count keys under %q: %w", prefix, err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
