package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	// registers the "postgres" driver
	_ "github.com/lib/pq"

	"github.com/okian/keyprint/internal/domain/baseline"
)

const defaultTable = "baselines"

// PostgresStore persists baselines as JSONB rows keyed by identity.
type PostgresStore struct {
	db    *sql.DB
	table string
}

var _ baseline.Store = (*PostgresStore)(nil)

// OpenPostgres opens a connection pool for dsn and verifies it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore creates a PostgreSQL-backed baseline store.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) (*PostgresStore, error) {
	if db == nil {
		return nil, ErrNoDB
	}
	s := &PostgresStore{db: db, table: defaultTable}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Migrate creates the baseline table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			identity      TEXT PRIMARY KEY,
			session_count INTEGER NOT NULL DEFAULT 0,
			payload       JSONB NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_updated_at
			ON %[1]s (updated_at DESC);
	`, s.table))
	if err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, identity string) (baseline.Baseline, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE identity = $1`, s.table),
		identity,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return baseline.Baseline{}, fmt.Errorf("identity %q: %w", identity, baseline.ErrNotFound)
	}
	if err != nil {
		return baseline.Baseline{}, fmt.Errorf("load baseline: %w", err)
	}

	var b baseline.Baseline
	if err := json.Unmarshal(payload, &b); err != nil {
		return baseline.Baseline{}, fmt.Errorf("%w: %w", ErrCorruptBaseline, err)
	}
	return b, nil
}

func (s *PostgresStore) Save(ctx context.Context, b baseline.Baseline) error {
	if b.Identity == "" {
		return baseline.ErrNoIdentity
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (identity, session_count, payload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity) DO UPDATE
		SET session_count = EXCLUDED.session_count,
		    payload       = EXCLUDED.payload,
		    updated_at    = EXCLUDED.updated_at
	`, s.table),
		b.Identity,
		b.SessionCount,
		payload,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, identity string) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE identity = $1`, s.table),
		identity,
	)
	if err != nil {
		return fmt.Errorf("failed to delete baseline: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("identity %q: %w", identity, baseline.ErrNotFound)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }
