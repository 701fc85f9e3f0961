package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"callbridge/pkg/utils"
)

// Schema for PostgresStore. One row per collection.
var postgresMigrations = []utils.Migration{
	{Version: 1, SQL: `CREATE TABLE IF NOT EXISTS record_collections (
  name       TEXT PRIMARY KEY,
  body       JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
}

// PostgresStore keeps each collection as a JSONB document in one row.
// Per-collection serialization comes from the row lock (SELECT ... FOR UPDATE),
// so it also holds across processes sharing the database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate brings the schema up to date and reports how many steps ran.
func (s *PostgresStore) Migrate(ctx context.Context) (int, error) {
	return utils.Migrate(ctx, s.db, postgresMigrations...)
}

func (s *PostgresStore) Read(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM record_collections WHERE name = $1`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", name, err)
	}
	return nullAsMissing(body), nil
}

func (s *PostgresStore) Write(ctx context.Context, name string, doc []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO record_collections (name, body, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`, name, string(doc))
	if err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, name string, fn UpdateFunc) error {
	if err := checkName(name); err != nil {
		return err
	}
	return utils.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		// Ensure a row exists so FOR UPDATE has something to lock.
		if _, err := tx.ExecContext(ctx, `
INSERT INTO record_collections (name, body) VALUES ($1, 'null'::jsonb)
ON CONFLICT (name) DO NOTHING`, name); err != nil {
			return fmt.Errorf("store: seed %s: %w", name, err)
		}

		var body []byte
		if err := tx.QueryRowContext(ctx, `SELECT body FROM record_collections WHERE name = $1 FOR UPDATE`, name).Scan(&body); err != nil {
			return fmt.Errorf("store: lock %s: %w", name, err)
		}

		next, err := fn(nullAsMissing(body))
		if err != nil || next == nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE record_collections SET body = $2::jsonb, updated_at = now() WHERE name = $1`, name, string(next)); err != nil {
			return fmt.Errorf("store: update %s: %w", name, err)
		}
		return nil
	})
}

func nullAsMissing(body []byte) []byte {
	if len(body) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return nil
	}
	return body
}
