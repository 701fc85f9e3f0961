package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresDriver is the database/sql driver registered by pgx.
const PostgresDriver = "pgx"

// PoolOptions tunes the database/sql pool. Zero values take defaults sized
// for the record store, where each collection is a single contended row.
type PoolOptions struct {
	MaxConns        int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func (o PoolOptions) normalized() PoolOptions {
	if o.MaxConns <= 0 {
		o.MaxConns = 4
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 5 * time.Second
	}
	return o
}

// OpenPostgres opens and pings a pgx-backed pool. The dsn carries
// credentials and is never included in errors.
func OpenPostgres(ctx context.Context, dsn string, opts PoolOptions) (*sql.DB, error) {
	opts = opts.normalized()
	db, err := sql.Open(PostgresDriver, dsn)
	if err != nil {
		return nil, errors.New("postgres: invalid connection settings")
	}
	db.SetMaxOpenConns(opts.MaxConns)
	db.SetMaxIdleConns(opts.MaxConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := Ping(ctx, db, opts.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Migration is one schema step. Versions are applied once, in ascending order.
type Migration struct {
	Version int
	SQL     string
}

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
  version    INTEGER PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate applies the migrations not yet recorded in schema_migrations,
// all in one transaction. It returns how many ran.
func Migrate(ctx context.Context, db *sql.DB, migrations ...Migration) (int, error) {
	applied := 0
	err := WithTx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, migrationsTable); err != nil {
			return fmt.Errorf("postgres: migrations table: %w", err)
		}
		var current int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
			return fmt.Errorf("postgres: schema version: %w", err)
		}
		last := current
		for _, m := range migrations {
			if m.Version <= last && m.Version > current {
				return fmt.Errorf("postgres: migration %d out of order", m.Version)
			}
			if m.Version <= current {
				continue
			}
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("postgres: migration %d: %w", m.Version, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
				return fmt.Errorf("postgres: record migration %d: %w", m.Version, err)
			}
			last = m.Version
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// WithTx runs fn in a transaction. fn's error or panic rolls it back;
// otherwise it commits.
func WithTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	committed = true
	return nil
}
