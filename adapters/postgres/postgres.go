// Package postgres stores events in PostgreSQL through github.com/lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/codewandler/esk-go/adapters/sqlstore"
)

const codeUniqueViolation = pq.ErrorCode("23505")

type Config struct {
	DSN       string
	Table     string
	Namespace string
	Log       *slog.Logger
	// MaxOpenConns defaults to 10.
	MaxOpenConns int
}

func Open(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}
	return db, nil
}

func NewEventStore(ctx context.Context, cfg Config) (*sqlstore.Store, error) {
	db, err := Open(ctx, cfg.DSN, cfg.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	store, err := sqlstore.New(ctx, sqlstore.Config{
		DB:        db,
		Dialect:   Dialect{},
		Table:     cfg.Table,
		Namespace: cfg.Namespace,
		Log:       cfg.Log,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Schema(table string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			seq BIGSERIAL PRIMARY KEY,
			namespace TEXT NOT NULL,
			id TEXT NOT NULL UNIQUE,
			aggregate_id TEXT NOT NULL,
			version BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			topic TEXT NOT NULL,
			occurred_at BIGINT NOT NULL,
			data BYTEA NOT NULL,
			UNIQUE (namespace, aggregate_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS ` + table + `_ns_seq ON ` + table + ` (namespace, seq)`,
	}
}

func (Dialect) Rebind(query string) string { return sqlstore.RebindDollar(query) }

// AppendLock takes a transaction scoped advisory lock on the namespace.
func (Dialect) AppendLock() string { return `SELECT pg_advisory_xact_lock(hashtext(?))` }

func (Dialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation
}

var _ sqlstore.Dialect = Dialect{}
