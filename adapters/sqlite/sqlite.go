// Package sqlite stores events in a SQLite database using the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/codewandler/esk-go/adapters/sqlstore"
)

type Config struct {
	// Path of the database file. ":memory:" opens a private in-memory db.
	Path      string
	Table     string
	Namespace string
	Log       *slog.Logger
}

// Open opens the database at path and prepares it for concurrent use by a
// single process.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

// NewEventStore opens cfg.Path and creates the event table if needed.
func NewEventStore(ctx context.Context, cfg Config) (*sqlstore.Store, error) {
	db, err := Open(cfg.Path)
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

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Schema(table string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace TEXT NOT NULL,
			id TEXT NOT NULL UNIQUE,
			aggregate_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			topic TEXT NOT NULL,
			occurred_at INTEGER NOT NULL,
			data BLOB NOT NULL,
			UNIQUE (namespace, aggregate_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS ` + table + `_ns_seq ON ` + table + ` (namespace, seq)`,
	}
}

func (Dialect) Rebind(query string) string { return query }

// AppendLock is empty: SQLite has a single writer, so seq order is commit
// order already.
func (Dialect) AppendLock() string { return "" }

func (Dialect) IsUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT ||
		code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

var _ sqlstore.Dialect = Dialect{}
