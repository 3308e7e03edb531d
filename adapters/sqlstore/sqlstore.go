// Package sqlstore implements es.EventStore on database/sql. Each driver
// contributes a Dialect; see adapters/sqlite and adapters/postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/codewandler/esk-go/core/es"
)

const DefaultTable = "esk_events"

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Dialect captures what differs between SQL engines.
type Dialect interface {
	Name() string
	// Schema returns the statements creating table and its indexes. They
	// must be idempotent.
	Schema(table string) []string
	// Rebind rewrites ? placeholders into the engine's syntax.
	Rebind(query string) string
	// IsUniqueViolation reports whether err is a uniqueness constraint error.
	IsUniqueViolation(err error) bool
	// AppendLock returns a statement, with one ? for the lock key, that
	// serializes append transactions of a namespace until commit. Engines
	// that allow a single writer return "".
	AppendLock() string
}

type Config struct {
	DB      *sql.DB
	Dialect Dialect
	// Table defaults to DefaultTable.
	Table string
	// Namespace isolates several logical stores in one table.
	Namespace string
	Log       *slog.Logger
}

// Store keeps records in one table. Uniqueness of (namespace, aggregate_id,
// version) is the concurrency control; a batch is inserted in a single
// transaction.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	namespace string
	log       *slog.Logger

	table                                          string
	qLock, qLast, qInsert, qRead, qReadTo, qNotify string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, errors.New("sql db is required")
	}
	if cfg.Dialect == nil {
		return nil, errors.New("dialect is required")
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	for _, stmt := range cfg.Dialect.Schema(table) {
		if _, err := cfg.DB.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", table, err)
		}
	}

	const cols = "seq, id, aggregate_id, version, event_type, topic, occurred_at, data"
	d := cfg.Dialect
	return &Store{
		db:        cfg.DB,
		dialect:   d,
		namespace: cfg.Namespace,
		table:     table,
		qLock:     d.Rebind(d.AppendLock()),
		log: log.With(
			slog.String("store", d.Name()),
			slog.String("table", table),
			slog.String("namespace", cfg.Namespace),
		),
		qLast: d.Rebind(`SELECT ` + cols + ` FROM ` + table +
			` WHERE namespace = ? AND aggregate_id = ? ORDER BY version DESC LIMIT 1`),
		qInsert: d.Rebind(`INSERT INTO ` + table +
			` (namespace, id, aggregate_id, version, event_type, topic, occurred_at, data)` +
			` VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING seq`),
		qRead: d.Rebind(`SELECT ` + cols + ` FROM ` + table +
			` WHERE namespace = ? AND aggregate_id = ? AND version >= ? ORDER BY version`),
		qReadTo: d.Rebind(`SELECT ` + cols + ` FROM ` + table +
			` WHERE namespace = ? AND aggregate_id = ? AND version >= ? AND version <= ? ORDER BY version`),
		qNotify: d.Rebind(`SELECT ` + cols + ` FROM ` + table +
			` WHERE namespace = ? AND seq > ? ORDER BY seq LIMIT ?`),
	}, nil
}

func (s *Store) Append(ctx context.Context, records []es.Record) (_ *es.AppendResult, err error) {
	if err := es.ValidateBatch(records); err != nil {
		return nil, err
	}
	var (
		aggID = records[0].AggregateID
		first = records[0].Version
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// seq is drawn at insert but becomes visible at commit. Holding the
	// namespace lock until commit keeps both orders equal, so a reader never
	// sees seq n+1 while n is still in flight.
	if s.qLock != "" {
		if _, err = tx.ExecContext(ctx, s.qLock, s.table+"/"+s.namespace); err != nil {
			return nil, fmt.Errorf("lock namespace: %w", err)
		}
	}

	var last es.Version
	switch rec, err := scanRecord(tx.QueryRowContext(ctx, s.qLast, s.namespace, aggID)); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load last version: %w", err)
	default:
		last = rec.Version
	}
	if first <= last {
		return nil, es.NewConflictError(aggID, first, nil)
	}
	if first != last.Next() {
		return nil, fmt.Errorf("%w: aggregate %s at version %d, append starts at %d", es.ErrStreamCorrupt, aggID, last, first)
	}

	res := &es.AppendResult{}
	for i, rec := range records {
		var seq int64
		err = tx.QueryRowContext(
			ctx,
			s.qInsert,
			s.namespace,
			rec.ID,
			rec.AggregateID,
			int64(rec.Version),
			rec.Type,
			rec.Topic,
			rec.OccurredAt.UTC().UnixNano(),
			rec.Data,
		).Scan(&seq)
		if err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return nil, es.NewConflictError(aggID, first, err)
			}
			return nil, fmt.Errorf("append event: %w", err)
		}
		if i == 0 {
			res.FirstSeq = uint64(seq)
		}
		res.LastSeq = uint64(seq)
	}

	if err = tx.Commit(); err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, es.NewConflictError(aggID, first, err)
		}
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.log.Debug(
		"append",
		slog.String("aggregate_id", aggID),
		slog.Uint64("last_seq", res.LastSeq),
		slog.Int("num_events", len(records)),
	)
	return res, nil
}

// Read loads the requested range before yielding, so callers may use the
// store while iterating.
func (s *Store) Read(ctx context.Context, aggregateID string, opts ...es.ReadOption) iter.Seq2[es.Record, error] {
	options := es.NewReadOptions(opts...)
	return func(yield func(es.Record, error) bool) {
		var (
			rows *sql.Rows
			err  error
		)
		if options.ToVersion > 0 {
			rows, err = s.db.QueryContext(ctx, s.qReadTo, s.namespace, aggregateID, int64(options.FromVersion), int64(options.ToVersion))
		} else {
			rows, err = s.db.QueryContext(ctx, s.qRead, s.namespace, aggregateID, int64(options.FromVersion))
		}
		if err != nil {
			yield(es.Record{}, fmt.Errorf("read events: %w", err))
			return
		}
		recs, err := scanRecords(rows)
		if err != nil {
			yield(es.Record{}, err)
			return
		}
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *Store) MostRecent(ctx context.Context, aggregateID string) (es.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.qLast, s.namespace, aggregateID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return es.Record{}, fmt.Errorf("%w: %s", es.ErrAggregateNotFound, aggregateID)
		}
		return es.Record{}, err
	}
	return rec, nil
}

// Notifications lists records in seq order. Appends of one namespace commit
// in seq order (see Dialect.AppendLock), so no smaller seq can appear after
// a larger one was listed.
func (s *Store) Notifications(ctx context.Context, afterSeq uint64, limit int) ([]es.Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, s.qNotify, s.namespace, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("read notifications: %w", err)
	}
	return scanRecords(rows)
}

func (s *Store) Close() error { return s.db.Close() }

type scanner interface{ Scan(dest ...any) error }

func scanRecord(row scanner) (es.Record, error) {
	var (
		rec        es.Record
		seq        int64
		version    int64
		occurredAt int64
	)
	if err := row.Scan(&seq, &rec.ID, &rec.AggregateID, &version, &rec.Type, &rec.Topic, &occurredAt, &rec.Data); err != nil {
		return es.Record{}, err
	}
	rec.Seq = uint64(seq)
	rec.Version = es.Version(version)
	rec.OccurredAt = time.Unix(0, occurredAt).UTC()
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]es.Record, error) {
	defer rows.Close()
	var out []es.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RebindDollar rewrites ? placeholders to $1, $2, ...
func RebindDollar(query string) string {
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	_ es.EventStore      = (*Store)(nil)
	_ es.NotificationLog = (*Store)(nil)
)
