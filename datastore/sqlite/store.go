/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/query"
)

const (
	storeName = "sqlite"

	// DefaultMaxBatchSize is the number of records written per transaction.
	DefaultMaxBatchSize = 100
	// DefaultPageSize is the number of rows fetched per query page.
	DefaultPageSize = 100
	// DefaultPartitionKey is used for entities without a partition key.
	DefaultPartitionKey = "_default"

	// sqlite limits bound parameters per statement
	maxInParams = 500
)

// Store keeps one collection in a sqlite table of (pk, id, doc) rows. The
// rowid of a row is its insertion sequence.
type Store struct {
	db          *sql.DB
	table       string
	allowCreate bool
	pageSize    int
	caps        datastore.Capabilities
	logger      *slog.Logger
	closed      atomic.Bool
}

var _ datastore.DataStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.With("component", "sqlite", "collection", s.table)
		}
	}
}

// WithAllowCreate lets EnsureContainer create a missing table.
func WithAllowCreate(allow bool) Option {
	return func(s *Store) { s.allowCreate = allow }
}

// WithPageSize sets how many rows each query page reads.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// Open opens a database file, or a private in-memory database when inMemory
// is set.
func Open(path string, inMemory bool, collection string, opts ...Option) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	if inMemory {
		dsn = fmt.Sprintf("file:%s-%s?mode=memory&cache=shared", collection, uuid.NewString())
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewFatalStoreError(storeName, "open", err)
	}
	if inMemory {
		// the database lives as long as one connection does
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.NewFatalStoreError(storeName, "open", err)
	}
	return New(db, collection, opts...), nil
}

// New returns a store for collection on db. Closing the store closes db.
func New(db *sql.DB, collection string, opts ...Option) *Store {
	s := &Store{
		db:       db,
		table:    collection,
		pageSize: DefaultPageSize,
		logger:   slog.Default().With("component", "sqlite", "collection", collection),
		caps: datastore.Capabilities{
			MaxBatchSize:        DefaultMaxBatchSize,
			MaxParallelism:      1,
			DefaultPartitionKey: DefaultPartitionKey,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Name() string { return storeName }

func (s *Store) Capabilities() datastore.Capabilities { return s.caps }

// EnsureContainer creates the table and its id index when allowed, and
// otherwise fails if the table is missing.
func (s *Store) EnsureContainer(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.allowCreate {
		var n int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", s.table).Scan(&n)
		if err != nil {
			return s.wrap("ensure", err)
		}
		if n == 0 {
			return errors.NewFatalStoreError(storeName, "ensure",
				fmt.Errorf("table %q does not exist and creation is disabled", s.table))
		}
		return nil
	}

	table := quoteIdent(s.table)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			pk TEXT NOT NULL,
			id TEXT NOT NULL,
			doc TEXT NOT NULL,
			PRIMARY KEY (pk, id)
		)`,
		`CREATE INDEX IF NOT EXISTS ` + quoteIdent(s.table+"_id") + ` ON ` + table + ` (id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.wrap("ensure", err)
		}
	}
	s.logger.Debug("table ready")
	return nil
}

// Get retrieves a record by key.
func (s *Store) Get(ctx context.Context, key datastore.Key) (*datastore.Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var (
		raw string
		seq int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT doc, rowid FROM "+quoteIdent(s.table)+" WHERE pk = ? AND id = ?",
		key.PartitionKey, key.ID).Scan(&raw, &seq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("get", err)
	}
	doc, err := datastore.DecodeDocument([]byte(raw))
	if err != nil {
		return nil, s.wrap("get", err)
	}
	return &datastore.Record{Key: key, Doc: doc, Seq: uint64(seq)}, nil
}

// ResolveKeys returns the keys holding the given ids in every partition.
func (s *Store) ResolveKeys(ctx context.Context, ids []string) ([]datastore.Key, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var keys []datastore.Key
	for start := 0; start < len(ids); start += maxInParams {
		end := min(start+maxInParams, len(ids))
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		stmt := "SELECT pk, id FROM " + quoteIdent(s.table) +
			" WHERE id IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ") + ")"
		rows, err := s.db.QueryContext(ctx, stmt, args...)
		if err != nil {
			return nil, s.wrap("resolve", err)
		}
		for rows.Next() {
			var k datastore.Key
			if err := rows.Scan(&k.PartitionKey, &k.ID); err != nil {
				rows.Close()
				return nil, s.wrap("resolve", err)
			}
			keys = append(keys, k)
		}
		err = rows.Err()
		if cerr := rows.Close(); cerr != nil {
			s.logger.Error("failed to close rows", "err", cerr)
		}
		if err != nil {
			return nil, s.wrap("resolve", err)
		}
	}
	return keys, nil
}

// Query reads matching rows one page at a time. Skip and take are applied
// by the database; pages are separate statements, so rows written between
// pages may shift the window.
func (s *Store) Query(ctx context.Context, q *query.Query) (datastore.Cursor, error) {
	st, err := Translator{}.Translate(q)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	fetched := 0
	fetch := func(ctx context.Context, token any) ([]datastore.Record, any, error) {
		limit := s.pageSize
		if st.Take > 0 {
			limit = min(limit, st.Take-fetched)
		}
		if limit <= 0 {
			return nil, nil, nil
		}
		page, err := s.page(ctx, st, limit, st.Skip+fetched)
		if err != nil {
			return nil, nil, err
		}
		fetched += len(page)
		if len(page) < limit || (st.Take > 0 && fetched >= st.Take) {
			return page, nil, nil
		}
		return page, fetched, nil
	}
	return datastore.NewPagedCursor(fetch, 0, 0), nil
}

func (s *Store) page(ctx context.Context, st Statement, limit, offset int) ([]datastore.Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	stmt, args := st.SelectSQL(s.table, limit, offset)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, s.wrap("query", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close rows", "err", err)
		}
	}()

	var page []datastore.Record
	for rows.Next() {
		var (
			rec datastore.Record
			raw string
			seq int64
		)
		if err := rows.Scan(&rec.Key.PartitionKey, &rec.Key.ID, &raw, &seq); err != nil {
			return nil, s.wrap("query", err)
		}
		doc, err := datastore.DecodeDocument([]byte(raw))
		if err != nil {
			return nil, s.wrap("query", err)
		}
		rec.Doc = doc
		rec.Seq = uint64(seq)
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("query", err)
	}
	return page, nil
}

// Count returns the number of matching rows.
func (s *Store) Count(ctx context.Context, q *query.Query) (int64, error) {
	st, err := Translator{}.Translate(q)
	if err != nil {
		return 0, err
	}
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	stmt, args := st.CountSQL(s.table)
	var n int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, s.wrap("count", err)
	}
	return n, nil
}

// Bulk applies op to records in one transaction.
func (s *Store) Bulk(ctx context.Context, op datastore.Op, records []datastore.Record) ([]datastore.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(records) > s.caps.MaxBatchSize {
		return nil, errors.NewValidationError("records",
			fmt.Sprintf("%d records exceed the batch limit of %d", len(records), s.caps.MaxBatchSize))
	}
	stmt, withDoc, err := s.bulkStatement(op)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrap(op.String(), err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Error("failed to roll back", "err", err)
		}
	}()

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return nil, s.wrap(op.String(), err)
	}
	defer prepared.Close()

	outcomes := make([]datastore.Outcome, len(records))
	for i, r := range records {
		outcomes[i] = datastore.Outcome{Key: r.Key}
		var res sql.Result
		if withDoc {
			raw, err := r.Doc.Bytes()
			if err != nil {
				return nil, err
			}
			res, err = prepared.ExecContext(ctx, r.Key.PartitionKey, r.Key.ID, string(raw))
			if err != nil {
				return nil, s.wrap(op.String(), err)
			}
		} else {
			res, err = prepared.ExecContext(ctx, r.Key.PartitionKey, r.Key.ID)
			if err != nil {
				return nil, s.wrap(op.String(), err)
			}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, s.wrap(op.String(), err)
		}
		outcomes[i].Applied = n > 0
	}
	if err := tx.Commit(); err != nil {
		return nil, s.wrap(op.String(), err)
	}
	return outcomes, nil
}

// bulkStatement returns the statement for op. Every statement binds pk and
// id first, followed by the document when withDoc is set.
func (s *Store) bulkStatement(op datastore.Op) (stmt string, withDoc bool, err error) {
	table := quoteIdent(s.table)
	switch op {
	case datastore.OpInsert:
		return "INSERT INTO " + table + " (pk, id, doc) VALUES (?, ?, ?) ON CONFLICT (pk, id) DO NOTHING", true, nil
	case datastore.OpUpdate:
		return "UPDATE " + table + " SET doc = ?3 WHERE pk = ?1 AND id = ?2", true, nil
	case datastore.OpUpsert:
		return "INSERT INTO " + table + " (pk, id, doc) VALUES (?, ?, ?) ON CONFLICT (pk, id) DO UPDATE SET doc = excluded.doc", true, nil
	case datastore.OpDelete:
		return "DELETE FROM " + table + " WHERE pk = ? AND id = ?", false, nil
	}
	return "", false, errors.NewValidationError("op", fmt.Sprintf("unsupported operation %d", op))
}

// DeleteAll removes every row of the collection.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+quoteIdent(s.table)); err != nil {
		return s.wrap("deleteAll", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return errors.NewFatalStoreError(storeName, "access", errors.ErrClosed)
	}
	return nil
}

// wrap classifies sqlite failures. Busy and locked databases can be retried;
// a read-only, corrupt or unopenable database cannot.
func (s *Store) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.IsValidationError(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sql.ErrConnDone):
		return errors.NewFatalStoreError(storeName, op, fmt.Errorf("%w: %w", errors.ErrClosed, err))
	}

	var serr *msqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return errors.NewStoreError(storeName, op, fmt.Errorf("%w: %w", errors.ErrThrottled, err))
		case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_CANTOPEN,
			sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_FULL, sqlite3.SQLITE_PERM:
			return errors.NewFatalStoreError(storeName, op, err)
		}
	}
	return errors.NewStoreError(storeName, op, err)
}
