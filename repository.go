/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/suparena/entityrepo/batch"
	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/query"
	"github.com/suparena/entityrepo/registry"
)

const tracerName = "github.com/suparena/entityrepo"

type state int

const (
	uninitialized state = iota
	initializing
	initialized
)

// initCall is an initialization in flight. Callers arriving while it runs
// wait on done and share err.
type initCall struct {
	done chan struct{}
	err  error
}

// opener opens the store of a configured repository together with the
// batch limits from its configuration.
type opener func(ctx context.Context) (datastore.DataStore, []batch.Option, error)

// Repository is the CRUD and query surface for entities of type T in one
// collection. It initializes lazily on first use: the store is opened when
// configured through Open and its container is created or verified.
// A Repository is safe for concurrent use.
type Repository[T Entity] struct {
	mu     sync.Mutex
	state  state
	call   *initCall
	closed bool

	store datastore.DataStore
	exec  *batch.Executor
	open  opener

	name      string
	logger    *slog.Logger
	tracer    trace.Tracer
	batchOpts []batch.Option
}

// Option configures a Repository.
type Option func(*repoOptions)

type repoOptions struct {
	logger *slog.Logger
	batch  []batch.Option
}

// WithLogger sets the repository logger. It is also handed to the batch
// executor.
func WithLogger(logger *slog.Logger) Option {
	return func(o *repoOptions) { o.logger = logger }
}

// WithBatchOptions tunes the batch executor used by the collection
// operations.
func WithBatchOptions(opts ...batch.Option) Option {
	return func(o *repoOptions) { o.batch = append(o.batch, opts...) }
}

func newRepository[T Entity](opts []Option) *Repository[T] {
	o := repoOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	var zero T
	name := fmt.Sprintf("%T", zero)
	return &Repository[T]{
		name:      name,
		logger:    o.logger.With("component", "repository", "entity", name),
		tracer:    otel.Tracer(tracerName),
		batchOpts: o.batch,
	}
}

// New returns a repository over an existing store. Closing the repository
// closes the store.
func New[T Entity](store datastore.DataStore, opts ...Option) *Repository[T] {
	r := newRepository[T](opts)
	r.store = store
	return r
}

// Open returns a repository for the store described by cfg. The
// configuration is validated and the store opened during initialization,
// so configuration errors surface from the first operation.
func Open[T Entity](cfg config.Config, opts ...Option) *Repository[T] {
	r := newRepository[T](opts)
	r.open = func(ctx context.Context) (datastore.DataStore, []batch.Option, error) {
		resolved, err := cfg.Resolve()
		if err != nil {
			return nil, nil, err
		}
		store, err := registry.Open(ctx, resolved)
		if err != nil {
			return nil, nil, err
		}
		var limits []batch.Option
		if resolved.MaxBatchSize > 0 {
			limits = append(limits, batch.WithMaxBatchSize(resolved.MaxBatchSize))
		}
		if resolved.MaxParallelism > 0 {
			limits = append(limits, batch.WithMaxParallelism(resolved.MaxParallelism))
		}
		if resolved.RequestsPerSecond > 0 {
			limits = append(limits, batch.WithRequestsPerSecond(resolved.RequestsPerSecond))
		}
		return store, limits, nil
	}
	return r
}

// Initialize opens the store if needed and ensures its container exists.
// Concurrent callers share one attempt and its result. A failed attempt
// leaves the repository uninitialized so a later call retries; calling
// Initialize on an initialized repository does nothing.
func (r *Repository[T]) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.ErrClosed
	}
	switch r.state {
	case initialized:
		r.mu.Unlock()
		return nil
	case initializing:
		call := r.call
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &initCall{done: make(chan struct{})}
	r.call = call
	r.state = initializing
	preset := r.store
	r.mu.Unlock()

	store, exec, err := r.initialize(ctx, preset)

	r.mu.Lock()
	switch {
	case err != nil:
		r.state = uninitialized
	case r.closed:
		if r.open != nil {
			_ = store.Close()
		}
		err = errors.ErrClosed
		r.state = uninitialized
	default:
		r.store, r.exec = store, exec
		r.state = initialized
	}
	r.call = nil
	r.mu.Unlock()

	call.err = err
	close(call.done)
	if err != nil {
		r.logger.Warn("initialization failed", "err", err)
		return err
	}
	r.logger.Info("repository initialized", "store", store.Name())
	return nil
}

func (r *Repository[T]) initialize(ctx context.Context, store datastore.DataStore) (datastore.DataStore, *batch.Executor, error) {
	var limits []batch.Option
	if r.open != nil {
		s, opts, err := r.open(ctx)
		if err != nil {
			return nil, nil, err
		}
		store, limits = s, opts
	}
	if store == nil {
		return nil, nil, errors.ErrNotInitialized
	}
	if err := store.EnsureContainer(ctx); err != nil {
		if r.open != nil {
			_ = store.Close()
		}
		return nil, nil, fmt.Errorf("ensure container: %w", err)
	}

	opts := []batch.Option{batch.WithLogger(r.logger)}
	opts = append(opts, limits...)
	opts = append(opts, r.batchOpts...)
	return store, batch.New(store, opts...), nil
}

// IsInitialized reports whether initialization has completed successfully.
func (r *Repository[T]) IsInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == initialized && !r.closed
}

// Close closes the store. Later operations fail with errors.ErrClosed.
func (r *Repository[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

func (r *Repository[T]) ready(ctx context.Context) (datastore.DataStore, *batch.Executor, error) {
	if err := r.Initialize(ctx); err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, errors.ErrClosed
	}
	return r.store, r.exec, nil
}

func (r *Repository[T]) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "entityrepo."+op,
		trace.WithAttributes(attribute.String("entity", r.name)))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Get returns the entity with id, or nil. An entity in the default
// partition is read directly; otherwise the partitions holding id are
// resolved and the first in key order wins.
func (r *Repository[T]) Get(ctx context.Context, id string) (_ *T, err error) {
	ctx, span := r.startSpan(ctx, "Get")
	defer func() { finish(span, err) }()

	if id == "" {
		return nil, errors.NewValidationError("id", "must not be empty")
	}
	store, _, err := r.ready(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := store.Get(ctx, datastore.Key{PartitionKey: store.Capabilities().DefaultPartitionKey, ID: id})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		keys, err := store.ResolveKeys(ctx, []string{id})
		if err != nil || len(keys) == 0 {
			return nil, err
		}
		slices.SortFunc(keys, datastore.CompareKeys)
		if rec, err = store.Get(ctx, keys[0]); err != nil || rec == nil {
			return nil, err
		}
	}
	return decodeOne[T](rec)
}

// GetByKey returns the entity stored under partition key pk and id, or nil.
// An empty pk means the default partition.
func (r *Repository[T]) GetByKey(ctx context.Context, pk, id string) (_ *T, err error) {
	ctx, span := r.startSpan(ctx, "GetByKey")
	defer func() { finish(span, err) }()

	if id == "" {
		return nil, errors.NewValidationError("id", "must not be empty")
	}
	store, _, err := r.ready(ctx)
	if err != nil {
		return nil, err
	}
	if pk == "" {
		pk = store.Capabilities().DefaultPartitionKey
	}
	rec, err := store.Get(ctx, datastore.Key{PartitionKey: pk, ID: id})
	if err != nil || rec == nil {
		return nil, err
	}
	return decodeOne[T](rec)
}

// GetWhere returns the first entity matching expr in the store's default
// order, or nil.
func (r *Repository[T]) GetWhere(ctx context.Context, expr query.Expr) (_ *T, err error) {
	ctx, span := r.startSpan(ctx, "GetWhere")
	defer func() { finish(span, err) }()

	q := &query.Query{Filter: expr, Take: 1}
	cur, err := r.find(ctx, q)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	e, ok, err := cur.Next(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

// Find returns a lazy cursor over the entities matching q. A nil q matches
// every entity.
func (r *Repository[T]) Find(ctx context.Context, q *query.Query) (_ *Cursor[T], err error) {
	ctx, span := r.startSpan(ctx, "Find")
	defer func() { finish(span, err) }()
	span.SetAttributes(attribute.String("query", q.String()))
	return r.find(ctx, q)
}

func (r *Repository[T]) find(ctx context.Context, q *query.Query) (*Cursor[T], error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	store, _, err := r.ready(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Cursor[T]{cur: cur}, nil
}

// FindAll runs Find and reads every result.
func (r *Repository[T]) FindAll(ctx context.Context, q *query.Query) ([]T, error) {
	cur, err := r.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	return cur.All(ctx)
}

// Insert stores e unless its key already exists. It returns the stored
// entity, or nil when the key was taken.
func (r *Repository[T]) Insert(ctx context.Context, e T) (_ *T, err error) {
	ctx, span := r.startSpan(ctx, "Insert")
	defer func() { finish(span, err) }()

	applied, err := r.writeOne(ctx, datastore.OpInsert, e)
	if err != nil || !applied {
		return nil, err
	}
	return &e, nil
}

// InsertMany inserts the entities whose keys do not exist yet and returns
// how many were inserted.
func (r *Repository[T]) InsertMany(ctx context.Context, entities []T) (_ int, err error) {
	ctx, span := r.startSpan(ctx, "InsertMany")
	defer func() { finish(span, err) }()
	return r.writeMany(ctx, span, datastore.OpInsert, entities)
}

// Update replaces an existing entity. It reports false when the key does
// not exist.
func (r *Repository[T]) Update(ctx context.Context, e T) (_ bool, err error) {
	ctx, span := r.startSpan(ctx, "Update")
	defer func() { finish(span, err) }()
	return r.writeOne(ctx, datastore.OpUpdate, e)
}

// UpdateMany replaces the entities whose keys exist and returns how many
// were updated.
func (r *Repository[T]) UpdateMany(ctx context.Context, entities []T) (_ int, err error) {
	ctx, span := r.startSpan(ctx, "UpdateMany")
	defer func() { finish(span, err) }()
	return r.writeMany(ctx, span, datastore.OpUpdate, entities)
}

// InsertOrUpdate creates or replaces e.
func (r *Repository[T]) InsertOrUpdate(ctx context.Context, e T) (_ bool, err error) {
	ctx, span := r.startSpan(ctx, "InsertOrUpdate")
	defer func() { finish(span, err) }()
	return r.writeOne(ctx, datastore.OpUpsert, e)
}

// InsertOrUpdateMany creates or replaces every entity and returns the
// number written.
func (r *Repository[T]) InsertOrUpdateMany(ctx context.Context, entities []T) (_ int, err error) {
	ctx, span := r.startSpan(ctx, "InsertOrUpdateMany")
	defer func() { finish(span, err) }()
	return r.writeMany(ctx, span, datastore.OpUpsert, entities)
}

// Delete removes e by key and reports whether it existed.
func (r *Repository[T]) Delete(ctx context.Context, e T) (_ bool, err error) {
	ctx, span := r.startSpan(ctx, "Delete")
	defer func() { finish(span, err) }()
	return r.writeOne(ctx, datastore.OpDelete, e)
}

// DeleteByID removes the entities with id from every partition and reports
// whether any existed.
func (r *Repository[T]) DeleteByID(ctx context.Context, id string) (_ bool, err error) {
	ctx, span := r.startSpan(ctx, "DeleteByID")
	defer func() { finish(span, err) }()

	n, err := r.deleteIDs(ctx, []string{id})
	return n > 0, err
}

// DeleteMany removes entities by key and returns how many existed.
func (r *Repository[T]) DeleteMany(ctx context.Context, entities []T) (_ int, err error) {
	ctx, span := r.startSpan(ctx, "DeleteMany")
	defer func() { finish(span, err) }()
	return r.writeMany(ctx, span, datastore.OpDelete, entities)
}

// DeleteByIDs removes the entities with the given ids from every partition
// and returns how many were removed.
func (r *Repository[T]) DeleteByIDs(ctx context.Context, ids []string) (_ int, err error) {
	ctx, span := r.startSpan(ctx, "DeleteByIDs")
	defer func() { finish(span, err) }()
	return r.deleteIDs(ctx, ids)
}

// DeleteWhere removes the entities matching expr and returns how many were
// removed.
func (r *Repository[T]) DeleteWhere(ctx context.Context, expr query.Expr) (_ int, err error) {
	ctx, span := r.startSpan(ctx, "DeleteWhere")
	defer func() { finish(span, err) }()

	q := query.Where(expr)
	if err := q.Validate(); err != nil {
		return 0, err
	}
	store, exec, err := r.ready(ctx)
	if err != nil {
		return 0, err
	}
	cur, err := store.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	matched, err := datastore.Drain(ctx, cur)
	if err != nil {
		return 0, err
	}
	keys := make([]datastore.Key, len(matched))
	for i, m := range matched {
		keys[i] = m.Key
	}
	span.SetAttributes(attribute.Int("matched", len(keys)))
	return exec.Execute(ctx, datastore.OpDelete, keyRecords(keys))
}

// DeleteAll removes every entity of the collection.
func (r *Repository[T]) DeleteAll(ctx context.Context) (_ bool, err error) {
	ctx, span := r.startSpan(ctx, "DeleteAll")
	defer func() { finish(span, err) }()

	store, _, err := r.ready(ctx)
	if err != nil {
		return false, err
	}
	if err := store.DeleteAll(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Count returns the number of stored entities.
func (r *Repository[T]) Count(ctx context.Context) (int64, error) {
	return r.CountWhere(ctx, nil)
}

// CountWhere returns the number of entities matching expr. A nil expr
// counts every entity.
func (r *Repository[T]) CountWhere(ctx context.Context, expr query.Expr) (_ int64, err error) {
	ctx, span := r.startSpan(ctx, "Count")
	defer func() { finish(span, err) }()

	q := query.Where(expr)
	if err := q.Validate(); err != nil {
		return 0, err
	}
	store, _, err := r.ready(ctx)
	if err != nil {
		return 0, err
	}
	return store.Count(ctx, q)
}

// writeOne applies op to a single entity and reports whether it applied.
func (r *Repository[T]) writeOne(ctx context.Context, op datastore.Op, e T) (bool, error) {
	rec, err := toRecord(e)
	if err != nil {
		return false, err
	}
	store, _, err := r.ready(ctx)
	if err != nil {
		return false, err
	}
	records := []datastore.Record{rec}
	fillPartition(records, store.Capabilities().DefaultPartitionKey)
	if op == datastore.OpDelete {
		records[0].Doc = nil
	}
	out, err := store.Bulk(ctx, op, records)
	if err != nil {
		return false, err
	}
	return len(out) == 1 && out[0].Applied, nil
}

func (r *Repository[T]) writeMany(ctx context.Context, span trace.Span, op datastore.Op, entities []T) (int, error) {
	span.SetAttributes(attribute.Int("count", len(entities)))
	records, err := toRecords(entities)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	store, exec, err := r.ready(ctx)
	if err != nil {
		return 0, err
	}
	fillPartition(records, store.Capabilities().DefaultPartitionKey)
	if op == datastore.OpDelete {
		for i := range records {
			records[i].Doc = nil
		}
	}
	n, err := exec.Execute(ctx, op, records)
	span.SetAttributes(attribute.Int("applied", n))
	return n, err
}

// deleteIDs removes every record holding one of ids, in the default
// partition or any other.
func (r *Repository[T]) deleteIDs(ctx context.Context, ids []string) (int, error) {
	for _, id := range ids {
		if id == "" {
			return 0, errors.NewValidationError("id", "must not be empty")
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	store, exec, err := r.ready(ctx)
	if err != nil {
		return 0, err
	}
	resolved, err := store.ResolveKeys(ctx, ids)
	if err != nil {
		return 0, err
	}

	def := store.Capabilities().DefaultPartitionKey
	seen := make(map[datastore.Key]struct{}, len(ids)+len(resolved))
	keys := make([]datastore.Key, 0, len(ids)+len(resolved))
	add := func(k datastore.Key) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, id := range ids {
		add(datastore.Key{PartitionKey: def, ID: id})
	}
	for _, k := range resolved {
		add(k)
	}
	return exec.Execute(ctx, datastore.OpDelete, keyRecords(keys))
}

func decodeOne[T Entity](rec *datastore.Record) (*T, error) {
	e, err := fromRecord[T](*rec)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
