/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/query"
)

const (
	storeName = "badger"

	// DefaultMaxBatchSize is the number of records written per transaction.
	DefaultMaxBatchSize = 100
	// DefaultMaxParallelism bounds concurrent write transactions.
	DefaultMaxParallelism = 4
	// DefaultPartitionKey is used for entities without a partition key.
	DefaultPartitionKey = "_default"
)

// Store keeps one collection in a badger database. Records live under
// rec:<collection>, an id index under ix:<collection> backs lookups by id
// across partitions.
type Store struct {
	backend    *Backend
	owned      bool
	collection string
	seq        *badger.Sequence
	caps       datastore.Capabilities
	logger     *slog.Logger
}

var _ datastore.DataStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.With("component", "badger", "collection", s.collection)
		}
	}
}

// Open opens a database owned by the returned store. Closing the store
// closes the database.
func Open(dir string, inMemory bool, collection string, opts ...Option) (*Store, error) {
	s := &Store{collection: collection}
	for _, opt := range opts {
		opt(s)
	}
	backend, err := OpenBackend(dir, inMemory, s.logger)
	if err != nil {
		return nil, errors.NewFatalStoreError(storeName, "open", err)
	}
	store, err := New(backend, collection, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// New returns a store for collection on a shared backend.
func New(backend *Backend, collection string, opts ...Option) (*Store, error) {
	s := &Store{
		backend:    backend,
		collection: collection,
		logger:     slog.Default().With("component", "badger", "collection", collection),
		caps: datastore.Capabilities{
			MaxBatchSize:        DefaultMaxBatchSize,
			MaxParallelism:      DefaultMaxParallelism,
			DefaultPartitionKey: DefaultPartitionKey,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	seq, err := backend.GetSequence(makeSequenceName(collection))
	if err != nil {
		return nil, s.wrap("sequence", err)
	}
	s.seq = seq
	return s, nil
}

func (s *Store) Name() string { return storeName }

func (s *Store) Capabilities() datastore.Capabilities { return s.caps }

// EnsureContainer verifies the database is open. Collections need no setup.
func (s *Store) EnsureContainer(ctx context.Context) error {
	if s.backend.IsClosed() {
		return errors.NewFatalStoreError(storeName, "ensure", errors.ErrClosed)
	}
	s.logger.Debug("collection ready")
	return nil
}

// Get retrieves a record by key.
func (s *Store) Get(ctx context.Context, key datastore.Key) (*datastore.Record, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	var rec *datastore.Record
	err := s.backend.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeRecordKey(s.collection, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			seq, doc, err := decodeValue(val)
			if err != nil {
				return err
			}
			rec = &datastore.Record{Key: key, Doc: doc, Seq: seq}
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap("get", err)
	}
	return rec, nil
}

// ResolveKeys walks the id index for every id.
func (s *Store) ResolveKeys(ctx context.Context, ids []string) ([]datastore.Key, error) {
	var keys []datastore.Key
	err := s.backend.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			prefix := makePartialIDKey(s.collection, id)
			opts.Prefix = prefix
			iter := txn.NewIterator(opts)
			for iter.Rewind(); iter.Valid(); iter.Next() {
				pk := string(iter.Item().Key()[len(prefix):])
				keys = append(keys, datastore.Key{PartitionKey: pk, ID: id})
			}
			iter.Close()
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("resolve", err)
	}
	return keys, nil
}

// Query scans the collection, or one partition when the query is scoped,
// and evaluates the query in memory.
func (s *Store) Query(ctx context.Context, q *query.Query) (datastore.Cursor, error) {
	plan, err := datastore.MemoryTranslator{}.Translate(q)
	if err != nil {
		return nil, err
	}
	matched, err := s.scan(ctx, plan)
	if err != nil {
		return nil, err
	}
	datastore.SortRecords(matched, plan.Order)
	return datastore.NewSliceCursor(matched, plan.Skip, plan.Take), nil
}

// Count returns the number of matching records. Unfiltered counts only walk
// keys.
func (s *Store) Count(ctx context.Context, q *query.Query) (int64, error) {
	plan, err := datastore.MemoryTranslator{}.Translate(q)
	if err != nil {
		return 0, err
	}
	if plan.Filter != nil {
		matched, err := s.scan(ctx, plan)
		return int64(len(matched)), err
	}

	var n int64
	err = s.backend.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix(plan)
		iter := txn.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap("count", err)
	}
	return n, nil
}

func (s *Store) prefix(plan datastore.MemoryPlan) []byte {
	if plan.Scoped {
		return makePartitionPrefix(s.collection, plan.Partition)
	}
	return makeCollectionPrefix(s.collection)
}

func (s *Store) scan(ctx context.Context, plan datastore.MemoryPlan) ([]datastore.Record, error) {
	var matched []datastore.Record
	err := s.backend.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix(plan)
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			key, err := parseRecordKey(s.collection, item.Key())
			if err != nil {
				return err
			}
			var rec datastore.Record
			err = item.Value(func(val []byte) error {
				seq, doc, err := decodeValue(val)
				rec = datastore.Record{Key: key, Doc: doc, Seq: seq}
				return err
			})
			if err != nil {
				return err
			}
			if plan.Matches(rec) {
				matched = append(matched, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("query", err)
	}
	return matched, nil
}

// Bulk applies op to records in a single transaction.
func (s *Store) Bulk(ctx context.Context, op datastore.Op, records []datastore.Record) ([]datastore.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(records) > s.caps.MaxBatchSize {
		return nil, errors.NewValidationError("records",
			fmt.Sprintf("%d records exceed the batch limit of %d", len(records), s.caps.MaxBatchSize))
	}
	for _, r := range records {
		if err := checkKey(r.Key); err != nil {
			return nil, err
		}
	}

	outcomes := make([]datastore.Outcome, len(records))
	err := s.backend.Update(ctx, func(txn *badger.Txn) error {
		for i, r := range records {
			outcomes[i] = datastore.Outcome{Key: r.Key}
			key := makeRecordKey(s.collection, r.Key)

			seq, exists, err := s.existing(txn, key)
			if err != nil {
				return err
			}

			switch op {
			case datastore.OpInsert:
				if exists {
					continue
				}
			case datastore.OpUpdate:
				if !exists {
					continue
				}
			case datastore.OpUpsert:
			case datastore.OpDelete:
				if !exists {
					continue
				}
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(makeIDKey(s.collection, r.Key)); err != nil {
					return err
				}
				outcomes[i].Applied = true
				continue
			default:
				return errors.NewValidationError("op", fmt.Sprintf("unsupported operation %d", op))
			}

			if !exists {
				next, err := s.seq.Next()
				if err != nil {
					return err
				}
				seq = next + 1
			}
			val, err := encodeValue(seq, r.Doc)
			if err != nil {
				return err
			}
			if err := txn.Set(key, val); err != nil {
				return err
			}
			if err := txn.Set(makeIDKey(s.collection, r.Key), nil); err != nil {
				return err
			}
			outcomes[i].Applied = true
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap(op.String(), err)
	}
	return outcomes, nil
}

// existing reads the insertion sequence of key, if the record exists.
func (s *Store) existing(txn *badger.Txn, key []byte) (uint64, bool, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		if len(val) < seqLen {
			return fmt.Errorf("value too short: %d bytes", len(val))
		}
		seq = binary.BigEndian.Uint64(val[:seqLen])
		return nil
	})
	return seq, true, err
}

// DeleteAll drops every record and index entry of the collection.
func (s *Store) DeleteAll(ctx context.Context) error {
	err := s.backend.DropPrefix(makeCollectionPrefix(s.collection), makeIDIndexPrefix(s.collection))
	if err != nil {
		return s.wrap("deleteAll", err)
	}
	return nil
}

// Close releases the sequence and closes the database when the store owns it.
func (s *Store) Close() error {
	if s.seq != nil && !s.backend.IsClosed() {
		if err := s.seq.Release(); err != nil {
			s.logger.Warn("release sequence", "err", err)
		}
	}
	if s.owned {
		return s.backend.Close()
	}
	return nil
}

// wrap classifies badger failures. A closed database is fatal; conflicts and
// oversized transactions can be retried.
func (s *Store) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.IsValidationError(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, badger.ErrDBClosed):
		return errors.NewFatalStoreError(storeName, op, fmt.Errorf("%w: %w", errors.ErrClosed, err))
	case errors.Is(err, badger.ErrConflict), errors.Is(err, badger.ErrTxnTooBig):
		return errors.NewStoreError(storeName, op, fmt.Errorf("%w: %w", errors.ErrThrottled, err))
	}
	return errors.NewStoreError(storeName, op, err)
}
