/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package memory provides an in-process implementation of the DataStore interface
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/query"
)

const (
	storeName = "memory"

	// DefaultMaxBatchSize is the number of records accepted per Bulk call.
	DefaultMaxBatchSize = 100
	// DefaultMaxParallelism bounds concurrent Bulk calls.
	DefaultMaxParallelism = 4
	// DefaultPartitionKey is used for entities without a partition key.
	DefaultPartitionKey = "_default"
)

// Store keeps records in a map guarded by a mutex. Error injection hooks make
// it usable as a test double for failing stores.
type Store struct {
	mu      sync.RWMutex
	records map[datastore.Key]datastore.Record
	seq     uint64
	caps    datastore.Capabilities
	closed  bool

	ensureFunc  func(ctx context.Context) error
	bulkFunc    func(op datastore.Op, records []datastore.Record) error
	queryError  error
	getError    error
	ensureCalls atomic.Int32
	bulkCalls   atomic.Int32
}

var _ datastore.DataStore = (*Store)(nil)

// New creates an empty Store
func New() *Store {
	return &Store{
		records: make(map[datastore.Key]datastore.Record),
		caps: datastore.Capabilities{
			MaxBatchSize:        DefaultMaxBatchSize,
			MaxParallelism:      DefaultMaxParallelism,
			DefaultPartitionKey: DefaultPartitionKey,
		},
	}
}

// WithCapabilities overrides the advertised limits
func (m *Store) WithCapabilities(caps datastore.Capabilities) *Store {
	m.caps = caps
	return m
}

// WithEnsureFunc replaces EnsureContainer, e.g. to block or fail initialisation
func (m *Store) WithEnsureFunc(f func(ctx context.Context) error) *Store {
	m.ensureFunc = f
	return m
}

// WithBulkError makes every Bulk call fail with err
func (m *Store) WithBulkError(err error) *Store {
	return m.WithBulkErrorFunc(func(datastore.Op, []datastore.Record) error { return err })
}

// WithBulkErrorFunc fails Bulk calls for which f returns an error
func (m *Store) WithBulkErrorFunc(f func(op datastore.Op, records []datastore.Record) error) *Store {
	m.bulkFunc = f
	return m
}

// WithQueryError makes Query and Count return err
func (m *Store) WithQueryError(err error) *Store {
	m.queryError = err
	return m
}

// WithGetError makes Get and ResolveKeys return err
func (m *Store) WithGetError(err error) *Store {
	m.getError = err
	return m
}

func (m *Store) Name() string { return storeName }

func (m *Store) Capabilities() datastore.Capabilities { return m.caps }

// EnsureContainer is a no-op unless replaced with WithEnsureFunc
func (m *Store) EnsureContainer(ctx context.Context) error {
	m.ensureCalls.Add(1)
	if m.ensureFunc != nil {
		return m.ensureFunc(ctx)
	}
	return m.checkOpen()
}

// Get retrieves a record by key
func (m *Store) Get(ctx context.Context, key datastore.Key) (*datastore.Record, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpenLocked(); err != nil {
		return nil, err
	}

	if r, exists := m.records[key]; exists {
		r.Doc = maps.Clone(r.Doc)
		return &r, nil
	}
	return nil, nil
}

// ResolveKeys finds the keys holding the given ids in every partition
func (m *Store) ResolveKeys(ctx context.Context, ids []string) ([]datastore.Key, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpenLocked(); err != nil {
		return nil, err
	}
	var keys []datastore.Key
	for k := range m.records {
		if _, ok := want[k.ID]; ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Query evaluates q over a snapshot of the stored records
func (m *Store) Query(ctx context.Context, q *query.Query) (datastore.Cursor, error) {
	if m.queryError != nil {
		return nil, m.queryError
	}
	plan, err := datastore.MemoryTranslator{}.Translate(q)
	if err != nil {
		return nil, err
	}
	snapshot, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	return plan.Run(snapshot), nil
}

// Count returns the number of records matching q
func (m *Store) Count(ctx context.Context, q *query.Query) (int64, error) {
	if m.queryError != nil {
		return 0, m.queryError
	}
	plan, err := datastore.MemoryTranslator{}.Translate(q)
	if err != nil {
		return 0, err
	}
	snapshot, err := m.snapshot()
	if err != nil {
		return 0, err
	}
	return int64(len(plan.Select(snapshot))), nil
}

// Bulk applies op to records atomically
func (m *Store) Bulk(ctx context.Context, op datastore.Op, records []datastore.Record) ([]datastore.Outcome, error) {
	m.bulkCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.caps.MaxBatchSize > 0 && len(records) > m.caps.MaxBatchSize {
		return nil, errors.NewValidationError("records",
			fmt.Sprintf("%d records exceed the batch limit of %d", len(records), m.caps.MaxBatchSize))
	}
	if op < datastore.OpInsert || op > datastore.OpDelete {
		return nil, errors.NewValidationError("op", fmt.Sprintf("unsupported operation %d", op))
	}
	if m.bulkFunc != nil {
		if err := m.bulkFunc(op, records); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpenLocked(); err != nil {
		return nil, err
	}

	outcomes := make([]datastore.Outcome, len(records))
	for i, r := range records {
		existing, exists := m.records[r.Key]
		applied := false
		switch op {
		case datastore.OpInsert:
			if !exists {
				m.put(r, 0)
				applied = true
			}
		case datastore.OpUpdate:
			if exists {
				m.put(r, existing.Seq)
				applied = true
			}
		case datastore.OpUpsert:
			m.put(r, existing.Seq)
			applied = true
		case datastore.OpDelete:
			if exists {
				delete(m.records, r.Key)
				applied = true
			}
		}
		outcomes[i] = datastore.Outcome{Key: r.Key, Applied: applied}
	}
	return outcomes, nil
}

// put stores r, keeping seq when the record already had one
func (m *Store) put(r datastore.Record, seq uint64) {
	if seq == 0 {
		m.seq++
		seq = m.seq
	}
	r.Seq = seq
	r.Doc = maps.Clone(r.Doc)
	m.records[r.Key] = r
}

// DeleteAll removes all records
func (m *Store) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpenLocked(); err != nil {
		return err
	}
	m.records = make(map[datastore.Key]datastore.Record)
	return nil
}

// Close marks the store closed; later calls fail with errors.ErrClosed
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Helper methods for testing

// Len returns the number of stored records
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// EnsureCalls returns how many times EnsureContainer ran
func (m *Store) EnsureCalls() int {
	return int(m.ensureCalls.Load())
}

// BulkCalls returns how many times Bulk ran
func (m *Store) BulkCalls() int {
	return int(m.bulkCalls.Load())
}

func (m *Store) snapshot() ([]datastore.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpenLocked(); err != nil {
		return nil, err
	}
	out := make([]datastore.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *Store) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkOpenLocked()
}

func (m *Store) checkOpenLocked() error {
	if m.closed {
		return errors.NewFatalStoreError(storeName, "access", errors.ErrClosed)
	}
	return nil
}
