/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"context"

	"github.com/suparena/entityrepo/query"
)

// Key identifies a record within a collection.
type Key struct {
	PartitionKey string
	ID           string
}

func (k Key) String() string {
	return k.PartitionKey + "/" + k.ID
}

// Record is a stored document with its key. Seq is the insertion sequence
// for stores that keep one and zero otherwise.
type Record struct {
	Key Key
	Doc Document
	Seq uint64
}

// Lookup resolves a field against the record, mapping the key pseudo-fields
// to the record key.
func (r Record) Lookup(field string) (any, bool) {
	switch field {
	case query.FieldID:
		return r.Key.ID, true
	case query.FieldPartitionKey:
		return r.Key.PartitionKey, true
	}
	return query.LookupPath(r.Doc, field)
}

// Op is a bulk write operation.
type Op int

const (
	// OpInsert writes records whose key does not exist and skips the rest.
	OpInsert Op = iota
	// OpUpdate replaces records whose key exists and skips the rest.
	OpUpdate
	// OpUpsert creates or replaces every record.
	OpUpsert
	// OpDelete removes records by key. Only the key of each record is used.
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Outcome reports whether a single record of a bulk call was applied.
type Outcome struct {
	Key     Key
	Applied bool
}

// Capabilities describes the limits and defaults of a store.
type Capabilities struct {
	// MaxBatchSize is the largest number of records a single Bulk call accepts.
	MaxBatchSize int
	// MaxParallelism bounds concurrent Bulk calls.
	MaxParallelism int
	// RequestsPerSecond paces Bulk calls; zero disables pacing.
	RequestsPerSecond float64
	// DefaultPartitionKey is used for entities without a partition key.
	DefaultPartitionKey string
}

// DataStore is the collaborator contract every backing store implements.
// Absence and key conflicts are not errors: Get returns nil and Bulk reports
// unapplied outcomes. Returned errors wrap errors.StoreError or
// errors.ValidationError.
type DataStore interface {
	// Name identifies the store in logs and errors.
	Name() string

	// EnsureContainer creates or verifies the table, bucket or prefix that
	// holds the collection.
	EnsureContainer(ctx context.Context) error

	// Get returns the record stored under key, or nil.
	Get(ctx context.Context, key Key) (*Record, error)

	// ResolveKeys returns the keys of every record whose id is in ids,
	// across all partitions.
	ResolveKeys(ctx context.Context, ids []string) ([]Key, error)

	// Query returns a lazy cursor over the records matching q.
	Query(ctx context.Context, q *query.Query) (Cursor, error)

	// Count returns the number of records matching q, ignoring paging.
	Count(ctx context.Context, q *query.Query) (int64, error)

	// Bulk applies op to at most Capabilities().MaxBatchSize records.
	// On error, outcomes still report records that were committed.
	Bulk(ctx context.Context, op Op, records []Record) ([]Outcome, error)

	// DeleteAll removes every record of the collection.
	DeleteAll(ctx context.Context) error

	Capabilities() Capabilities

	Close() error
}

// Translator converts a store-agnostic query into a store-native plan.
type Translator[P any] interface {
	Translate(q *query.Query) (P, error)
}
