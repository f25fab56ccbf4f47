/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"fmt"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
)

// Entity is a storable type with a string identity. Entities are stored as
// their JSON encoding; predicate fields are JSON field names.
type Entity interface {
	GetID() string
}

// Partitioned entities choose their partition key. Entities that do not
// implement it, or return "", go to the store's default partition.
type Partitioned interface {
	GetPartitionKey() string
}

func partitionOf(e any) string {
	if p, ok := e.(Partitioned); ok {
		return p.GetPartitionKey()
	}
	return ""
}

// toRecord encodes an entity. The partition key is left empty when the
// entity has none; the repository fills in the store default.
func toRecord[T Entity](e T) (datastore.Record, error) {
	id := e.GetID()
	if id == "" {
		return datastore.Record{}, errors.NewValidationError("id", fmt.Sprintf("%T has an empty id", e))
	}
	doc, err := datastore.EncodeDocument(e)
	if err != nil {
		return datastore.Record{}, err
	}
	return datastore.Record{
		Key: datastore.Key{PartitionKey: partitionOf(e), ID: id},
		Doc: doc,
	}, nil
}

func toRecords[T Entity](entities []T) ([]datastore.Record, error) {
	records := make([]datastore.Record, 0, len(entities))
	for _, e := range entities {
		r, err := toRecord(e)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func fillPartition(records []datastore.Record, def string) {
	for i := range records {
		if records[i].Key.PartitionKey == "" {
			records[i].Key.PartitionKey = def
		}
	}
}

// keyRecords returns bare records for keys, as used by deletes.
func keyRecords(keys []datastore.Key) []datastore.Record {
	records := make([]datastore.Record, len(keys))
	for i, k := range keys {
		records[i] = datastore.Record{Key: k}
	}
	return records
}

func fromRecord[T Entity](r datastore.Record) (T, error) {
	var out T
	if err := r.Doc.Decode(&out); err != nil {
		return out, fmt.Errorf("decode %s: %w", r.Key, err)
	}
	return out, nil
}
