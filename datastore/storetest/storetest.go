/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package storetest holds behaviour checks shared by every DataStore
// implementation.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/query"
)

// Factory returns an empty, ready store. The suite closes it.
type Factory func(t *testing.T) datastore.DataStore

// Record builds a record whose document carries id, n and a nested group.
func Record(pk, id string, n int) datastore.Record {
	return datastore.Record{
		Key: datastore.Key{PartitionKey: pk, ID: id},
		Doc: datastore.Document{
			"id":   id,
			"n":    json.Number(fmt.Sprint(n)),
			"even": n%2 == 0,
			"meta": map[string]any{"group": fmt.Sprintf("g%d", n%3)},
		},
	}
}

// Run exercises the DataStore contract against stores made by open.
func Run(t *testing.T, open Factory) {
	ctx := context.Background()

	fresh := func(t *testing.T) datastore.DataStore {
		store := open(t)
		t.Cleanup(func() { _ = store.Close() })
		require.NoError(t, store.EnsureContainer(ctx))
		return store
	}

	seed := func(t *testing.T, store datastore.DataStore, pk string, n int) {
		batch := store.Capabilities().MaxBatchSize
		var recs []datastore.Record
		for i := 0; i < n; i++ {
			recs = append(recs, Record(pk, fmt.Sprintf("id-%03d", i), i))
			if len(recs) == batch {
				_, err := store.Bulk(ctx, datastore.OpUpsert, recs)
				require.NoError(t, err)
				recs = nil
			}
		}
		if len(recs) > 0 {
			_, err := store.Bulk(ctx, datastore.OpUpsert, recs)
			require.NoError(t, err)
		}
	}

	find := func(t *testing.T, store datastore.DataStore, q *query.Query) []datastore.Record {
		cur, err := store.Query(ctx, q)
		require.NoError(t, err)
		recs, err := datastore.Drain(ctx, cur)
		require.NoError(t, err)
		return recs
	}

	ids := func(recs []datastore.Record) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.Key.ID
		}
		return out
	}

	t.Run("BulkSemantics", func(t *testing.T) {
		store := fresh(t)

		out, err := store.Bulk(ctx, datastore.OpInsert, []datastore.Record{Record("p", "1", 1), Record("p", "2", 2)})
		require.NoError(t, err)
		assert.Equal(t, 2, applied(out))

		out, err = store.Bulk(ctx, datastore.OpInsert, []datastore.Record{Record("p", "1", 10), Record("p", "3", 3)})
		require.NoError(t, err)
		assert.False(t, out[0].Applied)
		assert.True(t, out[1].Applied)

		rec, err := store.Get(ctx, datastore.Key{PartitionKey: "p", ID: "1"})
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, json.Number("1"), rec.Doc["n"])

		out, err = store.Bulk(ctx, datastore.OpUpdate, []datastore.Record{Record("p", "1", 11), Record("p", "9", 9)})
		require.NoError(t, err)
		assert.Equal(t, []bool{true, false}, flags(out))

		out, err = store.Bulk(ctx, datastore.OpUpsert, []datastore.Record{Record("p", "1", 12), Record("p", "9", 9)})
		require.NoError(t, err)
		assert.Equal(t, 2, applied(out))

		rec, err = store.Get(ctx, datastore.Key{PartitionKey: "p", ID: "1"})
		require.NoError(t, err)
		assert.Equal(t, json.Number("12"), rec.Doc["n"])

		out, err = store.Bulk(ctx, datastore.OpDelete, []datastore.Record{
			{Key: datastore.Key{PartitionKey: "p", ID: "9"}},
			{Key: datastore.Key{PartitionKey: "p", ID: "missing"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []bool{true, false}, flags(out))

		n, err := store.Count(ctx, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := fresh(t)
		rec, err := store.Get(ctx, datastore.Key{PartitionKey: "p", ID: "nope"})
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("BatchLimit", func(t *testing.T) {
		store := fresh(t)
		limit := store.Capabilities().MaxBatchSize
		recs := make([]datastore.Record, limit+1)
		for i := range recs {
			recs[i] = Record("p", fmt.Sprint(i), i)
		}
		_, err := store.Bulk(ctx, datastore.OpUpsert, recs)
		assert.True(t, errors.IsValidationError(err), "got %v", err)
	})

	t.Run("FilterOrderPage", func(t *testing.T) {
		store := fresh(t)
		seed(t, store, "p", 100)

		q, err := query.New().
			Where(query.Gte("n", 50)).
			OrderBy("n").
			Skip(5).
			Take(10).
			Build()
		require.NoError(t, err)

		recs := find(t, store, q)
		require.Len(t, recs, 10)
		assert.Equal(t, "id-055", recs[0].Key.ID)
		assert.Equal(t, "id-064", recs[9].Key.ID)

		n, err := store.Count(ctx, query.Where(query.Gte("n", 50)))
		require.NoError(t, err)
		assert.EqualValues(t, 50, n)
	})

	t.Run("Descending", func(t *testing.T) {
		store := fresh(t)
		seed(t, store, "p", 10)

		q, err := query.New().OrderByDescending("n").Take(3).Build()
		require.NoError(t, err)
		assert.Equal(t, []string{"id-009", "id-008", "id-007"}, ids(find(t, store, q)))
	})

	t.Run("TiesBreakByKey", func(t *testing.T) {
		store := fresh(t)
		_, err := store.Bulk(ctx, datastore.OpUpsert, []datastore.Record{
			Record("b", "x", 2), Record("a", "y", 2), Record("a", "x", 2), Record("a", "z", 1),
		})
		require.NoError(t, err)

		q, err := query.New().OrderBy("n").Build()
		require.NoError(t, err)
		recs := find(t, store, q)
		require.Len(t, recs, 4)
		assert.Equal(t, datastore.Key{PartitionKey: "a", ID: "z"}, recs[0].Key)
		assert.Equal(t, datastore.Key{PartitionKey: "a", ID: "x"}, recs[1].Key)
		assert.Equal(t, datastore.Key{PartitionKey: "a", ID: "y"}, recs[2].Key)
		assert.Equal(t, datastore.Key{PartitionKey: "b", ID: "x"}, recs[3].Key)
	})

	t.Run("PartitionScope", func(t *testing.T) {
		store := fresh(t)
		seed(t, store, "p1", 5)
		seed(t, store, "p2", 7)

		q, err := query.New().InPartition("p2").Build()
		require.NoError(t, err)
		assert.Len(t, find(t, store, q), 7)

		n, err := store.Count(ctx, query.Where(query.PartitionKey().Eq("p1")))
		require.NoError(t, err)
		assert.EqualValues(t, 5, n)
	})

	t.Run("NestedAndTyped", func(t *testing.T) {
		store := fresh(t)
		seed(t, store, "p", 9)

		n, err := store.Count(ctx, query.Where(query.Field("meta.group").Eq("g1")))
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		n, err = store.Count(ctx, query.Where(query.Field("even").Eq(true)))
		require.NoError(t, err)
		assert.EqualValues(t, 5, n)

		n, err = store.Count(ctx, query.Where(query.Field("n").In(1, 2, 100)))
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		// strings never compare with numbers
		n, err = store.Count(ctx, query.Where(query.Field("n").Gt("0")))
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		n, err = store.Count(ctx, query.Where(query.Field("missing").Ne("x")))
		require.NoError(t, err)
		assert.EqualValues(t, 9, n)

		n, err = store.Count(ctx, query.Where(query.Field("missing").Eq(nil)))
		require.NoError(t, err)
		assert.EqualValues(t, 9, n)
	})

	t.Run("ResolveKeys", func(t *testing.T) {
		store := fresh(t)
		_, err := store.Bulk(ctx, datastore.OpUpsert, []datastore.Record{
			Record("p1", "x", 1), Record("p2", "x", 2), Record("p1", "y", 3),
		})
		require.NoError(t, err)

		keys, err := store.ResolveKeys(ctx, []string{"x", "nope"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []datastore.Key{{PartitionKey: "p1", ID: "x"}, {PartitionKey: "p2", ID: "x"}}, keys)
	})

	t.Run("DeleteAll", func(t *testing.T) {
		store := fresh(t)
		seed(t, store, "p", 12)
		require.NoError(t, store.DeleteAll(ctx))

		n, err := store.Count(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, find(t, store, query.All()))
	})

	t.Run("InvalidQuery", func(t *testing.T) {
		store := fresh(t)
		_, err := store.Query(ctx, &query.Query{Take: -1})
		assert.True(t, errors.IsValidationError(err), "got %v", err)
	})
}

// RunInsertionOrder checks that unordered queries return records in
// insertion order and that upserts keep a record's position. Only stores
// that keep an insertion sequence pass it.
func RunInsertionOrder(t *testing.T, open Factory) {
	ctx := context.Background()
	store := open(t)
	defer store.Close()
	require.NoError(t, store.EnsureContainer(ctx))

	_, err := store.Bulk(ctx, datastore.OpInsert, []datastore.Record{Record("p", "c", 1), Record("p", "a", 2)})
	require.NoError(t, err)
	_, err = store.Bulk(ctx, datastore.OpInsert, []datastore.Record{Record("p", "b", 3)})
	require.NoError(t, err)
	_, err = store.Bulk(ctx, datastore.OpUpsert, []datastore.Record{Record("p", "c", 4)})
	require.NoError(t, err)

	cur, err := store.Query(ctx, query.All())
	require.NoError(t, err)
	recs, err := datastore.Drain(ctx, cur)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "c", recs[0].Key.ID)
	assert.Equal(t, "a", recs[1].Key.ID)
	assert.Equal(t, "b", recs[2].Key.ID)
	assert.Equal(t, json.Number("4"), recs[0].Doc["n"])
}

func applied(out []datastore.Outcome) int {
	n := 0
	for _, o := range out {
		if o.Applied {
			n++
		}
	}
	return n
}

func flags(out []datastore.Outcome) []bool {
	f := make([]bool, len(out))
	for i, o := range out {
		f[i] = o.Applied
	}
	return f
}
