/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/query"
)

func makeRecords(n int) []Record {
	out := make([]Record, n)
	for i := range n {
		out[i] = Record{
			Key: Key{PartitionKey: fmt.Sprintf("p%d", i%2), ID: fmt.Sprintf("id-%03d", i)},
			Doc: Document{"intData": json.Number(fmt.Sprint(i)), "group": json.Number(fmt.Sprint(i % 3))},
			Seq: uint64(n - i),
		}
	}
	return out
}

func ids(t *testing.T, cur Cursor) []string {
	t.Helper()
	recs, err := Drain(context.Background(), cur)
	require.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Key.ID
	}
	return out
}

func TestMemoryPlan_FilterSkipTake(t *testing.T) {
	q, err := query.New().Where(query.Gte("intData", 50)).OrderBy("intData").Skip(5).Take(10).Build()
	require.NoError(t, err)

	plan, err := MemoryTranslator{}.Translate(q)
	require.NoError(t, err)

	got := ids(t, plan.Run(makeRecords(100)))
	require.Len(t, got, 10)
	assert.Equal(t, "id-055", got[0])
	assert.Equal(t, "id-064", got[9])
}

func TestMemoryPlan_InsertionOrder(t *testing.T) {
	plan, err := MemoryTranslator{}.Translate(query.All())
	require.NoError(t, err)

	// Seq counts down, so insertion order is the reverse of id order.
	got := ids(t, plan.Run(makeRecords(4)))
	assert.Equal(t, []string{"id-003", "id-002", "id-001", "id-000"}, got)
}

func TestMemoryPlan_MultiKeyOrder(t *testing.T) {
	q, err := query.New().OrderBy("group").ThenByDescending("intData").Build()
	require.NoError(t, err)
	plan, err := MemoryTranslator{}.Translate(q)
	require.NoError(t, err)

	got := ids(t, plan.Run(makeRecords(6)))
	assert.Equal(t, []string{"id-003", "id-000", "id-004", "id-001", "id-005", "id-002"}, got)
}

func TestMemoryPlan_Partition(t *testing.T) {
	q, err := query.New().InPartition("p1").OrderByDescending(query.FieldID).Build()
	require.NoError(t, err)
	plan, err := MemoryTranslator{}.Translate(q)
	require.NoError(t, err)

	got := ids(t, plan.Run(makeRecords(6)))
	assert.Equal(t, []string{"id-005", "id-003", "id-001"}, got)
}

func TestMemoryTranslator_Invalid(t *testing.T) {
	_, err := MemoryTranslator{}.Translate(&query.Query{Skip: -2})
	assert.True(t, errors.IsValidationError(err))
}

func TestSortRecords_TieBreak(t *testing.T) {
	recs := []Record{
		{Key: Key{PartitionKey: "b", ID: "1"}, Doc: Document{"v": json.Number("1")}},
		{Key: Key{PartitionKey: "a", ID: "2"}, Doc: Document{"v": json.Number("1")}},
		{Key: Key{PartitionKey: "a", ID: "1"}, Doc: Document{"v": json.Number("1")}},
	}
	SortRecords(recs, query.Ordering{query.Desc("v")})
	assert.Equal(t, Key{PartitionKey: "a", ID: "1"}, recs[0].Key)
	assert.Equal(t, Key{PartitionKey: "a", ID: "2"}, recs[1].Key)
	assert.Equal(t, Key{PartitionKey: "b", ID: "1"}, recs[2].Key)
}

func TestRecord_Lookup(t *testing.T) {
	r := Record{
		Key: Key{PartitionKey: "p", ID: "i"},
		Doc: Document{"a": map[string]any{"b": "c"}},
	}
	v, ok := r.Lookup(query.FieldID)
	assert.True(t, ok)
	assert.Equal(t, "i", v)

	v, ok = r.Lookup(query.FieldPartitionKey)
	assert.True(t, ok)
	assert.Equal(t, "p", v)

	v, ok = r.Lookup("a.b")
	assert.True(t, ok)
	assert.Equal(t, "c", v)

	_, ok = r.Lookup("a.x")
	assert.False(t, ok)
}

func TestDocument_RoundTrip(t *testing.T) {
	type item struct {
		ID      string `json:"id"`
		IntData int64  `json:"intData"`
	}
	doc, err := EncodeDocument(item{ID: "x", IntData: 1 << 60})
	require.NoError(t, err)
	assert.Equal(t, json.Number("1152921504606846976"), doc["intData"])

	var out item
	require.NoError(t, doc.Decode(&out))
	assert.Equal(t, int64(1<<60), out.IntData)

	_, err = EncodeDocument([]int{1})
	assert.True(t, errors.IsValidationError(err))
}
