/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/datastore/storetest"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/query"
)

func newTestStore(t *testing.T) (*Store, *fakeClient) {
	t.Helper()
	client := newFakeClient()
	return New(client, "items", WithUnprocessedBackoff(time.Millisecond)), client
}

func seed(t *testing.T, store *Store, pk string, n int) {
	t.Helper()
	var recs []datastore.Record
	for i := 0; i < n; i++ {
		recs = append(recs, storetest.Record(pk, fmt.Sprintf("id-%d", i), i))
	}
	_, err := store.Bulk(context.Background(), datastore.OpUpsert, recs)
	require.NoError(t, err)
}

func drain(t *testing.T, store *Store, q *query.Query) []datastore.Record {
	t.Helper()
	cur, err := store.Query(context.Background(), q)
	require.NoError(t, err)
	recs, err := datastore.Drain(context.Background(), cur)
	require.NoError(t, err)
	return recs
}

func TestStore_BulkSemantics(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	out, err := store.Bulk(ctx, datastore.OpInsert, []datastore.Record{storetest.Record("p", "1", 1), storetest.Record("p", "2", 2)})
	require.NoError(t, err)
	assert.True(t, out[0].Applied && out[1].Applied)

	out, err = store.Bulk(ctx, datastore.OpInsert, []datastore.Record{storetest.Record("p", "1", 10)})
	require.NoError(t, err)
	assert.False(t, out[0].Applied, "duplicate insert must not apply")

	out, err = store.Bulk(ctx, datastore.OpUpdate, []datastore.Record{storetest.Record("p", "1", 11), storetest.Record("p", "9", 9)})
	require.NoError(t, err)
	assert.True(t, out[0].Applied)
	assert.False(t, out[1].Applied)

	rec, err := store.Get(ctx, datastore.Key{PartitionKey: "p", ID: "1"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, json.Number("11"), rec.Doc["n"])
	assert.Equal(t, map[string]any{"group": "g2"}, rec.Doc["meta"])
	assert.NotContains(t, rec.Doc, AttrPartitionKey)

	out, err = store.Bulk(ctx, datastore.OpDelete, []datastore.Record{
		{Key: datastore.Key{PartitionKey: "p", ID: "2"}},
		{Key: datastore.Key{PartitionKey: "p", ID: "2"}},
	})
	require.NoError(t, err)
	assert.True(t, out[0].Applied)
	assert.False(t, out[1].Applied)

	rec, err = store.Get(ctx, datastore.Key{PartitionKey: "p", ID: "2"})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_UpsertResubmitsUnprocessed(t *testing.T) {
	store, client := newTestStore(t)
	client.unprocessed = 2

	seed(t, store, "p", 30)
	assert.Len(t, client.items, 30)
	// 25 + 5 records, the first group resubmitted twice
	assert.Equal(t, 4, client.batchCalls)
}

func TestStore_UpsertUnprocessedExhausted(t *testing.T) {
	store, client := newTestStore(t)
	client.unprocessed = maxUnprocessedTries

	out, err := store.Bulk(context.Background(), datastore.OpUpsert, []datastore.Record{storetest.Record("p", "1", 1)})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err), "got %v", err)
	assert.False(t, out[0].Applied)
}

func TestStore_UpsertDuplicateKeys(t *testing.T) {
	ctx := context.Background()
	store, client := newTestStore(t)

	recs := []datastore.Record{storetest.Record("p", "a", 1), storetest.Record("p", "b", 2), storetest.Record("p", "a", 3)}
	for i := 0; i < 25; i++ {
		recs = append(recs, storetest.Record("p", fmt.Sprintf("id-%d", i), i))
	}
	recs = append(recs, storetest.Record("p", "b", 4))

	out, err := store.Bulk(ctx, datastore.OpUpsert, recs)
	require.NoError(t, err)
	for i, o := range out {
		assert.True(t, o.Applied, "record %d", i)
	}
	assert.Len(t, client.items, 27)
	assert.Equal(t, 2, client.batchCalls)

	rec, err := store.Get(ctx, datastore.Key{PartitionKey: "p", ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), rec.Doc["n"])
	rec, err = store.Get(ctx, datastore.Key{PartitionKey: "p", ID: "b"})
	require.NoError(t, err)
	assert.Equal(t, json.Number("4"), rec.Doc["n"])
}

func TestStore_ConditionFailed(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	seed(t, store, "p", 1)

	item, err := marshalRecord(storetest.Record("p", "id-0", 5))
	require.NoError(t, err)
	err = store.putIf(ctx, datastore.OpInsert, item, "attribute_not_exists(#pk)")
	require.Error(t, err)
	assert.True(t, errors.IsConditionFailed(err))

	var cfe *errors.ConditionFailedError
	require.True(t, errors.As(err, &cfe))
	assert.Equal(t, "insert", cfe.Operation)

	item, err = marshalRecord(storetest.Record("p", "id-9", 9))
	require.NoError(t, err)
	err = store.putIf(ctx, datastore.OpUpdate, item, "attribute_exists(#pk)")
	assert.True(t, errors.IsConditionFailed(err))
}

func TestStore_ReservedField(t *testing.T) {
	store, _ := newTestStore(t)
	rec := storetest.Record("p", "1", 1)
	rec.Doc["GSI1PK"] = "x"
	_, err := store.Bulk(context.Background(), datastore.OpInsert, []datastore.Record{rec})
	assert.True(t, errors.IsValidationError(err))
}

func TestStore_NativePaging(t *testing.T) {
	store, client := newTestStore(t)
	seed(t, store, "p", 5)
	seed(t, store, "other", 3)
	client.queryInputs = nil

	q, err := query.New().InPartition("p").Skip(1).Take(3).Build()
	require.NoError(t, err)
	recs := drain(t, store, q)

	require.Len(t, recs, 3)
	assert.Equal(t, "id-1", recs[0].Key.ID)
	assert.Equal(t, "id-3", recs[2].Key.ID)
	assert.Len(t, client.queryInputs, 2, "paging stops once take is satisfied")
	assert.True(t, *client.queryInputs[0].ConsistentRead)
}

func TestStore_NativeDescending(t *testing.T) {
	store, _ := newTestStore(t)
	seed(t, store, "p", 4)

	q, err := query.New().InPartition("p").OrderByDescending(query.FieldID).Build()
	require.NoError(t, err)
	recs := drain(t, store, q)
	require.Len(t, recs, 4)
	assert.Equal(t, "id-3", recs[0].Key.ID)
}

func TestStore_SortedScan(t *testing.T) {
	store, client := newTestStore(t)
	seed(t, store, "a", 3)
	seed(t, store, "b", 3)

	q, err := query.New().OrderByDescending("n").ThenBy(query.FieldPartitionKey).Take(4).Build()
	require.NoError(t, err)
	recs := drain(t, store, q)

	require.Len(t, recs, 4)
	assert.Equal(t, datastore.Key{PartitionKey: "a", ID: "id-2"}, recs[0].Key)
	assert.Equal(t, datastore.Key{PartitionKey: "b", ID: "id-2"}, recs[1].Key)
	assert.Equal(t, datastore.Key{PartitionKey: "a", ID: "id-1"}, recs[2].Key)
	assert.Len(t, client.scanInputs, 3, "every page is read before sorting")
}

func TestStore_ResidualFilter(t *testing.T) {
	store, _ := newTestStore(t)
	seed(t, store, "p", 4)

	recs := drain(t, store, query.Where(query.Field("even").Gte(true)))
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, true, r.Doc["even"])
	}

	n, err := store.Count(context.Background(), query.Where(query.Field("even").Gte(true)))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestStore_Count(t *testing.T) {
	store, client := newTestStore(t)
	seed(t, store, "p", 5)

	n, err := store.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	for _, in := range client.scanInputs {
		assert.Equal(t, types.SelectCount, in.Select)
	}

	q, err := query.New().InPartition("p").Build()
	require.NoError(t, err)
	n, err = store.Count(context.Background(), q)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestStore_ResolveKeys(t *testing.T) {
	store, client := newTestStore(t)
	_, err := store.Bulk(context.Background(), datastore.OpUpsert, []datastore.Record{
		storetest.Record("p1", "x", 1), storetest.Record("p2", "x", 2), storetest.Record("p1", "y", 3),
	})
	require.NoError(t, err)

	keys, err := store.ResolveKeys(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []datastore.Key{{PartitionKey: "p1", ID: "x"}, {PartitionKey: "p2", ID: "x"}}, keys)
	require.NotEmpty(t, client.queryInputs)
	assert.Equal(t, KeyIndex.IndexName, aws.ToString(client.queryInputs[0].IndexName))
}

func TestStore_DeleteAll(t *testing.T) {
	store, client := newTestStore(t)
	seed(t, store, "p", 30)
	require.NoError(t, store.DeleteAll(context.Background()))
	assert.Empty(t, client.items)
}

func TestStore_EnsureContainer(t *testing.T) {
	ctx := context.Background()

	t.Run("Exists", func(t *testing.T) {
		store, client := newTestStore(t)
		require.NoError(t, store.EnsureContainer(ctx))
		assert.Nil(t, client.created)
	})

	t.Run("MissingWithoutCreate", func(t *testing.T) {
		store, client := newTestStore(t)
		client.tableExists = false
		err := store.EnsureContainer(ctx)
		assert.True(t, errors.IsFatal(err), "got %v", err)
	})

	t.Run("Create", func(t *testing.T) {
		client := newFakeClient()
		client.tableExists = false
		store := New(client, "items", WithAllowCreate(true), WithTableWait(time.Second))

		require.NoError(t, store.EnsureContainer(ctx))
		require.NotNil(t, client.created)
		require.Len(t, client.created.GlobalSecondaryIndexes, 1)
		assert.Equal(t, KeyIndex.IndexName, aws.ToString(client.created.GlobalSecondaryIndexes[0].IndexName))
		assert.Equal(t, types.BillingModePayPerRequest, client.created.BillingMode)
	})
}

func TestStore_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		fatal     bool
		transient bool
	}{
		{"throughput", &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}, false, true},
		{"throttling", &smithy.GenericAPIError{Code: "ThrottlingException"}, false, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDeniedException"}, true, false},
		{"missing table", &types.ResourceNotFoundException{}, true, false},
		{"other", fmt.Errorf("connection reset"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, client := newTestStore(t)
			client.err = tt.err

			_, err := store.Get(context.Background(), datastore.Key{PartitionKey: "p", ID: "1"})
			require.Error(t, err)
			assert.True(t, errors.IsStoreUnavailable(err))
			assert.Equal(t, tt.fatal, errors.IsFatal(err))
			assert.Equal(t, tt.transient, errors.IsTransient(err))
		})
	}
}

func TestStore_Closed(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Close())
	_, err := store.Count(context.Background(), nil)
	assert.True(t, errors.IsFatal(err))
}

func TestStore_FilterSemantics(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	seed(t, store, "p", 5)

	tagged := storetest.Record("p", "id-0", 0)
	tagged.Doc["tag"] = "x"
	null := storetest.Record("p", "id-1", 1)
	null.Doc["tag"] = nil
	_, err := store.Bulk(ctx, datastore.OpUpsert, []datastore.Record{tagged, null})
	require.NoError(t, err)

	count := func(expr query.Expr) int64 {
		t.Helper()
		n, err := store.Count(ctx, query.Where(expr))
		require.NoError(t, err)
		return n
	}

	assert.EqualValues(t, 4, count(query.Field("tag").Ne("x")), "missing and null differ from x")
	assert.EqualValues(t, 4, count(query.Field("tag").Eq(nil)), "null matches missing and explicit null")
	assert.EqualValues(t, 1, count(query.Field("tag").Ne(nil)))
	assert.EqualValues(t, 0, count(query.Field("n").Gt("0")), "strings never compare with numbers")
	assert.EqualValues(t, 2, count(query.ID().In("id-1", "id-3", "nope")))
	assert.EqualValues(t, 5, count(query.Field("tag").In("x", nil)), "null in the list matches missing")
}

func TestStore_InSplitsOperands(t *testing.T) {
	store, _ := newTestStore(t)
	seed(t, store, "p", 150)

	values := make([]any, 0, 151)
	for i := 0; i < 150; i++ {
		values = append(values, i)
	}
	values = append(values, 1000)
	expr := query.Field("n").In(values...)

	plan, err := Translator{Table: "items"}.Translate(query.Where(expr))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(*plan.Params.FilterExpression, " IN ("))

	n, err := store.Count(context.Background(), query.Where(expr))
	require.NoError(t, err)
	assert.EqualValues(t, 150, n)
}

func TestStore_SortKeyRange(t *testing.T) {
	store, client := newTestStore(t)
	seed(t, store, "p", 5)
	seed(t, store, "q", 5)

	q, err := query.New().InPartition("p").Where(query.ID().Gte("id-3")).Build()
	require.NoError(t, err)
	client.queryInputs = nil
	recs := drain(t, store, q)
	require.Len(t, recs, 2)
	assert.Equal(t, "id-3", recs[0].Key.ID)
	assert.Equal(t, "id-4", recs[1].Key.ID)
	assert.Contains(t, aws.ToString(client.queryInputs[0].KeyConditionExpression), "#sk >=")

	q, err = query.New().InPartition("q").Where(query.ID().Lt("id-2")).OrderByDescending(query.FieldID).Build()
	require.NoError(t, err)
	recs = drain(t, store, q)
	require.Len(t, recs, 2)
	assert.Equal(t, "id-1", recs[0].Key.ID)
	assert.Equal(t, "id-0", recs[1].Key.ID)
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) datastore.DataStore {
		store, _ := newTestStore(t)
		return store
	})
}
