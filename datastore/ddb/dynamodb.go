/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/query"
	"github.com/suparena/entityrepo/storagemodels"
)

const (
	storeName = "dynamodb"

	// DefaultMaxBatchSize is the number of records per Bulk call.
	DefaultMaxBatchSize = 100
	// DefaultMaxParallelism bounds concurrent Bulk calls.
	DefaultMaxParallelism = 4
	// DefaultPartitionKey is used for entities without a partition key.
	DefaultPartitionKey = "_default"

	// BatchWriteItem accepts at most 25 requests.
	maxBatchWrite       = 25
	maxUnprocessedTries = 8
	defaultTableWait    = 5 * time.Minute
)

// Store keeps one collection in a DynamoDB table keyed by PK (partition key)
// and SK (id), with a GSI from id back to partition key.
type Store struct {
	client      Client
	table       string
	allowCreate bool
	tableWait   time.Duration
	backoff     time.Duration
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
			s.logger = logger.With("component", "dynamodb", "table", s.table)
		}
	}
}

// WithAllowCreate lets EnsureContainer create a missing table.
func WithAllowCreate(allow bool) Option {
	return func(s *Store) { s.allowCreate = allow }
}

// WithTableWait bounds how long EnsureContainer waits for a new table.
func WithTableWait(d time.Duration) Option {
	return func(s *Store) { s.tableWait = d }
}

// WithUnprocessedBackoff sets the base delay before resubmitting
// unprocessed batch writes.
func WithUnprocessedBackoff(d time.Duration) Option {
	return func(s *Store) { s.backoff = d }
}

// New returns a store for table using client.
func New(client Client, table string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		table:     table,
		tableWait: defaultTableWait,
		backoff:   50 * time.Millisecond,
		logger:    slog.Default().With("component", "dynamodb", "table", table),
		caps: datastore.Capabilities{
			MaxBatchSize:        DefaultMaxBatchSize,
			MaxParallelism:      DefaultMaxParallelism,
			DefaultPartitionKey: DefaultPartitionKey,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a client from opts and returns a store for table.
func Open(ctx context.Context, opts ClientOptions, table string, storeOpts ...Option) (*Store, error) {
	client, err := NewClient(ctx, opts)
	if err != nil {
		return nil, errors.NewFatalStoreError(storeName, "open", err)
	}
	s := New(client, table, storeOpts...)
	s.logger.Debug("client initialized", "region", opts.Region, "endpoint", opts.Endpoint)
	return s, nil
}

func (s *Store) Name() string { return storeName }

func (s *Store) Capabilities() datastore.Capabilities { return s.caps }

// EnsureContainer verifies the table exists, creating it and waiting until
// it is active when allowed.
func (s *Store) EnsureContainer(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.client.DescribeTable(ctx, &sdk.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	if !isTableMissing(err) {
		return wrap("ensure", err)
	}
	if !s.allowCreate {
		return errors.NewFatalStoreError(storeName, "ensure",
			fmt.Errorf("table %q does not exist and creation is disabled", s.table))
	}

	s.logger.Info("creating table")
	_, err = s.client.CreateTable(ctx, createTableInput(s.table))
	if err != nil && !isTableInUse(err) {
		return wrap("ensure", err)
	}
	waiter := sdk.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &sdk.DescribeTableInput{TableName: aws.String(s.table)}, s.tableWait); err != nil {
		return wrap("ensure", err)
	}
	return nil
}

func createTableInput(table string) *sdk.CreateTableInput {
	return &sdk.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(AttrPartitionKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(AttrSortKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(KeyIndex.PartitionKeyName), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(KeyIndex.SortKeyName), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(AttrPartitionKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(AttrSortKey), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(KeyIndex.IndexName),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(KeyIndex.PartitionKeyName), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(KeyIndex.SortKeyName), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly},
		}},
	}
}

// Get retrieves a record with a consistent read.
func (s *Store) Get(ctx context.Context, key datastore.Key) (*datastore.Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &sdk.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttributes(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, wrap("get", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	rec, err := unmarshalRecord(out.Item)
	if err != nil {
		return nil, wrap("get", err)
	}
	return &rec, nil
}

// ResolveKeys queries the key index once per id. Index reads are
// eventually consistent.
func (s *Store) ResolveKeys(ctx context.Context, ids []string) ([]datastore.Key, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var keys []datastore.Key
	for _, id := range ids {
		params := QueryGSI(s.table).WithPartitionKey(id).Build()
		err := s.eachPage(ctx, params, func(items []map[string]types.AttributeValue) error {
			for _, item := range items {
				k, err := keyOf(item)
				if err != nil {
					return err
				}
				keys = append(keys, k)
			}
			return nil
		})
		if err != nil {
			return nil, wrap("resolve", err)
		}
	}
	return keys, nil
}

// Query returns a lazy cursor. Natively ordered plans read one page per
// fetch and stop once take is satisfied; others read every page on the
// first fetch and sort in memory.
func (s *Store) Query(ctx context.Context, q *query.Query) (datastore.Cursor, error) {
	plan, err := Translator{Table: s.table}.Translate(q)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if plan.Native {
		fetch := func(ctx context.Context, token any) ([]datastore.Record, any, error) {
			params := plan.Params
			if token != nil {
				params.ExclusiveStartKey = token.(map[string]types.AttributeValue)
			}
			items, next, err := s.page(ctx, &params)
			if err != nil {
				return nil, nil, wrap("query", err)
			}
			recs, err := s.decode(items, plan.Residual)
			if err != nil {
				return nil, nil, wrap("query", err)
			}
			if len(next) == 0 {
				return recs, nil, nil
			}
			return recs, next, nil
		}
		return datastore.NewPagedCursor(fetch, plan.Skip, plan.Take), nil
	}

	fetch := func(ctx context.Context, _ any) ([]datastore.Record, any, error) {
		var all []datastore.Record
		params := plan.Params
		err := s.eachPage(ctx, &params, func(items []map[string]types.AttributeValue) error {
			recs, err := s.decode(items, plan.Residual)
			all = append(all, recs...)
			return err
		})
		if err != nil {
			return nil, nil, wrap("query", err)
		}
		datastore.SortRecords(all, plan.Order)
		return all, nil, nil
	}
	return datastore.NewPagedCursor(fetch, plan.Skip, plan.Take), nil
}

func (s *Store) decode(items []map[string]types.AttributeValue, residual query.Expr) ([]datastore.Record, error) {
	recs := make([]datastore.Record, 0, len(items))
	for _, item := range items {
		rec, err := unmarshalRecord(item)
		if err != nil {
			return nil, err
		}
		if residual != nil && !query.Evaluate(residual, rec) {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Count sums Select COUNT pages. Plans with residual terms count decoded
// records instead.
func (s *Store) Count(ctx context.Context, q *query.Query) (int64, error) {
	plan, err := Translator{Table: s.table}.Translate(q)
	if err != nil {
		return 0, err
	}
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int64
	params := plan.Params
	if plan.Residual != nil {
		err = s.eachPage(ctx, &params, func(items []map[string]types.AttributeValue) error {
			recs, err := s.decode(items, plan.Residual)
			n += int64(len(recs))
			return err
		})
		if err != nil {
			return 0, wrap("count", err)
		}
		return n, nil
	}

	for {
		var (
			count int32
			next  map[string]types.AttributeValue
		)
		if params.Scan {
			in := params.ScanInput()
			in.Select = types.SelectCount
			out, err := s.client.Scan(ctx, in)
			if err != nil {
				return 0, wrap("count", err)
			}
			count, next = out.Count, out.LastEvaluatedKey
		} else {
			in := params.QueryInput()
			in.Select = types.SelectCount
			out, err := s.client.Query(ctx, in)
			if err != nil {
				return 0, wrap("count", err)
			}
			count, next = out.Count, out.LastEvaluatedKey
		}
		n += int64(count)
		if len(next) == 0 {
			return n, nil
		}
		params.ExclusiveStartKey = next
	}
}

// page runs one Query or Scan call.
func (s *Store) page(ctx context.Context, params *storagemodels.QueryParams) ([]map[string]types.AttributeValue, map[string]types.AttributeValue, error) {
	if params.Scan {
		out, err := s.client.Scan(ctx, params.ScanInput())
		if err != nil {
			return nil, nil, err
		}
		return out.Items, out.LastEvaluatedKey, nil
	}
	out, err := s.client.Query(ctx, params.QueryInput())
	if err != nil {
		return nil, nil, err
	}
	return out.Items, out.LastEvaluatedKey, nil
}

// eachPage calls fn for every page of params.
func (s *Store) eachPage(ctx context.Context, params *storagemodels.QueryParams, fn func([]map[string]types.AttributeValue) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, next, err := s.page(ctx, params)
		if err != nil {
			return err
		}
		if err := fn(items); err != nil {
			return err
		}
		if len(next) == 0 {
			return nil
		}
		params.ExclusiveStartKey = next
	}
}

// Bulk applies op record by record. Inserts and updates are conditional
// puts, upserts go through BatchWriteItem and deletes return the old item
// to tell whether anything was removed. Writes are not transactional:
// on error the outcomes report what was committed.
func (s *Store) Bulk(ctx context.Context, op datastore.Op, records []datastore.Record) ([]datastore.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(records) > s.caps.MaxBatchSize {
		return nil, errors.NewValidationError("records",
			fmt.Sprintf("%d records exceed the batch limit of %d", len(records), s.caps.MaxBatchSize))
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	outcomes := make([]datastore.Outcome, len(records))
	for i, r := range records {
		outcomes[i].Key = r.Key
	}

	switch op {
	case datastore.OpInsert:
		return outcomes, s.conditionalPut(ctx, op, records, outcomes, "attribute_not_exists(#pk)")
	case datastore.OpUpdate:
		return outcomes, s.conditionalPut(ctx, op, records, outcomes, "attribute_exists(#pk)")
	case datastore.OpUpsert:
		return outcomes, s.batchPut(ctx, records, outcomes)
	case datastore.OpDelete:
		for i, r := range records {
			out, err := s.client.DeleteItem(ctx, &sdk.DeleteItemInput{
				TableName:    aws.String(s.table),
				Key:          keyAttributes(r.Key),
				ReturnValues: types.ReturnValueAllOld,
			})
			if err != nil {
				return outcomes, wrap(op.String(), err)
			}
			outcomes[i].Applied = len(out.Attributes) > 0
		}
		return outcomes, nil
	}
	return nil, errors.NewValidationError("op", fmt.Sprintf("unsupported operation %d", op))
}

func (s *Store) conditionalPut(ctx context.Context, op datastore.Op, records []datastore.Record, outcomes []datastore.Outcome, cond string) error {
	for i, r := range records {
		item, err := marshalRecord(r)
		if err != nil {
			return err
		}
		err = s.putIf(ctx, op, item, cond)
		if errors.IsConditionFailed(err) {
			continue
		}
		if err != nil {
			return wrap(op.String(), err)
		}
		outcomes[i].Applied = true
	}
	return nil
}

// putIf writes item when cond holds. A failed condition is returned as a
// ConditionFailedError.
func (s *Store) putIf(ctx context.Context, op datastore.Op, item map[string]types.AttributeValue, cond string) error {
	_, err := s.client.PutItem(ctx, &sdk.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String(cond),
		ExpressionAttributeNames: map[string]string{"#pk": AttrPartitionKey},
	})
	if isConditionFailed(err) {
		return errors.NewConditionFailedError(op.String(), cond)
	}
	return err
}

// batchPut writes records in groups of up to 25 distinct keys, resubmitting
// unprocessed items with growing delays. BatchWriteItem rejects repeated
// keys, so a repeated key replaces the earlier request of its group and the
// last write wins.
func (s *Store) batchPut(ctx context.Context, records []datastore.Record, outcomes []datastore.Outcome) error {
	var (
		requests []types.WriteRequest
		members  []int
		slot     = make(map[datastore.Key]int, maxBatchWrite)
	)
	flush := func() error {
		if len(requests) == 0 {
			return nil
		}
		if err := s.batchWrite(ctx, requests); err != nil {
			return wrap(datastore.OpUpsert.String(), err)
		}
		for _, i := range members {
			outcomes[i].Applied = true
		}
		requests, members = nil, nil
		clear(slot)
		return nil
	}

	for i, r := range records {
		item, err := marshalRecord(r)
		if err != nil {
			return err
		}
		req := types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}
		if j, ok := slot[r.Key]; ok {
			requests[j] = req
		} else {
			if len(requests) == maxBatchWrite {
				if err := flush(); err != nil {
					return err
				}
			}
			slot[r.Key] = len(requests)
			requests = append(requests, req)
		}
		members = append(members, i)
	}
	return flush()
}

func (s *Store) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: requests}
	for attempt := 0; ; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &sdk.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		if len(out.UnprocessedItems[s.table]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		if attempt+1 >= maxUnprocessedTries {
			return fmt.Errorf("%w: %d items unprocessed after %d attempts",
				errors.ErrThrottled, len(pending[s.table]), maxUnprocessedTries)
		}
		s.logger.Debug("resubmitting unprocessed items", "count", len(pending[s.table]), "attempt", attempt+1)

		delay := s.backoff * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// DeleteAll scans the table keys and deletes them in batches.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	params := &storagemodels.QueryParams{
		TableName:                s.table,
		Scan:                     true,
		ProjectionExpression:     aws.String("#pk, #sk"),
		ExpressionAttributeNames: map[string]string{"#pk": AttrPartitionKey, "#sk": AttrSortKey},
	}
	deleted := 0
	err := s.eachPage(ctx, params, func(items []map[string]types.AttributeValue) error {
		for start := 0; start < len(items); start += maxBatchWrite {
			end := min(start+maxBatchWrite, len(items))
			requests := make([]types.WriteRequest, 0, end-start)
			for _, item := range items[start:end] {
				requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						AttrPartitionKey: item[AttrPartitionKey],
						AttrSortKey:      item[AttrSortKey],
					},
				}})
			}
			if err := s.batchWrite(ctx, requests); err != nil {
				return err
			}
			deleted += len(requests)
		}
		return nil
	})
	if err != nil {
		return wrap("deleteAll", err)
	}
	s.logger.Debug("table cleared", "deleted", deleted)
	return nil
}

// Close marks the store closed. The client holds no resources to release.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return errors.NewFatalStoreError(storeName, "access", errors.ErrClosed)
	}
	return nil
}
