/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// fakeClient keeps items in memory. Key conditions, filters and put
// conditions are evaluated with compileCondition; pages are cut before
// filtering like DynamoDB does.
type fakeClient struct {
	mu          sync.Mutex
	items       map[string]map[string]types.AttributeValue
	tableExists bool
	pageSize    int

	// unprocessed makes the next n BatchWriteItem calls hand back their last
	// request unprocessed.
	unprocessed int
	// err fails every data call when set.
	err error

	queryInputs []*sdk.QueryInput
	scanInputs  []*sdk.ScanInput
	batchCalls  int
	created     *sdk.CreateTableInput
}

var _ Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		items:       make(map[string]map[string]types.AttributeValue),
		tableExists: true,
		pageSize:    2,
	}
}

func str(av types.AttributeValue) string {
	if v, ok := av.(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return str(item[AttrPartitionKey]) + "\x00" + str(item[AttrSortKey])
}

func (f *fakeClient) GetItem(ctx context.Context, in *sdk.GetItemInput, _ ...func(*sdk.Options)) (*sdk.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &sdk.GetItemOutput{Item: maps.Clone(f.items[itemKey(in.Key)])}, nil
}

func (f *fakeClient) PutItem(ctx context.Context, in *sdk.PutItemInput, _ ...func(*sdk.Options)) (*sdk.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	k := itemKey(in.Item)
	cond, err := compileCondition(aws.ToString(in.ConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, validationError(err.Error())
	}
	current := f.items[k]
	if current == nil {
		current = fakeItem{}
	}
	if !cond(current) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	f.items[k] = maps.Clone(in.Item)
	return &sdk.PutItemOutput{}, nil
}

func (f *fakeClient) DeleteItem(ctx context.Context, in *sdk.DeleteItemInput, _ ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	k := itemKey(in.Key)
	old := f.items[k]
	delete(f.items, k)
	return &sdk.DeleteItemOutput{Attributes: old}, nil
}

func (f *fakeClient) BatchWriteItem(ctx context.Context, in *sdk.BatchWriteItemInput, _ ...func(*sdk.Options)) (*sdk.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.err != nil {
		return nil, f.err
	}
	for _, reqs := range in.RequestItems {
		seen := make(map[string]bool, len(reqs))
		for _, r := range reqs {
			var k string
			if r.PutRequest != nil {
				k = itemKey(r.PutRequest.Item)
			} else {
				k = itemKey(r.DeleteRequest.Key)
			}
			if seen[k] {
				return nil, validationError("Provided list of item keys contains duplicates")
			}
			seen[k] = true
		}
	}
	out := &sdk.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		if f.unprocessed > 0 && len(reqs) > 0 {
			f.unprocessed--
			out.UnprocessedItems[table] = reqs[len(reqs)-1:]
			reqs = reqs[:len(reqs)-1]
		}
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				f.items[itemKey(r.PutRequest.Item)] = maps.Clone(r.PutRequest.Item)
			case r.DeleteRequest != nil:
				delete(f.items, itemKey(r.DeleteRequest.Key))
			}
		}
	}
	return out, nil
}

func (f *fakeClient) Query(ctx context.Context, in *sdk.QueryInput, _ ...func(*sdk.Options)) (*sdk.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryInputs = append(f.queryInputs, in)
	if f.err != nil {
		return nil, f.err
	}

	keyCond, err := compileCondition(aws.ToString(in.KeyConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, validationError(err.Error())
	}
	var matched []map[string]types.AttributeValue
	for _, item := range f.sorted() {
		if keyCond(item) {
			matched = append(matched, item)
		}
	}
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		slices.Reverse(matched)
	}

	page, next := f.paginate(matched, in.ExclusiveStartKey)
	page, err = filterPage(page, in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	out := &sdk.QueryOutput{Count: int32(len(page)), LastEvaluatedKey: next}
	if in.Select != types.SelectCount {
		out.Items = page
	}
	return out, nil
}

func (f *fakeClient) Scan(ctx context.Context, in *sdk.ScanInput, _ ...func(*sdk.Options)) (*sdk.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanInputs = append(f.scanInputs, in)
	if f.err != nil {
		return nil, f.err
	}
	page, next := f.paginate(f.sorted(), in.ExclusiveStartKey)
	page, err := filterPage(page, in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	out := &sdk.ScanOutput{Count: int32(len(page)), LastEvaluatedKey: next}
	if in.Select != types.SelectCount {
		out.Items = page
	}
	return out, nil
}

func filterPage(page []map[string]types.AttributeValue, filter *string, names map[string]string, values map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	pred, err := compileCondition(aws.ToString(filter), names, values)
	if err != nil {
		return nil, validationError(err.Error())
	}
	kept := page[:0:0]
	for _, item := range page {
		if pred(item) {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

func validationError(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}

func (f *fakeClient) DescribeTable(ctx context.Context, in *sdk.DescribeTableInput, _ ...func(*sdk.Options)) (*sdk.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.tableExists {
		return nil, &types.ResourceNotFoundException{}
	}
	return &sdk.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeClient) CreateTable(ctx context.Context, in *sdk.CreateTableInput, _ ...func(*sdk.Options)) (*sdk.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = in
	f.tableExists = true
	return &sdk.CreateTableOutput{}, nil
}

func (f *fakeClient) sorted() []map[string]types.AttributeValue {
	keys := slices.Sorted(maps.Keys(f.items))
	out := make([]map[string]types.AttributeValue, len(keys))
	for i, k := range keys {
		out[i] = maps.Clone(f.items[k])
	}
	return out
}

// paginate returns the page after start and the key of its last item when
// more items follow.
func (f *fakeClient) paginate(items []map[string]types.AttributeValue, start map[string]types.AttributeValue) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	from := 0
	if start != nil {
		for i, item := range items {
			if itemKey(item) == itemKey(start) {
				from = i + 1
				break
			}
		}
	}
	end := min(from+f.pageSize, len(items))
	page := items[from:end]
	if end >= len(items) || len(page) == 0 {
		return page, nil
	}
	last := page[len(page)-1]
	return page, map[string]types.AttributeValue{
		AttrPartitionKey: last[AttrPartitionKey],
		AttrSortKey:      last[AttrSortKey],
	}
}
