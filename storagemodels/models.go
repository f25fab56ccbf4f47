/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// QueryParams defines parameters for a DynamoDB Query or Scan operation.
type QueryParams struct {
	// TableName is the DynamoDB table name.
	TableName string
	// Scan selects a table scan instead of a partition query. Scans have no
	// key condition.
	Scan bool
	// KeyConditionExpression is the primary condition for the query.
	KeyConditionExpression string
	// FilterExpression is an optional filter expression.
	FilterExpression *string
	// ExpressionAttributeNames maps #name placeholders to attribute names.
	ExpressionAttributeNames map[string]string
	// ExpressionAttributeValues contains the values for expression placeholders.
	ExpressionAttributeValues map[string]types.AttributeValue
	// ProjectionExpression limits the returned attributes.
	ProjectionExpression *string
	// IndexName is optional if you wish to query a secondary index.
	IndexName *string
	// Limit defines an optional limit per query page.
	Limit *int32
	// ExclusiveStartKey for pagination
	ExclusiveStartKey map[string]types.AttributeValue
	// ScanIndexForward specifies the order for index traversal.
	// If true (default), traversal is in ascending order.
	// If false, traversal is in descending order.
	ScanIndexForward *bool
	// ConsistentRead requests strongly consistent reads on the base table.
	ConsistentRead *bool
}

// QueryInput builds the input of a Query call.
func (p *QueryParams) QueryInput() *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:                 aws.String(p.TableName),
		KeyConditionExpression:    aws.String(p.KeyConditionExpression),
		FilterExpression:          p.FilterExpression,
		ExpressionAttributeNames:  emptyToNil(p.ExpressionAttributeNames),
		ExpressionAttributeValues: emptyToNil(p.ExpressionAttributeValues),
		ProjectionExpression:      p.ProjectionExpression,
		IndexName:                 p.IndexName,
		Limit:                     p.Limit,
		ExclusiveStartKey:         p.ExclusiveStartKey,
		ScanIndexForward:          p.ScanIndexForward,
		ConsistentRead:            p.ConsistentRead,
	}
}

// ScanInput builds the input of a Scan call.
func (p *QueryParams) ScanInput() *dynamodb.ScanInput {
	return &dynamodb.ScanInput{
		TableName:                 aws.String(p.TableName),
		FilterExpression:          p.FilterExpression,
		ExpressionAttributeNames:  emptyToNil(p.ExpressionAttributeNames),
		ExpressionAttributeValues: emptyToNil(p.ExpressionAttributeValues),
		ProjectionExpression:      p.ProjectionExpression,
		IndexName:                 p.IndexName,
		Limit:                     p.Limit,
		ExclusiveStartKey:         p.ExclusiveStartKey,
		ConsistentRead:            p.ConsistentRead,
	}
}

// DynamoDB rejects empty expression maps.
func emptyToNil[V any](m map[string]V) map[string]V {
	if len(m) == 0 {
		return nil
	}
	return m
}
