/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/storagemodels"
)

// GSIQueryBuilder builds key-only queries against a GSI.
type GSIQueryBuilder struct {
	table   string
	index   GSIConfig
	pkValue string
}

// QueryGSI starts a query on the key index of table.
func QueryGSI(table string) *GSIQueryBuilder {
	return &GSIQueryBuilder{table: table, index: KeyIndex}
}

// WithPartitionKey sets the GSI partition key value
func (q *GSIQueryBuilder) WithPartitionKey(value string) *GSIQueryBuilder {
	q.pkValue = value
	return q
}

// Build constructs the query parameters. Only the table key attributes are
// projected.
func (q *GSIQueryBuilder) Build() *storagemodels.QueryParams {
	return &storagemodels.QueryParams{
		TableName:              q.table,
		IndexName:              aws.String(q.index.IndexName),
		KeyConditionExpression: "#gpk = :gpk",
		ExpressionAttributeNames: map[string]string{
			"#gpk": q.index.PartitionKeyName,
			"#pk":  AttrPartitionKey,
			"#sk":  AttrSortKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":gpk": &types.AttributeValueMemberS{Value: q.pkValue},
		},
		ProjectionExpression: aws.String("#pk, #sk"),
	}
}
