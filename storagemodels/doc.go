/*
Package storagemodels defines the request shapes shared by the DynamoDB
translator and store.

QueryParams describes one Query or Scan before paging:

	params := &QueryParams{
	    TableName:              "items",
	    KeyConditionExpression: "#pk = :pk",
	    ExpressionAttributeNames: map[string]string{"#pk": "PK"},
	    ExpressionAttributeValues: map[string]types.AttributeValue{
	        ":pk": &types.AttributeValueMemberS{Value: "tenant-1"},
	    },
	    FilterExpression: aws.String("#f0 >= :v0"),
	}

	out, err := client.Query(ctx, params.QueryInput())
*/
package storagemodels
