/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

// Table layout. Records are keyed by partition key and id; the key index
// inverts them so an id can be found without knowing its partition.
const (
	AttrPartitionKey = "PK"
	AttrSortKey      = "SK"
)

// GSIConfig holds the configuration for GSI key mappings
type GSIConfig struct {
	// IndexName is the actual GSI name in DynamoDB (e.g., "GSI1")
	IndexName string
	// PartitionKeyName is the partition key attribute of the GSI
	PartitionKeyName string
	// SortKeyName is the sort key attribute of the GSI
	SortKeyName string
}

// KeyIndex maps record ids (GSI1PK) to their partition keys (GSI1SK).
var KeyIndex = GSIConfig{
	IndexName:        "GSI1",
	PartitionKeyName: "GSI1PK",
	SortKeyName:      "GSI1SK",
}

// reserved reports whether name is one of the key attributes the store
// writes next to the document fields.
func reserved(name string) bool {
	switch name {
	case AttrPartitionKey, AttrSortKey, KeyIndex.PartitionKeyName, KeyIndex.SortKeyName:
		return true
	}
	return false
}
