/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
)

// marshalRecord stores the document fields as top-level attributes next to
// the key attributes.
func marshalRecord(r datastore.Record) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, len(r.Doc)+4)
	for name, v := range r.Doc {
		if reserved(name) {
			return nil, errors.NewValidationError(name, "field name is reserved for the table key")
		}
		av, err := toAttributeValue(v)
		if err != nil {
			return nil, errors.NewValidationError(name, err.Error())
		}
		item[name] = av
	}
	for name, v := range keyAttributes(r.Key) {
		item[name] = v
	}
	item[KeyIndex.PartitionKeyName] = &types.AttributeValueMemberS{Value: r.Key.ID}
	item[KeyIndex.SortKeyName] = &types.AttributeValueMemberS{Value: r.Key.PartitionKey}
	return item, nil
}

// unmarshalRecord reverses marshalRecord.
func unmarshalRecord(item map[string]types.AttributeValue) (datastore.Record, error) {
	var rec datastore.Record
	key, err := keyOf(item)
	if err != nil {
		return rec, err
	}
	rec.Key = key
	rec.Doc = make(datastore.Document, len(item))
	for name, av := range item {
		if reserved(name) {
			continue
		}
		v, err := fromAttributeValue(av)
		if err != nil {
			return rec, fmt.Errorf("attribute %q: %w", name, err)
		}
		rec.Doc[name] = v
	}
	return rec, nil
}

func keyAttributes(k datastore.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPartitionKey: &types.AttributeValueMemberS{Value: k.PartitionKey},
		AttrSortKey:      &types.AttributeValueMemberS{Value: k.ID},
	}
}

func keyOf(item map[string]types.AttributeValue) (datastore.Key, error) {
	var k datastore.Key
	if err := attributevalue.Unmarshal(item[AttrPartitionKey], &k.PartitionKey); err != nil {
		return k, fmt.Errorf("item without %s: %w", AttrPartitionKey, err)
	}
	if err := attributevalue.Unmarshal(item[AttrSortKey], &k.ID); err != nil {
		return k, fmt.Errorf("item without %s: %w", AttrSortKey, err)
	}
	return k, nil
}

// toAttributeValue converts a decoded JSON value. attributevalue would
// encode json.Number as a string, so numbers are mapped by hand.
func toAttributeValue(v any) (types.AttributeValue, error) {
	switch x := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}, nil
	case string:
		return &types.AttributeValueMemberS{Value: x}, nil
	case json.Number:
		return &types.AttributeValueMemberN{Value: x.String()}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(x, 10)}, nil
	case float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(x, 'g', -1, 64)}, nil
	case map[string]any:
		m := make(map[string]types.AttributeValue, len(x))
		for k, e := range x {
			av, err := toAttributeValue(e)
			if err != nil {
				return nil, err
			}
			m[k] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case []any:
		l := make([]types.AttributeValue, len(x))
		for i, e := range x {
			av, err := toAttributeValue(e)
			if err != nil {
				return nil, err
			}
			l[i] = av
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	}
	return attributevalue.Marshal(v)
}

// fromAttributeValue converts an attribute to the value DecodeDocument
// would produce for the same JSON.
func fromAttributeValue(av types.AttributeValue) (any, error) {
	switch x := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberBOOL:
		return x.Value, nil
	case *types.AttributeValueMemberS:
		return x.Value, nil
	case *types.AttributeValueMemberN:
		return json.Number(x.Value), nil
	case *types.AttributeValueMemberM:
		m := make(map[string]any, len(x.Value))
		for k, e := range x.Value {
			v, err := fromAttributeValue(e)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case *types.AttributeValueMemberL:
		l := make([]any, len(x.Value))
		for i, e := range x.Value {
			v, err := fromAttributeValue(e)
			if err != nil {
				return nil, err
			}
			l[i] = v
		}
		return l, nil
	case *types.AttributeValueMemberSS:
		l := make([]any, len(x.Value))
		for i, s := range x.Value {
			l[i] = s
		}
		return l, nil
	case *types.AttributeValueMemberNS:
		l := make([]any, len(x.Value))
		for i, s := range x.Value {
			l[i] = json.Number(s)
		}
		return l, nil
	}
	return nil, fmt.Errorf("unsupported attribute type %T", av)
}
