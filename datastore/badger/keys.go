/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package badger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
)

// Key prefixes. Components are separated by a zero byte so a partition
// prefix never matches a longer partition key.
const (
	recordPrefix   = "rec:"
	idIndexPrefix  = "ix:"
	sequencePrefix = "seq:"
	sep            = "\x00"
	seqLen         = 8
)

// makeCollectionPrefix returns the prefix of every record of a collection.
func makeCollectionPrefix(collection string) []byte {
	return []byte(recordPrefix + collection + sep)
}

// makePartitionPrefix returns the prefix of every record of a partition.
func makePartitionPrefix(collection, pk string) []byte {
	return []byte(recordPrefix + collection + sep + pk + sep)
}

// makeRecordKey generates the primary key of a record.
// Format: rec:collection\x00pk\x00id
func makeRecordKey(collection string, key datastore.Key) []byte {
	return []byte(recordPrefix + collection + sep + key.PartitionKey + sep + key.ID)
}

// makeIDIndexPrefix returns the prefix of every index entry for collection.
func makeIDIndexPrefix(collection string) []byte {
	return []byte(idIndexPrefix + collection + sep)
}

// makeIDKey generates the id index entry of a record.
// Format: ix:collection\x00id\x00pk
func makeIDKey(collection string, key datastore.Key) []byte {
	return []byte(idIndexPrefix + collection + sep + key.ID + sep + key.PartitionKey)
}

// makePartialIDKey returns the prefix of the index entries of an id.
func makePartialIDKey(collection, id string) []byte {
	return []byte(idIndexPrefix + collection + sep + id + sep)
}

func makeSequenceName(collection string) string {
	return sequencePrefix + collection
}

// parseRecordKey recovers the record key from a primary key.
func parseRecordKey(collection string, raw []byte) (datastore.Key, error) {
	rest, ok := bytes.CutPrefix(raw, makeCollectionPrefix(collection))
	if !ok {
		return datastore.Key{}, fmt.Errorf("key %q outside collection %q", raw, collection)
	}
	pk, id, ok := strings.Cut(string(rest), sep)
	if !ok {
		return datastore.Key{}, fmt.Errorf("malformed record key %q", raw)
	}
	return datastore.Key{PartitionKey: pk, ID: id}, nil
}

func checkKey(key datastore.Key) error {
	if strings.Contains(key.PartitionKey, sep) || strings.Contains(key.ID, sep) {
		return errors.NewValidationError("key", fmt.Sprintf("key %s contains a zero byte", key))
	}
	return nil
}

// encodeValue prefixes the JSON document with its insertion sequence.
func encodeValue(seq uint64, doc datastore.Document) ([]byte, error) {
	raw, err := doc.Bytes()
	if err != nil {
		return nil, errors.NewValidationError("document", err.Error())
	}
	buf := make([]byte, seqLen, seqLen+len(raw))
	binary.BigEndian.PutUint64(buf, seq)
	return append(buf, raw...), nil
}

func decodeValue(val []byte) (uint64, datastore.Document, error) {
	if len(val) < seqLen {
		return 0, nil, fmt.Errorf("value too short: %d bytes", len(val))
	}
	seq := binary.BigEndian.Uint64(val[:seqLen])
	doc, err := datastore.DecodeDocument(val[seqLen:])
	if err != nil {
		return 0, nil, err
	}
	return seq, doc, nil
}
