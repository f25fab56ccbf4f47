/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/suparena/entityrepo/errors"
)

// Document is the JSON object form of an entity. Numbers are kept as
// json.Number so integers survive round trips unchanged.
type Document map[string]any

// EncodeDocument converts v into a Document. v must encode to a JSON object.
func EncodeDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewValidationError("entity", fmt.Sprintf("cannot encode %T: %v", v, err))
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		return nil, errors.NewValidationError("entity", fmt.Sprintf("%T does not encode to a JSON object", v))
	}
	return doc, nil
}

// DecodeDocument parses a JSON object.
func DecodeDocument(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode document: not an object")
	}
	return doc, nil
}

// Bytes returns the JSON encoding of the document.
func (d Document) Bytes() ([]byte, error) {
	return json.Marshal(d)
}

// Decode fills out from the document.
func (d Document) Decode(out any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	return nil
}
