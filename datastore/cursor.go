/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"context"
)

// Cursor yields query results one record at a time. A cursor is single-pass
// and must not be shared between goroutines.
type Cursor interface {
	// Next returns the next record. ok is false once the cursor is exhausted.
	Next(ctx context.Context) (rec Record, ok bool, err error)
	Close() error
}

// SliceCursor serves records that are already in memory.
type SliceCursor struct {
	records []Record
	pos     int
}

// NewSliceCursor returns a cursor over records with skip and take applied.
// A zero take means no limit.
func NewSliceCursor(records []Record, skip, take int) *SliceCursor {
	if skip >= len(records) {
		records = nil
	} else {
		records = records[skip:]
	}
	if take > 0 && take < len(records) {
		records = records[:take]
	}
	return &SliceCursor{records: records}
}

func (c *SliceCursor) Next(ctx context.Context) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	if c.pos >= len(c.records) {
		return Record{}, false, nil
	}
	r := c.records[c.pos]
	c.pos++
	return r, true, nil
}

func (c *SliceCursor) Close() error {
	c.records = nil
	return nil
}

// PageFunc fetches the page after token. A nil token starts from the
// beginning; a nil next token ends the sequence.
type PageFunc func(ctx context.Context, token any) (records []Record, next any, err error)

// PagedCursor fetches pages on demand and applies skip and take while
// iterating, so it never requests a page it does not need.
type PagedCursor struct {
	fetch   PageFunc
	token   any
	done    bool
	buf     []Record
	skip    int
	take    int
	yielded int
	onClose func() error
}

// NewPagedCursor returns a cursor that pulls pages from fetch.
func NewPagedCursor(fetch PageFunc, skip, take int) *PagedCursor {
	return &PagedCursor{fetch: fetch, skip: skip, take: take}
}

// OnClose registers a function run once when the cursor is closed.
func (c *PagedCursor) OnClose(f func() error) *PagedCursor {
	c.onClose = f
	return c
}

func (c *PagedCursor) Next(ctx context.Context) (Record, bool, error) {
	for {
		if c.take > 0 && c.yielded >= c.take {
			return Record{}, false, nil
		}
		if len(c.buf) > 0 {
			r := c.buf[0]
			c.buf = c.buf[1:]
			if c.skip > 0 {
				c.skip--
				continue
			}
			c.yielded++
			return r, true, nil
		}
		if c.done {
			return Record{}, false, nil
		}
		if err := ctx.Err(); err != nil {
			return Record{}, false, err
		}
		records, next, err := c.fetch(ctx, c.token)
		if err != nil {
			return Record{}, false, err
		}
		c.buf = records
		c.token = next
		if next == nil {
			c.done = true
		}
	}
}

func (c *PagedCursor) Close() error {
	c.done = true
	c.buf = nil
	if c.onClose != nil {
		f := c.onClose
		c.onClose = nil
		return f()
	}
	return nil
}

// Drain reads every remaining record from cur and closes it.
func Drain(ctx context.Context, cur Cursor) ([]Record, error) {
	defer cur.Close()
	var out []Record
	for {
		r, ok, err := cur.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, r)
	}
}
