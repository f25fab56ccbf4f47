/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"context"

	"github.com/suparena/entityrepo/datastore"
)

// Cursor yields the entities of a Find. It is single-pass and must not be
// used from more than one goroutine.
type Cursor[T Entity] struct {
	cur datastore.Cursor
}

// Next returns the next entity. ok is false once the cursor is exhausted.
func (c *Cursor[T]) Next(ctx context.Context) (entity T, ok bool, err error) {
	r, ok, err := c.cur.Next(ctx)
	if err != nil || !ok {
		return entity, false, err
	}
	entity, err = fromRecord[T](r)
	if err != nil {
		return entity, false, err
	}
	return entity, true, nil
}

// All reads the remaining entities and closes the cursor.
func (c *Cursor[T]) All(ctx context.Context) ([]T, error) {
	defer c.Close()
	var out []T
	for {
		e, ok, err := c.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, e)
	}
}

func (c *Cursor[T]) Close() error {
	return c.cur.Close()
}
