/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package testmodels

import (
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
)

// Item is a plain entity stored in the default partition.
type Item struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	IntData   int             `json:"intData"`
	Category  string          `json:"category,omitempty"`
	CreatedAt strfmt.DateTime `json:"createdAt"`
}

func (i Item) GetID() string { return i.ID }

// NewItem returns an item with a random id.
func NewItem(name string, intData int) Item {
	return Item{
		ID:        uuid.NewString(),
		Name:      name,
		IntData:   intData,
		CreatedAt: strfmt.DateTime(time.Now().UTC().Truncate(time.Millisecond)),
	}
}

// Items returns count items with IntData 0..count-1.
func Items(count int) []Item {
	items := make([]Item, count)
	for i := range items {
		items[i] = NewItem("item", i)
	}
	return items
}

// TenantItem is partitioned by tenant.
type TenantItem struct {
	ID      string `json:"id"`
	Tenant  string `json:"tenant"`
	IntData int    `json:"intData"`
}

func (t TenantItem) GetID() string           { return t.ID }
func (t TenantItem) GetPartitionKey() string { return t.Tenant }
