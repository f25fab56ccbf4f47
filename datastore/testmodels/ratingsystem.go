/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package testmodels

import "github.com/go-openapi/strfmt"

type RatingSystem struct {

	// Timestamp when the rating system was created.
	// Required: true
	// Format: date-time
	CreatedAt *strfmt.DateTime `json:"CreatedAt"`

	// A description of the rating system.
	// Required: true
	Description *string `json:"Description"`

	// Unique identifier for the rating system.
	// Required: true
	ID *string `json:"Id"`

	// Name of the rating system.
	// Required: true
	Name *string `json:"Name"`

	// Region the rating system belongs to; used as the partition key.
	Region string `json:"Region,omitempty"`

	// site Url
	SiteURL string `json:"SiteUrl,omitempty"`

	// Timestamp when the rating system was last updated.
	// Required: true
	// Format: date-time
	UpdatedAt *strfmt.DateTime `json:"UpdatedAt"`
}

func (r RatingSystem) GetID() string {
	if r.ID == nil {
		return ""
	}
	return *r.ID
}

func (r RatingSystem) GetPartitionKey() string {
	return r.Region
}
