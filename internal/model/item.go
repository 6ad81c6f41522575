// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"time"
)

// ItemSource identifies which of the two record feeds an item came from.
type ItemSource string

// Item source constants.
const (
	SourceOne ItemSource = "SOURCE_1"
	SourceTwo ItemSource = "SOURCE_2"
)

// Opposite returns the counterpart source for candidate discovery.
func (s ItemSource) Opposite() ItemSource {
	if s == SourceOne {
		return SourceTwo
	}
	return SourceOne
}

// Valid reports whether the source tag is one of the two known feeds.
func (s ItemSource) Valid() bool {
	return s == SourceOne || s == SourceTwo
}

// Item is a normalized record produced by the upstream ingestion layer.
// This core never creates or mutates items; it only reads them and links
// them into matches.
type Item struct {
	Date        time.Time
	ID          string
	OwnerID     string
	AccountID   string
	PartyName   string
	Description string
	Currency    string
	Source      ItemSource
	Amount      float64
}

// Validate ensures the item carries the fields matching depends on.
func (i *Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("item missing ID")
	}
	if i.OwnerID == "" {
		return fmt.Errorf("item %s missing owner", i.ID)
	}
	if !i.Source.Valid() {
		return fmt.Errorf("item %s has unknown source %q", i.ID, i.Source)
	}
	if i.Date.IsZero() {
		return fmt.Errorf("item %s missing date", i.ID)
	}
	return nil
}
