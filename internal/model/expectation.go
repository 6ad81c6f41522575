package model

import (
	"fmt"
	"time"
)

// OccurrenceStatus tracks an expected occurrence through its lifecycle.
type OccurrenceStatus string

// Occurrence status constants.
const (
	OccurrenceUpcoming      OccurrenceStatus = "UPCOMING"
	OccurrenceMatched       OccurrenceStatus = "MATCHED"
	OccurrenceMatchedManual OccurrenceStatus = "MATCHED_MANUAL"
	OccurrenceVariance      OccurrenceStatus = "VARIANCE"
	OccurrenceMissing       OccurrenceStatus = "MISSING"
	OccurrenceSkipped       OccurrenceStatus = "SKIPPED"
)

// Valid reports whether the status is a known lifecycle state.
func (s OccurrenceStatus) Valid() bool {
	switch s {
	case OccurrenceUpcoming, OccurrenceMatched, OccurrenceMatchedManual,
		OccurrenceVariance, OccurrenceMissing, OccurrenceSkipped:
		return true
	}
	return false
}

// Linked reports whether the status represents a completed link to an actual
// record. Linked statuses are terminal for skip purposes: re-deriving from a
// completed link is a caller bug.
func (s OccurrenceStatus) Linked() bool {
	return s == OccurrenceMatched || s == OccurrenceMatchedManual || s == OccurrenceVariance
}

// Skippable reports whether a skip transition is allowed from this status.
func (s OccurrenceStatus) Skippable() bool {
	return s == OccurrenceUpcoming || s == OccurrenceMissing
}

// ExpectedOccurrence is one predicted future event generated from a recurring
// definition, waiting to be linked against an observed record. AccountID and
// PartyName are copied from the definition at generation time; they anchor
// the identity check that linking can never force past.
type ExpectedOccurrence struct {
	ExpectedDate   time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ActualDate     *time.Time
	ActualItemID   *string
	ActualAmount   *float64
	Variance       *float64
	ID             string
	DefinitionID   string
	OwnerID        string
	AccountID      string
	PartyName      string
	LinkMethod     MatchMethod
	Status         OccurrenceStatus
	ExpectedAmount float64
}

// Validate ensures the occurrence is structurally sound.
func (o *ExpectedOccurrence) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("occurrence missing ID")
	}
	if o.OwnerID == "" {
		return fmt.Errorf("occurrence %s missing owner", o.ID)
	}
	if o.DefinitionID == "" {
		return fmt.Errorf("occurrence %s missing recurring definition", o.ID)
	}
	if o.ExpectedDate.IsZero() {
		return fmt.Errorf("occurrence %s missing expected date", o.ID)
	}
	if !o.Status.Valid() {
		return fmt.Errorf("occurrence %s has unknown status %q", o.ID, o.Status)
	}
	if o.Status.Linked() && o.ActualItemID == nil {
		return fmt.Errorf("occurrence %s is %s but has no linked item", o.ID, o.Status)
	}
	return nil
}
