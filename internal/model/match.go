package model

import (
	"fmt"
	"time"
)

// Cardinality describes how many items from each source participate in a match.
type Cardinality string

// Cardinality constants.
const (
	OneToOne   Cardinality = "ONE_TO_ONE"
	OneToMany  Cardinality = "ONE_TO_MANY"
	ManyToOne  Cardinality = "MANY_TO_ONE"
	ManyToMany Cardinality = "MANY_TO_MANY"
)

// CardinalityFor derives the cardinality tag from the item counts on each side.
func CardinalityFor(source1Count, source2Count int) Cardinality {
	switch {
	case source1Count == 1 && source2Count == 1:
		return OneToOne
	case source1Count == 1:
		return OneToMany
	case source2Count == 1:
		return ManyToOne
	default:
		return ManyToMany
	}
}

// MatchMethod indicates how a match was created.
type MatchMethod string

// Match method constants.
const (
	MethodAuto   MatchMethod = "AUTO"
	MethodManual MatchMethod = "MANUAL"
	MethodForced MatchMethod = "FORCED"
)

// Valid reports whether the method is a known creation method.
func (m MatchMethod) Valid() bool {
	return m == MethodAuto || m == MethodManual || m == MethodForced
}

// Match is a confirmed link between items from the two sources.
//
// Core identity fields (item lists, cardinality, method) are immutable after
// creation. Matches are never physically deleted; unmatching flips IsActive
// and stamps the audit fields so the full history of every item is preserved.
type Match struct {
	CreatedAt      time.Time
	UnmatchedAt    *time.Time
	CreatedBy      *string
	FeatureScores  map[Feature]float64
	Details        map[string]any
	ID             string
	OwnerID        string
	UnmatchedBy    string
	UnmatchReason  string
	Source1ItemIDs []string
	Source2ItemIDs []string
	Cardinality    Cardinality
	Method         MatchMethod
	Confidence     float64
	IsActive       bool
}

// ContainsItem reports whether the given item id participates in this match.
func (m *Match) ContainsItem(itemID string) bool {
	for _, id := range m.Source1ItemIDs {
		if id == itemID {
			return true
		}
	}
	for _, id := range m.Source2ItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// Validate ensures the match is structurally sound before persistence.
func (m *Match) Validate() error {
	if m.OwnerID == "" {
		return fmt.Errorf("match missing owner")
	}
	if len(m.Source1ItemIDs) == 0 {
		return fmt.Errorf("match has no source-1 items")
	}
	if len(m.Source2ItemIDs) == 0 {
		return fmt.Errorf("match has no source-2 items")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", m.Confidence)
	}
	if !m.Method.Valid() {
		return fmt.Errorf("unknown match method %q", m.Method)
	}
	if m.Method != MethodAuto && (m.CreatedBy == nil || *m.CreatedBy == "") {
		return fmt.Errorf("%s match requires a creator", m.Method)
	}
	if got := CardinalityFor(len(m.Source1ItemIDs), len(m.Source2ItemIDs)); m.Cardinality != got {
		return fmt.Errorf("cardinality %s does not match item counts (%d:%d)",
			m.Cardinality, len(m.Source1ItemIDs), len(m.Source2ItemIDs))
	}
	if len(m.FeatureScores) == 0 {
		return fmt.Errorf("match missing feature score snapshot")
	}
	for f, s := range m.FeatureScores {
		if s < 0 || s > 1 {
			return fmt.Errorf("feature %s score %v out of range [0,1]", f, s)
		}
	}
	return nil
}
