package model

// Feature names a comparable attribute of an item pair.
type Feature string

// Built-in features. Custom features use caller-chosen names that must not
// collide with these.
const (
	FeatureAmount Feature = "amount"
	FeatureDate   Feature = "date"
	FeatureParty  Feature = "party"
	FeatureText   Feature = "text"
)

// DecisionTier classifies an aggregate confidence into an action band.
type DecisionTier string

// Decision tier constants.
const (
	TierAutoLink DecisionTier = "AUTO_LINK"
	TierSuggest  DecisionTier = "SUGGEST"
	TierManual   DecisionTier = "MANUAL"
	TierNone     DecisionTier = "NONE"
)

// CandidateDetails explains why a candidate scored the way it did.
type CandidateDetails struct {
	BlockingKey  string
	AmountDiff   float64
	DateDiffDays int
	AmountTol    float64
	DateWindow   int
	ImpliedRate  float64
}

// MatchCandidate is a scored potential partner for a seed item. Candidates are
// produced per query and discarded; they are never stored unless promoted to a
// Match.
type MatchCandidate struct {
	FeatureScores   map[Feature]float64
	SeedItemID      string
	CandidateItemID string
	Tier            DecisionTier
	Details         CandidateDetails
	Confidence      float64
}
