package score

import (
	"fmt"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
)

// ComparatorKind selects how a custom feature compares its two values.
type ComparatorKind string

// Comparator kinds.
const (
	CompareExact ComparatorKind = "exact"
	CompareFuzzy ComparatorKind = "fuzzy"
)

// FeatureSpec declares one custom feature by name and comparator. The kind is
// always explicit configuration; it is never inferred from which optional
// fields happen to be present on an item.
type FeatureSpec struct {
	Name model.Feature
	Kind ComparatorKind
}

// Validate rejects specs that collide with built-in features or name an
// unknown comparator.
func (f FeatureSpec) Validate() error {
	switch f.Name {
	case "":
		return fmt.Errorf("%w: custom feature missing name", common.ErrValidation)
	case model.FeatureAmount, model.FeatureDate, model.FeatureParty, model.FeatureText:
		return fmt.Errorf("%w: custom feature %q collides with a built-in feature", common.ErrValidation, f.Name)
	}
	switch f.Kind {
	case CompareExact, CompareFuzzy:
		return nil
	}
	return fmt.Errorf("%w: unknown comparator kind %q for feature %q", common.ErrValidation, f.Kind, f.Name)
}

// Comparator computes a [0,1] similarity for one custom feature's values.
type Comparator func(a, b string) float64

// ComparatorFor returns the comparator implementing the spec's kind.
func ComparatorFor(spec FeatureSpec) (Comparator, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	switch spec.Kind {
	case CompareExact:
		return func(a, b string) float64 {
			na, nb := normalizeText(a), normalizeText(b)
			if na == "" || nb == "" {
				return 0.0
			}
			if na == nb {
				return 1.0
			}
			return 0.0
		}, nil
	case CompareFuzzy:
		return Text, nil
	}

	// Unreachable after Validate.
	return nil, fmt.Errorf("%w: unknown comparator kind %q", common.ErrValidation, spec.Kind)
}
