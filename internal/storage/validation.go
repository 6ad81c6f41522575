package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrEmptySlice       = errors.New("slice cannot be empty")
	ErrInvalidDateRange = fmt.Errorf("%w: start date must be before end date", common.ErrValidation)
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateDateRange ensures start precedes end.
func validateDateRange(start, end time.Time) error {
	if end.Before(start) {
		return fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, end, start)
	}
	return nil
}

// validateItems validates a slice of items.
func validateItems(items []model.Item) error {
	if items == nil {
		return fmt.Errorf("%w: items", ErrNilParameter)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: items", ErrEmptySlice)
	}

	for i, item := range items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("%w: item at index %d: %v", common.ErrValidation, i, err)
		}
	}
	return nil
}

// validateMatch validates a match before persistence.
func validateMatch(match *model.Match) error {
	if match == nil {
		return fmt.Errorf("%w: match", ErrNilParameter)
	}
	if err := match.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return nil
}

// validateOccurrence validates an expected occurrence before persistence.
func validateOccurrence(occ *model.ExpectedOccurrence) error {
	if occ == nil {
		return fmt.Errorf("%w: occurrence", ErrNilParameter)
	}
	if err := occ.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return nil
}
