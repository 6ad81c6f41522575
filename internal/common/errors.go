// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// ErrValidation covers malformed input: bad confidence values, weights that
	// do not sum to one, missing required fields. Never retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrConflict covers invariant violations on explicit actions: an item that
	// is already actively matched, or unmatching an already-inactive match.
	ErrConflict = errors.New("conflict")

	// ErrNotFound covers unknown match, item, or occurrence ids.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized covers owner mismatches. Callers must not be able to tell
	// whether the resource exists under a different owner.
	ErrUnauthorized = errors.New("unauthorized")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConflictError reports which item and match caused an active-match conflict.
type ConflictError struct {
	ItemID  string
	MatchID string
	Reason  string
}

func (e *ConflictError) Error() string {
	if e.ItemID != "" && e.MatchID != "" {
		return fmt.Sprintf("conflict: item %s is part of active match %s", e.ItemID, e.MatchID)
	}
	return fmt.Sprintf("conflict: %s", e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// NewConflictError creates a conflict error for an item held by an active match.
func NewConflictError(itemID, matchID string) error {
	return &ConflictError{ItemID: itemID, MatchID: matchID}
}

// ImmutableFieldError reports an update that attempted to change a field that is
// fixed at match creation time.
type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %s is immutable after creation", e.Field)
}

func (e *ImmutableFieldError) Unwrap() error {
	return ErrValidation
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}
