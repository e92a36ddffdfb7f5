package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrValidation                = errors.New("validation failed")
	ErrNotFound                  = errors.New("not found")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrInvalidStateTransition    = errors.New("invalid state transition")
	ErrConcurrencyConflict       = errors.New("concurrency conflict")
	ErrCurrencyMismatch          = errors.New("currency mismatch")
	ErrNegativeBalanceNotAllowed = errors.New("negative balance not allowed")
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError is a shorthand used by services.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports a missing organization, request, order or leg.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError is a shorthand used by services.
func NewNotFoundError(entity string, id uuid.UUID) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

// InsufficientBalanceError carries the available amount seen at check time.
type InsufficientBalanceError struct {
	OrgID     uuid.UUID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for organization %s: available %d, requested %d", e.OrgID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// InvalidStateTransitionError reports a transition attempted from the wrong state.
type InvalidStateTransitionError struct {
	Entity   string
	ID       uuid.UUID
	Current  string
	Required string
	Target   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot move %s %s to %s: current state %s, required %s", e.Entity, e.ID, e.Target, e.Current, e.Required)
}

func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// ConcurrencyConflictError means a conditional update matched no row.
type ConcurrencyConflictError struct {
	Entity   string
	ID       uuid.UUID
	Expected string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently: expected state %s no longer holds", e.Entity, e.ID, e.Expected)
}

func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// CurrencyMismatchError reports a mutation in a currency other than the balance's.
type CurrencyMismatchError struct {
	OrgID     uuid.UUID
	Current   string
	Requested string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch for organization %s: balance is %s, requested %s", e.OrgID, e.Current, e.Requested)
}

func (e *CurrencyMismatchError) Is(target error) bool {
	return target == ErrCurrencyMismatch
}

// NegativeBalanceNotAllowedError reports a policy-forbidden negative component.
type NegativeBalanceNotAllowedError struct {
	OrgID     uuid.UUID
	Component string
	Current   int64
	Delta     int64
}

func (e *NegativeBalanceNotAllowedError) Error() string {
	return fmt.Sprintf("%s of organization %s cannot go negative: current %d, delta %d", e.Component, e.OrgID, e.Current, e.Delta)
}

func (e *NegativeBalanceNotAllowedError) Is(target error) bool {
	return target == ErrNegativeBalanceNotAllowed
}

// IsPermanent reports whether retrying the same input can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrNegativeBalanceNotAllowed) ||
		errors.Is(err, ErrInsufficientBalance)
}
