package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("request status changed concurrently")
	ErrExpired       = errors.New("request expired")
	ErrInvalidCode   = errors.New("invalid confirmation code")
	ErrLedgerFailure = errors.New("ledger transfer failed")
	ErrNotFound      = errors.New("request not found")
	ErrForbidden     = errors.New("actor not allowed to perform this action")
)

// ValidationError describes why a request was refused at creation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StatusError reports that a request already reached a terminal status, so
// callers can render the concrete reason instead of a generic conflict.
type StatusError struct {
	Reference string
	Status    Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request %s is %s", e.Reference, e.Status)
}

func (e *StatusError) Unwrap() error {
	if e.Status == StatusExpired {
		return ErrExpired
	}
	return ErrConflict
}
