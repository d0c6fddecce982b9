package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for corpus and ticket failures.
var (
	ErrSourceNotFound   = errors.New("corpus source not found")
	ErrMissingColumn    = errors.New("corpus column missing")
	ErrEmptyTicketID    = errors.New("ticket id is empty")
	ErrEmptySubject     = errors.New("ticket subject is empty")
	ErrEmptyDescription = errors.New("ticket description is empty")
)

// SourceError reports a corpus file that could not be used.
type SourceError struct {
	Path    string
	Wrapped error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("corpus %q: %s", e.Path, e.Wrapped)
}

func (e *SourceError) Unwrap() error { return e.Wrapped }

// NewSourceError creates a SourceError.
func NewSourceError(path string, wrapped error) *SourceError {
	return &SourceError{Path: path, Wrapped: wrapped}
}

// ValidationError wraps a sentinel with the offending ticket and field.
type ValidationError struct {
	TicketID string
	Field    string
	Wrapped  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (ticket=%q)", e.Wrapped, e.Field, e.TicketID)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(ticketID, field string, wrapped error) *ValidationError {
	return &ValidationError{TicketID: ticketID, Field: field, Wrapped: wrapped}
}
