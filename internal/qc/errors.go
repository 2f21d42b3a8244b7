package qc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for the adjudication workflow. None of these are
// transient; callers surface them and never retry.
var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyClaimed         = errors.New("already claimed")
	ErrNotAuthorized          = errors.New("not authorized")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrSessionTerminal        = errors.New("session is terminal")
	ErrSessionExists          = errors.New("session already exists")
	ErrMissingResolutionNotes = errors.New("resolution notes required")
)

// MissingAnnotationError is returned when an edit changes a field value
// without explaining why.
type MissingAnnotationError struct {
	FieldKey string
}

func (e *MissingAnnotationError) Error() string {
	return fmt.Sprintf("field %s: annotation required for value change", e.FieldKey)
}

// TypeMismatchError is returned when a value does not match the field's
// declared type.
type TypeMismatchError struct {
	FieldKey string
	Reason   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("field %s: type mismatch: %s", e.FieldKey, e.Reason)
}

// UnresolvedDiscrepancyError lists the disagreeing fields that have neither
// a change entry nor an explicit confirmation at submit time.
type UnresolvedDiscrepancyError struct {
	FieldKeys []string
}

func (e *UnresolvedDiscrepancyError) Error() string {
	return fmt.Sprintf("unresolved discrepancies: %s", strings.Join(e.FieldKeys, ", "))
}

// HTTPStatus maps a workflow error to the HTTP status the API layer should
// return. Unknown errors map to 500.
func HTTPStatus(err error) int {
	var (
		missingAnnotation *MissingAnnotationError
		typeMismatch      *TypeMismatchError
		unresolved        *UnresolvedDiscrepancyError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrSessionTerminal),
		errors.Is(err, ErrSessionExists):
		return http.StatusConflict
	case errors.As(err, &unresolved):
		return http.StatusConflict
	case errors.As(err, &missingAnnotation),
		errors.As(err, &typeMismatch),
		errors.Is(err, ErrMissingResolutionNotes):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
