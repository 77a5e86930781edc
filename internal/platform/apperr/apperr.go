// Package apperr holds the error taxonomy shared by the section store, the
// template assembler and document composition, and its mapping to HTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ValidationError reports input that violates a domain rule.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SchemaParseError reports a form schema that could not be parsed. The
// original parser error is kept for errors.Is/As.
type SchemaParseError struct {
	Err error
}

func (e *SchemaParseError) Error() string {
	return fmt.Sprintf("form_schema is not valid: %v", e.Err)
}

func (e *SchemaParseError) Unwrap() error { return e.Err }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// ConcurrentModificationError reports a write that lost a race with another
// writer of the same entity.
type ConcurrentModificationError struct {
	Resource string
	Key      string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently, reload and retry", e.Resource, e.Key)
}

// UnavailableError reports a dependency that failed or timed out.
type UnavailableError struct {
	Resource string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Resource, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Constructors keep call sites short.

func Validation(field, msg string) error { return &ValidationError{Field: field, Message: msg} }

func NotFound(resource, key string) error { return &NotFoundError{Resource: resource, Key: key} }

func Conflict(resource, key string) error {
	return &ConcurrentModificationError{Resource: resource, Key: key}
}

func Unavailable(resource string, err error) error {
	return &UnavailableError{Resource: resource, Err: err}
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StatusCode returns the HTTP status for err. Unknown errors are 500.
func StatusCode(err error) int {
	var (
		ve  *ValidationError
		spe *SchemaParseError
		nf  *NotFoundError
		cm  *ConcurrentModificationError
		ue  *UnavailableError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &spe):
		return http.StatusUnprocessableEntity
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &cm):
		return http.StatusConflict
	case errors.As(err, &ue):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HTTPError converts err into an echo error with the matching status. Internal
// errors are not echoed back to the client.
func HTTPError(err error) *echo.HTTPError {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}
