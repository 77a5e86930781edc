package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusCode(t *testing.T) {
	parseErr := errors.New("invalid character 'n'")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("name", "is required"), http.StatusBadRequest},
		{"schema", &SchemaParseError{Err: parseErr}, http.StatusUnprocessableEntity},
		{"not found", NotFound("note section", "abc"), http.StatusNotFound},
		{"conflict", Conflict("note template", "PT/Standard"), http.StatusConflict},
		{"unavailable", Unavailable("visit note", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"wrapped", fmt.Errorf("save: %w", NotFound("note section", "x")), http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSchemaParseError_Unwraps(t *testing.T) {
	inner := errors.New("unexpected EOF")
	err := fmt.Errorf("create: %w", &SchemaParseError{Err: inner})
	if !errors.Is(err, inner) {
		t.Error("expected SchemaParseError to unwrap to parser error")
	}
}

func TestUnavailableError_Unwraps(t *testing.T) {
	err := Unavailable("visit note", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected UnavailableError to unwrap to cause")
	}
}

func TestHTTPError_HidesInternalErrors(t *testing.T) {
	he := HTTPError(errors.New("pq: connection refused"))
	if he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", he.Code)
	}
	if he.Message != "internal server error" {
		t.Errorf("expected generic message, got %v", he.Message)
	}
	if he.Internal == nil {
		t.Error("expected internal error to be kept")
	}
}

func TestHTTPError_ValidationMessage(t *testing.T) {
	he := HTTPError(Validation("static_image_url", "must be an absolute URL"))
	if he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", he.Code)
	}
	if he.Message != "static_image_url: must be an absolute URL" {
		t.Errorf("unexpected message %v", he.Message)
	}
}

func TestPredicates(t *testing.T) {
	if !IsNotFound(fmt.Errorf("x: %w", NotFound("a", "b"))) {
		t.Error("expected IsNotFound")
	}
	if IsNotFound(Validation("a", "b")) {
		t.Error("validation is not a not-found error")
	}
	if !IsValidation(Validation("", "bad")) {
		t.Error("expected IsValidation")
	}
}
