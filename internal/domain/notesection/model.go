package notesection

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinicaldocs/internal/platform/apperr"
	"github.com/ehr/clinicaldocs/pkg/schemavalue"
)

// Section is a reusable documentation section. FormSchema is arbitrary
// nested data describing the section's fields; its key order is kept.
type Section struct {
	ID             uuid.UUID         `json:"id" yaml:"-"`
	Name           string            `json:"name" yaml:"name"`
	Description    *string           `json:"description,omitempty" yaml:"description,omitempty"`
	IsRequired     bool              `json:"is_required" yaml:"is_required"`
	HasStaticImage bool              `json:"has_static_image" yaml:"has_static_image"`
	StaticImageURL *string           `json:"static_image_url,omitempty" yaml:"static_image_url,omitempty"`
	FormSchema     schemavalue.Value `json:"form_schema" yaml:"form_schema"`
	VersionID      int               `json:"version_id" yaml:"-"`
	CreatedAt      time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time         `json:"updated_at" yaml:"-"`
	DeletedAt      *time.Time        `json:"-" yaml:"-"`
}

// CreateRequest is the body of POST /note-sections. FormSchema may hold the
// schema itself or a JSON string with the schema text.
type CreateRequest struct {
	Name           string          `json:"name"`
	Description    *string         `json:"description"`
	IsRequired     bool            `json:"is_required"`
	HasStaticImage bool            `json:"has_static_image"`
	StaticImageURL *string         `json:"static_image_url"`
	FormSchema     json.RawMessage `json:"form_schema"`
}

// UpdateRequest is the body of PUT /note-sections/:id. Omitted fields keep
// their stored value. VersionID, when set, must match the stored version.
type UpdateRequest struct {
	Name           *string         `json:"name"`
	Description    *string         `json:"description"`
	IsRequired     *bool           `json:"is_required"`
	HasStaticImage *bool           `json:"has_static_image"`
	StaticImageURL *string         `json:"static_image_url"`
	FormSchema     json.RawMessage `json:"form_schema"`
	VersionID      *int            `json:"version_id"`
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// ParseFormSchema turns the form_schema input into a Value. A JSON string is
// treated as schema text and parsed; anything else is the schema itself.
// Failures are SchemaParseErrors and never fall back to an empty schema.
func ParseFormSchema(raw json.RawMessage) (schemavalue.Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return schemavalue.Value{}, &apperr.SchemaParseError{Err: err}
		}
		trimmed = []byte(text)
	}
	v, err := schemavalue.Parse(trimmed)
	if err != nil {
		return schemavalue.Value{}, &apperr.SchemaParseError{Err: err}
	}
	return v, nil
}
