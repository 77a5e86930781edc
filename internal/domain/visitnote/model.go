// Package visitnote reads saved visit notes and their visit/patient context.
// The tables belong to the charting and scheduling services; this package
// never writes them.
package visitnote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ehr/clinicaldocs/pkg/schemavalue"
)

// NoteInstance is one filled-in visit note. SectionsData maps section names
// to whatever was recorded, in the stored order; it may not match the current
// section schemas.
type NoteInstance struct {
	VisitID       string
	Status        string
	Discipline    string
	NoteType      string
	TherapistName string
	SectionsData  *schemavalue.OrderedMap
}

// VisitContext is the best-effort header information of a visit. Any field
// may be unknown.
type VisitContext struct {
	PatientName *string
	DateOfBirth *time.Time
	Gender      *string
	VisitDate   *time.Time
	VisitType   *string
	TherapyType *string
}

type Repository interface {
	// GetNote returns the latest note of a visit or apperr.NotFoundError.
	GetNote(ctx context.Context, visitID string) (*NoteInstance, error)
	// GetVisitContext returns header data of a visit or apperr.NotFoundError.
	GetVisitContext(ctx context.Context, visitID string) (*VisitContext, error)
}

// ErrMalformedSections marks a stored sections_data document that cannot be
// read. Reading it again gives the same result.
var ErrMalformedSections = errors.New("malformed sections_data")

const nestedSectionsKey = "sections_data"

// DecodeSections parses a stored sections_data document. Null or empty input
// is an empty map; anything other than an object is an error. Documents saved
// as {"sections_data": {...}} are unwrapped, at any depth.
func DecodeSections(raw []byte) (*schemavalue.OrderedMap, error) {
	if len(raw) == 0 {
		return schemavalue.NewOrderedMap(), nil
	}
	v, err := schemavalue.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode sections_data: %w: %w", ErrMalformedSections, err)
	}
	if v.IsNull() {
		return schemavalue.NewOrderedMap(), nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, fmt.Errorf("decode sections_data: %w: expected an object, got %s", ErrMalformedSections, v.Kind())
	}
	for {
		inner, ok := m.Get(nestedSectionsKey)
		if !ok {
			return m, nil
		}
		im, ok := inner.AsMap()
		if !ok {
			return m, nil
		}
		m = im
	}
}
