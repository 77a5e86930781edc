package notetemplate

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinicaldocs/internal/domain/notesection"
)

// Discipline is the therapy discipline a template belongs to.
type Discipline string

const (
	DisciplinePT Discipline = "PT"
	DisciplineOT Discipline = "OT"
	DisciplineST Discipline = "ST"
)

// NoteType is the kind of visit note a template lays out.
type NoteType string

const (
	NoteTypeInitialEvaluation NoteType = "Initial Evaluation"
	NoteTypeStandard          NoteType = "Standard"
	NoteTypeReassessment      NoteType = "Reassessment (RA)"
	NoteTypeDischarge         NoteType = "Discharge (DC)"
	NoteTypeRecertEval        NoteType = "Recert-Eval"
)

var Disciplines = []Discipline{DisciplinePT, DisciplineOT, DisciplineST}

var NoteTypes = []NoteType{
	NoteTypeInitialEvaluation, NoteTypeStandard, NoteTypeReassessment, NoteTypeDischarge, NoteTypeRecertEval,
}

func (d Discipline) Valid() bool {
	for _, v := range Disciplines {
		if d == v {
			return true
		}
	}
	return false
}

func (t NoteType) Valid() bool {
	for _, v := range NoteTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Template is the ordered list of sections shown for one
// (discipline, note type). There is at most one per key.
type Template struct {
	ID         uuid.UUID   `json:"id"`
	Discipline Discipline  `json:"discipline"`
	NoteType   NoteType    `json:"note_type"`
	SectionIDs []uuid.UUID `json:"section_ids"`
	IsActive   bool        `json:"is_active"`
	VersionID  int         `json:"version_id"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Expanded is a template with its active sections resolved, in template
// order. Ids of sections that no longer exist are skipped.
type Expanded struct {
	*Template
	Sections []*notesection.Section `json:"sections"`
}

// SaveRequest is the body of POST /note-templates.
type SaveRequest struct {
	Discipline Discipline  `json:"discipline"`
	NoteType   NoteType    `json:"note_type"`
	IsActive   *bool       `json:"is_active"`
	SectionIDs []uuid.UUID `json:"section_ids"`
}

// PatchRequest is the body of PATCH /note-templates/:id.
type PatchRequest struct {
	AddSectionIDs    []uuid.UUID `json:"add_section_ids"`
	RemoveSectionIDs []uuid.UUID `json:"remove_section_ids"`
	VersionID        int         `json:"version_id"`
}
