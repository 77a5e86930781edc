package notetemplate

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Upsert inserts or replaces the template for (discipline, note type) in
	// one statement and reports whether a new row was created.
	Upsert(ctx context.Context, t *Template) (inserted bool, err error)
	GetByKey(ctx context.Context, d Discipline, nt NoteType) (*Template, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	// UpdateSections replaces the section list when VersionID still matches.
	UpdateSections(ctx context.Context, t *Template) error
	// RemoveSection drops sectionID from every template and returns how many
	// templates changed.
	RemoveSection(ctx context.Context, sectionID uuid.UUID) (int, error)
	List(ctx context.Context) ([]*Template, error)
}
