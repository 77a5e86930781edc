package notesection

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists sections. Lookups only see sections that are not
// soft-deleted and return apperr.NotFoundError when nothing matches.
type Repository interface {
	Create(ctx context.Context, s *Section) error
	GetByID(ctx context.Context, id uuid.UUID) (*Section, error)
	GetByName(ctx context.Context, name string) (*Section, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Section, error)
	// LockActive is GetByIDs holding a share lock on the returned rows until
	// the surrounding transaction ends, so they cannot be deleted meanwhile.
	LockActive(ctx context.Context, ids []uuid.UUID) ([]*Section, error)
	Update(ctx context.Context, s *Section) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Section, int, error)
	ListAll(ctx context.Context) ([]*Section, error)
}
