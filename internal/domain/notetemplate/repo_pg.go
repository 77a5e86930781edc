package notetemplate

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinicaldocs/internal/platform/apperr"
	"github.com/ehr/clinicaldocs/internal/platform/db"
)

const resourceName = "note template"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const templateCols = `id, discipline, note_type, section_ids, is_active, version_id, created_at, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	if err := row.Scan(&t.ID, &t.Discipline, &t.NoteType, &t.SectionIDs, &t.IsActive,
		&t.VersionID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if t.SectionIDs == nil {
		t.SectionIDs = []uuid.UUID{}
	}
	return &t, nil
}

func mapWriteErr(err error, key string) error {
	if db.IsConflict(err) {
		return apperr.Conflict(resourceName, key)
	}
	return err
}

// Upsert relies on UNIQUE (discipline, note_type): concurrent saves for one
// key serialize on the constraint and the last writer's list wins. xmax is 0
// only on a freshly inserted tuple.
func (r *repoPG) Upsert(ctx context.Context, t *Template) (bool, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	var inserted bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO note_template (id, discipline, note_type, section_ids, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (discipline, note_type) DO UPDATE SET
			section_ids = EXCLUDED.section_ids,
			is_active   = $5,
			version_id  = note_template.version_id + 1,
			updated_at  = NOW()
		RETURNING id, is_active, version_id, created_at, updated_at, (xmax = 0)`,
		t.ID, t.Discipline, t.NoteType, t.SectionIDs, t.IsActive,
	).Scan(&t.ID, &t.IsActive, &t.VersionID, &t.CreatedAt, &t.UpdatedAt, &inserted)
	if err != nil {
		return false, mapWriteErr(err, string(t.Discipline)+"/"+string(t.NoteType))
	}
	return inserted, nil
}

func (r *repoPG) GetByKey(ctx context.Context, d Discipline, nt NoteType) (*Template, error) {
	t, err := scanTemplate(r.conn(ctx).QueryRow(ctx,
		`SELECT `+templateCols+` FROM note_template WHERE discipline = $1 AND note_type = $2`, d, nt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(resourceName, string(d)+"/"+string(nt))
	}
	return t, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := scanTemplate(r.conn(ctx).QueryRow(ctx,
		`SELECT `+templateCols+` FROM note_template WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(resourceName, id.String())
	}
	return t, err
}

func (r *repoPG) UpdateSections(ctx context.Context, t *Template) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE note_template SET section_ids = $2, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $3
		RETURNING version_id, updated_at`,
		t.ID, t.SectionIDs, t.VersionID,
	).Scan(&t.VersionID, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, t.ID); getErr != nil {
			return getErr
		}
		return apperr.Conflict(resourceName, t.ID.String())
	}
	return mapWriteErr(err, t.ID.String())
}

func (r *repoPG) RemoveSection(ctx context.Context, sectionID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE note_template
		SET section_ids = array_remove(section_ids, $1), version_id = version_id + 1, updated_at = NOW()
		WHERE $1 = ANY(section_ids)`, sectionID)
	if err != nil {
		return 0, mapWriteErr(err, sectionID.String())
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) List(ctx context.Context) ([]*Template, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+templateCols+` FROM note_template
		ORDER BY discipline,
			array_position(ARRAY['Initial Evaluation','Standard','Reassessment (RA)','Discharge (DC)','Recert-Eval'], note_type)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
