package notesection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinicaldocs/internal/platform/apperr"
	"github.com/ehr/clinicaldocs/internal/platform/db"
	"github.com/ehr/clinicaldocs/pkg/schemavalue"
)

const resourceName = "note section"

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

// form_schema is read as text so the stored key order reaches the parser.
const sectionCols = `id, name, description, is_required, has_static_image, static_image_url,
	form_schema::text, version_id, created_at, updated_at, deleted_at`

func scanSection(row pgx.Row) (*Section, error) {
	var s Section
	var schema string
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.IsRequired, &s.HasStaticImage, &s.StaticImageURL,
		&schema, &s.VersionID, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
	if err != nil {
		return nil, err
	}
	if s.FormSchema, err = schemavalue.Parse([]byte(schema)); err != nil {
		return nil, fmt.Errorf("stored form_schema of section %s: %w", s.ID, err)
	}
	return &s, nil
}

func collectSections(rows pgx.Rows) ([]*Section, error) {
	var out []*Section
	for rows.Next() {
		s, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func notFoundOr(err error, key string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(resourceName, key)
	}
	return err
}

func mapWriteErr(err error) error {
	if db.IsUniqueViolation(err) {
		return apperr.Validation("name", "a section with this name already exists")
	}
	return err
}

func (r *repoPG) Create(ctx context.Context, s *Section) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	schema, err := s.FormSchema.MarshalJSON()
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO note_section (
			id, name, description, is_required, has_static_image, static_image_url, form_schema
		) VALUES ($1,$2,$3,$4,$5,$6,$7::text::json)
		RETURNING version_id, created_at, updated_at`,
		s.ID, s.Name, s.Description, s.IsRequired, s.HasStaticImage, s.StaticImageURL, string(schema),
	).Scan(&s.VersionID, &s.CreatedAt, &s.UpdatedAt)
	return mapWriteErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Section, error) {
	s, err := scanSection(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sectionCols+` FROM note_section WHERE id = $1 AND deleted_at IS NULL`, id))
	return s, notFoundOr(err, id.String())
}

func (r *repoPG) GetByName(ctx context.Context, name string) (*Section, error) {
	s, err := scanSection(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sectionCols+` FROM note_section WHERE lower(name) = lower($1) AND deleted_at IS NULL`, name))
	return s, notFoundOr(err, name)
}

// GetByIDs returns the active sections among ids, in the order of ids.
func (r *repoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Section, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+sectionCols+` FROM note_section
		WHERE id = ANY($1) AND deleted_at IS NULL
		ORDER BY array_position($1, id)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSections(rows)
}

func (r *repoPG) LockActive(ctx context.Context, ids []uuid.UUID) ([]*Section, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+sectionCols+` FROM note_section
		WHERE id = ANY($1) AND deleted_at IS NULL
		ORDER BY array_position($1, id)
		FOR SHARE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSections(rows)
}

// Update writes s when its VersionID still matches the stored row and bumps
// the version.
func (r *repoPG) Update(ctx context.Context, s *Section) error {
	schema, err := s.FormSchema.MarshalJSON()
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE note_section SET
			name=$2, description=$3, is_required=$4, has_static_image=$5, static_image_url=$6,
			form_schema=$7::text::json, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $8 AND deleted_at IS NULL
		RETURNING version_id, updated_at`,
		s.ID, s.Name, s.Description, s.IsRequired, s.HasStaticImage, s.StaticImageURL, string(schema), s.VersionID,
	).Scan(&s.VersionID, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, s.ID); getErr != nil {
			return getErr
		}
		return apperr.Conflict(resourceName, s.ID.String())
	}
	return mapWriteErr(err)
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE note_section SET deleted_at = NOW(), updated_at = NOW(), version_id = version_id + 1
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(resourceName, id.String())
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Section, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM note_section WHERE deleted_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+sectionCols+` FROM note_section WHERE deleted_at IS NULL
		ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out, err := collectSections(rows)
	return out, total, err
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Section, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+sectionCols+` FROM note_section WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSections(rows)
}
