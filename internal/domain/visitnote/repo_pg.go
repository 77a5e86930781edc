package visitnote

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinicaldocs/internal/platform/apperr"
	"github.com/ehr/clinicaldocs/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
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

// visit ids are compared as text so callers need not know the key type.
func (r *repoPG) GetNote(ctx context.Context, visitID string) (*NoteInstance, error) {
	var n NoteInstance
	var sections *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT vn.visit_id::text, COALESCE(vn.status, ''), vn.discipline, vn.note_type,
			vn.sections_data::text, COALESCE(s.name, '')
		FROM visit_notes vn
		LEFT JOIN visits v ON v.id = vn.visit_id
		LEFT JOIN staff s ON s.id = v.staff_id
		WHERE vn.visit_id::text = $1
		ORDER BY vn.id DESC
		LIMIT 1`, visitID,
	).Scan(&n.VisitID, &n.Status, &n.Discipline, &n.NoteType, &sections, &n.TherapistName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("visit note", visitID)
	}
	if err != nil {
		return nil, err
	}

	var raw []byte
	if sections != nil {
		raw = []byte(*sections)
	}
	if n.SectionsData, err = DecodeSections(raw); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *repoPG) GetVisitContext(ctx context.Context, visitID string) (*VisitContext, error) {
	var vc VisitContext
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT p.full_name, p.birthday, p.gender, v.visit_date, v.visit_type, v.therapy_type
		FROM visits v
		LEFT JOIN patients p ON p.id = v.patient_id
		WHERE v.id::text = $1`, visitID,
	).Scan(&vc.PatientName, &vc.DateOfBirth, &vc.Gender, &vc.VisitDate, &vc.VisitType, &vc.TherapyType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("visit", visitID)
	}
	if err != nil {
		return nil, err
	}
	return &vc, nil
}
