package notetemplate

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tealeg/xlsx"

	"github.com/ehr/clinicaldocs/internal/domain/notesection"
	"github.com/ehr/clinicaldocs/internal/platform/apperr"
	"github.com/ehr/clinicaldocs/internal/platform/db"
	"github.com/ehr/clinicaldocs/internal/platform/notification"
)

const notifyResource = "note-templates"

// SectionResolver returns the active sections among ids, in the order of ids.
// LockMany also keeps them from being deleted until the transaction in ctx
// ends.
type SectionResolver interface {
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*notesection.Section, error)
	LockMany(ctx context.Context, ids []uuid.UUID) ([]*notesection.Section, error)
}

type Service struct {
	repo     Repository
	sections SectionResolver
	pub      notification.Publisher
	runInTx  func(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewService wires the template store. txb opens transactions when the
// request context carries no tenant connection (CLI use).
func NewService(repo Repository, sections SectionResolver, txb db.Beginner, pub notification.Publisher) *Service {
	if pub == nil {
		pub = notification.Nop{}
	}
	return &Service{
		repo:     repo,
		sections: sections,
		pub:      pub,
		runInTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.RunInTx(ctx, txb, fn)
		},
	}
}

func validateKey(d Discipline, nt NoteType) error {
	if !d.Valid() {
		return apperr.Validation("discipline", fmt.Sprintf("must be one of %v", Disciplines))
	}
	if !nt.Valid() {
		return apperr.Validation("note_type", fmt.Sprintf("must be one of %q", NoteTypes))
	}
	return nil
}

// checkSections verifies ids has no duplicates and names only active sections.
// Called inside a transaction, the sections stay active until it commits, so
// a concurrent delete either waits and then detaches them or is seen here.
func (s *Service) checkSections(ctx context.Context, field string, ids []uuid.UUID) error {
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return apperr.Validation(field, "duplicate section id "+id.String())
		}
		seen[id] = true
	}
	if len(ids) == 0 {
		return nil
	}
	found, err := s.sections.LockMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve sections: %w", err)
	}
	if len(found) == len(ids) {
		return nil
	}
	active := make(map[uuid.UUID]bool, len(found))
	for _, sec := range found {
		active[sec.ID] = true
	}
	for _, id := range ids {
		if !active[id] {
			return apperr.Validation(field, "unknown or deleted section "+id.String())
		}
	}
	return nil
}

// Save creates the template for (discipline, note type) or replaces the
// section list of the existing one. The second result reports whether a new
// template was created. Saving the same input twice leaves one template with
// the same section list.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*Template, bool, error) {
	t, inserted, err := s.save(ctx, req)
	if err != nil {
		s.pub.Publish(ctx, notification.Failure(notifyResource, "", "Could not save template: "+err.Error()))
		return nil, false, err
	}
	verb := "updated"
	if inserted {
		verb = "created"
	}
	s.pub.Publish(ctx, notification.Success(notifyResource, t.ID.String(),
		fmt.Sprintf("%s %s template %s", t.Discipline, t.NoteType, verb)))
	return t, inserted, nil
}

func (s *Service) save(ctx context.Context, req SaveRequest) (*Template, bool, error) {
	if err := validateKey(req.Discipline, req.NoteType); err != nil {
		return nil, false, err
	}
	ids := req.SectionIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	t := &Template{
		Discipline: req.Discipline,
		NoteType:   req.NoteType,
		SectionIDs: ids,
		IsActive:   isActive,
	}
	var inserted bool
	err := s.runInTx(ctx, func(ctx context.Context) error {
		if err := s.checkSections(ctx, "section_ids", ids); err != nil {
			return err
		}
		var err error
		if inserted, err = s.repo.Upsert(ctx, t); err != nil {
			return fmt.Errorf("save template: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return t, inserted, nil
}

// Fetch returns the active template for the key. A template with no sections
// is returned as such; a missing or inactive one is a NotFoundError.
func (s *Service) Fetch(ctx context.Context, d Discipline, nt NoteType) (*Template, error) {
	if err := validateKey(d, nt); err != nil {
		return nil, err
	}
	t, err := s.repo.GetByKey(ctx, d, nt)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, apperr.NotFound(resourceName, string(d)+"/"+string(nt))
	}
	return t, nil
}

// FetchWithSections is Fetch with the section definitions expanded.
func (s *Service) FetchWithSections(ctx context.Context, d Discipline, nt NoteType) (*Expanded, error) {
	t, err := s.Fetch(ctx, d, nt)
	if err != nil {
		return nil, err
	}
	out, err := s.expand(ctx, []*Template{t})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// List returns every template, active or not, with sections expanded.
func (s *Service) List(ctx context.Context) ([]*Expanded, error) {
	ts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return s.expand(ctx, ts)
}

func (s *Service) expand(ctx context.Context, ts []*Template) ([]*Expanded, error) {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, t := range ts {
		for _, id := range t.SectionIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	byID := make(map[uuid.UUID]*notesection.Section, len(ids))
	if len(ids) > 0 {
		secs, err := s.sections.GetMany(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve sections: %w", err)
		}
		for _, sec := range secs {
			byID[sec.ID] = sec
		}
	}

	out := make([]*Expanded, 0, len(ts))
	for _, t := range ts {
		e := &Expanded{Template: t, Sections: make([]*notesection.Section, 0, len(t.SectionIDs))}
		for _, id := range t.SectionIDs {
			if sec, ok := byID[id]; ok {
				e.Sections = append(e.Sections, sec)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// Patch removes then appends sections on template id. Adds already present
// are ignored. VersionID must match the stored version.
func (s *Service) Patch(ctx context.Context, id uuid.UUID, req PatchRequest) (*Template, error) {
	t, err := s.patch(ctx, id, req)
	if err != nil {
		s.pub.Publish(ctx, notification.Failure(notifyResource, id.String(), "Could not update template: "+err.Error()))
		return nil, err
	}
	s.pub.Publish(ctx, notification.Success(notifyResource, t.ID.String(),
		fmt.Sprintf("%s %s template updated", t.Discipline, t.NoteType)))
	return t, nil
}

func (s *Service) patch(ctx context.Context, id uuid.UUID, req PatchRequest) (*Template, error) {
	var t *Template
	err := s.runInTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.applyPatch(ctx, id, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) applyPatch(ctx context.Context, id uuid.UUID, req PatchRequest) (*Template, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.VersionID != t.VersionID {
		return nil, apperr.Conflict(resourceName, id.String())
	}
	if err := s.checkSections(ctx, "add_section_ids", req.AddSectionIDs); err != nil {
		return nil, err
	}

	remove := make(map[uuid.UUID]bool, len(req.RemoveSectionIDs))
	for _, sid := range req.RemoveSectionIDs {
		remove[sid] = true
	}
	next := make([]uuid.UUID, 0, len(t.SectionIDs)+len(req.AddSectionIDs))
	present := make(map[uuid.UUID]bool, len(t.SectionIDs))
	for _, sid := range t.SectionIDs {
		if !remove[sid] {
			next = append(next, sid)
			present[sid] = true
		}
	}
	for _, sid := range req.AddSectionIDs {
		if !present[sid] {
			next = append(next, sid)
			present[sid] = true
		}
	}

	t.SectionIDs = next
	if err := s.repo.UpdateSections(ctx, t); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return t, nil
}

// DetachSection removes a deleted section from every template. It is
// registered as a section delete hook and runs in the delete transaction.
func (s *Service) DetachSection(ctx context.Context, sectionID uuid.UUID) error {
	if _, err := s.repo.RemoveSection(ctx, sectionID); err != nil {
		return fmt.Errorf("detach section %s: %w", sectionID, err)
	}
	return nil
}

// ExportXLSX writes the template catalog, one row per template section.
func (s *Service) ExportXLSX(ctx context.Context, w io.Writer) error {
	templates, err := s.List(ctx)
	if err != nil {
		return err
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Templates")
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	header := sheet.AddRow()
	for _, h := range []string{"Discipline", "Note Type", "Active", "Position", "Section", "Required"} {
		header.AddCell().SetString(h)
	}

	for _, t := range templates {
		if len(t.Sections) == 0 {
			row := sheet.AddRow()
			row.AddCell().SetString(string(t.Discipline))
			row.AddCell().SetString(string(t.NoteType))
			row.AddCell().SetBool(t.IsActive)
			continue
		}
		for i, sec := range t.Sections {
			row := sheet.AddRow()
			row.AddCell().SetString(string(t.Discipline))
			row.AddCell().SetString(string(t.NoteType))
			row.AddCell().SetBool(t.IsActive)
			row.AddCell().SetInt(i + 1)
			row.AddCell().SetString(sec.Name)
			row.AddCell().SetBool(sec.IsRequired)
		}
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
