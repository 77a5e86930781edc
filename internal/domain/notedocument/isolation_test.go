package notedocument

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ehr/clinicaldocs/internal/config"
	"github.com/ehr/clinicaldocs/internal/domain/notesection"
	"github.com/ehr/clinicaldocs/internal/platform/apperr"
)

// sectionStore is an in-memory notesection.Repository.
type sectionStore struct {
	byID map[uuid.UUID]*notesection.Section
}

func (s *sectionStore) Create(_ context.Context, sec *notesection.Section) error {
	if sec.ID == uuid.Nil {
		sec.ID = uuid.New()
	}
	cp := *sec
	s.byID[sec.ID] = &cp
	return nil
}

func (s *sectionStore) GetByID(_ context.Context, id uuid.UUID) (*notesection.Section, error) {
	sec, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFound("note section", id.String())
	}
	cp := *sec
	return &cp, nil
}

func (s *sectionStore) GetByName(_ context.Context, name string) (*notesection.Section, error) {
	for _, sec := range s.byID {
		if sec.Name == name {
			cp := *sec
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("note section", name)
}

func (s *sectionStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*notesection.Section, error) {
	var out []*notesection.Section
	for _, id := range ids {
		if sec, err := s.GetByID(ctx, id); err == nil {
			out = append(out, sec)
		}
	}
	return out, nil
}

func (s *sectionStore) LockActive(ctx context.Context, ids []uuid.UUID) ([]*notesection.Section, error) {
	return s.GetByIDs(ctx, ids)
}

func (s *sectionStore) Update(_ context.Context, sec *notesection.Section) error {
	cp := *sec
	s.byID[sec.ID] = &cp
	return nil
}

func (s *sectionStore) SoftDelete(_ context.Context, id uuid.UUID) error {
	if _, ok := s.byID[id]; !ok {
		return apperr.NotFound("note section", id.String())
	}
	delete(s.byID, id)
	return nil
}

func (s *sectionStore) List(ctx context.Context, limit, offset int) ([]*notesection.Section, int, error) {
	all, _ := s.ListAll(ctx)
	return all, len(all), nil
}

func (s *sectionStore) ListAll(_ context.Context) ([]*notesection.Section, error) {
	var out []*notesection.Section
	for _, sec := range s.byID {
		cp := *sec
		out = append(out, &cp)
	}
	return out, nil
}

// nopTx is a transaction whose commit and rollback do nothing.
type nopTx struct{ pgx.Tx }

func (nopTx) Commit(context.Context) error   { return nil }
func (nopTx) Rollback(context.Context) error { return nil }

type nopBeginner struct{}

func (nopBeginner) Begin(context.Context) (pgx.Tx, error) { return nopTx{}, nil }

func TestCompose_SectionDeleteLeavesSavedNote(t *testing.T) {
	ctx := context.Background()
	notes := sampleNotes(t)
	note := notes.notes["42"]

	store := &sectionStore{byID: make(map[uuid.UUID]*notesection.Section)}
	sections := notesection.NewService(store, nopBeginner{}, nil)
	titles := map[string]string{"pain": "Pain", "vitals": "Vitals", "cognitive_status": "Cognitive Status"}
	ids := make(map[string]uuid.UUID)
	for name := range titles {
		sec := &notesection.Section{Name: name}
		if err := store.Create(ctx, sec); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		ids[name] = sec.ID
	}

	templates := &fakeTemplates{names: []string{"Vitals", "Pain", "Cognitive Status"}}
	sections.OnDelete(func(_ context.Context, id uuid.UUID) error {
		for name, sid := range ids {
			if sid != id {
				continue
			}
			var kept []string
			for _, n := range templates.names {
				if n != titles[name] {
					kept = append(kept, n)
				}
			}
			templates.names = kept
		}
		return nil
	})

	svc := newTestService(notes, templates, config.SectionOrderStored)
	before, err := svc.Compose(ctx, "42")
	if err != nil {
		t.Fatalf("compose before delete: %v", err)
	}
	keysBefore := note.SectionsData.Keys()
	painBefore, _ := note.SectionsData.Get("pain")

	if err := sections.Delete(ctx, ids["pain"]); err != nil {
		t.Fatalf("delete section: %v", err)
	}
	if len(templates.names) != 2 {
		t.Fatalf("expected the template to drop the section, got %v", templates.names)
	}

	after, err := svc.Compose(ctx, "42")
	if err != nil {
		t.Fatalf("compose after delete: %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("document changed after section delete (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(keysBefore, note.SectionsData.Keys()); diff != "" {
		t.Errorf("sections_data keys changed (-before +after):\n%s", diff)
	}
	painAfter, ok := note.SectionsData.Get("pain")
	if !ok || !painAfter.Equal(painBefore) {
		t.Errorf("pain data changed: %s -> %s", painBefore, painAfter)
	}
}
