package notedocument

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicaldocs/internal/config"
	"github.com/ehr/clinicaldocs/internal/domain/notesection"
	"github.com/ehr/clinicaldocs/internal/domain/notetemplate"
	"github.com/ehr/clinicaldocs/internal/domain/visitnote"
	"github.com/ehr/clinicaldocs/internal/platform/apperr"
	"github.com/ehr/clinicaldocs/internal/platform/noterender"
	"github.com/ehr/clinicaldocs/pkg/schemavalue"
)

// fakeNotes serves notes and visit contexts from maps. A block flag makes the
// call wait for its context to end.
type fakeNotes struct {
	notes        map[string]*visitnote.NoteInstance
	contexts     map[string]*visitnote.VisitContext
	noteErr      error
	contextErr   error
	blockNote    bool
	blockContext bool
}

func (f *fakeNotes) GetNote(ctx context.Context, visitID string) (*visitnote.NoteInstance, error) {
	if f.blockNote {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.noteErr != nil {
		return nil, f.noteErr
	}
	n, ok := f.notes[visitID]
	if !ok {
		return nil, apperr.NotFound("visit note", visitID)
	}
	return n, nil
}

func (f *fakeNotes) GetVisitContext(ctx context.Context, visitID string) (*visitnote.VisitContext, error) {
	if f.blockContext {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.contextErr != nil {
		return nil, f.contextErr
	}
	vc, ok := f.contexts[visitID]
	if !ok {
		return nil, apperr.NotFound("visit", visitID)
	}
	return vc, nil
}

type fakeTemplates struct {
	names []string
	err   error
	calls int
}

func (f *fakeTemplates) FetchWithSections(_ context.Context, d notetemplate.Discipline, nt notetemplate.NoteType) (*notetemplate.Expanded, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	exp := &notetemplate.Expanded{Template: &notetemplate.Template{Discipline: d, NoteType: nt, IsActive: true}}
	for _, n := range f.names {
		exp.Sections = append(exp.Sections, &notesection.Section{Name: n})
	}
	return exp, nil
}

func strPtr(s string) *string { return &s }

func timePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func sections(t *testing.T, raw string) *schemavalue.OrderedMap {
	t.Helper()
	m, err := visitnote.DecodeSections([]byte(raw))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return m
}

func sampleNotes(t *testing.T) *fakeNotes {
	return &fakeNotes{
		notes: map[string]*visitnote.NoteInstance{
			"42": {
				VisitID:       "42",
				Status:        "Completed",
				Discipline:    "PT",
				NoteType:      "Initial Evaluation",
				TherapistName: "Dana Cole",
				SectionsData: sections(t, `{
					"visit_id": 42,
					"pain": {"level": 3},
					"vitals": {"at_rest": {"heart_rate": 72}, "after_exertion": {"heart_rate": 90}},
					"cognitive_status": {}
				}`),
			},
		},
		contexts: map[string]*visitnote.VisitContext{
			"42": {
				PatientName: strPtr("Ann Lee"),
				DateOfBirth: timePtr(1950, time.March, 4),
				Gender:      strPtr("Female"),
				VisitDate:   timePtr(2024, time.May, 10),
				VisitType:   strPtr("Home Visit"),
			},
		},
	}
}

func newTestService(notes visitnote.Repository, templates TemplateLookup, order string) *Service {
	svc := NewService(notes, templates, Options{
		NoteFetchTimeout:     50 * time.Millisecond,
		MetadataFetchTimeout: 20 * time.Millisecond,
		SectionOrder:         order,
	}, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) }
	return svc
}

func sectionKeys(doc *noterender.Document) []string {
	keys := make([]string, 0, len(doc.Sections))
	for _, s := range doc.Sections {
		keys = append(keys, s.Key)
	}
	return keys
}

func TestCompose(t *testing.T) {
	svc := newTestService(sampleNotes(t), nil, config.SectionOrderStored)

	doc, err := svc.Compose(context.Background(), " 42 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "PT Initial Evaluation" || doc.VisitID != "42" {
		t.Errorf("unexpected title/visit %q/%q", doc.Title, doc.VisitID)
	}

	wantHeader := []noterender.Field{
		{Label: "Patient", Value: "Ann Lee"},
		{Label: "Date of Birth", Value: "03/04/1950"},
		{Label: "Gender", Value: "Female"},
		{Label: "Visit Date", Value: "05/10/2024"},
		{Label: "Visit Type", Value: "Home Visit"},
		{Label: "Therapy Type", Value: noterender.NotAvailable},
		{Label: "Therapist", Value: "Dana Cole"},
		{Label: "Status", Value: "Completed"},
	}
	if diff := cmp.Diff(wantHeader, doc.Header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"pain", "vitals", "cognitive_status"}, sectionKeys(doc)); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
	if doc.Sections[1].Vitals[0].String() != "Heart Rate | 72 | 90" {
		t.Errorf("unexpected vitals row %q", doc.Sections[1].Vitals[0])
	}
	if doc.Sections[2].Placeholder != noterender.NoDataPlaceholder {
		t.Errorf("expected empty section placeholder, got %+v", doc.Sections[2])
	}
}

func TestCompose_NotFound(t *testing.T) {
	svc := newTestService(sampleNotes(t), nil, "")

	_, err := svc.Compose(context.Background(), "missing")
	var es *ErrorState
	if !errors.As(err, &es) {
		t.Fatalf("expected ErrorState, got %v", err)
	}
	if es.Reason != ReasonNotFound || es.Retryable || es.StatusCode() != 404 {
		t.Errorf("unexpected error state %+v", es)
	}
	if !apperr.IsNotFound(err) {
		t.Error("expected error state to wrap the not-found error")
	}
}

func TestCompose_FetchFailureIsRetryable(t *testing.T) {
	notes := sampleNotes(t)
	notes.noteErr = errors.New("connection refused")
	svc := newTestService(notes, nil, "")

	doc, err := svc.Compose(context.Background(), "42")
	if doc != nil {
		t.Fatal("expected no partial document")
	}
	var es *ErrorState
	if !errors.As(err, &es) {
		t.Fatalf("expected ErrorState, got %v", err)
	}
	if es.Reason != ReasonUnavailable || !es.Retryable || es.StatusCode() != 503 {
		t.Errorf("unexpected error state %+v", es)
	}
	if apperr.StatusCode(err) != 503 {
		t.Errorf("expected wrapped UnavailableError, got status %d", apperr.StatusCode(err))
	}
}

func TestCompose_MalformedNoteIsPermanent(t *testing.T) {
	_, decodeErr := visitnote.DecodeSections([]byte(`["not", "an", "object"]`))
	notes := sampleNotes(t)
	notes.noteErr = decodeErr
	svc := newTestService(notes, nil, "")

	doc, err := svc.Compose(context.Background(), "42")
	if doc != nil {
		t.Fatal("expected no partial document")
	}
	var es *ErrorState
	if !errors.As(err, &es) {
		t.Fatalf("expected ErrorState, got %v", err)
	}
	if es.Reason != ReasonInvalid || es.Retryable || es.StatusCode() != 422 {
		t.Errorf("unexpected error state %+v", es)
	}
	if !errors.Is(err, visitnote.ErrMalformedSections) {
		t.Error("expected error state to wrap the decode error")
	}
}

func TestCompose_FetchTimeout(t *testing.T) {
	notes := sampleNotes(t)
	notes.blockNote = true
	svc := newTestService(notes, nil, "")

	start := time.Now()
	_, err := svc.Compose(context.Background(), "42")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("fetch was not bounded, took %s", elapsed)
	}
	var es *ErrorState
	if !errors.As(err, &es) || es.Reason != ReasonUnavailable {
		t.Fatalf("expected unavailable error state, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in chain, got %v", err)
	}
	if es.Message != "Loading the visit note timed out." {
		t.Errorf("unexpected message %q", es.Message)
	}
}

func TestCompose_MetadataDegradesGracefully(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeNotes)
	}{
		{"lookup error", func(f *fakeNotes) { f.contextErr = errors.New("patients service down") }},
		{"lookup timeout", func(f *fakeNotes) { f.blockContext = true }},
		{"no visit row", func(f *fakeNotes) { f.contexts = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notes := sampleNotes(t)
			tt.mutate(notes)
			svc := newTestService(notes, nil, "")

			doc, err := svc.Compose(context.Background(), "42")
			if err != nil {
				t.Fatalf("expected a document, got %v", err)
			}
			for _, f := range doc.Header[:6] {
				if f.Value != noterender.NotAvailable {
					t.Errorf("%s = %q, want placeholder", f.Label, f.Value)
				}
			}
			if len(doc.Sections) != 3 {
				t.Errorf("expected sections to render, got %d", len(doc.Sections))
			}
		})
	}
}

func TestCompose_TherapistFallback(t *testing.T) {
	notes := sampleNotes(t)
	n := notes.notes["42"]
	n.TherapistName = ""
	n.SectionsData.Set("therapist_name", schemavalue.StringValue("Sam Ortiz"))
	svc := newTestService(notes, nil, "")

	doc, err := svc.Compose(context.Background(), "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.Header[6]; got.Value != "Sam Ortiz" {
		t.Errorf("therapist = %q", got.Value)
	}
	for _, s := range doc.Sections {
		if s.Key == "therapist_name" {
			t.Error("therapist_name must not render as a section")
		}
	}

	n.SectionsData.Delete("therapist_name")
	doc, _ = svc.Compose(context.Background(), "42")
	if got := doc.Header[6]; got.Value != noterender.NotAvailable {
		t.Errorf("therapist = %q, want placeholder", got.Value)
	}
}

func TestCompose_TemplateOrder(t *testing.T) {
	templates := &fakeTemplates{names: []string{"Cognitive Status", "Vitals"}}
	svc := newTestService(sampleNotes(t), templates, config.SectionOrderTemplate)

	doc, err := svc.Compose(context.Background(), "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"cognitive_status", "vitals", "pain"}, sectionKeys(doc)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestCompose_TemplateOrderFallsBack(t *testing.T) {
	for _, lookupErr := range []error{
		apperr.NotFound("note template", "PT/Initial Evaluation"),
		errors.New("db down"),
	} {
		templates := &fakeTemplates{err: lookupErr}
		svc := newTestService(sampleNotes(t), templates, config.SectionOrderTemplate)

		doc, err := svc.Compose(context.Background(), "42")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]string{"pain", "vitals", "cognitive_status"}, sectionKeys(doc)); diff != "" {
			t.Errorf("%v: order mismatch (-want +got):\n%s", lookupErr, diff)
		}
	}
}

func TestCompose_StoredOrderSkipsTemplateLookup(t *testing.T) {
	templates := &fakeTemplates{names: []string{"Vitals"}}
	svc := newTestService(sampleNotes(t), templates, config.SectionOrderStored)

	if _, err := svc.Compose(context.Background(), "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if templates.calls != 0 {
		t.Errorf("expected no template lookup, got %d", templates.calls)
	}
}

func TestCompose_RequiresVisitID(t *testing.T) {
	svc := newTestService(sampleNotes(t), nil, "")
	if _, err := svc.Compose(context.Background(), "  "); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
