// Package notedocument composes a saved visit note into a rendered document:
// it fetches the note and its visit context under separate deadlines, builds
// the header and orders the sections before handing them to noterender.
package notedocument

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinicaldocs/internal/config"
	"github.com/ehr/clinicaldocs/internal/domain/notetemplate"
	"github.com/ehr/clinicaldocs/internal/domain/visitnote"
	"github.com/ehr/clinicaldocs/internal/platform/apperr"
	"github.com/ehr/clinicaldocs/internal/platform/noterender"
)

// Reason distinguishes why a document could not be composed.
type Reason string

const (
	ReasonNotFound    Reason = "not_found"
	ReasonUnavailable Reason = "unavailable"
	// ReasonInvalid means the saved note exists but its data cannot be read.
	ReasonInvalid Reason = "invalid_note"
)

// ErrorState is returned instead of a document when the note itself could not
// be loaded. A partially rendered document is never produced.
type ErrorState struct {
	Reason    Reason
	Message   string
	Retryable bool
	Err       error
}

func (e *ErrorState) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ErrorState) Unwrap() error { return e.Err }

// StatusCode is the HTTP status of the error state.
func (e *ErrorState) StatusCode() int {
	switch e.Reason {
	case ReasonNotFound:
		return http.StatusNotFound
	case ReasonInvalid:
		return http.StatusUnprocessableEntity
	}
	return http.StatusServiceUnavailable
}

// TemplateLookup resolves the active template of a note's discipline and
// note type.
type TemplateLookup interface {
	FetchWithSections(ctx context.Context, d notetemplate.Discipline, nt notetemplate.NoteType) (*notetemplate.Expanded, error)
}

type Options struct {
	NoteFetchTimeout     time.Duration
	MetadataFetchTimeout time.Duration
	// SectionOrder is config.SectionOrderStored or config.SectionOrderTemplate.
	SectionOrder string
}

// OptionsFromConfig picks the composition settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		NoteFetchTimeout:     cfg.NoteFetchTimeout,
		MetadataFetchTimeout: cfg.MetadataFetchTimeout,
		SectionOrder:         cfg.RenderSectionOrder,
	}
}

type Service struct {
	notes     visitnote.Repository
	templates TemplateLookup
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService returns a composer. templates may be nil when section order is
// always the stored order.
func NewService(notes visitnote.Repository, templates TemplateLookup, opts Options, logger zerolog.Logger) *Service {
	if opts.NoteFetchTimeout <= 0 {
		opts.NoteFetchTimeout = 5 * time.Second
	}
	if opts.MetadataFetchTimeout <= 0 {
		opts.MetadataFetchTimeout = 2 * time.Second
	}
	if opts.SectionOrder == "" {
		opts.SectionOrder = config.SectionOrderStored
	}
	return &Service{
		notes:     notes,
		templates: templates,
		opts:      opts,
		logger:    logger.With().Str("component", "notedocument").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Compose renders the latest note of visitID. A note that cannot be fetched
// yields an *ErrorState; missing header data only degrades the header.
func (s *Service) Compose(ctx context.Context, visitID string) (*noterender.Document, error) {
	visitID = strings.TrimSpace(visitID)
	if visitID == "" {
		return nil, apperr.Validation("visit_id", "is required")
	}

	note, err := s.fetchNote(ctx, visitID)
	if err != nil {
		return nil, err
	}

	doc := &noterender.Document{
		Title:       documentTitle(note),
		VisitID:     visitID,
		Header:      s.header(ctx, note),
		Sections:    noterender.RenderDocumentOrdered(note.SectionsData, s.sectionOrder(ctx, note)),
		GeneratedAt: s.now(),
	}
	s.logger.Debug().
		Str("visit_id", visitID).
		Int("sections", len(doc.Sections)).
		Msg("note document composed")
	return doc, nil
}

func (s *Service) fetchNote(ctx context.Context, visitID string) (*visitnote.NoteInstance, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.NoteFetchTimeout)
	defer cancel()

	note, err := s.notes.GetNote(fetchCtx, visitID)
	switch {
	case err == nil:
		return note, nil
	case apperr.IsNotFound(err):
		return nil, &ErrorState{
			Reason:  ReasonNotFound,
			Message: "No note has been saved for this visit.",
			Err:     err,
		}
	case errors.Is(err, visitnote.ErrMalformedSections):
		s.logger.Error().Err(err).Str("visit_id", visitID).Msg("stored visit note is unreadable")
		return nil, &ErrorState{
			Reason:  ReasonInvalid,
			Message: "The saved visit note data is malformed.",
			Err:     err,
		}
	}

	msg := "The visit note could not be loaded."
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "Loading the visit note timed out."
	}
	s.logger.Warn().Err(err).Str("visit_id", visitID).Msg("visit note fetch failed")
	return nil, &ErrorState{
		Reason:    ReasonUnavailable,
		Message:   msg,
		Retryable: true,
		Err:       apperr.Unavailable("visit note", err),
	}
}

func documentTitle(note *visitnote.NoteInstance) string {
	parts := make([]string, 0, 3)
	if note.Discipline != "" {
		parts = append(parts, note.Discipline)
	}
	if note.NoteType != "" {
		parts = append(parts, note.NoteType)
	}
	if len(parts) == 0 {
		return "Visit Note"
	}
	return strings.Join(parts, " ")
}

const dateLayout = "01/02/2006"

func (s *Service) header(ctx context.Context, note *visitnote.NoteInstance) []noterender.Field {
	var vc visitnote.VisitContext

	metaCtx, cancel := context.WithTimeout(ctx, s.opts.MetadataFetchTimeout)
	found, err := s.notes.GetVisitContext(metaCtx, note.VisitID)
	cancel()
	switch {
	case err == nil && found != nil:
		vc = *found
	case apperr.IsNotFound(err):
		s.logger.Debug().Str("visit_id", note.VisitID).Msg("no visit context for note")
	case err != nil:
		s.logger.Warn().Err(err).Str("visit_id", note.VisitID).Msg("visit context lookup failed, header degraded")
	}

	return []noterender.Field{
		{Label: "Patient", Value: orNotAvailable(vc.PatientName)},
		{Label: "Date of Birth", Value: dateOrNotAvailable(vc.DateOfBirth)},
		{Label: "Gender", Value: orNotAvailable(vc.Gender)},
		{Label: "Visit Date", Value: dateOrNotAvailable(vc.VisitDate)},
		{Label: "Visit Type", Value: orNotAvailable(vc.VisitType)},
		{Label: "Therapy Type", Value: orNotAvailable(vc.TherapyType)},
		{Label: "Therapist", Value: therapistName(note)},
		{Label: "Status", Value: nonEmptyOr(note.Status)},
	}
}

// therapistName prefers the note's staff record and falls back to the name
// saved with the sections.
func therapistName(note *visitnote.NoteInstance) string {
	if name := strings.TrimSpace(note.TherapistName); name != "" {
		return name
	}
	if note.SectionsData != nil {
		if v, ok := note.SectionsData.Get("therapist_name"); ok {
			if name, ok := v.AsString(); ok && strings.TrimSpace(name) != "" {
				return strings.TrimSpace(name)
			}
		}
	}
	return noterender.NotAvailable
}

func orNotAvailable(s *string) string {
	if s == nil {
		return noterender.NotAvailable
	}
	return nonEmptyOr(*s)
}

func nonEmptyOr(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return noterender.NotAvailable
	}
	return s
}

func dateOrNotAvailable(t *time.Time) string {
	if t == nil || t.IsZero() {
		return noterender.NotAvailable
	}
	return t.Format(dateLayout)
}

// sectionOrder returns the section names of the note's active template when
// template ordering is configured. nil means stored order.
func (s *Service) sectionOrder(ctx context.Context, note *visitnote.NoteInstance) []string {
	if s.opts.SectionOrder != config.SectionOrderTemplate || s.templates == nil {
		return nil
	}
	d, nt := notetemplate.Discipline(note.Discipline), notetemplate.NoteType(note.NoteType)
	if !d.Valid() || !nt.Valid() {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.opts.MetadataFetchTimeout)
	defer cancel()
	tpl, err := s.templates.FetchWithSections(lookupCtx, d, nt)
	if err != nil {
		if !apperr.IsNotFound(err) {
			s.logger.Warn().Err(err).Str("visit_id", note.VisitID).Msg("template lookup failed, using stored order")
		}
		return nil
	}

	names := make([]string, 0, len(tpl.Sections))
	for _, sec := range tpl.Sections {
		names = append(names, sec.Name)
	}
	return names
}
