package notesection

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ehr/clinicaldocs/internal/platform/apperr"
	"github.com/ehr/clinicaldocs/internal/platform/db"
	"github.com/ehr/clinicaldocs/internal/platform/notification"
	"github.com/ehr/clinicaldocs/pkg/schemavalue"
)

const notifyResource = "note-sections"

// DeleteHook runs inside the transaction that soft-deletes a section. An
// error aborts the delete.
type DeleteHook func(ctx context.Context, sectionID uuid.UUID) error

type Service struct {
	repo    Repository
	pub     notification.Publisher
	runInTx func(ctx context.Context, fn func(ctx context.Context) error) error
	policy  *bluemonday.Policy
	hooks   []DeleteHook
}

// NewService wires the section store. txb opens transactions when the
// request context carries no tenant connection (CLI use).
func NewService(repo Repository, txb db.Beginner, pub notification.Publisher) *Service {
	if pub == nil {
		pub = notification.Nop{}
	}
	return &Service{
		repo: repo,
		pub:  pub,
		runInTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.RunInTx(ctx, txb, fn)
		},
		policy: bluemonday.StrictPolicy(),
	}
}

// OnDelete registers a hook run whenever a section is deleted.
func (s *Service) OnDelete(h DeleteHook) {
	s.hooks = append(s.hooks, h)
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Section, error) {
	sec, err := s.create(ctx, req)
	if err != nil {
		s.pub.Publish(ctx, notification.Failure(notifyResource, "", "Could not create section: "+err.Error()))
		return nil, err
	}
	s.pub.Publish(ctx, notification.Success(notifyResource, sec.ID.String(), fmt.Sprintf("Section %q created", sec.Name)))
	return sec, nil
}

func (s *Service) create(ctx context.Context, req CreateRequest) (*Section, error) {
	if isAbsent(req.FormSchema) {
		return nil, apperr.Validation("form_schema", "is required")
	}
	schema, err := ParseFormSchema(req.FormSchema)
	if err != nil {
		return nil, err
	}
	sec := &Section{
		Name:           req.Name,
		Description:    req.Description,
		IsRequired:     req.IsRequired,
		HasStaticImage: req.HasStaticImage,
		StaticImageURL: req.StaticImageURL,
		FormSchema:     schema,
	}
	if err := s.validate(ctx, sec); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, sec); err != nil {
		return nil, fmt.Errorf("create section: %w", err)
	}
	return sec, nil
}

// Update applies the fields present in req to section id.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Section, error) {
	sec, err := s.update(ctx, id, req)
	if err != nil {
		s.pub.Publish(ctx, notification.Failure(notifyResource, id.String(), "Could not update section: "+err.Error()))
		return nil, err
	}
	s.pub.Publish(ctx, notification.Success(notifyResource, sec.ID.String(), fmt.Sprintf("Section %q updated", sec.Name)))
	return sec, nil
}

func (s *Service) update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Section, error) {
	// Parse first so a bad schema is rejected before anything is read or written.
	var schema *schemavalue.Value
	if !isAbsent(req.FormSchema) {
		v, err := ParseFormSchema(req.FormSchema)
		if err != nil {
			return nil, err
		}
		schema = &v
	}

	sec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get section: %w", err)
	}
	if req.VersionID != nil && *req.VersionID != sec.VersionID {
		return nil, apperr.Conflict(resourceName, id.String())
	}

	if req.Name != nil {
		sec.Name = *req.Name
	}
	if req.Description != nil {
		sec.Description = req.Description
	}
	if req.IsRequired != nil {
		sec.IsRequired = *req.IsRequired
	}
	if req.HasStaticImage != nil {
		sec.HasStaticImage = *req.HasStaticImage
	}
	if req.StaticImageURL != nil {
		sec.StaticImageURL = req.StaticImageURL
	}
	if schema != nil {
		sec.FormSchema = *schema
	}

	if err := s.validate(ctx, sec); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, sec); err != nil {
		return nil, fmt.Errorf("update section: %w", err)
	}
	return sec, nil
}

// Delete soft-deletes a section and runs the delete hooks in the same
// transaction. Saved notes are never touched.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.runInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SoftDelete(ctx, id); err != nil {
			return err
		}
		for _, h := range s.hooks {
			if err := h(ctx, id); err != nil {
				return fmt.Errorf("section delete hook: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.pub.Publish(ctx, notification.Failure(notifyResource, id.String(), "Could not delete section: "+err.Error()))
		return fmt.Errorf("delete section: %w", err)
	}
	s.pub.Publish(ctx, notification.Success(notifyResource, id.String(), "Section deleted"))
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Section, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Section, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// GetMany returns the active sections among ids, in the order of ids.
func (s *Service) GetMany(ctx context.Context, ids []uuid.UUID) ([]*Section, error) {
	return s.repo.GetByIDs(ctx, ids)
}

// LockMany is GetMany for callers about to store references to the sections.
// Inside a transaction the returned sections stay active until it ends.
func (s *Service) LockMany(ctx context.Context, ids []uuid.UUID) ([]*Section, error) {
	return s.repo.LockActive(ctx, ids)
}

// Import upserts sections by name in one transaction.
func (s *Service) Import(ctx context.Context, defs []*Section) (ImportResult, error) {
	var res ImportResult
	err := s.runInTx(ctx, func(ctx context.Context) error {
		for i, def := range defs {
			if def.FormSchema.IsNull() {
				return apperr.Validation(fmt.Sprintf("sections[%d].form_schema", i), "is required")
			}
			existing, err := s.repo.GetByName(ctx, strings.TrimSpace(def.Name))
			switch {
			case err == nil:
				existing.Description = def.Description
				existing.IsRequired = def.IsRequired
				existing.HasStaticImage = def.HasStaticImage
				existing.StaticImageURL = def.StaticImageURL
				existing.FormSchema = def.FormSchema
				if err := s.validate(ctx, existing); err != nil {
					return fmt.Errorf("sections[%d]: %w", i, err)
				}
				if err := s.repo.Update(ctx, existing); err != nil {
					return fmt.Errorf("sections[%d]: %w", i, err)
				}
				res.Updated++
			case apperr.IsNotFound(err):
				sec := *def
				sec.ID = uuid.Nil
				if err := s.validate(ctx, &sec); err != nil {
					return fmt.Errorf("sections[%d]: %w", i, err)
				}
				if err := s.repo.Create(ctx, &sec); err != nil {
					return fmt.Errorf("sections[%d]: %w", i, err)
				}
				res.Created++
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.pub.Publish(ctx, notification.Failure(notifyResource, "", "Section import failed: "+err.Error()))
		return ImportResult{}, fmt.Errorf("import sections: %w", err)
	}
	s.pub.Publish(ctx, notification.Success(notifyResource, "",
		fmt.Sprintf("Imported sections: %d created, %d updated", res.Created, res.Updated)))
	return res, nil
}

// Export returns every active section ordered by name.
func (s *Service) Export(ctx context.Context) ([]*Section, error) {
	return s.repo.ListAll(ctx)
}

// validate normalizes sec in place and checks the section rules.
func (s *Service) validate(ctx context.Context, sec *Section) error {
	sec.Name = strings.TrimSpace(sec.Name)
	if sec.Name == "" {
		return apperr.Validation("name", "is required")
	}

	if sec.Description != nil {
		clean := strings.TrimSpace(s.policy.Sanitize(*sec.Description))
		if clean == "" {
			sec.Description = nil
		} else {
			sec.Description = &clean
		}
	}

	if sec.HasStaticImage {
		if sec.StaticImageURL == nil || strings.TrimSpace(*sec.StaticImageURL) == "" {
			return apperr.Validation("static_image_url", "is required when has_static_image is true")
		}
		raw := strings.TrimSpace(*sec.StaticImageURL)
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return apperr.Validation("static_image_url", "must be an absolute URL")
		}
		sec.StaticImageURL = &raw
	} else {
		sec.StaticImageURL = nil
	}

	other, err := s.repo.GetByName(ctx, sec.Name)
	switch {
	case err == nil && other.ID != sec.ID:
		return apperr.Validation("name", "a section with this name already exists")
	case err != nil && !apperr.IsNotFound(err):
		return fmt.Errorf("check section name: %w", err)
	}
	return nil
}
