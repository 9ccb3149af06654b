// Package checklist owns checklist definitions: validation, persistence and
// the lookup of the checklist that applies to an asset classification.
package checklist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"qcline/internal/config"
	"qcline/internal/domain"
	"qcline/internal/engine/auth"
	"qcline/internal/events"
	"qcline/internal/repo"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError lists every rule a checklist breaks.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Rule)
	}
	return "invalid checklist: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == domain.ErrInvalidChecklist }

func (e *ValidationError) add(field, rule string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Rule: rule})
}

// Validate checks struct rules plus the cross-item rules tags cannot express.
func Validate(cl domain.Checklist) error {
	verr := &ValidationError{}
	if err := validate.Struct(cl); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return fmt.Errorf("%w: %v", domain.ErrInvalidChecklist, err)
		}
		for _, fe := range ve {
			field := strings.TrimPrefix(fe.Namespace(), "Checklist.")
			verr.add(field, fe.Tag())
		}
	}
	if strings.TrimSpace(cl.Name) == "" && !verr.has("name") {
		verr.add("name", "required")
	}
	if cl.Status == domain.ChecklistActive && len(cl.Items) == 0 {
		verr.add("items", "required_when_active")
	}
	seen := map[string]bool{}
	for i, it := range cl.Items {
		if strings.TrimSpace(it.Name) == "" && !verr.has(fmt.Sprintf("items[%d].name", i)) {
			verr.add(fmt.Sprintf("items[%d].name", i), "required")
		}
		if it.ID == "" {
			continue
		}
		if seen[it.ID] {
			verr.add(fmt.Sprintf("items[%d].id", i), "unique")
		}
		seen[it.ID] = true
	}
	for i, m := range cl.LinkedModules {
		if strings.TrimSpace(m) == "" {
			verr.add(fmt.Sprintf("linked_modules[%d]", i), "required")
		}
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func (e *ValidationError) has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

type Store struct {
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func (s Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// normalize assigns missing item ids, positions from slice order, trims
// names and lower-cases linked module names.
func normalize(cl domain.Checklist) domain.Checklist {
	items := make([]domain.ChecklistItem, len(cl.Items))
	for i, it := range cl.Items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.Name = strings.TrimSpace(it.Name)
		it.Position = i
		items[i] = it
	}
	cl.Items = items
	var mods []string
	seen := map[string]bool{}
	for _, m := range cl.LinkedModules {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		mods = append(mods, m)
	}
	cl.LinkedModules = mods
	if cl.Status == "" {
		cl.Status = domain.ChecklistInactive
	}
	cl.Name = strings.TrimSpace(cl.Name)
	cl.Category = strings.TrimSpace(cl.Category)
	return cl
}

func (s Store) Create(ctx context.Context, actor domain.Actor, cl domain.Checklist) (domain.Checklist, error) {
	if err := s.Auth.Require(actor, auth.CapChecklistManage); err != nil {
		return domain.Checklist{}, err
	}
	cl = normalize(cl)
	if err := Validate(cl); err != nil {
		return domain.Checklist{}, err
	}
	if cl.ID == "" {
		cl.ID = uuid.NewString()
	}
	now := s.now().UTC().Format(time.RFC3339)
	cl.CreatedAt, cl.UpdatedAt = now, now
	err := s.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.Repo.InsertChecklistTx(ctx, tx, cl); err != nil {
			return err
		}
		return s.Events.Append(ctx, tx, events.ChecklistCreated, "checklist", cl.ID, actor.ID, events.EventPayload{
			"name": cl.Name, "status": cl.Status, "items": len(cl.Items),
		})
	})
	if err != nil {
		return domain.Checklist{}, err
	}
	return cl, nil
}

// Update replaces a checklist definition. Reviews already recorded keep the
// snapshot they were scored against.
func (s Store) Update(ctx context.Context, actor domain.Actor, cl domain.Checklist) (domain.Checklist, error) {
	if err := s.Auth.Require(actor, auth.CapChecklistManage); err != nil {
		return domain.Checklist{}, err
	}
	if cl.ID == "" {
		return domain.Checklist{}, fmt.Errorf("%w: checklist id required", domain.ErrInvalidInput)
	}
	cl = normalize(cl)
	if err := Validate(cl); err != nil {
		return domain.Checklist{}, err
	}
	err := s.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.Repo.GetChecklistTx(ctx, tx, cl.ID)
		if err != nil {
			return err
		}
		cl.CreatedAt = existing.CreatedAt
		cl.UpdatedAt = s.now().UTC().Format(time.RFC3339)
		if err := s.Repo.UpdateChecklistTx(ctx, tx, cl); err != nil {
			return err
		}
		return s.Events.Append(ctx, tx, events.ChecklistUpdated, "checklist", cl.ID, actor.ID, events.EventPayload{
			"status": cl.Status, "items": len(cl.Items), "previous_status": existing.Status,
		})
	})
	if err != nil {
		return domain.Checklist{}, err
	}
	return cl, nil
}

func (s Store) Activate(ctx context.Context, actor domain.Actor, id string) (domain.Checklist, error) {
	return s.setStatus(ctx, actor, id, domain.ChecklistActive)
}

func (s Store) Deactivate(ctx context.Context, actor domain.Actor, id string) (domain.Checklist, error) {
	return s.setStatus(ctx, actor, id, domain.ChecklistInactive)
}

func (s Store) setStatus(ctx context.Context, actor domain.Actor, id string, status domain.ChecklistStatus) (domain.Checklist, error) {
	cl, err := s.Repo.GetChecklist(ctx, id)
	if err != nil {
		return domain.Checklist{}, err
	}
	cl.Status = status
	return s.Update(ctx, actor, cl)
}

func (s Store) Get(ctx context.Context, id string) (domain.Checklist, error) {
	return s.Repo.GetChecklist(ctx, id)
}

func (s Store) List(ctx context.Context, f repo.ChecklistFilter) ([]domain.Checklist, error) {
	return s.Repo.ListChecklists(ctx, f)
}

// GetApplicable returns the active checklist linked to the module of an
// asset classification. Several candidates resolve to the most recently
// updated one, ties broken by id.
func (s Store) GetApplicable(ctx context.Context, classification string) (domain.Checklist, error) {
	module := strings.ToLower(strings.TrimSpace(classification))
	if s.Config != nil {
		module = s.Config.ModuleFor(classification)
	}
	if module == "" {
		return domain.Checklist{}, fmt.Errorf("%w: classification required", domain.ErrInvalidInput)
	}
	list, err := s.Repo.ListChecklists(ctx, repo.ChecklistFilter{Status: domain.ChecklistActive, Module: module})
	if err != nil {
		return domain.Checklist{}, err
	}
	if len(list) == 0 {
		return domain.Checklist{}, fmt.Errorf("%w for classification %q", domain.ErrNoChecklistConfigured, classification)
	}
	return list[0], nil
}
