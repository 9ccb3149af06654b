package checklist

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"qcline/internal/domain"
)

// File is the YAML layout accepted by Import.
//
//	checklists:
//	  - name: Blog post
//	    type: Content
//	    category: Editorial
//	    status: active
//	    scoring_mode: Weighted
//	    qc_output_type: PassReworkFail
//	    pass_threshold: 85
//	    rework_threshold: 70
//	    linked_modules: [content]
//	    items:
//	      - {name: Spelling, severity: Medium, weight: 2}
type File struct {
	Checklists []FileChecklist `yaml:"checklists"`
}

type FileChecklist struct {
	ID                         string     `yaml:"id"`
	Name                       string     `yaml:"name"`
	Type                       string     `yaml:"type"`
	Category                   string     `yaml:"category"`
	Status                     string     `yaml:"status"`
	ScoringMode                string     `yaml:"scoring_mode"`
	OutputType                 string     `yaml:"qc_output_type"`
	PassThreshold              int        `yaml:"pass_threshold"`
	ReworkThreshold            int        `yaml:"rework_threshold"`
	AutoFailOnRequiredItemFail bool       `yaml:"auto_fail_on_required_item_fail"`
	AutoFailOnCriticalItemFail bool       `yaml:"auto_fail_on_critical_item_fail"`
	LinkedModules              []string   `yaml:"linked_modules"`
	Items                      []FileItem `yaml:"items"`
}

type FileItem struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Severity string `yaml:"severity"`
	Required bool   `yaml:"required"`
	Weight   int    `yaml:"weight"`
}

func (f FileChecklist) toDomain() domain.Checklist {
	cl := domain.Checklist{
		ID:                         f.ID,
		Name:                       f.Name,
		Type:                       domain.ChecklistType(f.Type),
		Category:                   f.Category,
		Status:                     domain.ChecklistStatus(f.Status),
		ScoringMode:                domain.ScoringMode(f.ScoringMode),
		OutputType:                 domain.OutputType(f.OutputType),
		PassThreshold:              f.PassThreshold,
		ReworkThreshold:            f.ReworkThreshold,
		AutoFailOnRequiredItemFail: f.AutoFailOnRequiredItemFail,
		AutoFailOnCriticalItemFail: f.AutoFailOnCriticalItemFail,
		LinkedModules:              f.LinkedModules,
	}
	for _, it := range f.Items {
		weight := it.Weight
		if weight == 0 {
			weight = 1
		}
		cl.Items = append(cl.Items, domain.ChecklistItem{
			ID:           it.ID,
			Name:         it.Name,
			Severity:     domain.Severity(it.Severity),
			IsRequired:   it.Required,
			DefaultScore: weight,
		})
	}
	return cl
}

// Parse decodes and validates a checklist file without storing anything.
func Parse(data []byte) ([]domain.Checklist, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if len(f.Checklists) == 0 {
		return nil, fmt.Errorf("%w: no checklists in file", domain.ErrInvalidInput)
	}
	out := make([]domain.Checklist, 0, len(f.Checklists))
	for i, fc := range f.Checklists {
		cl := normalize(fc.toDomain())
		if err := Validate(cl); err != nil {
			return nil, fmt.Errorf("checklist %d (%s): %w", i, fc.Name, err)
		}
		out = append(out, cl)
	}
	return out, nil
}

// Import creates the checklists in data, or updates them when an id in the
// file already exists.
func (s Store) Import(ctx context.Context, actor domain.Actor, data []byte) ([]domain.Checklist, error) {
	parsed, err := Parse(data)
	if err != nil {
		return nil, err
	}
	var out []domain.Checklist
	for _, cl := range parsed {
		var saved domain.Checklist
		if cl.ID != "" {
			if _, err := s.Repo.GetChecklist(ctx, cl.ID); err == nil {
				saved, err = s.Update(ctx, actor, cl)
				if err != nil {
					return out, err
				}
				out = append(out, saved)
				continue
			} else if !errors.Is(err, domain.ErrNotFound) {
				return out, err
			}
		}
		saved, err = s.Create(ctx, actor, cl)
		if err != nil {
			return out, err
		}
		out = append(out, saved)
	}
	return out, nil
}
