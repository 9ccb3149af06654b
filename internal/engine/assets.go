package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"qcline/internal/domain"
	"qcline/internal/engine/auth"
	"qcline/internal/events"
	"qcline/internal/repo"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateAssetOptions are parameters for creating a Draft asset.
type CreateAssetOptions struct {
	ID             string `validate:"omitempty,max=64"`
	Title          string `validate:"required,max=200"`
	Classification string `validate:"required,max=64"`
	DesignedBy     string `validate:"omitempty,max=64"`
	Actor          domain.Actor
}

func (e Engine) CreateAsset(ctx context.Context, opts CreateAssetOptions) (domain.AssetRecord, error) {
	if err := e.Auth.Require(opts.Actor, auth.CapAssetCreate); err != nil {
		return domain.AssetRecord{}, err
	}
	opts.Title = strings.TrimSpace(opts.Title)
	opts.Classification = strings.TrimSpace(opts.Classification)
	if err := validate.Struct(opts); err != nil {
		return domain.AssetRecord{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now().UTC().Format(time.RFC3339)
	a := domain.AssetRecord{
		ID:             id,
		Title:          opts.Title,
		Classification: opts.Classification,
		Status:         domain.StatusDraft,
		CreatedBy:      opts.Actor.ID,
		DesignedBy:     opts.DesignedBy,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAssetTx(ctx, tx, a); err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		return e.Events.Append(ctx, tx, events.AssetCreated, "asset", a.ID, opts.Actor.ID, events.EventPayload{
			"title": a.Title, "classification": a.Classification,
		})
	})
	if err != nil {
		return domain.AssetRecord{}, err
	}
	if e.Cache != nil {
		e.Cache.Fill(a)
	}
	e.log().InfoContext(ctx, "asset.created", "asset_id", a.ID, "actor", opts.Actor.ID)
	return a, nil
}

func (e Engine) canSee(actor domain.Actor, a domain.AssetRecord) bool {
	return e.Auth.Can(actor.Role, auth.CapAssetViewAll) || a.VisibleTo(actor.ID)
}

// GetAsset returns a confirmed record, from the projection when it holds
// one at the stored version. Assets the actor may not see are reported as
// not found.
func (e Engine) GetAsset(ctx context.Context, id string, actor domain.Actor) (domain.AssetRecord, error) {
	var (
		a  domain.AssetRecord
		ok bool
	)
	if e.Cache != nil && !e.Cache.IsPending(id) {
		a, ok = e.Cache.Get(id)
	}
	if ok && !e.cachedIsCurrent(ctx, a) {
		ok = false
	}
	if !ok {
		var err error
		a, err = e.readAsset(ctx, id)
		if err != nil {
			return domain.AssetRecord{}, err
		}
	}
	if !e.canSee(actor, a) {
		return domain.AssetRecord{}, fmt.Errorf("asset %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

// cachedIsCurrent compares a projected record with the stored row version.
// Another process sharing the workspace may have written since it was cached.
func (e Engine) cachedIsCurrent(ctx context.Context, a domain.AssetRecord) bool {
	ctx, cancel := context.WithTimeout(ctx, e.persistTimeout())
	defer cancel()
	version, err := e.Store.AssetVersion(ctx, a.ID)
	if err != nil {
		e.Cache.Invalidate(a.ID)
		return false
	}
	return version == a.Version
}

type AssetFilter struct {
	Status         domain.AssetStatus
	Classification string
	Limit          int
}

// ListAssets lists assets the actor may see: everything with
// asset.view_all, otherwise only assets they created, designed or submitted.
func (e Engine) ListAssets(ctx context.Context, actor domain.Actor, f AssetFilter) ([]domain.AssetRecord, error) {
	rf := repo.AssetFilter{Status: f.Status, Classification: f.Classification, Limit: f.Limit}
	if !e.Auth.Can(actor.Role, auth.CapAssetViewAll) {
		if actor.ID == "" {
			return nil, nil
		}
		rf.VisibleTo = actor.ID
	}
	return e.Repo.ListAssets(ctx, rf)
}

func (e Engine) ListReviews(ctx context.Context, assetID string, actor domain.Actor) ([]domain.ReviewRecord, error) {
	if _, err := e.GetAsset(ctx, assetID, actor); err != nil {
		return nil, err
	}
	return e.Repo.ListReviews(ctx, assetID)
}

// History returns the audit events of an asset.
func (e Engine) History(ctx context.Context, assetID string, actor domain.Actor) ([]domain.Event, error) {
	if _, err := e.GetAsset(ctx, assetID, actor); err != nil {
		return nil, err
	}
	return e.Events.List(ctx, "asset", assetID, 0)
}

// ChecklistFor returns the checklist a reviewer fills in for an asset of
// the given classification.
func (e Engine) ChecklistFor(ctx context.Context, classification string) (domain.Checklist, error) {
	return e.Checklists.GetApplicable(ctx, classification)
}
