package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"qcline/internal/domain"
	"qcline/internal/engine/auth"
	"qcline/internal/events"
	"qcline/internal/lifecycle"
	"qcline/internal/policy"
	"qcline/internal/scoring"
)

type ReviewResult struct {
	Asset    domain.AssetRecord   `json:"asset"`
	Decision domain.FinalDecision `json:"decision"`
	Review   domain.ReviewRecord  `json:"review"`
}

// SubmitReview scores a reviewer's evaluations against the checklist that
// applies to the asset, decides the outcome and moves the asset out of
// PendingQCReview. Nothing is written unless every guard passes.
func (e Engine) SubmitReview(ctx context.Context, sub domain.ReviewSubmission) (ReviewResult, error) {
	if strings.TrimSpace(sub.AssetID) == "" {
		return ReviewResult{}, fmt.Errorf("%w: asset_id required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(sub.Reviewer.ID) == "" {
		return ReviewResult{}, fmt.Errorf("%w: reviewer id required", domain.ErrInvalidInput)
	}
	if err := e.Auth.Require(sub.Reviewer, auth.CapQCReview); err != nil {
		return ReviewResult{}, err
	}
	asset, err := e.readAsset(ctx, sub.AssetID)
	if err != nil {
		return ReviewResult{}, err
	}
	if !e.canSee(sub.Reviewer, asset) {
		return ReviewResult{}, fmt.Errorf("asset %s: %w", asset.ID, domain.ErrNotFound)
	}
	if asset.Status != domain.StatusPendingQCReview {
		return ReviewResult{}, lifecycle.TransitionError{AssetID: asset.ID, From: asset.Status, Event: lifecycle.EventApprove}
	}
	cl, err := e.Checklists.GetApplicable(ctx, asset.Classification)
	if err != nil {
		return ReviewResult{}, err
	}
	res, err := scoring.Score(cl, sub.Evaluations)
	if err != nil {
		return ReviewResult{}, err
	}
	dec, err := policy.Decide(cl, res, sub.RequestedDecision)
	if err != nil {
		return ReviewResult{}, err
	}
	ev, err := lifecycle.EventForOutcome(dec.Outcome)
	if err != nil {
		return ReviewResult{}, err
	}
	next, err := e.Machine.Fire(asset, ev, sub.Reviewer)
	if err != nil {
		return ReviewResult{}, err
	}
	score := dec.Score
	next.QCScore = &score
	next.QCRemarks = strings.TrimSpace(sub.Remarks)

	review := domain.ReviewRecord{
		ID:                uuid.NewString(),
		AssetID:           asset.ID,
		ReviewerID:        sub.Reviewer.ID,
		ReviewerRole:      sub.Reviewer.Role,
		ChecklistID:       cl.ID,
		ChecklistSnapshot: cl,
		Evaluations:       sub.Evaluations,
		RawScore:          res.RawScore,
		Score:             dec.Score,
		Outcome:           dec.Outcome,
		Requested:         sub.RequestedDecision,
		Warnings:          dec.Warnings,
		Remarks:           next.QCRemarks,
		FromStatus:        asset.Status,
		ToStatus:          next.Status,
		CreatedAt:         e.now().UTC().Format(time.RFC3339),
	}
	saved, err := e.apply(ctx, Transition{
		Asset:    next,
		Expected: asset.Status,
		Review:   &review,
		Event:    events.AssetReviewed,
		ActorID:  sub.Reviewer.ID,
		Payload: events.EventPayload{
			"review_id": review.ID,
			"outcome":   dec.Outcome,
			"score":     dec.Score,
			"requested": sub.RequestedDecision,
			"from":      asset.Status,
			"to":        next.Status,
		},
	})
	if err != nil {
		return ReviewResult{}, err
	}

	for _, w := range dec.Warnings {
		e.log().WarnContext(ctx, "review.warning", "asset_id", asset.ID, "reviewer", sub.Reviewer.ID, "code", w.Code, "message", w.Message)
	}
	e.log().InfoContext(ctx, "review.submitted",
		"asset_id", asset.ID, "reviewer", sub.Reviewer.ID, "checklist_id", cl.ID,
		"score", dec.Score, "outcome", dec.Outcome, "status", saved.Status)
	return ReviewResult{Asset: saved, Decision: dec, Review: review}, nil
}

// ResubmitForRework returns a ReworkRequired asset to the review queue. Only
// the original submitter may do so unless the actor holds rework.override.
func (e Engine) ResubmitForRework(ctx context.Context, assetID string, actor domain.Actor) (domain.AssetRecord, error) {
	if err := e.Auth.Require(actor, auth.CapAssetSubmit); err != nil {
		return domain.AssetRecord{}, err
	}
	asset, err := e.readAsset(ctx, assetID)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	if asset.Status != domain.StatusReworkRequired {
		return domain.AssetRecord{}, lifecycle.TransitionError{AssetID: asset.ID, From: asset.Status, Event: lifecycle.EventResubmit}
	}
	if actor.ID != asset.SubmittedBy && !e.Auth.Can(actor.Role, auth.CapReworkOverride) {
		return domain.AssetRecord{}, auth.ForbiddenError{
			ActorID:    actor.ID,
			Role:       actor.Role,
			Capability: auth.CapReworkOverride,
			Reason:     fmt.Sprintf("only the submitter (%s) may resubmit asset %s", asset.SubmittedBy, asset.ID),
		}
	}
	next, err := e.Machine.Fire(asset, lifecycle.EventResubmit, actor)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	saved, err := e.apply(ctx, Transition{
		Asset:    next,
		Expected: asset.Status,
		Event:    events.AssetResubmitted,
		ActorID:  actor.ID,
		Payload:  events.EventPayload{"rework_count": next.ReworkCount},
	})
	if err != nil {
		return domain.AssetRecord{}, err
	}
	e.log().InfoContext(ctx, "asset.resubmitted", "asset_id", saved.ID, "actor", actor.ID, "rework_count", saved.ReworkCount)
	return saved, nil
}

// SubmitForQC moves a Draft asset into the review queue and records the
// submitter.
func (e Engine) SubmitForQC(ctx context.Context, assetID string, actor domain.Actor) (domain.AssetRecord, error) {
	if err := e.Auth.Require(actor, auth.CapAssetSubmit); err != nil {
		return domain.AssetRecord{}, err
	}
	asset, err := e.readAsset(ctx, assetID)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	if !asset.VisibleTo(actor.ID) && !e.Auth.Can(actor.Role, auth.CapReworkOverride) {
		return domain.AssetRecord{}, auth.ForbiddenError{
			ActorID: actor.ID, Role: actor.Role, Capability: auth.CapAssetSubmit,
			Reason: fmt.Sprintf("asset %s belongs to %s", asset.ID, asset.CreatedBy),
		}
	}
	next, err := e.Machine.Fire(asset, lifecycle.EventSubmit, actor)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	saved, err := e.apply(ctx, Transition{
		Asset:    next,
		Expected: asset.Status,
		Event:    events.AssetSubmitted,
		ActorID:  actor.ID,
		Payload:  events.EventPayload{"classification": asset.Classification},
	})
	if err != nil {
		return domain.AssetRecord{}, err
	}
	e.log().InfoContext(ctx, "asset.submitted", "asset_id", saved.ID, "actor", actor.ID)
	return saved, nil
}
