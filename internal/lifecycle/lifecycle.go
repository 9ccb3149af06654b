// Package lifecycle is the asset status state machine. Every transition is
// gated by a capability of the acting role and by the current status.
package lifecycle

import (
	"fmt"
	"time"

	"qcline/internal/domain"
	"qcline/internal/engine/auth"
)

type Event string

const (
	EventSubmit        Event = "submit"
	EventApprove       Event = "approve"
	EventReject        Event = "reject"
	EventRequestRework Event = "request_rework"
	EventResubmit      Event = "resubmit"
)

// TransitionError reports an event fired from a status that does not allow it.
type TransitionError struct {
	AssetID string
	From    domain.AssetStatus
	Event   Event
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("asset %s: cannot %s from %s", e.AssetID, e.Event, e.From)
}

func (e TransitionError) Is(target error) bool { return target == domain.ErrInvalidTransition }

// Authorizer answers capability questions for a role.
type Authorizer interface {
	Can(role string, c auth.Capability) bool
}

type transition struct {
	from       domain.AssetStatus
	to         domain.AssetStatus
	capability auth.Capability
}

var transitions = map[Event]transition{
	EventSubmit:        {domain.StatusDraft, domain.StatusPendingQCReview, auth.CapAssetSubmit},
	EventApprove:       {domain.StatusPendingQCReview, domain.StatusQCApproved, auth.CapQCReview},
	EventReject:        {domain.StatusPendingQCReview, domain.StatusQCRejected, auth.CapQCReview},
	EventRequestRework: {domain.StatusPendingQCReview, domain.StatusReworkRequired, auth.CapQCReview},
	EventResubmit:      {domain.StatusReworkRequired, domain.StatusPendingQCReview, auth.CapAssetSubmit},
}

type Machine struct {
	Auth Authorizer
	Now  func() time.Time
}

// Capability returns the capability an event requires.
func Capability(ev Event) (auth.Capability, bool) {
	t, ok := transitions[ev]
	return t.capability, ok
}

// Target returns the status an event moves to, regardless of source.
func Target(ev Event) (domain.AssetStatus, bool) {
	t, ok := transitions[ev]
	return t.to, ok
}

// Fire applies ev to a copy of asset on behalf of actor. The capability is
// checked before the source status so callers without rights learn nothing
// about the asset's state.
func (m Machine) Fire(asset domain.AssetRecord, ev Event, actor domain.Actor) (domain.AssetRecord, error) {
	t, ok := transitions[ev]
	if !ok {
		return asset, fmt.Errorf("%w: unknown event %q", domain.ErrInvalidInput, ev)
	}
	if m.Auth == nil || !m.Auth.Can(actor.Role, t.capability) {
		return asset, auth.ForbiddenError{ActorID: actor.ID, Role: actor.Role, Capability: t.capability}
	}
	if asset.Status != t.from {
		return asset, TransitionError{AssetID: asset.ID, From: asset.Status, Event: ev}
	}

	now := m.now().UTC().Format(time.RFC3339)
	next := asset
	next.Status = t.to
	next.QCStatus = domain.QCStatusFor(t.to)
	next.LinkingActive = t.to == domain.StatusQCApproved
	next.UpdatedAt = now
	switch ev {
	case EventSubmit:
		next.SubmittedBy = actor.ID
		next.SubmittedAt = &now
		next.QCScore = nil
	case EventResubmit:
		next.ReworkCount++
		next.SubmittedAt = &now
	}
	return next, nil
}

// EventForOutcome maps a final review outcome to the event that applies it.
func EventForOutcome(o domain.Outcome) (Event, error) {
	switch o {
	case domain.OutcomePass:
		return EventApprove, nil
	case domain.OutcomeFail:
		return EventReject, nil
	case domain.OutcomeRework:
		return EventRequestRework, nil
	default:
		return "", fmt.Errorf("%w: outcome %q", domain.ErrInvalidInput, o)
	}
}

func (m Machine) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}
