package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcline/internal/config"
	"qcline/internal/domain"
	"qcline/internal/engine/auth"
	"qcline/internal/lifecycle"
)

var (
	author   = domain.Actor{ID: "alice", Role: "author"}
	reviewer = domain.Actor{ID: "rita", Role: "qc_reviewer"}
	admin    = domain.Actor{ID: "root", Role: "admin"}
)

func machine() lifecycle.Machine {
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return lifecycle.Machine{
		Auth: auth.NewService(nil, config.Default()),
		Now:  func() time.Time { return fixed },
	}
}

func draft() domain.AssetRecord {
	return domain.AssetRecord{ID: "a1", Status: domain.StatusDraft, CreatedBy: "alice"}
}

func TestHappyPath(t *testing.T) {
	m := machine()
	a, err := m.Fire(draft(), lifecycle.EventSubmit, author)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingQCReview, a.Status)
	assert.Equal(t, "alice", a.SubmittedBy)
	require.NotNil(t, a.SubmittedAt)
	assert.Nil(t, a.QCStatus)

	approved, err := m.Fire(a, lifecycle.EventApprove, reviewer)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQCApproved, approved.Status)
	require.NotNil(t, approved.QCStatus)
	assert.Equal(t, domain.QCPass, *approved.QCStatus)
	assert.True(t, approved.LinkingActive)

	// Fire never mutates its input.
	assert.Equal(t, domain.StatusPendingQCReview, a.Status)
}

func TestApproveFromDraftIsInvalid(t *testing.T) {
	_, err := machine().Fire(draft(), lifecycle.EventApprove, reviewer)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	var te lifecycle.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.StatusDraft, te.From)
}

func TestAuthorCannotReview(t *testing.T) {
	pending := draft()
	pending.Status = domain.StatusPendingQCReview
	for _, ev := range []lifecycle.Event{lifecycle.EventApprove, lifecycle.EventReject, lifecycle.EventRequestRework} {
		_, err := machine().Fire(pending, ev, author)
		assert.ErrorIs(t, err, domain.ErrForbidden, "event %s", ev)
	}
}

func TestCapabilityCheckedBeforeStatus(t *testing.T) {
	_, err := machine().Fire(draft(), lifecycle.EventApprove, author)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.NotErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReworkCycle(t *testing.T) {
	m := machine()
	a := draft()
	a.Status = domain.StatusPendingQCReview
	a.SubmittedBy = "alice"
	a.LinkingActive = true

	rw, err := m.Fire(a, lifecycle.EventRequestRework, reviewer)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReworkRequired, rw.Status)
	assert.Equal(t, domain.QCRework, *rw.QCStatus)
	assert.False(t, rw.LinkingActive)

	back, err := m.Fire(rw, lifecycle.EventResubmit, author)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingQCReview, back.Status)
	assert.Equal(t, 1, back.ReworkCount)
	assert.Nil(t, back.QCStatus)

	_, err = m.Fire(back, lifecycle.EventResubmit, author)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRejectIsTerminal(t *testing.T) {
	m := machine()
	a := draft()
	a.Status = domain.StatusPendingQCReview
	rej, err := m.Fire(a, lifecycle.EventReject, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.QCFail, *rej.QCStatus)
	for _, ev := range []lifecycle.Event{lifecycle.EventSubmit, lifecycle.EventApprove, lifecycle.EventResubmit} {
		_, err := m.Fire(rej, ev, admin)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "event %s", ev)
	}
}

func TestUnknownRoleIsForbidden(t *testing.T) {
	_, err := machine().Fire(draft(), lifecycle.EventSubmit, domain.Actor{ID: "x", Role: "guest"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestEventForOutcome(t *testing.T) {
	ev, err := lifecycle.EventForOutcome(domain.OutcomeRework)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.EventRequestRework, ev)
	_, err = lifecycle.EventForOutcome("Unknown")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
