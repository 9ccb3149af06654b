package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcline/internal/domain"
	"qcline/internal/policy"
	"qcline/internal/scoring"
)

func checklist(out domain.OutputType, pass, rework int) domain.Checklist {
	return domain.Checklist{
		ID:              "cl-1",
		ScoringMode:     domain.ScoringBinary,
		OutputType:      out,
		PassThreshold:   pass,
		ReworkThreshold: rework,
	}
}

func clean(score int) scoring.Result {
	return scoring.Result{Score: score, AllRequiredPassed: true}
}

func TestRequiredAutoFailBeatsScore(t *testing.T) {
	cl := checklist(domain.OutputPassFail, 70, 0)
	cl.AutoFailOnRequiredItemFail = true

	// one required item failed, four optional passed
	dec, err := policy.Decide(cl, scoring.Result{Score: 80, AllRequiredPassed: false}, domain.RequestApproved)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFail, dec.Outcome)
	assert.Equal(t, 80, dec.Score)
	require.Len(t, dec.Warnings, 1)
	assert.Equal(t, policy.WarnAutoFailRequired, dec.Warnings[0].Code)

	dec, err = policy.Decide(cl, scoring.Result{Score: 100, AllRequiredPassed: false}, domain.RequestApproved)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFail, dec.Outcome)
}

func TestRequiredAutoFailDisabled(t *testing.T) {
	cl := checklist(domain.OutputPassFail, 70, 0)
	dec, err := policy.Decide(cl, scoring.Result{Score: 80, AllRequiredPassed: false}, domain.RequestApproved)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePass, dec.Outcome)
	assert.Empty(t, dec.Warnings)
}

func TestCriticalAutoFail(t *testing.T) {
	cl := checklist(domain.OutputPassReworkFail, 85, 70)
	cl.AutoFailOnCriticalItemFail = true
	dec, err := policy.Decide(cl, scoring.Result{Score: 95, AllRequiredPassed: true, AnyCriticalFailed: true}, domain.RequestRework)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFail, dec.Outcome)
	require.Len(t, dec.Warnings, 1)
	assert.Equal(t, policy.WarnAutoFailCritical, dec.Warnings[0].Code)
}

func TestRequiredRuleTakesPrecedenceOverCritical(t *testing.T) {
	cl := checklist(domain.OutputPassFail, 50, 0)
	cl.AutoFailOnRequiredItemFail = true
	cl.AutoFailOnCriticalItemFail = true
	dec, err := policy.Decide(cl, scoring.Result{Score: 90, AnyCriticalFailed: true}, domain.RequestApproved)
	require.NoError(t, err)
	require.Len(t, dec.Warnings, 1)
	assert.Equal(t, policy.WarnAutoFailRequired, dec.Warnings[0].Code)
}

func TestAutoFailWithRejectRequestHasNoWarning(t *testing.T) {
	cl := checklist(domain.OutputPassFail, 50, 0)
	cl.AutoFailOnRequiredItemFail = true
	dec, err := policy.Decide(cl, scoring.Result{Score: 90}, domain.RequestRejected)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFail, dec.Outcome)
	assert.Empty(t, dec.Warnings)
}

func TestPassReworkFailBoundaries(t *testing.T) {
	cl := checklist(domain.OutputPassReworkFail, 85, 70)
	cases := []struct {
		score int
		want  domain.Outcome
	}{
		{69, domain.OutcomeFail},
		{70, domain.OutcomeRework},
		{84, domain.OutcomeRework},
		{85, domain.OutcomePass},
		{100, domain.OutcomePass},
		{0, domain.OutcomeFail},
	}
	for _, tc := range cases {
		dec, err := policy.Decide(cl, clean(tc.score), domain.RequestApproved)
		require.NoError(t, err)
		assert.Equal(t, tc.want, dec.Outcome, "score %d", tc.score)
		assert.Equal(t, tc.score, dec.Score)
	}
}

func TestPassFailIgnoresReworkRequest(t *testing.T) {
	cl := checklist(domain.OutputPassFail, 80, 0)
	dec, err := policy.Decide(cl, clean(90), domain.RequestRework)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePass, dec.Outcome)
	require.Len(t, dec.Warnings, 1)
	assert.Equal(t, policy.WarnThresholdOverride, dec.Warnings[0].Code)
}

func TestPercentageHonorsReworkRequest(t *testing.T) {
	cl := checklist(domain.OutputPercentage, 80, 0)
	dec, err := policy.Decide(cl, clean(90), domain.RequestRework)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRework, dec.Outcome)
	assert.Empty(t, dec.Warnings)

	dec, err = policy.Decide(cl, clean(79), domain.RequestApproved)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFail, dec.Outcome)
	require.Len(t, dec.Warnings, 1)

	dec, err = policy.Decide(cl, clean(80), domain.RequestApproved)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePass, dec.Outcome)
}

func TestPercentageReworkRequestCannotLiftAutoFail(t *testing.T) {
	cl := checklist(domain.OutputPercentage, 80, 0)
	cl.AutoFailOnCriticalItemFail = true
	dec, err := policy.Decide(cl, scoring.Result{Score: 90, AllRequiredPassed: true, AnyCriticalFailed: true}, domain.RequestRework)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFail, dec.Outcome)
}

func TestInvalidInputs(t *testing.T) {
	_, err := policy.Decide(checklist(domain.OutputPassFail, 80, 0), clean(90), "Maybe")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = policy.Decide(checklist("Stars", 80, 0), clean(90), domain.RequestApproved)
	assert.ErrorIs(t, err, domain.ErrInvalidChecklist)
}
