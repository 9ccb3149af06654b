package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcline/internal/config"
	"qcline/internal/db"
	"qcline/internal/domain"
	"qcline/internal/engine"
	"qcline/internal/migrate"
	"qcline/internal/policy"
)

var (
	admin    = domain.Actor{ID: "root", Role: "admin"}
	author   = domain.Actor{ID: "alice", Role: "author"}
	other    = domain.Actor{ID: "bob", Role: "author"}
	reviewer = domain.Actor{ID: "rita", Role: "qc_reviewer"}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))

	cfg := config.Default()
	eng, err := engine.New(conn, cfg)
	require.NoError(t, err)
	eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	var mu sync.Mutex
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})
	return testEnv{Engine: eng, Ctx: ctx}
}

// seedChecklist stores an active web checklist with five equally weighted
// items; the first is required and the second is High severity.
func (env testEnv) seedChecklist(t *testing.T, mutate func(cl *domain.Checklist)) domain.Checklist {
	t.Helper()
	cl := domain.Checklist{
		Name:            "Web page QC",
		Type:            domain.TypeWeb,
		Category:        "Technical",
		Status:          domain.ChecklistActive,
		ScoringMode:     domain.ScoringBinary,
		OutputType:      domain.OutputPassReworkFail,
		PassThreshold:   85,
		ReworkThreshold: 70,
		LinkedModules:   []string{"web"},
		Items: []domain.ChecklistItem{
			{ID: "req", Name: "Legal disclaimer present", Severity: domain.SeverityMedium, IsRequired: true, DefaultScore: 1},
			{ID: "crit", Name: "No broken links", Severity: domain.SeverityHigh, DefaultScore: 1},
			{ID: "i3", Name: "Alt text", Severity: domain.SeverityLow, DefaultScore: 1},
			{ID: "i4", Name: "Meta description", Severity: domain.SeverityLow, DefaultScore: 1},
			{ID: "i5", Name: "Favicon", Severity: domain.SeverityLow, DefaultScore: 1},
		},
	}
	if mutate != nil {
		mutate(&cl)
	}
	saved, err := env.Engine.Checklists.Create(env.Ctx, admin, cl)
	require.NoError(t, err)
	return saved
}

func (env testEnv) pendingAsset(t *testing.T) domain.AssetRecord {
	t.Helper()
	a, err := env.Engine.CreateAsset(env.Ctx, engine.CreateAssetOptions{Title: "Spring landing page", Classification: "web", Actor: author})
	require.NoError(t, err)
	a, err = env.Engine.SubmitForQC(env.Ctx, a.ID, author)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingQCReview, a.Status)
	return a
}

func evals(outcomes map[string]domain.ItemOutcome) []domain.ItemEvaluation {
	var out []domain.ItemEvaluation
	for _, id := range []string{"req", "crit", "i3", "i4", "i5"} {
		if o, ok := outcomes[id]; ok {
			out = append(out, domain.ItemEvaluation{ItemID: id, Outcome: o})
		}
	}
	return out
}

func allPass() map[string]domain.ItemOutcome {
	return map[string]domain.ItemOutcome{
		"req": domain.ItemPass, "crit": domain.ItemPass, "i3": domain.ItemPass, "i4": domain.ItemPass, "i5": domain.ItemPass,
	}
}

func TestReviewApprovesAsset(t *testing.T) {
	env := newTestEnv(t)
	cl := env.seedChecklist(t, nil)
	a := env.pendingAsset(t)

	res, err := env.Engine.SubmitReview(env.Ctx, domain.ReviewSubmission{
		AssetID:           a.ID,
		Reviewer:          reviewer,
		Evaluations:       evals(allPass()),
		Remarks:           "ship it",
		RequestedDecision: domain.RequestApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePass, res.Decision.Outcome)
	assert.Equal(t, 100, res.Decision.Score)
	assert.Empty(t, res.Decision.Warnings)
	assert.Equal(t, domain.StatusQCApproved, res.Asset.Status)
	require.NotNil(t, res.Asset.QCStatus)
	assert.Equal(t, domain.QCPass, *res.Asset.QCStatus)
	assert.True(t, res.Asset.LinkingActive)
	assert.Equal(t, "ship it", res.Asset.QCRemarks)

	stored, err := env.Engine.Repo.GetAsset(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Asset, stored)

	reviews, err := env.Engine.ListReviews(env.Ctx, a.ID, author)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, cl.ID, reviews[0].ChecklistSnapshot.ID)
	assert.Len(t, reviews[0].ChecklistSnapshot.Items, 5)
	assert.Equal(t, domain.StatusPendingQCReview, reviews[0].FromStatus)

	history, err := env.Engine.History(env.Ctx, a.ID, admin)
	require.NoError(t, err)
	var types []string
	for _, ev := range history {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"asset.created", "asset.submitted", "asset.reviewed"}, types)
}

func TestRequiredItemFailureOverridesScore(t *testing.T) {
	env := newTestEnv(t)
	env.seedChecklist(t, func(cl *domain.Checklist) {
		cl.OutputType = domain.OutputPassFail
		cl.PassThreshold = 70
		cl.ReworkThreshold = 0
		cl.AutoFailOnRequiredItemFail = true
	})
	a := env.pendingAsset(t)
	outcomes := allPass()
	outcomes["req"] = domain.ItemFail

	res, err := env.Engine.SubmitReview(env.Ctx, domain.ReviewSubmission{
		AssetID: a.ID, Reviewer: reviewer, Evaluations: evals(outcomes), RequestedDecision: domain.RequestApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, 80, res.Decision.Score)
	assert.Equal(t, domain.OutcomeFail, res.Decision.Outcome)
	assert.Equal(t, domain.StatusQCRejected, res.Asset.Status)
	require.Len(t, res.Decision.Warnings, 1)
	assert.Equal(t, policy.WarnAutoFailRequired, res.Decision.Warnings[0].Code)
	require.NotNil(t, res.Asset.QCScore)
	assert.Equal(t, 80, *res.Asset.QCScore)
	assert.False(t, res.Asset.LinkingActive)
}

func TestReviewGuardsLeaveAssetUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.seedChecklist(t, nil)
	a := env.pendingAsset(t)
	sub := domain.ReviewSubmission{AssetID: a.ID, Reviewer: author, Evaluations: evals(allPass()), RequestedDecision: domain.RequestApproved}

	_, err := env.Engine.SubmitReview(env.Ctx, sub)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	sub.Reviewer = reviewer
	sub.Evaluations = append(sub.Evaluations, domain.ItemEvaluation{ItemID: "ghost", Outcome: domain.ItemPass})
	_, err = env.Engine.SubmitReview(env.Ctx, sub)
	assert.ErrorIs(t, err, domain.ErrInvalidEvaluation)

	sub.Evaluations = evals(allPass())
	sub.RequestedDecision = "Maybe"
	_, err = env.Engine.SubmitReview(env.Ctx, sub)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	sub.AssetID = "missing"
	sub.RequestedDecision = domain.RequestApproved
	_, err = env.Engine.SubmitReview(env.Ctx, sub)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := env.Engine.Repo.GetAsset(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, stored)
	reviews, err := env.Engine.Repo.ListReviews(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestReviewDraftIsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	env.seedChecklist(t, nil)
	a, err := env.Engine.CreateAsset(env.Ctx, engine.CreateAssetOptions{Title: "Draft", Classification: "web", Actor: author})
	require.NoError(t, err)
	_, err = env.Engine.SubmitReview(env.Ctx, domain.ReviewSubmission{
		AssetID: a.ID, Reviewer: reviewer, Evaluations: evals(allPass()), RequestedDecision: domain.RequestApproved,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestNoChecklistConfigured(t *testing.T) {
	env := newTestEnv(t)
	a := env.pendingAsset(t)
	_, err := env.Engine.SubmitReview(env.Ctx, domain.ReviewSubmission{
		AssetID: a.ID, Reviewer: reviewer, RequestedDecision: domain.RequestApproved,
	})
	assert.ErrorIs(t, err, domain.ErrNoChecklistConfigured)
	stored, err := env.Engine.Repo.GetAsset(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingQCReview, stored.Status)
}

func TestReworkCycle(t *testing.T) {
	env := newTestEnv(t)
	env.seedChecklist(t, nil)
	a := env.pendingAsset(t)
	outcomes := allPass()
	outcomes["i5"] = domain.ItemFail // 80: rework band

	res, err := env.Engine.SubmitReview(env.Ctx, domain.ReviewSubmission{
		AssetID: a.ID, Reviewer: reviewer, Evaluations: evals(outcomes), Remarks: "fix favicon", RequestedDecision: domain.RequestRework,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReworkRequired, res.Asset.Status)
	assert.Equal(t, domain.QCRework, *res.Asset.QCStatus)

	_, err = env.Engine.ResubmitForRework(env.Ctx, a.ID, other)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = env.Engine.ResubmitForRework(env.Ctx, a.ID, reviewer)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	back, err := env.Engine.ResubmitForRework(env.Ctx, a.ID, author)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingQCReview, back.Status)
	assert.Equal(t, 1, back.ReworkCount)
	assert.Nil(t, back.QCStatus)
	assert.Equal(t, "fix favicon", back.QCRemarks)

	_, err = env.Engine.ResubmitForRework(env.Ctx, a.ID, author)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// second round, admin override resubmits on the author's behalf
	_, err = env.Engine.SubmitReview(env.Ctx, domain.ReviewSubmission{
		AssetID: a.ID, Reviewer: reviewer, Evaluations: evals(outcomes), RequestedDecision: domain.RequestRework,
	})
	require.NoError(t, err)
	back, err = env.Engine.ResubmitForRework(env.Ctx, a.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, back.ReworkCount)
}

// gatedStore holds the first n readers until all of them have read, so
// every reviewer starts from the same PendingQCReview snapshot.
type gatedStore struct {
	engine.AssetStore
	n       int32
	calls   atomic.Int32
	arrived sync.WaitGroup
}

func (s *gatedStore) GetAsset(ctx context.Context, id string) (domain.AssetRecord, error) {
	a, err := s.AssetStore.GetAsset(ctx, id)
	if s.calls.Add(1) <= s.n {
		s.arrived.Done()
		s.arrived.Wait()
	}
	return a, err
}

func TestConcurrentReviewsExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	env.seedChecklist(t, nil)
	a := env.pendingAsset(t)

	const reviewers = 2
	gate := &gatedStore{AssetStore: env.Engine.Store, n: reviewers}
	gate.arrived.Add(reviewers)
	env.Engine.Store = gate

	decisions := []domain.RequestedDecision{domain.RequestApproved, domain.RequestRejected}
	outcomes := []map[string]domain.ItemOutcome{allPass(), {"req": domain.ItemFail}}
	errs := make([]error, reviewers)
	var wg sync.WaitGroup
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.SubmitReview(env.Ctx, domain.ReviewSubmission{
				AssetID: a.ID, Reviewer: reviewer, Evaluations: evals(outcomes[i]), RequestedDecision: decisions[i],
			})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConcurrentModification):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	stored, err := env.Engine.Repo.GetAsset(env.Ctx, a.ID)
	require.NoError(t, err)
	reviews, err := env.Engine.Repo.ListReviews(env.Ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, reviews[0].ToStatus, stored.Status)

	cached, found := env.Engine.Cache.Get(a.ID)
	require.True(t, found)
	assert.Equal(t, stored.Status, cached.Status)
	assert.False(t, env.Engine.Cache.IsPending(a.ID))
}

type failingStore struct {
	engine.AssetStore
	err error
}

func (s failingStore) Commit(context.Context, engine.Transition) (domain.AssetRecord, error) {
	return domain.AssetRecord{}, s.err
}

type stalledStore struct {
	engine.AssetStore
}

func (s stalledStore) Commit(ctx context.Context, _ engine.Transition) (domain.AssetRecord, error) {
	<-ctx.Done()
	return domain.AssetRecord{}, ctx.Err()
}

func TestPersistFailureReconcilesCache(t *testing.T) {
	env := newTestEnv(t)
	env.seedChecklist(t, nil)
	a := env.pendingAsset(t)
	boom := errors.New("disk full")
	env.Engine.Store = failingStore{AssetStore: env.Engine.Store, err: boom}

	_, err := env.Engine.SubmitReview(env.Ctx, domain.ReviewSubmission{
		AssetID: a.ID, Reviewer: reviewer, Evaluations: evals(allPass()), RequestedDecision: domain.RequestApproved,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistFailedAfterOptimisticUpdate)
	assert.ErrorIs(t, err, boom)
	var pe *engine.PersistError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, a.ID, pe.AssetID)

	cached, found := env.Engine.Cache.Get(a.ID)
	require.True(t, found)
	assert.Equal(t, domain.StatusPendingQCReview, cached.Status)
	assert.False(t, env.Engine.Cache.IsPending(a.ID))

	got, err := env.Engine.GetAsset(env.Ctx, a.ID, reviewer)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingQCReview, got.Status)
}

func TestPersistTimeoutIsAFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedChecklist(t, nil)
	a := env.pendingAsset(t)
	env.Engine.Config.Review.PersistTimeout = 50 * time.Millisecond
	env.Engine.Store = stalledStore{AssetStore: env.Engine.Store}

	start := time.Now()
	_, err := env.Engine.SubmitReview(env.Ctx, domain.ReviewSubmission{
		AssetID: a.ID, Reviewer: reviewer, Evaluations: evals(allPass()), RequestedDecision: domain.RequestApproved,
	})
	assert.ErrorIs(t, err, domain.ErrPersistFailedAfterOptimisticUpdate)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	cached, _ := env.Engine.Cache.Get(a.ID)
	assert.Equal(t, domain.StatusPendingQCReview, cached.Status)
}

func TestVisibility(t *testing.T) {
	env := newTestEnv(t)
	mine, err := env.Engine.CreateAsset(env.Ctx, engine.CreateAssetOptions{Title: "Mine", Classification: "seo", Actor: author})
	require.NoError(t, err)
	designed, err := env.Engine.CreateAsset(env.Ctx, engine.CreateAssetOptions{Title: "Banner", Classification: "smm", DesignedBy: "alice", Actor: other})
	require.NoError(t, err)
	_, err = env.Engine.CreateAsset(env.Ctx, engine.CreateAssetOptions{Title: "Theirs", Classification: "seo", Actor: other})
	require.NoError(t, err)

	list, err := env.Engine.ListAssets(env.Ctx, author, engine.AssetFilter{})
	require.NoError(t, err)
	var ids []string
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{mine.ID, designed.ID}, ids)

	list, err = env.Engine.ListAssets(env.Ctx, reviewer, engine.AssetFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = env.Engine.ListAssets(env.Ctx, admin, engine.AssetFilter{Classification: "SEO"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = env.Engine.GetAsset(env.Ctx, mine.ID, other)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.Engine.SubmitForQC(env.Ctx, mine.ID, other)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCreateAssetValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateAsset(env.Ctx, engine.CreateAssetOptions{Title: " ", Classification: "web", Actor: author})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = env.Engine.CreateAsset(env.Ctx, engine.CreateAssetOptions{Title: "x", Classification: "web", Actor: reviewer})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAPIKeysAndRoleGrants(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.GrantRole(env.Ctx, admin, "svc-bot", "qc_reviewer"))
	assert.ErrorIs(t, env.Engine.GrantRole(env.Ctx, admin, "svc-bot", "wizard"), domain.ErrInvalidInput)
	assert.ErrorIs(t, env.Engine.GrantRole(env.Ctx, author, "alice", "admin"), domain.ErrForbidden)

	key, raw, err := env.Engine.CreateAPIKey(env.Ctx, admin, "svc-bot", "ci")
	require.NoError(t, err)
	assert.NotEqual(t, raw, key.KeyHash)

	actor, err := env.Engine.ResolveAPIKey(env.Ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{ID: "svc-bot", Role: "qc_reviewer"}, actor)

	_, err = env.Engine.ResolveAPIKey(env.Ctx, "qc_bogus")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = env.Engine.CreateAPIKey(env.Ctx, author, "svc-bot", "nope")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.Engine.ListAPIKeys(env.Ctx, author, "svc-bot")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	keys, err := env.Engine.ListAPIKeys(env.Ctx, admin, "svc-bot")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].KeyHash)

	assert.ErrorIs(t, env.Engine.RevokeAPIKey(env.Ctx, author, key.ID), domain.ErrForbidden)
	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, admin, key.ID))
	_, err = env.Engine.ResolveAPIKey(env.Ctx, raw)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReviewRequiresVisibility(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.RBAC.Roles["scoped_reviewer"] = config.RBACRole{Capabilities: []string{"qc.review"}}
	env.seedChecklist(t, nil)
	a := env.pendingAsset(t)
	scoped := domain.Actor{ID: "sam", Role: "scoped_reviewer"}

	_, err := env.Engine.GetAsset(env.Ctx, a.ID, scoped)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.Engine.SubmitReview(env.Ctx, domain.ReviewSubmission{
		AssetID:     a.ID,
		Reviewer:    scoped,
		Evaluations: evals(allPass()),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := env.Engine.Repo.GetAsset(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingQCReview, stored.Status)
	reviews, err := env.Engine.Repo.ListReviews(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestGetAssetSeesWritesFromAnotherEngine(t *testing.T) {
	env := newTestEnv(t)
	env.seedChecklist(t, nil)
	a := env.pendingAsset(t)

	cached, err := env.Engine.GetAsset(env.Ctx, a.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingQCReview, cached.Status)

	peer, err := engine.New(env.Engine.DB, env.Engine.Config)
	require.NoError(t, err)
	peer.Logger = env.Engine.Logger
	_, err = peer.SubmitReview(env.Ctx, domain.ReviewSubmission{
		AssetID:     a.ID,
		Reviewer:    reviewer,
		Evaluations: evals(allPass()),
	})
	require.NoError(t, err)

	got, err := env.Engine.GetAsset(env.Ctx, a.ID, reviewer)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQCApproved, got.Status)
	assert.True(t, got.LinkingActive)
	assert.Greater(t, got.Version, cached.Version)
}
