package qcsdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcline/internal/app"
	"qcline/internal/domain"
	"qcline/internal/engine"
	"qcline/internal/server"
)

func newClients(t *testing.T) (engine.Engine, string) {
	t.Helper()
	ctx := context.Background()
	e, err := app.Open(ctx, t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { e.DB.Close() })
	_, err = app.SeedOwner(ctx, e, "owner")
	require.NoError(t, err)
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return e, ts.URL
}

// clientFor grants role to actorID and returns a client holding a fresh
// API key for that actor.
func clientFor(t *testing.T, e engine.Engine, baseURL, actorID, role string) *Client {
	t.Helper()
	ctx := context.Background()
	owner := domain.Actor{ID: "owner", Role: app.OwnerRole}
	if role != "" {
		require.NoError(t, e.GrantRole(ctx, owner, actorID, role))
	}
	_, raw, err := e.CreateAPIKey(ctx, owner, actorID, "sdk-test")
	require.NoError(t, err)
	c := New(baseURL)
	c.APIKey = raw
	return c
}

func TestClientReviewRoundTrip(t *testing.T) {
	e, baseURL := newClients(t)
	ctx := context.Background()
	owner := clientFor(t, e, baseURL, "owner", "")
	author := clientFor(t, e, baseURL, "alice", "author")
	reviewer := clientFor(t, e, baseURL, "rita", "qc_reviewer")

	cl, err := owner.CreateChecklist(ctx, Checklist{
		Name:          "Blog post QC",
		Type:          "Content",
		Category:      "Editorial",
		Status:        "active",
		ScoringMode:   "Weighted",
		OutputType:    "PassFail",
		PassThreshold: 75,
		LinkedModules: []string{"content"},
		Items: []ChecklistItem{
			{ID: "grammar", Name: "Grammar", Severity: "Medium", DefaultScore: 3},
			{ID: "sources", Name: "Sources cited", Severity: "High", DefaultScore: 1},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cl.ID)

	applicable, err := reviewer.ApplicableChecklist(ctx, "Content")
	require.NoError(t, err)
	assert.Equal(t, cl.ID, applicable.ID)

	a, err := author.CreateAsset(ctx, "post-1", "Launch announcement", "Content")
	require.NoError(t, err)
	assert.Equal(t, "Draft", a.Status)
	a, err = author.SubmitForQC(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "PendingQCReview", a.Status)

	res, err := reviewer.SubmitReview(ctx, a.ID, []Evaluation{
		{ItemID: "grammar", Outcome: "Pass"},
		{ItemID: "sources", Outcome: "Fail"},
	}, "Approved", "cite the press release")
	require.NoError(t, err)
	assert.Equal(t, "Pass", res.Decision.Outcome)
	assert.Equal(t, 75, res.Decision.Score)
	assert.Equal(t, "QCApproved", res.Asset.Status)

	reviews, err := author.ListReviews(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "cite the press release", reviews[0].Remarks)
}

func TestClientSurfacesErrorCode(t *testing.T) {
	e, baseURL := newClients(t)
	ctx := context.Background()
	author := clientFor(t, e, baseURL, "alice", "author")

	_, err := author.GetAsset(ctx, "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	_, err = author.Resubmit(ctx, "nope")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)

	anon := New(baseURL)
	_, err = anon.ListChecklists(ctx, "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
