package checklist_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcline/internal/checklist"
	"qcline/internal/config"
	"qcline/internal/db"
	"qcline/internal/domain"
	"qcline/internal/engine/auth"
	"qcline/internal/events"
	"qcline/internal/migrate"
	"qcline/internal/repo"
)

var (
	admin  = domain.Actor{ID: "root", Role: "admin"}
	author = domain.Actor{ID: "alice", Role: "author"}
)

func newStore(t *testing.T) checklist.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	cfg := config.Default()
	cfg.Classifications["landing_page"] = "web"
	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return checklist.Store{
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn, Now: now},
		Auth:   auth.NewService(conn, cfg),
		Config: cfg,
		Now:    now,
	}
}

func webChecklist(name string) domain.Checklist {
	return domain.Checklist{
		Name:            name,
		Type:            domain.TypeWeb,
		Category:        "Technical",
		Status:          domain.ChecklistActive,
		ScoringMode:     domain.ScoringBinary,
		OutputType:      domain.OutputPassFail,
		PassThreshold:   80,
		ReworkThreshold: 0,
		LinkedModules:   []string{"Web"},
		Items: []domain.ChecklistItem{
			{Name: "Links resolve", Severity: domain.SeverityHigh, IsRequired: true, DefaultScore: 1},
			{Name: "Meta description", Severity: domain.SeverityLow, DefaultScore: 1},
		},
	}
}

func TestCreateAssignsIDsAndPositions(t *testing.T) {
	s := newStore(t)
	cl, err := s.Create(context.Background(), admin, webChecklist("Web basics"))
	require.NoError(t, err)
	assert.NotEmpty(t, cl.ID)
	require.Len(t, cl.Items, 2)
	for i, it := range cl.Items {
		assert.NotEmpty(t, it.ID)
		assert.Equal(t, i, it.Position)
	}
	assert.Equal(t, []string{"web"}, cl.LinkedModules)

	got, err := s.Get(context.Background(), cl.ID)
	require.NoError(t, err)
	assert.Equal(t, cl, got)
}

func TestCreateRequiresManageCapability(t *testing.T) {
	s := newStore(t)
	_, err := s.Create(context.Background(), author, webChecklist("x"))
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestValidationRejectsBadChecklists(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	cases := map[string]func(cl *domain.Checklist){
		"empty name":          func(cl *domain.Checklist) { cl.Name = "  " },
		"blank category":      func(cl *domain.Checklist) { cl.Category = " \t " },
		"active without items": func(cl *domain.Checklist) { cl.Items = nil },
		"rework above pass":   func(cl *domain.Checklist) { cl.ReworkThreshold = 90 },
		"threshold over 100":  func(cl *domain.Checklist) { cl.PassThreshold = 101 },
		"bad severity":        func(cl *domain.Checklist) { cl.Items[0].Severity = "Critical" },
		"zero weight":         func(cl *domain.Checklist) { cl.Items[1].DefaultScore = 0 },
		"blank item name":     func(cl *domain.Checklist) { cl.Items[1].Name = "" },
		"unknown mode":        func(cl *domain.Checklist) { cl.ScoringMode = "Fuzzy" },
		"duplicate item ids": func(cl *domain.Checklist) {
			cl.Items[0].ID = "dup"
			cl.Items[1].ID = "dup"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cl := webChecklist("Web basics")
			mutate(&cl)
			_, err := s.Create(ctx, admin, cl)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidChecklist)
			var verr *checklist.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Fields)
		})
	}

	inactive := webChecklist("Draft list")
	inactive.Status = domain.ChecklistInactive
	inactive.Items = nil
	_, err := s.Create(ctx, admin, inactive)
	assert.NoError(t, err)
}

func TestGetApplicable(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetApplicable(ctx, "web")
	assert.ErrorIs(t, err, domain.ErrNoChecklistConfigured)

	older, err := s.Create(ctx, admin, webChecklist("Older"))
	require.NoError(t, err)
	newer, err := s.Create(ctx, admin, webChecklist("Newer"))
	require.NoError(t, err)
	seo := webChecklist("SEO")
	seo.LinkedModules = []string{"seo"}
	_, err = s.Create(ctx, admin, seo)
	require.NoError(t, err)

	got, err := s.GetApplicable(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	// classification mapped through config
	got, err = s.GetApplicable(ctx, "landing_page")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	_, err = s.Deactivate(ctx, admin, newer.ID)
	require.NoError(t, err)
	got, err = s.GetApplicable(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)

	_, err = s.GetApplicable(ctx, "analytics")
	assert.ErrorIs(t, err, domain.ErrNoChecklistConfigured)
}

func TestUpdateKeepsCreatedAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	cl, err := s.Create(ctx, admin, webChecklist("Web"))
	require.NoError(t, err)

	cl.PassThreshold = 90
	cl.Items = append(cl.Items, domain.ChecklistItem{Name: "Favicon", Severity: domain.SeverityLow, DefaultScore: 1})
	updated, err := s.Update(ctx, admin, cl)
	require.NoError(t, err)
	assert.Equal(t, cl.CreatedAt, updated.CreatedAt)
	assert.NotEqual(t, cl.UpdatedAt, updated.UpdatedAt)
	assert.Len(t, updated.Items, 3)

	cl.ID = "missing"
	_, err = s.Update(ctx, admin, cl)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImportYAML(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	data := []byte(`
checklists:
  - id: blog
    name: Blog post
    type: Content
    category: Editorial
    status: active
    scoring_mode: Weighted
    qc_output_type: PassReworkFail
    pass_threshold: 85
    rework_threshold: 70
    auto_fail_on_required_item_fail: true
    linked_modules: [content]
    items:
      - {name: Spelling, severity: Medium, weight: 2}
      - {name: Brand voice, severity: High, required: true, weight: 3}
`)
	out, err := s.Import(ctx, admin, data)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "blog", out[0].ID)
	assert.Equal(t, 3, out[0].Items[1].DefaultScore)
	assert.True(t, out[0].Items[1].IsRequired)

	// re-import updates in place
	out, err = s.Import(ctx, admin, data)
	require.NoError(t, err)
	require.Len(t, out, 1)
	all, err := s.List(ctx, repo.ChecklistFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.Import(ctx, admin, []byte("checklists: []"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = checklist.Parse([]byte("checklists:\n  - name: x\n"))
	assert.ErrorIs(t, err, domain.ErrInvalidChecklist)
}
