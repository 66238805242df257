package module_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didisacademy/academy/apps/shared"
	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/subscription"
	inmemdb "github.com/didisacademy/academy/storage/database/inmem"
)

func newService() *module.Service {
	validate, _ := shared.NewValidator()
	return module.NewService(inmemdb.NewModuleRepository(inmemdb.Open()), validate)
}

func TestService_Upsert(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	seed := module.Seed{
		Slug:        " Risk-Management ",
		Title:       "Risk",
		ContentPath: "modules/risk.html",
		Levels:      []string{"Premium"},
		SortOrder:   30,
	}
	mod, created, err := svc.Upsert(ctx, seed)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "risk-management", mod.Slug)
	assert.True(t, mod.IsPublished, "published by default")
	assert.Equal(t, []subscription.Level{subscription.Premium}, mod.RequiredLevels)

	seed.Title = "Risk Management"
	updated, created, err := svc.Upsert(ctx, seed)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, mod.ID, updated.ID)

	got, err := svc.GetBySlug(ctx, "RISK-MANAGEMENT")
	require.NoError(t, err)
	assert.Equal(t, "Risk Management", got.Title)
}

func TestService_Upsert_invalid(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	tests := []struct {
		name string
		seed module.Seed
	}{
		{name: "no slug", seed: module.Seed{Title: "x", ContentPath: "x.html", Levels: []string{"basic"}}},
		{name: "bad slug", seed: module.Seed{Slug: "a b", Title: "x", ContentPath: "x.html", Levels: []string{"basic"}}},
		{name: "no levels", seed: module.Seed{Slug: "x", Title: "x", ContentPath: "x.html"}},
		{name: "bad level", seed: module.Seed{Slug: "x", Title: "x", ContentPath: "x.html", Levels: []string{"gold"}}},
		{name: "no content", seed: module.Seed{Slug: "x", Title: "x", Levels: []string{"basic"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Upsert(ctx, tt.seed)
			assert.Error(t, err)
		})
	}
}

func TestService_Catalogs(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	unpublished := false
	res, err := svc.Seed(ctx, []module.Seed{
		{Slug: "welcome", Title: "Welcome", ContentPath: "w.html", LeadMagnet: true},
		{Slug: "basics", Title: "Basics", ContentPath: "b.html", Levels: []string{"basic", "premium"}, SortOrder: 10},
		{Slug: "advanced", Title: "Advanced", ContentPath: "a.html", Levels: []string{"premium"}, SortOrder: 20},
		{Slug: "draft", Title: "Draft", ContentPath: "d.html", Levels: []string{"premium"}, Published: &unpublished},
	})
	require.NoError(t, err)
	assert.Equal(t, module.SeedResult{Created: 4}, res)

	catalogs, err := svc.Catalogs(ctx)
	require.NoError(t, err)
	assert.Len(t, catalogs, len(subscription.Levels))
	assert.Len(t, catalogs[subscription.Free], 1)
	assert.Len(t, catalogs[subscription.Basic], 2)
	require.Len(t, catalogs[subscription.Premium], 3)
	assert.Equal(t, "advanced", catalogs[subscription.Premium][2].Slug)
	assert.Equal(t, 3, catalogs[subscription.Premium][2].Day)
	assert.Len(t, catalogs[subscription.Masterclass], 1)

	_, err = svc.CatalogView(ctx, "gold")
	assert.Equal(t, subscription.ErrInvalidLevel, errors.Cause(err))

	_, err = svc.GetByID(ctx, 999)
	assert.Equal(t, module.ErrNotFound, errors.Cause(err))
}
