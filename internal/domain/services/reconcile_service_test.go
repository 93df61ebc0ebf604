package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightfastai/connections/internal/domain/entities"
)

func newTestReconcileService(t *testing.T) (*ReconcileService, *fakeInstallationRepo, *fakeResourceRepo, string) {
	t.Helper()
	installations := newFakeInstallationRepo()
	resources := newFakeResourceRepo()
	svc := NewReconcileService(installations, resources, testLogger())

	result, err := installations.Upsert(context.Background(), &entities.Installation{
		Provider:   entities.ProviderVercel,
		ExternalID: "team_1",
		OrgID:      "org_1",
		Status:     entities.StatusActive,
	})
	require.NoError(t, err)
	return svc, installations, resources, result.ID
}

func TestBulkLinkPartitionsBatch(t *testing.T) {
	svc, _, resources, installationID := newTestReconcileService(t)
	ctx := context.Background()

	// Seed one active and one disconnected row.
	require.NoError(t, resources.BulkCreate(ctx, []*entities.LinkedResource{
		{
			WorkspaceID:    "ws_1",
			InstallationID: installationID,
			Provider:       entities.ProviderVercel,
			ExternalID:     "prj_active",
			Name:           "web",
			Status:         entities.ResourceActive,
		},
		{
			WorkspaceID:    "ws_1",
			InstallationID: installationID,
			Provider:       entities.ProviderVercel,
			ExternalID:     "prj_disconnected",
			Name:           "docs",
			Status:         entities.ResourceDisconnected,
		},
	}))

	result, err := svc.BulkLink(ctx, "ws_1", installationID, []ResourceInput{
		{ExternalID: "prj_active", Name: "web"},
		{ExternalID: "prj_disconnected", Name: "docs"},
		{ExternalID: "prj_new", Name: "My New App"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Reactivated)
	assert.Equal(t, 1, result.Skipped)

	rows, err := resources.ListByWorkspaceAndProvider(ctx, "ws_1", entities.ProviderVercel)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byExternalID := make(map[string]*entities.LinkedResource, len(rows))
	for _, row := range rows {
		byExternalID[row.ExternalID] = row
	}
	assert.Equal(t, entities.ResourceActive, byExternalID["prj_disconnected"].Status)
	created := byExternalID["prj_new"]
	require.NotNil(t, created)
	assert.Equal(t, entities.ResourceActive, created.Status)
	assert.Equal(t, "my-new-app", created.Key)
	assert.Equal(t, installationID, created.InstallationID)
}

func TestBulkLinkDeduplicatesInputs(t *testing.T) {
	svc, _, resources, installationID := newTestReconcileService(t)
	ctx := context.Background()

	result, err := svc.BulkLink(ctx, "ws_1", installationID, []ResourceInput{
		{ExternalID: "prj_1", Name: "web"},
		{ExternalID: "prj_1", Name: "web"},
		{ExternalID: "", Name: "nameless"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Skipped)

	rows, err := resources.ListByWorkspaceAndProvider(ctx, "ws_1", entities.ProviderVercel)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestBulkLinkEmptyBatch(t *testing.T) {
	svc, _, _, installationID := newTestReconcileService(t)

	result, err := svc.BulkLink(context.Background(), "ws_1", installationID, nil)
	require.NoError(t, err)
	assert.Equal(t, &BulkLinkResult{}, result)
}

func TestBulkLinkRejectsInactiveInstallation(t *testing.T) {
	svc, installations, _, installationID := newTestReconcileService(t)
	ctx := context.Background()

	require.NoError(t, installations.UpdateStatus(ctx, installationID, entities.StatusRevoked))

	_, err := svc.BulkLink(ctx, "ws_1", installationID, []ResourceInput{
		{ExternalID: "prj_1", Name: "web"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestBulkLinkUnknownInstallation(t *testing.T) {
	svc, _, _, _ := newTestReconcileService(t)

	_, err := svc.BulkLink(context.Background(), "ws_1", "inst_missing", []ResourceInput{
		{ExternalID: "prj_1", Name: "web"},
	})
	assert.True(t, IsInstallationNotFound(err))
}
