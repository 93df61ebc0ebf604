package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/infrastructure/statestore"
	"github.com/lightfastai/connections/internal/providers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConnectionService(fakes ...*fakeProvider) (*ConnectionService, *fakeInstallationRepo, *statestore.MemoryStore) {
	registry := providers.NewRegistry()
	for _, p := range fakes {
		registry.Register(p)
	}
	repo := newFakeInstallationRepo()
	store := statestore.NewMemoryStore()
	svc := NewConnectionService(registry, repo, store, testLogger())
	return svc, repo, store
}

func TestAuthorizeIssuesStateAndPendingResult(t *testing.T) {
	provider := &fakeProvider{name: entities.ProviderGitHub}
	svc, _, store := newTestConnectionService(provider)
	ctx := context.Background()

	result, err := svc.Authorize(ctx, entities.ProviderGitHub, "org_1", "user_1")
	require.NoError(t, err)
	assert.NotEmpty(t, result.State)
	assert.Contains(t, result.URL, "state="+result.State)

	// The polling record is seeded before the browser leaves.
	status, err := store.GetResult(ctx, result.State)
	require.NoError(t, err)
	assert.Equal(t, entities.CallbackPending, status.Status)

	// The state payload is bound to the caller's org.
	data, err := store.TakeOnce(ctx, result.State)
	require.NoError(t, err)
	assert.Equal(t, "org_1", data.OrgID)
	assert.Equal(t, "user_1", data.ConnectedBy)
	assert.Equal(t, entities.ProviderGitHub, data.Provider)
}

func TestAuthorizeUnknownProvider(t *testing.T) {
	svc, _, _ := newTestConnectionService()
	_, err := svc.Authorize(context.Background(), entities.ProviderGitHub, "org_1", "user_1")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestCompleteCallbackHappyPath(t *testing.T) {
	provider := &fakeProvider{name: entities.ProviderGitHub}
	svc, repo, store := newTestConnectionService(provider)
	ctx := context.Background()

	auth, err := svc.Authorize(ctx, entities.ProviderGitHub, "org_1", "user_1")
	require.NoError(t, err)

	outcome, err := svc.CompleteCallback(ctx, entities.ProviderGitHub, providers.CallbackParams{
		State:          auth.State,
		InstallationID: "ext_1",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Connected)
	assert.False(t, outcome.Reactivated)
	assert.NotEmpty(t, outcome.InstallationID)

	// The provider saw the org context bound at authorize time.
	require.Len(t, provider.callbackLog, 1)
	assert.Equal(t, "org_1", provider.callbackLog[0].OrgID)

	row, err := repo.GetByID(ctx, outcome.InstallationID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusActive, row.Status)

	// The polling tab sees the completed outcome.
	status, err := store.GetResult(ctx, auth.State)
	require.NoError(t, err)
	assert.Equal(t, entities.CallbackCompleted, status.Status)
	assert.Equal(t, outcome.InstallationID, status.InstallationID)
}

func TestCompleteCallbackReplayRecoversFromExistingRow(t *testing.T) {
	provider := &fakeProvider{
		name: entities.ProviderGitHub,
		hint: func(params providers.CallbackParams) string { return params.InstallationID },
	}
	svc, _, _ := newTestConnectionService(provider)
	ctx := context.Background()

	auth, err := svc.Authorize(ctx, entities.ProviderGitHub, "org_1", "user_1")
	require.NoError(t, err)

	first, err := svc.CompleteCallback(ctx, entities.ProviderGitHub, providers.CallbackParams{
		State:          auth.State,
		InstallationID: "ext_1",
	})
	require.NoError(t, err)

	// Replaying the same callback URL: the state token is consumed, but the
	// provider's external ID matches the row written by the first callback.
	second, err := svc.CompleteCallback(ctx, entities.ProviderGitHub, providers.CallbackParams{
		State:          auth.State,
		InstallationID: "ext_1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.InstallationID, second.InstallationID)

	// The recovered org context came from the row, not the request.
	require.Len(t, provider.callbackLog, 2)
	assert.Equal(t, "org_1", provider.callbackLog[1].OrgID)
}

func TestCompleteCallbackExpiredStateWithoutHintFails(t *testing.T) {
	provider := &fakeProvider{name: entities.ProviderVercel}
	svc, _, store := newTestConnectionService(provider)
	ctx := context.Background()

	_, err := svc.CompleteCallback(ctx, entities.ProviderVercel, providers.CallbackParams{
		State: "never-issued",
		Code:  "code-1",
	})
	assert.ErrorIs(t, err, ErrStateExpired)

	// The failure is visible to the polling tab, without provider detail.
	status, err := store.GetResult(ctx, "never-issued")
	require.NoError(t, err)
	assert.Equal(t, entities.CallbackError, status.Status)
	assert.Equal(t, "connection failed", status.Error)
}

func TestCompleteCallbackExpiredStateWithUnknownHintFails(t *testing.T) {
	provider := &fakeProvider{
		name: entities.ProviderGitHub,
		hint: func(params providers.CallbackParams) string { return params.InstallationID },
	}
	svc, _, _ := newTestConnectionService(provider)

	_, err := svc.CompleteCallback(context.Background(), entities.ProviderGitHub, providers.CallbackParams{
		State:          "never-issued",
		InstallationID: "ext_unknown",
	})
	assert.ErrorIs(t, err, ErrStateExpired)
}

func TestCompleteCallbackProviderMismatch(t *testing.T) {
	github := &fakeProvider{name: entities.ProviderGitHub}
	vercel := &fakeProvider{name: entities.ProviderVercel}
	svc, _, _ := newTestConnectionService(github, vercel)
	ctx := context.Background()

	auth, err := svc.Authorize(ctx, entities.ProviderGitHub, "org_1", "user_1")
	require.NoError(t, err)

	// A token minted for GitHub presented on the Vercel callback.
	_, err = svc.CompleteCallback(ctx, entities.ProviderVercel, providers.CallbackParams{
		State: auth.State,
		Code:  "code-1",
	})
	assert.ErrorIs(t, err, ErrProviderMismatch)
}

func TestCompleteCallbackProviderFailureWritesNoRow(t *testing.T) {
	provider := &fakeProvider{
		name: entities.ProviderGitHub,
		callback: func(ctx context.Context, params providers.CallbackParams, state entities.StateData) (*entities.Installation, error) {
			return nil, errors.New("provider exploded")
		},
	}
	svc, repo, store := newTestConnectionService(provider)
	ctx := context.Background()

	auth, err := svc.Authorize(ctx, entities.ProviderGitHub, "org_1", "user_1")
	require.NoError(t, err)

	_, err = svc.CompleteCallback(ctx, entities.ProviderGitHub, providers.CallbackParams{
		State:          auth.State,
		InstallationID: "ext_1",
	})
	require.Error(t, err)
	assert.Empty(t, repo.rows)

	status, err := store.GetResult(ctx, auth.State)
	require.NoError(t, err)
	assert.Equal(t, entities.CallbackError, status.Status)
}

func TestCallbackIdempotenceConvergesOnOneRow(t *testing.T) {
	provider := &fakeProvider{
		name: entities.ProviderGitHub,
		hint: func(params providers.CallbackParams) string { return params.InstallationID },
	}
	svc, repo, _ := newTestConnectionService(provider)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		auth, err := svc.Authorize(ctx, entities.ProviderGitHub, "org_1", "user_1")
		require.NoError(t, err)
		_, err = svc.CompleteCallback(ctx, entities.ProviderGitHub, providers.CallbackParams{
			State:          auth.State,
			InstallationID: "ext_1",
		})
		require.NoError(t, err)
	}

	assert.Len(t, repo.rows, 1, "same (provider, external_id) must converge on one row")
}

func TestCallbackReactivatesRevokedInstallation(t *testing.T) {
	provider := &fakeProvider{name: entities.ProviderGitHub}
	svc, repo, _ := newTestConnectionService(provider)
	ctx := context.Background()

	auth, err := svc.Authorize(ctx, entities.ProviderGitHub, "org_1", "user_1")
	require.NoError(t, err)
	first, err := svc.CompleteCallback(ctx, entities.ProviderGitHub, providers.CallbackParams{
		State:          auth.State,
		InstallationID: "ext_1",
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkRevoked(ctx, entities.ProviderGitHub, "ext_1"))
	row, err := repo.GetByID(ctx, first.InstallationID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusRevoked, row.Status)

	auth, err = svc.Authorize(ctx, entities.ProviderGitHub, "org_1", "user_1")
	require.NoError(t, err)
	second, err := svc.CompleteCallback(ctx, entities.ProviderGitHub, providers.CallbackParams{
		State:          auth.State,
		InstallationID: "ext_1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.InstallationID, second.InstallationID)
	assert.True(t, second.Reactivated)
}

func TestValidateProviderFailureFlipsStatusKeepsInfo(t *testing.T) {
	provider := &fakeProvider{
		name: entities.ProviderGitHub,
		validate: func(ctx context.Context, inst *entities.Installation) (*providers.ValidationDiff, error) {
			return nil, errors.New("provider unreachable")
		},
	}
	svc, repo, _ := newTestConnectionService(provider)
	ctx := context.Background()

	info := entities.AccountInfoDoc{Info: &entities.GitHubAccountInfo{AccountLogin: "octo-org"}}
	result, err := repo.Upsert(ctx, &entities.Installation{
		Provider:    entities.ProviderGitHub,
		ExternalID:  "ext_1",
		OrgID:       "org_1",
		Status:      entities.StatusActive,
		AccountInfo: info,
	})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, result.ID)
	require.Error(t, err)

	row, err := repo.GetByID(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusError, row.Status)
	// The stored blob is untouched on provider failure.
	github, ok := row.AccountInfo.Info.(*entities.GitHubAccountInfo)
	require.True(t, ok)
	assert.Equal(t, "octo-org", github.AccountLogin)
	assert.Zero(t, repo.infoUpdates)
}

func TestValidateSuccessRestoresActive(t *testing.T) {
	provider := &fakeProvider{
		name: entities.ProviderGitHub,
		validate: func(ctx context.Context, inst *entities.Installation) (*providers.ValidationDiff, error) {
			return &providers.ValidationDiff{Added: 2, Total: 2}, nil
		},
	}
	svc, repo, _ := newTestConnectionService(provider)
	ctx := context.Background()

	result, err := repo.Upsert(ctx, &entities.Installation{
		Provider:   entities.ProviderGitHub,
		ExternalID: "ext_1",
		OrgID:      "org_1",
		Status:     entities.StatusError,
	})
	require.NoError(t, err)

	diff, err := svc.Validate(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, diff.Added)

	row, err := repo.GetByID(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusActive, row.Status)
	assert.Equal(t, 1, repo.infoUpdates)
}

func TestGetConnectionsFlattensAccountLabels(t *testing.T) {
	provider := &fakeProvider{name: entities.ProviderGitHub}
	svc, repo, _ := newTestConnectionService(provider)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, &entities.Installation{
		Provider:   entities.ProviderGitHub,
		ExternalID: "ext_1",
		OrgID:      "org_1",
		Status:     entities.StatusActive,
		AccountInfo: entities.AccountInfoDoc{Info: &entities.GitHubAccountInfo{
			AccountInfoBase: entities.AccountInfoBase{Version: entities.AccountInfoVersion},
			AccountLogin:    "octo-org",
		}},
	})
	require.NoError(t, err)

	views, err := svc.GetConnections(ctx, "org_1", entities.ProviderGitHub)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "octo-org", views[0].AccountLabel)
	assert.Equal(t, entities.StatusActive, views[0].Status)
}

func TestStatusReportsPollingRecord(t *testing.T) {
	provider := &fakeProvider{name: entities.ProviderLinear}
	svc, _, _ := newTestConnectionService(provider)
	ctx := context.Background()

	auth, err := svc.Authorize(ctx, entities.ProviderLinear, "org_1", "user_1")
	require.NoError(t, err)

	status, err := svc.Status(ctx, auth.State)
	require.NoError(t, err)
	assert.Equal(t, entities.CallbackPending, status.Status)

	_, err = svc.Status(ctx, "never-issued")
	assert.True(t, IsStateNotFound(err))
}
