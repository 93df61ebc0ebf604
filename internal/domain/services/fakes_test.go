package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/domain/repositories"
	"github.com/lightfastai/connections/internal/providers"
)

// fakeInstallationRepo is an in-memory InstallationRepository keyed the same
// way as the real store: unique on (provider, external_id).
type fakeInstallationRepo struct {
	mu     sync.Mutex
	rows   map[string]*entities.Installation // by ID
	nextID int

	statusUpdates []entities.InstallationStatus
	infoUpdates   int
}

func newFakeInstallationRepo() *fakeInstallationRepo {
	return &fakeInstallationRepo{rows: make(map[string]*entities.Installation)}
}

func (f *fakeInstallationRepo) Upsert(ctx context.Context, installation *entities.Installation) (*repositories.UpsertResult, error) {
	if err := installation.CheckConsistency(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, row := range f.rows {
		if row.Provider == installation.Provider && row.ExternalID == installation.ExternalID {
			reactivated := row.Status != entities.StatusActive && installation.Status == entities.StatusActive
			installation.ID = row.ID
			copied := *installation
			f.rows[row.ID] = &copied
			return &repositories.UpsertResult{ID: row.ID, Reactivated: reactivated}, nil
		}
	}

	f.nextID++
	installation.ID = fmt.Sprintf("inst_%d", f.nextID)
	copied := *installation
	f.rows[installation.ID] = &copied
	return &repositories.UpsertResult{ID: installation.ID, Created: true}, nil
}

func (f *fakeInstallationRepo) GetByID(ctx context.Context, id string) (*entities.Installation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, repositories.ErrInstallationNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeInstallationRepo) GetByProviderAndExternalID(ctx context.Context, provider entities.Provider, externalID string) (*entities.Installation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Provider == provider && row.ExternalID == externalID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, repositories.ErrInstallationNotFound
}

func (f *fakeInstallationRepo) ListByOrgAndProvider(ctx context.Context, orgID string, provider entities.Provider) ([]*entities.Installation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.Installation
	for _, row := range f.rows {
		if row.OrgID == orgID && row.Provider == provider {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeInstallationRepo) UpdateAccountInfo(ctx context.Context, id string, info entities.AccountInfoDoc, metadata entities.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return repositories.ErrInstallationNotFound
	}
	row.AccountInfo = info
	if metadata != nil {
		row.Metadata = metadata
	}
	f.infoUpdates++
	return nil
}

func (f *fakeInstallationRepo) UpdateStatus(ctx context.Context, id string, status entities.InstallationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return repositories.ErrInstallationNotFound
	}
	row.Status = status
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

var _ repositories.InstallationRepository = (*fakeInstallationRepo)(nil)

// fakeResourceRepo is an in-memory ResourceRepository.
type fakeResourceRepo struct {
	mu     sync.Mutex
	rows   map[string]*entities.LinkedResource
	nextID int
}

func newFakeResourceRepo() *fakeResourceRepo {
	return &fakeResourceRepo{rows: make(map[string]*entities.LinkedResource)}
}

func (f *fakeResourceRepo) ListByWorkspaceAndProvider(ctx context.Context, workspaceID string, provider entities.Provider) ([]*entities.LinkedResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.LinkedResource
	for _, row := range f.rows {
		if row.WorkspaceID == workspaceID && row.Provider == provider {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeResourceRepo) BulkCreate(ctx context.Context, resources []*entities.LinkedResource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, res := range resources {
		f.nextID++
		res.ID = fmt.Sprintf("res_%d", f.nextID)
		copied := *res
		f.rows[res.ID] = &copied
	}
	return nil
}

func (f *fakeResourceRepo) BulkReactivate(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		row, ok := f.rows[id]
		if !ok {
			return repositories.ErrResourceNotFound
		}
		row.Status = entities.ResourceActive
	}
	return nil
}

var _ repositories.ResourceRepository = (*fakeResourceRepo)(nil)

// fakeProvider is a scriptable ConnectionProvider.
type fakeProvider struct {
	name        entities.Provider
	hint        func(providers.CallbackParams) string
	callback    func(ctx context.Context, params providers.CallbackParams, state entities.StateData) (*entities.Installation, error)
	validate    func(ctx context.Context, inst *entities.Installation) (*providers.ValidationDiff, error)
	callbackLog []entities.StateData
}

func (f *fakeProvider) Name() entities.Provider { return f.name }

func (f *fakeProvider) AuthorizeURL(state string) (string, error) {
	return "https://provider.example.com/install?state=" + state, nil
}

func (f *fakeProvider) ExternalIDHint(params providers.CallbackParams) string {
	if f.hint != nil {
		return f.hint(params)
	}
	return ""
}

func (f *fakeProvider) HandleCallback(ctx context.Context, params providers.CallbackParams, state entities.StateData) (*entities.Installation, error) {
	f.callbackLog = append(f.callbackLog, state)
	if f.callback != nil {
		return f.callback(ctx, params, state)
	}
	return &entities.Installation{
		Provider:    f.name,
		ExternalID:  "ext_1",
		ConnectedBy: state.ConnectedBy,
		OrgID:       state.OrgID,
		Status:      entities.StatusActive,
	}, nil
}

func (f *fakeProvider) Validate(ctx context.Context, inst *entities.Installation) (*providers.ValidationDiff, error) {
	if f.validate != nil {
		return f.validate(ctx, inst)
	}
	return &providers.ValidationDiff{}, nil
}

func (f *fakeProvider) ResolveToken(ctx context.Context, inst *entities.Installation) (string, error) {
	return "fake-token", nil
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	return "fake-token", nil
}

func (f *fakeProvider) RefreshToken(ctx context.Context, inst *entities.Installation) (string, error) {
	return "", providers.ErrRefreshNotSupported
}

func (f *fakeProvider) RevokeToken(ctx context.Context, inst *entities.Installation) error {
	return nil
}

var _ providers.ConnectionProvider = (*fakeProvider)(nil)
