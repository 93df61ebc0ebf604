package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/mux"

	"github.com/lightfastai/connections/internal/config"
	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/domain/repositories"
	"github.com/lightfastai/connections/internal/domain/services"
	"github.com/lightfastai/connections/internal/infrastructure/statestore"
	"github.com/lightfastai/connections/internal/providers"
)

// memInstallationRepo is a minimal in-memory InstallationRepository for
// route-level tests.
type memInstallationRepo struct {
	mu     sync.Mutex
	rows   map[string]*entities.Installation
	nextID int
}

func newMemInstallationRepo() *memInstallationRepo {
	return &memInstallationRepo{rows: make(map[string]*entities.Installation)}
}

func (m *memInstallationRepo) Upsert(ctx context.Context, installation *entities.Installation) (*repositories.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Provider == installation.Provider && row.ExternalID == installation.ExternalID {
			reactivated := row.Status != entities.StatusActive && installation.Status == entities.StatusActive
			installation.ID = row.ID
			copied := *installation
			m.rows[row.ID] = &copied
			return &repositories.UpsertResult{ID: row.ID, Reactivated: reactivated}, nil
		}
	}
	m.nextID++
	installation.ID = fmt.Sprintf("inst_%d", m.nextID)
	copied := *installation
	m.rows[installation.ID] = &copied
	return &repositories.UpsertResult{ID: installation.ID, Created: true}, nil
}

func (m *memInstallationRepo) GetByID(ctx context.Context, id string) (*entities.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, repositories.ErrInstallationNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memInstallationRepo) GetByProviderAndExternalID(ctx context.Context, provider entities.Provider, externalID string) (*entities.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Provider == provider && row.ExternalID == externalID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, repositories.ErrInstallationNotFound
}

func (m *memInstallationRepo) ListByOrgAndProvider(ctx context.Context, orgID string, provider entities.Provider) ([]*entities.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.Installation
	for _, row := range m.rows {
		if row.OrgID == orgID && row.Provider == provider {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memInstallationRepo) UpdateAccountInfo(ctx context.Context, id string, info entities.AccountInfoDoc, metadata entities.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return repositories.ErrInstallationNotFound
	}
	row.AccountInfo = info
	if metadata != nil {
		row.Metadata = metadata
	}
	return nil
}

func (m *memInstallationRepo) UpdateStatus(ctx context.Context, id string, status entities.InstallationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return repositories.ErrInstallationNotFound
	}
	row.Status = status
	return nil
}

var _ repositories.InstallationRepository = (*memInstallationRepo)(nil)

// memResourceRepo is a minimal in-memory ResourceRepository.
type memResourceRepo struct {
	mu     sync.Mutex
	rows   map[string]*entities.LinkedResource
	nextID int
}

func newMemResourceRepo() *memResourceRepo {
	return &memResourceRepo{rows: make(map[string]*entities.LinkedResource)}
}

func (m *memResourceRepo) ListByWorkspaceAndProvider(ctx context.Context, workspaceID string, provider entities.Provider) ([]*entities.LinkedResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.LinkedResource
	for _, row := range m.rows {
		if row.WorkspaceID == workspaceID && row.Provider == provider {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memResourceRepo) BulkCreate(ctx context.Context, resources []*entities.LinkedResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, res := range resources {
		m.nextID++
		res.ID = fmt.Sprintf("res_%d", m.nextID)
		copied := *res
		m.rows[res.ID] = &copied
	}
	return nil
}

func (m *memResourceRepo) BulkReactivate(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		row, ok := m.rows[id]
		if !ok {
			return repositories.ErrResourceNotFound
		}
		row.Status = entities.ResourceActive
	}
	return nil
}

var _ repositories.ResourceRepository = (*memResourceRepo)(nil)

// stubProvider is a scriptable ConnectionProvider for route tests.
type stubProvider struct {
	name     entities.Provider
	hint     func(providers.CallbackParams) string
	callback func(ctx context.Context, params providers.CallbackParams, state entities.StateData) (*entities.Installation, error)
}

func (s *stubProvider) Name() entities.Provider { return s.name }

func (s *stubProvider) AuthorizeURL(state string) (string, error) {
	return "https://provider.example.com/install?state=" + state, nil
}

func (s *stubProvider) ExternalIDHint(params providers.CallbackParams) string {
	if s.hint != nil {
		return s.hint(params)
	}
	return ""
}

func (s *stubProvider) HandleCallback(ctx context.Context, params providers.CallbackParams, state entities.StateData) (*entities.Installation, error) {
	if s.callback != nil {
		return s.callback(ctx, params, state)
	}
	return &entities.Installation{
		Provider:    s.name,
		ExternalID:  "ext_1",
		ConnectedBy: state.ConnectedBy,
		OrgID:       state.OrgID,
		Status:      entities.StatusActive,
	}, nil
}

func (s *stubProvider) Validate(ctx context.Context, inst *entities.Installation) (*providers.ValidationDiff, error) {
	return &providers.ValidationDiff{}, nil
}

func (s *stubProvider) ResolveToken(ctx context.Context, inst *entities.Installation) (string, error) {
	return "stub-token", nil
}

func (s *stubProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	return "stub-token", nil
}

func (s *stubProvider) RefreshToken(ctx context.Context, inst *entities.Installation) (string, error) {
	return "", providers.ErrRefreshNotSupported
}

func (s *stubProvider) RevokeToken(ctx context.Context, inst *entities.Installation) error {
	return nil
}

var _ providers.ConnectionProvider = (*stubProvider)(nil)

// testEnv wires a full handler stack on in-memory stores.
type testEnv struct {
	router        *mux.Router
	installations *memInstallationRepo
	resources     *memResourceRepo
	states        *statestore.MemoryStore
	cfg           *config.Config
}

func newTestEnv(stubs ...*stubProvider) *testEnv {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := providers.NewRegistry()
	for _, s := range stubs {
		registry.Register(s)
	}

	installations := newMemInstallationRepo()
	resources := newMemResourceRepo()
	states := statestore.NewMemoryStore()

	cfg := &config.Config{
		Environment: "local",
		Server: config.ServerConfig{
			PublicBaseURL:  "https://connections.example.com",
			ConsoleBaseURL: "https://console.example.com",
			SessionSecret:  "test-session-secret",
		},
		Providers: config.ProvidersConfig{
			GitHub: config.GitHubConfig{WebhookSecret: "gh-secret"},
			Vercel: config.VercelConfig{ClientSecret: "vc-secret"},
			Sentry: config.SentryConfig{ClientSecret: "sn-secret"},
			Linear: config.LinearConfig{WebhookSecret: "ln-secret"},
		},
	}

	connectionService := services.NewConnectionService(registry, installations, states, log)
	reconcileService := services.NewReconcileService(installations, resources, log)

	handler := NewHandler(connectionService, reconcileService, resources, cfg, log)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	return &testEnv{
		router:        router,
		installations: installations,
		resources:     resources,
		states:        states,
		cfg:           cfg,
	}
}
