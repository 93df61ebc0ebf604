package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/domain/repositories"
	"github.com/lightfastai/connections/internal/infrastructure/statestore"
	"github.com/lightfastai/connections/internal/pkg/metrics"
	"github.com/lightfastai/connections/internal/providers"
)

// ConnectionService orchestrates the OAuth state exchange and installation
// persistence around the per-provider implementations.
type ConnectionService struct {
	registry      *providers.Registry
	installations repositories.InstallationRepository
	states        statestore.StateStore
	log           *slog.Logger
}

// NewConnectionService creates a new connection service
func NewConnectionService(
	registry *providers.Registry,
	installations repositories.InstallationRepository,
	states statestore.StateStore,
	log *slog.Logger,
) *ConnectionService {
	return &ConnectionService{
		registry:      registry,
		installations: installations,
		states:        states,
		log:           log,
	}
}

// AuthorizeResult carries the redirect URL and the state token bound to it.
type AuthorizeResult struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// Authorize starts an OAuth/install flow: it binds {orgId, connectedBy} to a
// fresh state token in the ephemeral store and returns the provider's
// consent URL with the token embedded.
func (s *ConnectionService) Authorize(ctx context.Context, provider entities.Provider, orgID, connectedBy string) (*AuthorizeResult, error) {
	p, err := s.registry.Get(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	state, err := generateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	data := entities.StateData{OrgID: orgID, ConnectedBy: connectedBy, Provider: provider}
	if err := s.states.Put(ctx, state, data, statestore.StateTTL); err != nil {
		return nil, fmt.Errorf("failed to store state: %w", err)
	}

	// Seed the polling record so the opener tab sees "pending" immediately.
	pending := entities.CallbackResult{Status: entities.CallbackPending, Provider: provider}
	if err := s.states.PutResult(ctx, state, pending, statestore.StateTTL); err != nil {
		return nil, fmt.Errorf("failed to store pending result: %w", err)
	}

	url, err := p.AuthorizeURL(state)
	if err != nil {
		return nil, err
	}

	metrics.OAuthFlows.WithLabelValues(string(provider), "authorize", "success").Inc()
	s.log.Info("authorize issued",
		slog.String("provider", string(provider)),
		slog.String("org_id", orgID))

	return &AuthorizeResult{URL: url, State: state}, nil
}

// CallbackOutcome is returned to the route layer after a callback completes.
type CallbackOutcome struct {
	Connected      bool              `json:"connected"`
	Provider       entities.Provider `json:"provider"`
	InstallationID string            `json:"installation_id"`
	Reactivated    bool              `json:"reactivated"`
}

// CompleteCallback finishes an OAuth/install flow. The state token is
// consumed at most once; a missing or expired token falls back to recovering
// org context from an existing installation row matched by external ID —
// never from caller-supplied input. The upsert is the final step, after all
// provider calls have succeeded.
func (s *ConnectionService) CompleteCallback(ctx context.Context, provider entities.Provider, params providers.CallbackParams) (*CallbackOutcome, error) {
	p, err := s.registry.Get(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	stateData, err := s.resolveState(ctx, p, provider, params)
	if err != nil {
		s.recordOutcome(ctx, params.State, entities.CallbackResult{
			Status:   entities.CallbackError,
			Provider: provider,
			Error:    "connection failed",
		})
		metrics.OAuthFlows.WithLabelValues(string(provider), "callback", "error").Inc()
		return nil, err
	}

	installation, err := p.HandleCallback(ctx, params, *stateData)
	if err != nil {
		s.recordOutcome(ctx, params.State, entities.CallbackResult{
			Status:   entities.CallbackError,
			Provider: provider,
			Error:    "connection failed",
		})
		metrics.OAuthFlows.WithLabelValues(string(provider), "callback", "error").Inc()
		return nil, err
	}

	result, err := s.installations.Upsert(ctx, installation)
	if err != nil {
		s.recordOutcome(ctx, params.State, entities.CallbackResult{
			Status:   entities.CallbackError,
			Provider: provider,
			Error:    "connection failed",
		})
		metrics.OAuthFlows.WithLabelValues(string(provider), "callback", "error").Inc()
		return nil, err
	}

	s.recordOutcome(ctx, params.State, entities.CallbackResult{
		Status:         entities.CallbackCompleted,
		Provider:       provider,
		InstallationID: result.ID,
		Reactivated:    result.Reactivated,
	})
	metrics.OAuthFlows.WithLabelValues(string(provider), "callback", "success").Inc()

	s.log.Info("callback completed",
		slog.String("provider", string(provider)),
		slog.String("installation_id", result.ID),
		slog.String("org_id", stateData.OrgID),
		slog.Bool("created", result.Created),
		slog.Bool("reactivated", result.Reactivated))

	return &CallbackOutcome{
		Connected:      true,
		Provider:       provider,
		InstallationID: result.ID,
		Reactivated:    result.Reactivated,
	}, nil
}

// resolveState consumes the state token, or recovers org context from an
// existing row when the token is gone.
func (s *ConnectionService) resolveState(ctx context.Context, p providers.ConnectionProvider, provider entities.Provider, params providers.CallbackParams) (*entities.StateData, error) {
	if params.State != "" {
		stateData, err := s.states.TakeOnce(ctx, params.State)
		if err == nil {
			if stateData.Provider != provider {
				return nil, ErrProviderMismatch
			}
			return stateData, nil
		}
		if !IsStateNotFound(err) {
			return nil, err
		}
	}

	// Fallback: the token expired or was already consumed (e.g. a replayed
	// callback URL). Accept the weaker correlation of an existing row keyed
	// by the provider-supplied external ID.
	hint := p.ExternalIDHint(params)
	if hint == "" {
		metrics.StateFallbacks.WithLabelValues(string(provider), "no_hint").Inc()
		return nil, ErrStateExpired
	}

	existing, err := s.installations.GetByProviderAndExternalID(ctx, provider, hint)
	if err != nil {
		if IsInstallationNotFound(err) {
			metrics.StateFallbacks.WithLabelValues(string(provider), "no_row").Inc()
			return nil, ErrStateExpired
		}
		return nil, err
	}

	metrics.StateFallbacks.WithLabelValues(string(provider), "recovered").Inc()
	s.log.Warn("state token missing, recovered context from existing installation",
		slog.String("provider", string(provider)),
		slog.String("external_id", hint),
		slog.String("org_id", existing.OrgID))

	return &entities.StateData{
		OrgID:       existing.OrgID,
		ConnectedBy: existing.ConnectedBy,
		Provider:    provider,
	}, nil
}

// recordOutcome writes the callback result for the polling tab. Best effort:
// a failed write only costs the popup UX, not the connection itself.
func (s *ConnectionService) recordOutcome(ctx context.Context, state string, result entities.CallbackResult) {
	if state == "" {
		return
	}
	if err := s.states.PutResult(ctx, state, result, statestore.StateTTL); err != nil {
		s.log.Error("failed to record callback outcome",
			slog.String("error", err.Error()))
	}
}

// Status reports the callback outcome for a state token, for the popup
// polling pattern.
func (s *ConnectionService) Status(ctx context.Context, state string) (*entities.CallbackResult, error) {
	return s.states.GetResult(ctx, state)
}

// Validate triggers a live re-check against the provider API. On success the
// refreshed account info is persisted; on provider failure the stored blob
// stays untouched and the row's status flips to error.
func (s *ConnectionService) Validate(ctx context.Context, installationID string) (*providers.ValidationDiff, error) {
	installation, err := s.installations.GetByID(ctx, installationID)
	if err != nil {
		return nil, err
	}

	p, err := s.registry.Get(installation.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, installation.Provider)
	}

	diff, err := p.Validate(ctx, installation)
	if err != nil {
		if statusErr := s.installations.UpdateStatus(ctx, installationID, entities.StatusError); statusErr != nil {
			s.log.Error("failed to mark installation as errored",
				slog.String("installation_id", installationID),
				slog.String("error", statusErr.Error()))
		}
		return nil, err
	}

	if err := s.installations.UpdateAccountInfo(ctx, installationID, installation.AccountInfo, installation.Metadata); err != nil {
		return nil, err
	}
	if installation.Status != entities.StatusActive {
		if err := s.installations.UpdateStatus(ctx, installationID, entities.StatusActive); err != nil {
			return nil, err
		}
	}

	return diff, nil
}

// ConnectionView is the flattened installation shape consumed by the console
// UI; the raw JSONB never crosses the API boundary.
type ConnectionView struct {
	ID              string                      `json:"id"`
	Provider        entities.Provider           `json:"provider"`
	ExternalID      string                      `json:"external_id"`
	Status          entities.InstallationStatus `json:"status"`
	ConnectedBy     string                      `json:"connected_by"`
	AccountLabel    string                      `json:"account_label"`
	InstalledAt     time.Time                   `json:"installed_at"`
	LastValidatedAt *time.Time                  `json:"last_validated_at,omitempty"`
	Events          []string                    `json:"events,omitempty"`
}

// GetConnections returns an org's installations for a provider, flattened
// for UI consumption.
func (s *ConnectionService) GetConnections(ctx context.Context, orgID string, provider entities.Provider) ([]ConnectionView, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	installations, err := s.installations.ListByOrgAndProvider(ctx, orgID, provider)
	if err != nil {
		return nil, err
	}

	views := make([]ConnectionView, 0, len(installations))
	for _, inst := range installations {
		views = append(views, flattenInstallation(inst))
	}
	return views, nil
}

// flattenInstallation picks the human-facing label per variant.
func flattenInstallation(inst *entities.Installation) ConnectionView {
	view := ConnectionView{
		ID:          inst.ID,
		Provider:    inst.Provider,
		ExternalID:  inst.ExternalID,
		Status:      inst.Status,
		ConnectedBy: inst.ConnectedBy,
	}

	if inst.AccountInfo.Info == nil {
		return view
	}

	base := inst.AccountInfo.Info.Base()
	view.InstalledAt = base.InstalledAt
	view.LastValidatedAt = base.LastValidatedAt
	view.Events = base.Events

	switch info := inst.AccountInfo.Info.(type) {
	case *entities.GitHubAccountInfo:
		view.AccountLabel = info.AccountLogin
	case *entities.VercelAccountInfo:
		if info.TeamID != "" {
			view.AccountLabel = info.TeamID
		} else {
			view.AccountLabel = info.UserID
		}
	case *entities.SentryAccountInfo:
		view.AccountLabel = info.OrganizationSlug
	case *entities.LinearAccountInfo:
		if info.Organization != nil {
			view.AccountLabel = info.Organization.Name
		}
	}
	return view
}

// ListResources lists a provider's linkable sub-resources (GitHub
// repositories, Vercel projects) for an installation, annotated with their
// already-connected status for the given workspace.
func (s *ConnectionService) ListResources(ctx context.Context, installationID, workspaceID string, resourceRepo repositories.ResourceRepository) ([]entities.ProviderResource, error) {
	installation, err := s.installations.GetByID(ctx, installationID)
	if err != nil {
		return nil, err
	}

	p, err := s.registry.Get(installation.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, installation.Provider)
	}

	var resources []entities.ProviderResource
	switch lister := p.(type) {
	case providers.RepositoryLister:
		resources, err = lister.ListRepositories(ctx, installation)
	case providers.ProjectLister:
		resources, err = lister.ListProjects(ctx, installation)
	default:
		return nil, fmt.Errorf("provider %s does not expose linkable resources", installation.Provider)
	}
	if err != nil {
		return nil, err
	}

	if workspaceID == "" {
		return resources, nil
	}

	linked, err := resourceRepo.ListByWorkspaceAndProvider(ctx, workspaceID, installation.Provider)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(linked))
	for _, row := range linked {
		if row.Status == entities.ResourceActive {
			active[row.ExternalID] = true
		}
	}
	for i := range resources {
		resources[i].Connected = active[resources[i].ExternalID]
	}
	return resources, nil
}

// MarkRevoked flips an installation to revoked when the provider reports an
// uninstall. History is kept; a fresh callback can reactivate the row.
func (s *ConnectionService) MarkRevoked(ctx context.Context, provider entities.Provider, externalID string) error {
	installation, err := s.installations.GetByProviderAndExternalID(ctx, provider, externalID)
	if err != nil {
		return err
	}
	if err := s.installations.UpdateStatus(ctx, installation.ID, entities.StatusRevoked); err != nil {
		return err
	}

	s.log.Info("installation revoked by provider",
		slog.String("provider", string(provider)),
		slog.String("installation_id", installation.ID))
	return nil
}

// GetInstallation returns the raw installation row for internal callers.
func (s *ConnectionService) GetInstallation(ctx context.Context, installationID string) (*entities.Installation, error) {
	return s.installations.GetByID(ctx, installationID)
}

// generateSecureToken creates a URL-safe random token of n bytes of entropy.
func generateSecureToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
