package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/lightfastai/connections/internal/config"
	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/pkg/urlutil"
)

const defaultVercelAPIBase = "https://api.vercel.com"

const vercelProjectSnapshotKey = "project_ids"

// VercelProvider implements ConnectionProvider for Vercel integrations.
// The external ID is the team ID when the integration is installed on a
// team, otherwise the user ID.
type VercelProvider struct {
	cfg        config.VercelConfig
	apiBase    string
	httpClient *http.Client
	now        func() time.Time
}

// NewVercelProvider creates a Vercel provider from integration credentials.
func NewVercelProvider(cfg config.VercelConfig) *VercelProvider {
	return &VercelProvider{
		cfg:        cfg,
		apiBase:    defaultVercelAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// WithAPIBase overrides the Vercel API base URL. Used by tests.
func (p *VercelProvider) WithAPIBase(base string) *VercelProvider {
	p.apiBase = base
	return p
}

// Name returns the provider tag.
func (p *VercelProvider) Name() entities.Provider { return entities.ProviderVercel }

// AuthorizeURL returns the Vercel integration installation URL.
func (p *VercelProvider) AuthorizeURL(state string) (string, error) {
	if p.cfg.IntegrationSlug == "" {
		return "", fmt.Errorf("vercel integration slug not configured")
	}
	return urlutil.VercelAuthorizeURL(p.cfg.IntegrationSlug, state), nil
}

// ExternalIDHint returns "" — Vercel's external ID (team or user) is only
// known after the token exchange, so there is no synchronous recovery hint.
func (p *VercelProvider) ExternalIDHint(params CallbackParams) string {
	return ""
}

// oauthConfig builds the x/oauth2 config for Vercel's token endpoint.
func (p *VercelProvider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.apiBase + "/v2/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// HandleCallback exchanges the authorization code and reads the resulting
// configuration to build the stored account info.
func (p *VercelProvider) HandleCallback(ctx context.Context, params CallbackParams, state entities.StateData) (*entities.Installation, error) {
	if params.Code == "" {
		return nil, fmt.Errorf("code: %w", ErrMissingParameter)
	}

	token, err := p.exchange(ctx, params.Code)
	if err != nil {
		return nil, err
	}

	userID, _ := token.Extra("user_id").(string)
	teamID, _ := token.Extra("team_id").(string)
	configurationID, _ := token.Extra("installation_id").(string)
	if configurationID == "" {
		configurationID = params.ConfigurationID
	}
	if userID == "" {
		return nil, fmt.Errorf("vercel token response missing user_id")
	}

	projectSelection, err := p.getProjectSelection(ctx, token.AccessToken, configurationID, teamID)
	if err != nil {
		return nil, err
	}

	info := buildVercelAccountInfo(token, userID, teamID, configurationID, projectSelection, p.now().UTC())

	externalID := teamID
	if externalID == "" {
		externalID = userID
	}

	return &entities.Installation{
		Provider:    entities.ProviderVercel,
		ExternalID:  externalID,
		ConnectedBy: state.ConnectedBy,
		OrgID:       state.OrgID,
		Status:      entities.StatusActive,
		AccountInfo: entities.AccountInfoDoc{Info: info},
	}, nil
}

// buildVercelAccountInfo shapes the token-exchange response into the stored
// account-info variant. Pure: same input, same output.
func buildVercelAccountInfo(token *oauth2.Token, userID, teamID, configurationID, projectSelection string, installedAt time.Time) *entities.VercelAccountInfo {
	raw := map[string]interface{}{
		"token_type": token.TokenType,
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		raw["scope"] = scope
	}
	raw["access_token"] = token.AccessToken

	return &entities.VercelAccountInfo{
		AccountInfoBase: entities.AccountInfoBase{
			Version:     entities.AccountInfoVersion,
			InstalledAt: installedAt,
		},
		UserID:           userID,
		ConfigurationID:  configurationID,
		TeamID:           teamID,
		ProjectSelection: projectSelection,
		Raw:              raw,
	}
}

// Validate re-reads the configuration and project list, refreshing the
// stored account info and project snapshot in place.
func (p *VercelProvider) Validate(ctx context.Context, inst *entities.Installation) (*ValidationDiff, error) {
	info, ok := inst.AccountInfo.Info.(*entities.VercelAccountInfo)
	if !ok {
		return nil, &entities.SourceTypeMismatchError{
			InstallationID: inst.ID,
			RowProvider:    inst.Provider,
			InfoSourceType: inst.AccountInfo.Info.SourceType(),
		}
	}

	token, err := p.ResolveToken(ctx, inst)
	if err != nil {
		return nil, err
	}

	projectSelection, err := p.getProjectSelection(ctx, token, info.ConfigurationID, info.TeamID)
	if err != nil {
		return nil, err
	}

	projects, err := p.ListProjects(ctx, inst)
	if err != nil {
		return nil, err
	}

	current := make([]string, 0, len(projects))
	for _, project := range projects {
		current = append(current, project.ExternalID)
	}
	diff := diffResourceIDs(inst.Metadata.ResourceIDs(vercelProjectSnapshotKey), current)

	refreshed := *info
	refreshed.ProjectSelection = projectSelection
	validatedAt := p.now().UTC()
	refreshed.LastValidatedAt = &validatedAt

	inst.AccountInfo = entities.AccountInfoDoc{Info: &refreshed}
	if inst.Metadata == nil {
		inst.Metadata = entities.Metadata{}
	}
	snapshot := make([]interface{}, len(current))
	for i, id := range current {
		snapshot[i] = id
	}
	inst.Metadata[vercelProjectSnapshotKey] = snapshot

	return &diff, nil
}

// ResolveToken reads the stored access token; Vercel integration tokens do
// not expire.
func (p *VercelProvider) ResolveToken(ctx context.Context, inst *entities.Installation) (string, error) {
	info, ok := inst.AccountInfo.Info.(*entities.VercelAccountInfo)
	if !ok {
		return "", fmt.Errorf("installation %s does not hold vercel account info", inst.ID)
	}
	token, _ := info.Raw["access_token"].(string)
	if token == "" {
		return "", fmt.Errorf("installation %s has no stored vercel access token", inst.ID)
	}
	return token, nil
}

// ExchangeCode trades an authorization code for an access token.
func (p *VercelProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	token, err := p.exchange(ctx, code)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// RefreshToken is unsupported: Vercel integration tokens do not expire.
func (p *VercelProvider) RefreshToken(ctx context.Context, inst *entities.Installation) (string, error) {
	return "", fmt.Errorf("vercel: %w", ErrRefreshNotSupported)
}

// RevokeToken deletes the integration configuration, invalidating its token.
func (p *VercelProvider) RevokeToken(ctx context.Context, inst *entities.Installation) error {
	info, ok := inst.AccountInfo.Info.(*entities.VercelAccountInfo)
	if !ok {
		return fmt.Errorf("installation %s does not hold vercel account info", inst.ID)
	}
	token, err := p.ResolveToken(ctx, inst)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/integrations/configuration/%s", p.apiBase, info.ConfigurationID)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return doJSON(ctx, p.httpClient, entities.ProviderVercel, "delete_configuration", req, nil)
}

// ListProjects lists the projects visible to the integration.
func (p *VercelProvider) ListProjects(ctx context.Context, inst *entities.Installation) ([]entities.ProviderResource, error) {
	info, ok := inst.AccountInfo.Info.(*entities.VercelAccountInfo)
	if !ok {
		return nil, fmt.Errorf("installation %s does not hold vercel account info", inst.ID)
	}
	token, err := p.ResolveToken(ctx, inst)
	if err != nil {
		return nil, err
	}

	url := p.apiBase + "/v9/projects"
	if info.TeamID != "" {
		url += "?teamId=" + info.TeamID
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build projects request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var out struct {
		Projects []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"projects"`
	}
	if err := doJSON(ctx, p.httpClient, entities.ProviderVercel, "list_projects", req, &out); err != nil {
		return nil, err
	}

	resources := make([]entities.ProviderResource, 0, len(out.Projects))
	for _, project := range out.Projects {
		resources = append(resources, entities.ProviderResource{
			ExternalID: project.ID,
			Name:       project.Name,
		})
	}
	return resources, nil
}

// exchange performs the OAuth code exchange against Vercel's token endpoint.
func (p *VercelProvider) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("vercel code exchange failed: %w", err)
	}
	return token, nil
}

// getProjectSelection reads the configuration to learn whether the user
// granted all projects or a selection.
func (p *VercelProvider) getProjectSelection(ctx context.Context, token, configurationID, teamID string) (string, error) {
	if configurationID == "" {
		// Older installations may predate configuration IDs; assume all.
		return "all", nil
	}

	url := fmt.Sprintf("%s/v1/integrations/configuration/%s", p.apiBase, configurationID)
	if teamID != "" {
		url += "?teamId=" + teamID
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build configuration request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var out struct {
		ProjectSelection string `json:"projectSelection"`
	}
	if err := doJSON(ctx, p.httpClient, entities.ProviderVercel, "get_configuration", req, &out); err != nil {
		return "", err
	}
	if out.ProjectSelection == "" {
		out.ProjectSelection = "all"
	}
	return out.ProjectSelection, nil
}

// Ensure VercelProvider implements the provider contracts
var (
	_ ConnectionProvider = (*VercelProvider)(nil)
	_ ProjectLister      = (*VercelProvider)(nil)
)
