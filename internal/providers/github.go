package providers

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lightfastai/connections/internal/config"
	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/pkg/urlutil"
)

const defaultGitHubAPIBase = "https://api.github.com"

// metadata key holding the repository snapshot used by validate diffs
const githubRepoSnapshotKey = "repository_ids"

// GitHubProvider implements ConnectionProvider for GitHub App installations.
// Authentication is app-level: an RS256-signed app JWT mints short-lived
// installation tokens; no OAuth user token is stored.
type GitHubProvider struct {
	cfg        config.GitHubConfig
	apiBase    string
	httpClient *http.Client
	privateKey *rsa.PrivateKey

	// now is swappable for deterministic tests
	now func() time.Time
}

// NewGitHubProvider creates a GitHub provider from app credentials.
func NewGitHubProvider(cfg config.GitHubConfig) (*GitHubProvider, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse github app private key: %w", err)
	}
	return &GitHubProvider{
		cfg:        cfg,
		apiBase:    defaultGitHubAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		privateKey: key,
		now:        time.Now,
	}, nil
}

// WithAPIBase overrides the GitHub API base URL. Used by tests.
func (p *GitHubProvider) WithAPIBase(base string) *GitHubProvider {
	p.apiBase = base
	return p
}

// Name returns the provider tag.
func (p *GitHubProvider) Name() entities.Provider { return entities.ProviderGitHub }

// AuthorizeURL returns the GitHub App installation URL.
func (p *GitHubProvider) AuthorizeURL(state string) (string, error) {
	if p.cfg.AppSlug == "" {
		return "", fmt.Errorf("github app slug not configured")
	}
	return urlutil.GitHubInstallURL(p.cfg.AppSlug, state), nil
}

// ExternalIDHint returns the installation ID GitHub sends synchronously on
// the callback, enabling state-token fallback recovery.
func (p *GitHubProvider) ExternalIDHint(params CallbackParams) string {
	return params.InstallationID
}

// githubInstallation is the GitHub API installation object, reduced to the
// fields this gateway reads. Everything else rides along in permissions/raw.
type githubInstallation struct {
	ID      int64 `json:"id"`
	Account struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Type      string `json:"type"`
		AvatarURL string `json:"avatar_url"`
	} `json:"account"`
	RepositorySelection string            `json:"repository_selection"`
	Permissions         map[string]string `json:"permissions"`
	Events              []string          `json:"events"`
	CreatedAt           time.Time         `json:"created_at"`
}

// HandleCallback completes a GitHub App install. The flow branches on
// setup_action: only "install" carries a synchronous installation_id and a
// ready API call; "update" and "request" are structurally different flows
// and fail loudly until they are built.
func (p *GitHubProvider) HandleCallback(ctx context.Context, params CallbackParams, state entities.StateData) (*entities.Installation, error) {
	switch params.SetupAction {
	case "install", "":
	case "update", "request":
		return nil, fmt.Errorf("github setup_action %q: %w", params.SetupAction, ErrNotImplemented)
	default:
		return nil, fmt.Errorf("unexpected github setup_action %q", params.SetupAction)
	}

	if params.InstallationID == "" {
		return nil, fmt.Errorf("installation_id: %w", ErrMissingParameter)
	}
	if _, err := strconv.ParseInt(params.InstallationID, 10, 64); err != nil {
		return nil, fmt.Errorf("installation_id %q is not numeric: %w", params.InstallationID, ErrMissingParameter)
	}

	installation, err := p.getInstallation(ctx, params.InstallationID)
	if err != nil {
		return nil, err
	}

	info := buildGitHubAccountInfo(installation, p.now().UTC())
	secret := p.cfg.WebhookSecret

	return &entities.Installation{
		Provider:      entities.ProviderGitHub,
		ExternalID:    params.InstallationID,
		ConnectedBy:   state.ConnectedBy,
		OrgID:         state.OrgID,
		Status:        entities.StatusActive,
		AccountInfo:   entities.AccountInfoDoc{Info: info},
		WebhookSecret: &secret,
	}, nil
}

// buildGitHubAccountInfo shapes the API installation object into the stored
// account-info variant. Pure: same input, same output.
func buildGitHubAccountInfo(installation *githubInstallation, installedAt time.Time) *entities.GitHubAccountInfo {
	rawPermissions := make(map[string]interface{}, len(installation.Permissions))
	for scope, level := range installation.Permissions {
		rawPermissions[scope] = level
	}

	at := installedAt
	if !installation.CreatedAt.IsZero() {
		at = installation.CreatedAt.UTC()
	}

	return &entities.GitHubAccountInfo{
		AccountInfoBase: entities.AccountInfoBase{
			Version:     entities.AccountInfoVersion,
			InstalledAt: at,
			Events:      installation.Events,
		},
		AccountID:           installation.Account.ID,
		AccountLogin:        installation.Account.Login,
		AccountType:         installation.Account.Type,
		AvatarURL:           installation.Account.AvatarURL,
		RepositorySelection: installation.RepositorySelection,
		Raw: map[string]interface{}{
			"permissions": rawPermissions,
		},
	}
}

// Validate re-fetches the installation and its repositories, refreshing the
// stored account info and repository snapshot in place.
func (p *GitHubProvider) Validate(ctx context.Context, inst *entities.Installation) (*ValidationDiff, error) {
	installation, err := p.getInstallation(ctx, inst.ExternalID)
	if err != nil {
		return nil, err
	}

	repos, err := p.ListRepositories(ctx, inst)
	if err != nil {
		return nil, err
	}

	current := make([]string, 0, len(repos))
	for _, repo := range repos {
		current = append(current, repo.ExternalID)
	}
	diff := diffResourceIDs(inst.Metadata.ResourceIDs(githubRepoSnapshotKey), current)

	info := buildGitHubAccountInfo(installation, p.now().UTC())
	validatedAt := p.now().UTC()
	info.LastValidatedAt = &validatedAt
	if prior, ok := inst.AccountInfo.Info.(*entities.GitHubAccountInfo); ok {
		info.InstalledAt = prior.InstalledAt
	}

	inst.AccountInfo = entities.AccountInfoDoc{Info: info}
	if inst.Metadata == nil {
		inst.Metadata = entities.Metadata{}
	}
	snapshot := make([]interface{}, len(current))
	for i, id := range current {
		snapshot[i] = id
	}
	inst.Metadata[githubRepoSnapshotKey] = snapshot

	return &diff, nil
}

// ResolveToken mints a short-lived installation token from the app JWT.
func (p *GitHubProvider) ResolveToken(ctx context.Context, inst *entities.Installation) (string, error) {
	return p.ExchangeCode(ctx, inst.ExternalID)
}

// ExchangeCode mints an installation token; the "code" is the installation ID.
func (p *GitHubProvider) ExchangeCode(ctx context.Context, installationID string) (string, error) {
	appJWT, err := p.appJWT()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", p.apiBase, installationID)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	var out struct {
		Token string `json:"token"`
	}
	if err := doJSON(ctx, p.httpClient, entities.ProviderGitHub, "create_installation_token", req, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// RefreshToken mints a fresh installation token; GitHub installation tokens
// expire after an hour and are never refreshed in place.
func (p *GitHubProvider) RefreshToken(ctx context.Context, inst *entities.Installation) (string, error) {
	return p.ResolveToken(ctx, inst)
}

// RevokeToken revokes the currently issued installation token.
func (p *GitHubProvider) RevokeToken(ctx context.Context, inst *entities.Installation) error {
	token, err := p.ResolveToken(ctx, inst)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodDelete, p.apiBase+"/installation/token", nil)
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	return doJSON(ctx, p.httpClient, entities.ProviderGitHub, "revoke_installation_token", req, nil)
}

// ListRepositories lists the repositories the installation can see.
func (p *GitHubProvider) ListRepositories(ctx context.Context, inst *entities.Installation) ([]entities.ProviderResource, error) {
	token, err := p.ResolveToken(ctx, inst)
	if err != nil {
		return nil, err
	}

	url := p.apiBase + "/installation/repositories?per_page=100"
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build repositories request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	var out struct {
		Repositories []struct {
			ID       int64  `json:"id"`
			FullName string `json:"full_name"`
			Private  bool   `json:"private"`
		} `json:"repositories"`
	}
	if err := doJSON(ctx, p.httpClient, entities.ProviderGitHub, "list_repositories", req, &out); err != nil {
		return nil, err
	}

	resources := make([]entities.ProviderResource, 0, len(out.Repositories))
	for _, repo := range out.Repositories {
		resources = append(resources, entities.ProviderResource{
			ExternalID: strconv.FormatInt(repo.ID, 10),
			Name:       repo.FullName,
			Private:    repo.Private,
		})
	}
	return resources, nil
}

// getInstallation fetches the installation object with an app JWT.
func (p *GitHubProvider) getInstallation(ctx context.Context, installationID string) (*githubInstallation, error) {
	appJWT, err := p.appJWT()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/app/installations/%s", p.apiBase, installationID)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build installation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	var installation githubInstallation
	if err := doJSON(ctx, p.httpClient, entities.ProviderGitHub, "get_installation", req, &installation); err != nil {
		return nil, err
	}
	return &installation, nil
}

// appJWT signs a short-lived app-level JWT. GitHub rejects tokens valid for
// more than 10 minutes; the 60s backdate absorbs clock skew.
func (p *GitHubProvider) appJWT() (string, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(p.cfg.AppID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(p.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign github app jwt: %w", err)
	}
	return signed, nil
}

// Ensure GitHubProvider implements the provider contracts
var (
	_ ConnectionProvider = (*GitHubProvider)(nil)
	_ RepositoryLister   = (*GitHubProvider)(nil)
)
