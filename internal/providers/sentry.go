package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lightfastai/connections/internal/config"
	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/pkg/urlutil"
)

const defaultSentryAPIBase = "https://sentry.io"

// SentryProvider implements ConnectionProvider for Sentry integrations.
// Sentry's redirect carries a composite code of the form
// "installationId:authCode"; the installation ID half is the external ID and
// is never taken from the token response.
type SentryProvider struct {
	cfg        config.SentryConfig
	apiBase    string
	httpClient *http.Client
	now        func() time.Time
}

// NewSentryProvider creates a Sentry provider from integration credentials.
func NewSentryProvider(cfg config.SentryConfig) *SentryProvider {
	return &SentryProvider{
		cfg:        cfg,
		apiBase:    defaultSentryAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// WithAPIBase overrides the Sentry API base URL. Used by tests.
func (p *SentryProvider) WithAPIBase(base string) *SentryProvider {
	p.apiBase = base
	return p
}

// Name returns the provider tag.
func (p *SentryProvider) Name() entities.Provider { return entities.ProviderSentry }

// AuthorizeURL returns the Sentry external-install URL.
func (p *SentryProvider) AuthorizeURL(state string) (string, error) {
	if p.cfg.IntegrationSlug == "" {
		return "", fmt.Errorf("sentry integration slug not configured")
	}
	return urlutil.SentryAuthorizeURL(p.cfg.IntegrationSlug, state), nil
}

// ExternalIDHint parses the installation ID half of the composite code.
func (p *SentryProvider) ExternalIDHint(params CallbackParams) string {
	installationID, _, err := ParseSentryCode(params.Code)
	if err != nil {
		return ""
	}
	return installationID
}

// ParseSentryCode splits Sentry's composite "installationId:authCode"
// callback parameter. A missing separator is a hard failure, never a silent
// fallback to a synthetic ID.
func ParseSentryCode(code string) (installationID, authCode string, err error) {
	if code == "" {
		return "", "", fmt.Errorf("code: %w", ErrMissingParameter)
	}
	parts := strings.SplitN(code, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed sentry code %q: expected installationId:authCode", code)
	}
	return parts[0], parts[1], nil
}

// sentryAuthorization is Sentry's token-issuance response.
type sentryAuthorization struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresAt    string   `json:"expiresAt"`
	Scopes       []string `json:"scopes"`
}

// HandleCallback parses the composite code, exchanges the auth half for a
// token, marks the installation installed, and builds the account info.
func (p *SentryProvider) HandleCallback(ctx context.Context, params CallbackParams, state entities.StateData) (*entities.Installation, error) {
	installationID, authCode, err := ParseSentryCode(params.Code)
	if err != nil {
		return nil, err
	}
	if params.OrgSlug == "" {
		return nil, fmt.Errorf("orgSlug: %w", ErrMissingParameter)
	}

	auth, err := p.exchangeAuthorization(ctx, installationID, "authorization_code", authCode)
	if err != nil {
		return nil, err
	}

	// Sentry holds the installation in a pending state until the
	// integration confirms it.
	if err := p.markInstalled(ctx, installationID, auth.Token); err != nil {
		return nil, err
	}

	info := buildSentryAccountInfo(installationID, params.OrgSlug, auth, p.now().UTC())

	return &entities.Installation{
		Provider:    entities.ProviderSentry,
		ExternalID:  installationID,
		ConnectedBy: state.ConnectedBy,
		OrgID:       state.OrgID,
		Status:      entities.StatusActive,
		AccountInfo: entities.AccountInfoDoc{Info: info},
	}, nil
}

// buildSentryAccountInfo shapes the authorization response into the stored
// account-info variant. Pure: same input, same output.
func buildSentryAccountInfo(installationID, orgSlug string, auth *sentryAuthorization, installedAt time.Time) *entities.SentryAccountInfo {
	scopes := make([]interface{}, len(auth.Scopes))
	for i, s := range auth.Scopes {
		scopes[i] = s
	}
	return &entities.SentryAccountInfo{
		AccountInfoBase: entities.AccountInfoBase{
			Version:     entities.AccountInfoVersion,
			InstalledAt: installedAt,
		},
		InstallationID:   installationID,
		OrganizationSlug: orgSlug,
		Raw: map[string]interface{}{
			"token":        auth.Token,
			"refreshToken": auth.RefreshToken,
			"expiresAt":    auth.ExpiresAt,
			"scopes":       scopes,
		},
	}
}

// Validate re-reads the installation, confirming it is still installed.
// Sentry exposes no linkable sub-resources, so the diff is always empty.
func (p *SentryProvider) Validate(ctx context.Context, inst *entities.Installation) (*ValidationDiff, error) {
	info, ok := inst.AccountInfo.Info.(*entities.SentryAccountInfo)
	if !ok {
		return nil, fmt.Errorf("installation %s does not hold sentry account info", inst.ID)
	}

	token, err := p.ResolveToken(ctx, inst)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/0/sentry-app-installations/%s/", p.apiBase, info.InstallationID)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build installation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var out struct {
		Status string `json:"status"`
	}
	if err := doJSON(ctx, p.httpClient, entities.ProviderSentry, "get_installation", req, &out); err != nil {
		return nil, err
	}
	if out.Status != "installed" {
		return nil, fmt.Errorf("sentry installation %s is %q, not installed", info.InstallationID, out.Status)
	}

	refreshed := *info
	validatedAt := p.now().UTC()
	refreshed.LastValidatedAt = &validatedAt
	inst.AccountInfo = entities.AccountInfoDoc{Info: &refreshed}

	return &ValidationDiff{}, nil
}

// ResolveToken reads the stored token, refreshing it when expired.
func (p *SentryProvider) ResolveToken(ctx context.Context, inst *entities.Installation) (string, error) {
	info, ok := inst.AccountInfo.Info.(*entities.SentryAccountInfo)
	if !ok {
		return "", fmt.Errorf("installation %s does not hold sentry account info", inst.ID)
	}

	token, _ := info.Raw["token"].(string)
	if token == "" {
		return "", fmt.Errorf("installation %s has no stored sentry token", inst.ID)
	}

	if expiresAt, ok := info.Raw["expiresAt"].(string); ok && expiresAt != "" {
		expiry, err := time.Parse(time.RFC3339, expiresAt)
		if err == nil && p.now().After(expiry) {
			return p.RefreshToken(ctx, inst)
		}
	}
	return token, nil
}

// ExchangeCode trades a composite code for a token.
func (p *SentryProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	installationID, authCode, err := ParseSentryCode(code)
	if err != nil {
		return "", err
	}
	auth, err := p.exchangeAuthorization(ctx, installationID, "authorization_code", authCode)
	if err != nil {
		return "", err
	}
	return auth.Token, nil
}

// RefreshToken exchanges the stored refresh token for a new token pair.
// The refreshed pair is written back into the in-memory account info;
// persisting it is the caller's job.
func (p *SentryProvider) RefreshToken(ctx context.Context, inst *entities.Installation) (string, error) {
	info, ok := inst.AccountInfo.Info.(*entities.SentryAccountInfo)
	if !ok {
		return "", fmt.Errorf("installation %s does not hold sentry account info", inst.ID)
	}
	refreshToken, _ := info.Raw["refreshToken"].(string)
	if refreshToken == "" {
		return "", fmt.Errorf("installation %s has no stored sentry refresh token", inst.ID)
	}

	auth, err := p.exchangeAuthorization(ctx, info.InstallationID, "refresh_token", refreshToken)
	if err != nil {
		return "", err
	}

	info.Raw["token"] = auth.Token
	info.Raw["refreshToken"] = auth.RefreshToken
	info.Raw["expiresAt"] = auth.ExpiresAt
	return auth.Token, nil
}

// RevokeToken uninstalls the integration, invalidating its tokens.
func (p *SentryProvider) RevokeToken(ctx context.Context, inst *entities.Installation) error {
	info, ok := inst.AccountInfo.Info.(*entities.SentryAccountInfo)
	if !ok {
		return fmt.Errorf("installation %s does not hold sentry account info", inst.ID)
	}
	token, err := p.ResolveToken(ctx, inst)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/0/sentry-app-installations/%s/", p.apiBase, info.InstallationID)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build uninstall request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return doJSON(ctx, p.httpClient, entities.ProviderSentry, "delete_installation", req, nil)
}

// exchangeAuthorization calls Sentry's non-standard authorization endpoint.
// x/oauth2 cannot express the installation-scoped URL and JSON body, so the
// request is built by hand.
func (p *SentryProvider) exchangeAuthorization(ctx context.Context, installationID, grantType, code string) (*sentryAuthorization, error) {
	payload := map[string]string{
		"grant_type":    grantType,
		"client_id":     p.cfg.ClientID,
		"client_secret": p.cfg.ClientSecret,
	}
	if grantType == "refresh_token" {
		payload["refresh_token"] = code
	} else {
		payload["code"] = code
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode authorization request: %w", err)
	}

	url := fmt.Sprintf("%s/api/0/sentry-app-installations/%s/authorizations/", p.apiBase, installationID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var auth sentryAuthorization
	if err := doJSON(ctx, p.httpClient, entities.ProviderSentry, "exchange_authorization", req, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

// markInstalled confirms the installation, moving it out of pending.
func (p *SentryProvider) markInstalled(ctx context.Context, installationID, token string) error {
	body := []byte(`{"status":"installed"}`)
	url := fmt.Sprintf("%s/api/0/sentry-app-installations/%s/", p.apiBase, installationID)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	return doJSON(ctx, p.httpClient, entities.ProviderSentry, "mark_installed", req, nil)
}

// Ensure SentryProvider implements ConnectionProvider
var _ ConnectionProvider = (*SentryProvider)(nil)
