package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/lightfastai/connections/internal/config"
	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/pkg/urlutil"
)

const (
	defaultLinearAPIBase   = "https://api.linear.app"
	defaultLinearOAuthBase = "https://linear.app"
)

// LinearProvider implements ConnectionProvider for Linear OAuth.
// The organization identity comes from a follow-up GraphQL query, not from
// the token response; the organization ID is the external ID.
type LinearProvider struct {
	cfg           config.LinearConfig
	apiBase       string
	oauthBase     string
	httpClient    *http.Client
	publicBaseURL string
	now           func() time.Time
}

// NewLinearProvider creates a Linear provider from OAuth credentials.
// publicBaseURL roots the redirect URI Linear sends the browser back to.
func NewLinearProvider(cfg config.LinearConfig, publicBaseURL string) *LinearProvider {
	return &LinearProvider{
		cfg:           cfg,
		apiBase:       defaultLinearAPIBase,
		oauthBase:     defaultLinearOAuthBase,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		publicBaseURL: publicBaseURL,
		now:           time.Now,
	}
}

// WithAPIBase overrides both Linear base URLs. Used by tests.
func (p *LinearProvider) WithAPIBase(base string) *LinearProvider {
	p.apiBase = base
	p.oauthBase = base
	return p
}

// Name returns the provider tag.
func (p *LinearProvider) Name() entities.Provider { return entities.ProviderLinear }

// redirectURI must match between the consent URL and the token exchange.
func (p *LinearProvider) redirectURI() string {
	return urlutil.CallbackURL(p.publicBaseURL, string(entities.ProviderLinear))
}

// AuthorizeURL returns Linear's OAuth consent URL.
func (p *LinearProvider) AuthorizeURL(state string) (string, error) {
	if p.cfg.ClientID == "" {
		return "", fmt.Errorf("linear client id not configured")
	}
	return urlutil.LinearAuthorizeURL(p.cfg.ClientID, p.redirectURI(), state, p.cfg.Scopes), nil
}

// ExternalIDHint returns "" — Linear's organization ID is only known after
// the token exchange and GraphQL query.
func (p *LinearProvider) ExternalIDHint(params CallbackParams) string {
	return ""
}

// oauthConfig builds the x/oauth2 config for Linear's token endpoint.
func (p *LinearProvider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  p.redirectURI(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.oauthBase + "/oauth/authorize",
			TokenURL:  p.apiBase + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// HandleCallback exchanges the authorization code, resolves the organization
// via GraphQL, registers the uninstall webhook, and builds the account info.
func (p *LinearProvider) HandleCallback(ctx context.Context, params CallbackParams, state entities.StateData) (*entities.Installation, error) {
	if params.Code == "" {
		return nil, fmt.Errorf("code: %w", ErrMissingParameter)
	}

	token, err := p.exchange(ctx, params.Code)
	if err != nil {
		return nil, err
	}

	org, err := p.fetchOrganization(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	webhookID, webhookSecret, err := p.createWebhook(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	info := buildLinearAccountInfo(token, org, p.now().UTC())

	return &entities.Installation{
		Provider:      entities.ProviderLinear,
		ExternalID:    org.ID,
		ConnectedBy:   state.ConnectedBy,
		OrgID:         state.OrgID,
		Status:        entities.StatusActive,
		AccountInfo:   entities.AccountInfoDoc{Info: info},
		WebhookSecret: &webhookSecret,
		Metadata:      entities.Metadata{"webhook_id": webhookID},
	}, nil
}

// buildLinearAccountInfo shapes the token response and organization into the
// stored account-info variant. Pure: same input, same output.
func buildLinearAccountInfo(token *oauth2.Token, org *entities.LinearOrganization, installedAt time.Time) *entities.LinearAccountInfo {
	raw := map[string]interface{}{
		"token_type":   token.TokenType,
		"access_token": token.AccessToken,
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		raw["scope"] = scope
	}

	return &entities.LinearAccountInfo{
		AccountInfoBase: entities.AccountInfoBase{
			Version:     entities.AccountInfoVersion,
			InstalledAt: installedAt,
		},
		Organization: org,
		Raw:          raw,
	}
}

// Validate re-runs the organization query, refreshing the stored identity.
// Linear exposes no linkable sub-resources, so the diff is always empty.
func (p *LinearProvider) Validate(ctx context.Context, inst *entities.Installation) (*ValidationDiff, error) {
	info, ok := inst.AccountInfo.Info.(*entities.LinearAccountInfo)
	if !ok {
		return nil, fmt.Errorf("installation %s does not hold linear account info", inst.ID)
	}

	token, err := p.ResolveToken(ctx, inst)
	if err != nil {
		return nil, err
	}

	org, err := p.fetchOrganization(ctx, token)
	if err != nil {
		return nil, err
	}

	refreshed := *info
	refreshed.Organization = org
	validatedAt := p.now().UTC()
	refreshed.LastValidatedAt = &validatedAt
	inst.AccountInfo = entities.AccountInfoDoc{Info: &refreshed}

	return &ValidationDiff{}, nil
}

// ResolveToken reads the stored access token.
func (p *LinearProvider) ResolveToken(ctx context.Context, inst *entities.Installation) (string, error) {
	info, ok := inst.AccountInfo.Info.(*entities.LinearAccountInfo)
	if !ok {
		return "", fmt.Errorf("installation %s does not hold linear account info", inst.ID)
	}
	token, _ := info.Raw["access_token"].(string)
	if token == "" {
		return "", fmt.Errorf("installation %s has no stored linear access token", inst.ID)
	}
	return token, nil
}

// ExchangeCode trades an authorization code for an access token.
func (p *LinearProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	token, err := p.exchange(ctx, code)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// RefreshToken is unsupported: Linear access tokens do not expire.
func (p *LinearProvider) RefreshToken(ctx context.Context, inst *entities.Installation) (string, error) {
	return "", fmt.Errorf("linear: %w", ErrRefreshNotSupported)
}

// RevokeToken revokes the access token at Linear.
func (p *LinearProvider) RevokeToken(ctx context.Context, inst *entities.Installation) error {
	token, err := p.ResolveToken(ctx, inst)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("access_token", token)
	req, err := http.NewRequest(http.MethodPost, p.apiBase+"/oauth/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return doJSON(ctx, p.httpClient, entities.ProviderLinear, "revoke_token", req, nil)
}

// exchange performs the OAuth code exchange against Linear's token endpoint.
func (p *LinearProvider) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("linear code exchange failed: %w", err)
	}
	return token, nil
}

// fetchOrganization runs the GraphQL organization query.
func (p *LinearProvider) fetchOrganization(ctx context.Context, token string) (*entities.LinearOrganization, error) {
	var out struct {
		Data struct {
			Organization entities.LinearOrganization `json:"organization"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := p.graphql(ctx, token, "get_organization",
		`{ organization { id name urlKey } }`, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("linear organization query failed: %s", out.Errors[0].Message)
	}
	if out.Data.Organization.ID == "" {
		return nil, fmt.Errorf("linear organization query returned no organization")
	}
	org := out.Data.Organization
	return &org, nil
}

// createWebhook registers the webhook that reports uninstalls and issue
// events back to this gateway.
func (p *LinearProvider) createWebhook(ctx context.Context, token string) (id, secret string, err error) {
	secret = p.cfg.WebhookSecret
	variables := map[string]interface{}{
		"input": map[string]interface{}{
			"url":            urlutil.WebhookURL(p.publicBaseURL, string(entities.ProviderLinear)),
			"secret":         secret,
			"allPublicTeams": true,
			"resourceTypes":  []string{"Issue", "OAuthApp"},
		},
	}

	var out struct {
		Data struct {
			WebhookCreate struct {
				Success bool `json:"success"`
				Webhook struct {
					ID string `json:"id"`
				} `json:"webhook"`
			} `json:"webhookCreate"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	mutation := `mutation WebhookCreate($input: WebhookCreateInput!) { webhookCreate(input: $input) { success webhook { id } } }`
	if err := p.graphql(ctx, token, "create_webhook", mutation, variables, &out); err != nil {
		return "", "", err
	}
	if len(out.Errors) > 0 {
		return "", "", fmt.Errorf("linear webhook creation failed: %s", out.Errors[0].Message)
	}
	if !out.Data.WebhookCreate.Success {
		return "", "", fmt.Errorf("linear webhook creation was not successful")
	}
	return out.Data.WebhookCreate.Webhook.ID, secret, nil
}

// graphql posts one GraphQL request to Linear.
func (p *LinearProvider) graphql(ctx context.Context, token, endpoint, query string, variables map[string]interface{}, out interface{}) error {
	payload := map[string]interface{}{"query": query}
	if variables != nil {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode graphql request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, p.apiBase+"/graphql", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build graphql request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	return doJSON(ctx, p.httpClient, entities.ProviderLinear, endpoint, req, out)
}

// Ensure LinearProvider implements ConnectionProvider
var _ ConnectionProvider = (*LinearProvider)(nil)
