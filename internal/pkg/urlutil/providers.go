// Package urlutil builds provider-facing URLs. All functions are pure.
package urlutil

import (
	"fmt"
	"net/url"
)

// GitHubInstallURL returns the GitHub App installation URL for an app slug.
// GitHub echoes the state back on the post-install redirect.
func GitHubInstallURL(appSlug, state string) string {
	return fmt.Sprintf("https://github.com/apps/%s/installations/new?state=%s",
		url.PathEscape(appSlug), url.QueryEscape(state))
}

// VercelAuthorizeURL returns the Vercel integration installation URL.
func VercelAuthorizeURL(integrationSlug, state string) string {
	return fmt.Sprintf("https://vercel.com/integrations/%s/new?state=%s",
		url.PathEscape(integrationSlug), url.QueryEscape(state))
}

// SentryAuthorizeURL returns the Sentry integration installation URL.
func SentryAuthorizeURL(integrationSlug, state string) string {
	return fmt.Sprintf("https://sentry.io/sentry-apps/%s/external-install/?state=%s",
		url.PathEscape(integrationSlug), url.QueryEscape(state))
}

// LinearAuthorizeURL returns Linear's OAuth consent URL.
func LinearAuthorizeURL(clientID, redirectURI, state string, scopes []string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("state", state)
	if len(scopes) > 0 {
		q.Set("scope", joinScopes(scopes))
	}
	return "https://linear.app/oauth/authorize?" + q.Encode()
}

// CallbackURL returns this service's callback endpoint for a provider,
// rooted at the configured public base URL.
func CallbackURL(publicBaseURL, provider string) string {
	return fmt.Sprintf("%s/connections/%s/callback", publicBaseURL, provider)
}

// WebhookURL returns this service's webhook ingestion endpoint for a
// provider. Providers that register their own webhooks (Linear) must point
// them here, not at the browser callback route.
func WebhookURL(publicBaseURL, provider string) string {
	return fmt.Sprintf("%s/webhooks/%s", publicBaseURL, provider)
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
