// Package providers implements the per-provider OAuth/installation
// lifecycle behind a uniform contract so the route and service layers stay
// provider-agnostic.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/pkg/metrics"
)

// Provider-level errors
var (
	// ErrNotImplemented is returned for callback flows the provider reports
	// but this gateway does not yet handle. Callers must surface it, never
	// silently succeed with empty data.
	ErrNotImplemented = errors.New("not implemented")

	// ErrMissingParameter is returned when a required callback parameter is
	// absent. Treated as a caller error (4xx), never retried.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrRefreshNotSupported is returned by providers whose tokens do not
	// expire and cannot be refreshed.
	ErrRefreshNotSupported = errors.New("token refresh not supported")
)

// CallbackParams carries the provider-specific query parameters extracted
// from the OAuth/install callback request.
type CallbackParams struct {
	Code  string
	State string

	// GitHub-specific
	InstallationID string
	SetupAction    string

	// Vercel-specific
	ConfigurationID string
	TeamID          string

	// Sentry-specific
	OrgSlug string
}

// ValidationDiff reports how an installation's sub-resources changed since
// the last validation.
type ValidationDiff struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Total   int `json:"total"`
}

// ConnectionProvider encapsulates the full OAuth/installation lifecycle for
// one external provider.
type ConnectionProvider interface {
	// Name returns the provider tag.
	Name() entities.Provider

	// AuthorizeURL returns the provider's consent/install URL with the state
	// token embedded.
	AuthorizeURL(state string) (string, error)

	// ExternalIDHint extracts a provider-scoped external ID from callback
	// parameters without any API call, for the state-token fallback path.
	// Returns "" when the provider offers no synchronous hint.
	ExternalIDHint(params CallbackParams) string

	// HandleCallback exchanges the callback parameters for the external
	// account identity and returns an unsaved Installation. The upsert is the
	// caller's last step, after every external call has succeeded, so a
	// provider failure never leaves a partially written row.
	HandleCallback(ctx context.Context, params CallbackParams, state entities.StateData) (*entities.Installation, error)

	// Validate re-fetches live provider state, refreshing inst's AccountInfo
	// and Metadata in place. Persisting the refreshed fields is the caller's
	// job; a failure leaves inst unchanged.
	Validate(ctx context.Context, inst *entities.Installation) (*ValidationDiff, error)

	// ResolveToken returns a currently usable API token for the installation.
	ResolveToken(ctx context.Context, inst *entities.Installation) (string, error)

	// ExchangeCode trades an authorization code for a token. For GitHub App
	// installations the "code" is the installation ID.
	ExchangeCode(ctx context.Context, code string) (string, error)

	// RefreshToken obtains a fresh token for the installation.
	RefreshToken(ctx context.Context, inst *entities.Installation) (string, error)

	// RevokeToken invalidates the installation's credentials at the provider.
	RevokeToken(ctx context.Context, inst *entities.Installation) error
}

// RepositoryLister is implemented by providers that expose repositories as
// linkable sub-resources.
type RepositoryLister interface {
	ListRepositories(ctx context.Context, inst *entities.Installation) ([]entities.ProviderResource, error)
}

// ProjectLister is implemented by providers that expose projects as linkable
// sub-resources.
type ProjectLister interface {
	ListProjects(ctx context.Context, inst *entities.Installation) ([]entities.ProviderResource, error)
}

// Registry holds all registered connection providers. It is built once at
// startup; lookups never reflect.
type Registry struct {
	providers map[entities.Provider]ConnectionProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[entities.Provider]ConnectionProvider)}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider ConnectionProvider) {
	r.providers[provider.Name()] = provider
}

// Get retrieves a provider by tag.
func (r *Registry) Get(name entities.Provider) (ConnectionProvider, error) {
	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return provider, nil
}

// List returns all registered provider tags.
func (r *Registry) List() []entities.Provider {
	names := make([]entities.Provider, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// apiError is a non-2xx response from a provider API. The route layer maps
// it to a generic failure; the body is logged, never shown to end users.
type apiError struct {
	Provider entities.Provider
	Endpoint string
	Status   int
	Body     string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s %s returned status %d", e.Provider, e.Endpoint, e.Status)
}

// doJSON performs one provider API call and decodes the JSON response into
// out (which may be nil for fire-and-forget calls).
func doJSON(ctx context.Context, client *http.Client, provider entities.Provider, endpoint string, req *http.Request, out interface{}) error {
	start := time.Now()
	err := func() error {
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("%s %s request failed: %w", provider, endpoint, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &apiError{Provider: provider, Endpoint: endpoint, Status: resp.StatusCode, Body: string(body)}
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", provider, endpoint, err)
		}
		return nil
	}()
	metrics.RecordProviderAPICall(string(provider), endpoint, time.Since(start), err)
	return err
}

// diffResourceIDs computes the added/removed/total counts between the stored
// snapshot and the live provider-reported IDs.
func diffResourceIDs(previous, current []string) ValidationDiff {
	prev := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		prev[id] = struct{}{}
	}
	curr := make(map[string]struct{}, len(current))
	for _, id := range current {
		curr[id] = struct{}{}
	}

	diff := ValidationDiff{Total: len(current)}
	for id := range curr {
		if _, ok := prev[id]; !ok {
			diff.Added++
		}
	}
	for id := range prev {
		if _, ok := curr[id]; !ok {
			diff.Removed++
		}
	}
	return diff
}
