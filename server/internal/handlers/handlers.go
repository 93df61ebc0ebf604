// Package handlers wires the HTTP surface: the browser-facing OAuth flow,
// the internal JSON API consumed by the console, and provider webhooks.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"

	"github.com/lightfastai/connections/internal/config"
	"github.com/lightfastai/connections/internal/domain/repositories"
	"github.com/lightfastai/connections/internal/domain/services"
)

// sessionName is the cookie carrying the in-flight OAuth state for the
// browser-side cross-check.
const sessionName = "connections-oauth"

// Handler carries the service dependencies for all HTTP routes.
type Handler struct {
	connections *services.ConnectionService
	reconcile   *services.ReconcileService
	resources   repositories.ResourceRepository
	sessions    *sessions.CookieStore
	cfg         *config.Config
	log         *slog.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(
	connections *services.ConnectionService,
	reconcile *services.ReconcileService,
	resources repositories.ResourceRepository,
	cfg *config.Config,
	log *slog.Logger,
) *Handler {
	store := sessions.NewCookieStore([]byte(cfg.Server.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/connections",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   cfg.Environment != "local",
		SameSite: http.SameSiteLaxMode,
	}

	return &Handler{
		connections: connections,
		reconcile:   reconcile,
		resources:   resources,
		sessions:    store,
		cfg:         cfg,
		log:         log,
	}
}

// RegisterRoutes attaches all routes to the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Browser-facing OAuth flow
	r.HandleFunc("/connections/{provider}/authorize", h.Authorize).Methods(http.MethodGet)
	r.HandleFunc("/connections/{provider}/callback", h.Callback).Methods(http.MethodGet)
	r.HandleFunc("/connections/{provider}/status", h.Status).Methods(http.MethodGet)

	// Internal API consumed by the console
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/orgs/{orgID}/connections/{provider}", h.GetConnections).Methods(http.MethodGet)
	api.HandleFunc("/connections/{provider}/{installationID}/validate", h.Validate).Methods(http.MethodPost)
	api.HandleFunc("/connections/github/{installationID}/repositories", h.ListRepositories).Methods(http.MethodGet)
	api.HandleFunc("/connections/vercel/{installationID}/projects", h.ListProjects).Methods(http.MethodGet)
	api.HandleFunc("/workspaces/{workspaceID}/integrations/{provider}/bulk-link", h.BulkLink).Methods(http.MethodPost)

	// Provider webhooks
	r.HandleFunc("/webhooks/{provider}", h.Webhook).Methods(http.MethodPost)
}
