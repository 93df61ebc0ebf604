package handlers

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/domain/services"
	"github.com/lightfastai/connections/internal/providers"
)

// providerFromPath parses and validates the {provider} path variable.
func providerFromPath(r *http.Request) (entities.Provider, bool) {
	provider := entities.Provider(mux.Vars(r)["provider"])
	return provider, provider.Valid()
}

// Authorize starts an OAuth/install flow and redirects the browser to the
// provider's consent URL. The state token is also pinned in a short-lived
// cookie for the callback cross-check.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	orgID := r.URL.Query().Get("orgId")
	connectedBy := r.URL.Query().Get("connectedBy")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "orgId is required")
		return
	}

	result, err := h.connections.Authorize(r.Context(), provider, orgID, connectedBy)
	if err != nil {
		h.log.Error("authorize failed",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start connection flow")
		return
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Values["state"] = result.State
	if err := session.Save(r, w); err != nil {
		h.log.Warn("failed to save state cookie",
			slog.String("error", err.Error()))
	}

	http.Redirect(w, r, result.URL, http.StatusFound)
}

// Callback receives the provider redirect, completes the connection, and
// sends the browser to the console's connected or error page.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	params := callbackParams(r)

	// The cookie state is an advisory cross-check: the single-use token in
	// the state store is the real correlation. A mismatch is logged but does
	// not fail the flow — popup flows can land in a cookieless context.
	session, _ := h.sessions.Get(r, sessionName)
	if cookieState, ok := session.Values["state"].(string); ok && cookieState != "" && cookieState != params.State {
		h.log.Warn("callback state does not match session cookie",
			slog.String("provider", string(provider)))
	}
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		h.log.Warn("failed to clear state cookie",
			slog.String("error", err.Error()))
	}

	outcome, err := h.connections.CompleteCallback(r.Context(), provider, params)
	if err != nil {
		h.log.Error("callback failed",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()))
		h.redirectToConsole(w, r, url.Values{
			"connection_error": {string(provider)},
		})
		return
	}

	query := url.Values{"connected": {string(provider)}}
	if outcome.Reactivated {
		query.Set("reactivated", "true")
	}
	h.redirectToConsole(w, r, query)
}

// callbackParams extracts the provider-specific callback query parameters.
func callbackParams(r *http.Request) providers.CallbackParams {
	q := r.URL.Query()
	return providers.CallbackParams{
		Code:            q.Get("code"),
		State:           q.Get("state"),
		InstallationID:  q.Get("installation_id"),
		SetupAction:     q.Get("setup_action"),
		ConfigurationID: q.Get("configurationId"),
		TeamID:          q.Get("teamId"),
		OrgSlug:         q.Get("orgSlug"),
	}
}

// redirectToConsole sends the browser to the console's connections page. The
// query never carries provider error text, only which provider and whether
// the flow succeeded.
func (h *Handler) redirectToConsole(w http.ResponseWriter, r *http.Request, query url.Values) {
	target := h.cfg.Server.ConsoleBaseURL + "/settings/connections"
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Status reports the callback outcome for a state token. The tab that opened
// the OAuth popup polls this until the status leaves pending.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if _, ok := providerFromPath(r); !ok {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		writeError(w, http.StatusBadRequest, "state is required")
		return
	}

	result, err := h.connections.Status(r.Context(), state)
	if err != nil {
		if services.IsStateNotFound(err) {
			writeError(w, http.StatusNotFound, "unknown or expired state")
			return
		}
		h.log.Error("status lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
