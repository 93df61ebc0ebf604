package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/domain/services"
)

// GetConnections returns an org's installations for one provider, flattened
// for console consumption.
func (h *Handler) GetConnections(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider := entities.Provider(vars["provider"])
	if !provider.Valid() {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	views, err := h.connections.GetConnections(r.Context(), vars["orgID"], provider)
	if err != nil {
		h.log.Error("failed to list connections",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": views})
}

// Validate re-checks an installation against the live provider API and
// returns the sub-resource diff.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider := entities.Provider(vars["provider"])
	if !provider.Valid() {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	installationID := vars["installationID"]

	installation, err := h.connections.GetInstallation(r.Context(), installationID)
	if err != nil {
		if services.IsInstallationNotFound(err) {
			writeError(w, http.StatusNotFound, "installation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load installation")
		return
	}
	if installation.Provider != provider {
		writeError(w, http.StatusBadRequest, "installation does not belong to this provider")
		return
	}

	diff, err := h.connections.Validate(r.Context(), installationID)
	if err != nil {
		h.log.Error("validation failed",
			slog.String("provider", string(provider)),
			slog.String("installation_id", installationID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "validation against provider failed")
		return
	}

	writeJSON(w, http.StatusOK, diff)
}

// ListRepositories lists a GitHub installation's accessible repositories,
// annotated with already-connected status for the workspaceId query param.
func (h *Handler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	h.listResources(w, r, entities.ProviderGitHub, "repositories")
}

// ListProjects lists a Vercel installation's projects, annotated with
// already-connected status for the workspaceId query param.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	h.listResources(w, r, entities.ProviderVercel, "projects")
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request, provider entities.Provider, field string) {
	installationID := mux.Vars(r)["installationID"]
	workspaceID := r.URL.Query().Get("workspaceId")

	installation, err := h.connections.GetInstallation(r.Context(), installationID)
	if err != nil {
		if services.IsInstallationNotFound(err) {
			writeError(w, http.StatusNotFound, "installation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load installation")
		return
	}
	if installation.Provider != provider {
		writeError(w, http.StatusBadRequest, "installation does not belong to this provider")
		return
	}

	resources, err := h.connections.ListResources(r.Context(), installationID, workspaceID, h.resources)
	if err != nil {
		h.log.Error("failed to list provider resources",
			slog.String("provider", string(provider)),
			slog.String("installation_id", installationID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to list resources from provider")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{field: resources})
}

// bulkLinkRequest is the body of the bulk-link endpoint.
type bulkLinkRequest struct {
	InstallationID string                   `json:"installation_id"`
	Resources      []services.ResourceInput `json:"resources"`
}

// BulkLink connects a batch of provider sub-resources to a workspace and
// reports the created/reactivated/skipped partition.
func (h *Handler) BulkLink(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider := entities.Provider(vars["provider"])
	if !provider.Valid() {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	workspaceID := vars["workspaceID"]

	var req bulkLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InstallationID == "" {
		writeError(w, http.StatusBadRequest, "installation_id is required")
		return
	}

	installation, err := h.connections.GetInstallation(r.Context(), req.InstallationID)
	if err != nil {
		if services.IsInstallationNotFound(err) {
			writeError(w, http.StatusNotFound, "installation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load installation")
		return
	}
	if installation.Provider != provider {
		writeError(w, http.StatusBadRequest, "installation does not belong to this provider")
		return
	}

	result, err := h.reconcile.BulkLink(r.Context(), workspaceID, req.InstallationID, req.Resources)
	if err != nil {
		h.log.Error("bulk link failed",
			slog.String("workspace_id", workspaceID),
			slog.String("installation_id", req.InstallationID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to link resources")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
