package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/domain/services"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// Webhook receives provider event deliveries. The signature is verified
// against the configured secret; uninstall/revoke events flip the matching
// installation to revoked, everything else is acknowledged and dropped.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !h.verifySignature(provider, r, body) {
		h.log.Warn("webhook signature verification failed",
			slog.String("provider", string(provider)))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	externalID, revoked := h.parseRevocation(provider, r, body)
	if !revoked {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.connections.MarkRevoked(r.Context(), provider, externalID); err != nil {
		if services.IsInstallationNotFound(err) {
			// Unknown installation: acknowledge so the provider stops retrying.
			h.log.Warn("revocation for unknown installation",
				slog.String("provider", string(provider)),
				slog.String("external_id", externalID))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.log.Error("failed to revoke installation",
			slog.String("provider", string(provider)),
			slog.String("external_id", externalID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to process event")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// verifySignature checks the provider's HMAC over the raw body.
func (h *Handler) verifySignature(provider entities.Provider, r *http.Request, body []byte) bool {
	switch provider {
	case entities.ProviderGitHub:
		sig := strings.TrimPrefix(r.Header.Get("X-Hub-Signature-256"), "sha256=")
		return verifyHMAC(sha256.New, h.cfg.Providers.GitHub.WebhookSecret, body, sig)
	case entities.ProviderVercel:
		// Vercel signs deliveries with SHA-1 over the raw body.
		return verifyHMAC(sha1.New, h.cfg.Providers.Vercel.ClientSecret, body, r.Header.Get("X-Vercel-Signature"))
	case entities.ProviderSentry:
		return verifyHMAC(sha256.New, h.cfg.Providers.Sentry.ClientSecret, body, r.Header.Get("Sentry-Hook-Signature"))
	case entities.ProviderLinear:
		return verifyHMAC(sha256.New, h.cfg.Providers.Linear.WebhookSecret, body, r.Header.Get("Linear-Signature"))
	}
	return false
}

// verifyHMAC compares a hex-encoded HMAC signature in constant time.
func verifyHMAC(algo func() hash.Hash, secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(algo, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// parseRevocation inspects the event payload and returns the external ID to
// revoke when the event reports an uninstall.
func (h *Handler) parseRevocation(provider entities.Provider, r *http.Request, body []byte) (string, bool) {
	switch provider {
	case entities.ProviderGitHub:
		if r.Header.Get("X-GitHub-Event") != "installation" {
			return "", false
		}
		var event struct {
			Action       string `json:"action"`
			Installation struct {
				ID int64 `json:"id"`
			} `json:"installation"`
		}
		if err := json.Unmarshal(body, &event); err != nil || event.Action != "deleted" {
			return "", false
		}
		return strconv.FormatInt(event.Installation.ID, 10), true

	case entities.ProviderVercel:
		var event struct {
			Type    string `json:"type"`
			Payload struct {
				Team struct {
					ID string `json:"id"`
				} `json:"team"`
				User struct {
					ID string `json:"id"`
				} `json:"user"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(body, &event); err != nil || event.Type != "integration-configuration.removed" {
			return "", false
		}
		if event.Payload.Team.ID != "" {
			return event.Payload.Team.ID, true
		}
		return event.Payload.User.ID, true

	case entities.ProviderSentry:
		if r.Header.Get("Sentry-Hook-Resource") != "installation" {
			return "", false
		}
		var event struct {
			Action string `json:"action"`
			Data   struct {
				Installation struct {
					UUID string `json:"uuid"`
				} `json:"installation"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &event); err != nil || event.Action != "deleted" {
			return "", false
		}
		return event.Data.Installation.UUID, true

	case entities.ProviderLinear:
		var event struct {
			Type           string `json:"type"`
			Action         string `json:"action"`
			OrganizationID string `json:"organizationId"`
		}
		if err := json.Unmarshal(body, &event); err != nil {
			return "", false
		}
		if event.Type != "OAuthApp" || event.Action != "revoked" {
			return "", false
		}
		return event.OrganizationID, true
	}
	return "", false
}
