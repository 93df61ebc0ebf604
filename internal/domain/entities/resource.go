package entities

import "time"

// ResourceStatus is the lifecycle state of a linked resource.
type ResourceStatus string

const (
	ResourceActive       ResourceStatus = "active"
	ResourceDisconnected ResourceStatus = "disconnected"
)

// LinkedResource connects one provider sub-resource (a GitHub repository, a
// Vercel project) to a workspace. Exactly one row exists per
// (workspace_id, provider, external_id).
type LinkedResource struct {
	ID             string         `json:"id" db:"id"`
	WorkspaceID    string         `json:"workspace_id" db:"workspace_id"`
	InstallationID string         `json:"installation_id" db:"installation_id"`
	Provider       Provider       `json:"provider" db:"provider"`
	ExternalID     string         `json:"external_id" db:"external_id"` // provider resource ID
	Name           string         `json:"name" db:"name"`
	Key            string         `json:"key" db:"key"` // URL-safe key derived from the name
	Status         ResourceStatus `json:"status" db:"status"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// ProviderResource is a sub-resource as reported by the provider API,
// annotated for the console with its already-connected status.
type ProviderResource struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Private    bool   `json:"private,omitempty"`
	Connected  bool   `json:"connected"`
}
