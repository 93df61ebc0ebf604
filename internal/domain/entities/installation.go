package entities

import "time"

// Provider identifies an external developer-tool provider.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderVercel Provider = "vercel"
	ProviderSentry Provider = "sentry"
	ProviderLinear Provider = "linear"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGitHub, ProviderVercel, ProviderSentry, ProviderLinear:
		return true
	}
	return false
}

// AllProviders lists every supported provider tag.
func AllProviders() []Provider {
	return []Provider{ProviderGitHub, ProviderVercel, ProviderSentry, ProviderLinear}
}

// InstallationStatus is the lifecycle state of an installation row.
type InstallationStatus string

const (
	StatusActive  InstallationStatus = "active"
	StatusPending InstallationStatus = "pending"
	StatusError   InstallationStatus = "error"
	StatusRevoked InstallationStatus = "revoked"
)

// Installation links one organization to one external provider account.
// Exactly one row exists per (provider, external_id); reconnection upserts
// onto that key instead of creating duplicates.
type Installation struct {
	ID            string             `json:"id" db:"id"`
	Provider      Provider           `json:"provider" db:"provider"`
	ExternalID    string             `json:"external_id" db:"external_id"`   // provider-scoped natural key
	ConnectedBy   string             `json:"connected_by" db:"connected_by"` // user who completed the flow
	OrgID         string             `json:"org_id" db:"org_id"`             // owning tenant
	Status        InstallationStatus `json:"status" db:"status"`
	AccountInfo   AccountInfoDoc     `json:"provider_account_info" db:"provider_account_info"`
	WebhookSecret *string            `json:"-" db:"webhook_secret"`
	Metadata      Metadata           `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" db:"updated_at"`
}

// ProviderKey returns a formatted provider+external_id string for logging.
func (i *Installation) ProviderKey() string {
	return string(i.Provider) + ":" + i.ExternalID
}

// CheckConsistency verifies the stored account-info discriminant agrees with
// the row's provider column. A mismatch is a data-corruption signal; readers
// must reject the row rather than coerce it.
func (i *Installation) CheckConsistency() error {
	if i.AccountInfo.Info == nil {
		return nil
	}
	if got := i.AccountInfo.Info.SourceType(); got != i.Provider {
		return &SourceTypeMismatchError{RowProvider: i.Provider, InfoSourceType: got, InstallationID: i.ID}
	}
	return nil
}
