package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AccountInfoVersion is the current schema version tag for stored account info.
const AccountInfoVersion = "1"

// AccountInfo is the normalized, provider-tagged snapshot of account identity
// and permissions stored per installation. It is a closed sum: one variant per
// provider, discriminated by the sourceType field.
type AccountInfo interface {
	SourceType() Provider
	Base() *AccountInfoBase
}

// AccountInfoBase carries the fields shared by every variant.
type AccountInfoBase struct {
	Version         string     `json:"version"`
	InstalledAt     time.Time  `json:"installedAt"`
	LastValidatedAt *time.Time `json:"lastValidatedAt,omitempty"`
	Events          []string   `json:"events,omitempty"` // subscribed webhook event names
}

// GitHubAccountInfo is the flattened GitHub App installation snapshot.
// Provider permissions and other untouched response fields live in Raw.
type GitHubAccountInfo struct {
	AccountInfoBase
	AccountID           int64                  `json:"accountId"`
	AccountLogin        string                 `json:"accountLogin"`
	AccountType         string                 `json:"accountType"` // "User" or "Organization"
	AvatarURL           string                 `json:"avatarUrl,omitempty"`
	RepositorySelection string                 `json:"repositorySelection"` // "all" or "selected"
	Raw                 map[string]interface{} `json:"raw,omitempty"`
}

func (g *GitHubAccountInfo) SourceType() Provider   { return ProviderGitHub }
func (g *GitHubAccountInfo) Base() *AccountInfoBase { return &g.AccountInfoBase }

// VercelAccountInfo is the Vercel integration configuration snapshot.
type VercelAccountInfo struct {
	AccountInfoBase
	UserID           string                 `json:"userId"`
	ConfigurationID  string                 `json:"configurationId"`
	TeamID           string                 `json:"teamId,omitempty"`
	ProjectSelection string                 `json:"projectSelection"` // "all" or "selected"
	Raw              map[string]interface{} `json:"raw,omitempty"`
}

func (v *VercelAccountInfo) SourceType() Provider   { return ProviderVercel }
func (v *VercelAccountInfo) Base() *AccountInfoBase { return &v.AccountInfoBase }

// SentryAccountInfo is the Sentry integration installation snapshot.
type SentryAccountInfo struct {
	AccountInfoBase
	InstallationID   string                 `json:"installationId"`
	OrganizationSlug string                 `json:"organizationSlug"`
	Raw              map[string]interface{} `json:"raw,omitempty"`
}

func (s *SentryAccountInfo) SourceType() Provider   { return ProviderSentry }
func (s *SentryAccountInfo) Base() *AccountInfoBase { return &s.AccountInfoBase }

// LinearOrganization is the organization identity returned by Linear's
// GraphQL viewer query, not by the OAuth token response.
type LinearOrganization struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URLKey string `json:"urlKey"`
}

// LinearAccountInfo is the Linear workspace connection snapshot.
type LinearAccountInfo struct {
	AccountInfoBase
	Organization *LinearOrganization    `json:"organization,omitempty"`
	Raw          map[string]interface{} `json:"raw,omitempty"`
}

func (l *LinearAccountInfo) SourceType() Provider   { return ProviderLinear }
func (l *LinearAccountInfo) Base() *AccountInfoBase { return &l.AccountInfoBase }

// AccountInfoDoc wraps an AccountInfo for JSONB storage. Encoding injects the
// sourceType discriminant; decoding dispatches on it and rejects unknown tags.
type AccountInfoDoc struct {
	Info AccountInfo
}

// MarshalJSON encodes the variant with its sourceType discriminant.
func (d AccountInfoDoc) MarshalJSON() ([]byte, error) {
	if d.Info == nil {
		return []byte("null"), nil
	}
	inner, err := json.Marshal(d.Info)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(inner, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(d.Info.SourceType())
	if err != nil {
		return nil, err
	}
	fields["sourceType"] = tag
	return json.Marshal(fields)
}

// UnmarshalJSON decodes by peeking the sourceType discriminant.
func (d *AccountInfoDoc) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		d.Info = nil
		return nil
	}
	var probe struct {
		SourceType Provider `json:"sourceType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to read account info discriminant: %w", err)
	}

	var info AccountInfo
	switch probe.SourceType {
	case ProviderGitHub:
		info = &GitHubAccountInfo{}
	case ProviderVercel:
		info = &VercelAccountInfo{}
	case ProviderSentry:
		info = &SentryAccountInfo{}
	case ProviderLinear:
		info = &LinearAccountInfo{}
	default:
		return fmt.Errorf("unknown account info sourceType: %q", probe.SourceType)
	}

	if err := json.Unmarshal(data, info); err != nil {
		return fmt.Errorf("failed to decode %s account info: %w", probe.SourceType, err)
	}
	d.Info = info
	return nil
}

// Value implements driver.Valuer for the JSONB column.
func (d AccountInfoDoc) Value() (driver.Value, error) {
	if d.Info == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner for the JSONB column.
func (d *AccountInfoDoc) Scan(value interface{}) error {
	if value == nil {
		d.Info = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported scan type for account info: %T", value)
	}
	return d.UnmarshalJSON(data)
}

// Metadata is provider-specific side-channel data stored as JSONB, e.g. the
// Linear webhook ID or the provider-side resource snapshot used by validate.
type Metadata map[string]interface{}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported scan type for metadata: %T", value)
	}
	return json.Unmarshal(data, m)
}

// ResourceIDs returns the provider-side resource snapshot recorded under key,
// e.g. repository IDs for GitHub. Missing or malformed entries yield nil.
func (m Metadata) ResourceIDs(key string) []string {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids
}

// SourceTypeMismatchError signals that a stored account-info blob disagrees
// with its row's provider column.
type SourceTypeMismatchError struct {
	InstallationID string
	RowProvider    Provider
	InfoSourceType Provider
}

func (e *SourceTypeMismatchError) Error() string {
	return fmt.Sprintf("installation %s: account info sourceType %q does not match provider %q",
		e.InstallationID, e.InfoSourceType, e.RowProvider)
}
