package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountInfoDocMarshalInjectsSourceType(t *testing.T) {
	doc := AccountInfoDoc{Info: &GitHubAccountInfo{
		AccountInfoBase: AccountInfoBase{
			Version:     AccountInfoVersion,
			InstalledAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		AccountID:           42,
		AccountLogin:        "octo-org",
		AccountType:         "Organization",
		RepositorySelection: "selected",
	}}

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "github", fields["sourceType"])
	assert.Equal(t, "octo-org", fields["accountLogin"])
	assert.Equal(t, AccountInfoVersion, fields["version"])
}

func TestAccountInfoDocUnmarshalDispatch(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, info AccountInfo)
	}{
		{
			name:    "github",
			payload: `{"sourceType":"github","version":"1","installedAt":"2025-06-01T12:00:00Z","accountId":42,"accountLogin":"octo-org","accountType":"Organization","repositorySelection":"all"}`,
			check: func(t *testing.T, info AccountInfo) {
				github, ok := info.(*GitHubAccountInfo)
				require.True(t, ok)
				assert.Equal(t, int64(42), github.AccountID)
				assert.Equal(t, "octo-org", github.AccountLogin)
			},
		},
		{
			name:    "vercel",
			payload: `{"sourceType":"vercel","version":"1","installedAt":"2025-06-01T12:00:00Z","userId":"u_1","configurationId":"icfg_1","teamId":"team_1","projectSelection":"selected"}`,
			check: func(t *testing.T, info AccountInfo) {
				vercel, ok := info.(*VercelAccountInfo)
				require.True(t, ok)
				assert.Equal(t, "team_1", vercel.TeamID)
				assert.Equal(t, "icfg_1", vercel.ConfigurationID)
			},
		},
		{
			name:    "sentry",
			payload: `{"sourceType":"sentry","version":"1","installedAt":"2025-06-01T12:00:00Z","installationId":"uuid-1","organizationSlug":"acme"}`,
			check: func(t *testing.T, info AccountInfo) {
				sentry, ok := info.(*SentryAccountInfo)
				require.True(t, ok)
				assert.Equal(t, "acme", sentry.OrganizationSlug)
			},
		},
		{
			name:    "linear",
			payload: `{"sourceType":"linear","version":"1","installedAt":"2025-06-01T12:00:00Z","organization":{"id":"org-1","name":"Acme","urlKey":"acme"}}`,
			check: func(t *testing.T, info AccountInfo) {
				linear, ok := info.(*LinearAccountInfo)
				require.True(t, ok)
				require.NotNil(t, linear.Organization)
				assert.Equal(t, "acme", linear.Organization.URLKey)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc AccountInfoDoc
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &doc))
			require.NotNil(t, doc.Info)
			assert.Equal(t, Provider(tt.name), doc.Info.SourceType())
			tt.check(t, doc.Info)
		})
	}
}

func TestAccountInfoDocUnmarshalRejectsUnknownSourceType(t *testing.T) {
	var doc AccountInfoDoc
	err := json.Unmarshal([]byte(`{"sourceType":"bitbucket"}`), &doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown account info sourceType")
}

func TestAccountInfoDocRoundTrip(t *testing.T) {
	validated := time.Date(2025, 7, 2, 8, 30, 0, 0, time.UTC)
	original := AccountInfoDoc{Info: &VercelAccountInfo{
		AccountInfoBase: AccountInfoBase{
			Version:         AccountInfoVersion,
			InstalledAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			LastValidatedAt: &validated,
		},
		UserID:           "u_1",
		ConfigurationID:  "icfg_1",
		ProjectSelection: "all",
	}}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded AccountInfoDoc
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.Info, decoded.Info)
}

func TestCheckConsistencyRejectsMismatchedSourceType(t *testing.T) {
	inst := &Installation{
		ID:          "inst_1",
		Provider:    ProviderGitHub,
		ExternalID:  "42",
		AccountInfo: AccountInfoDoc{Info: &VercelAccountInfo{UserID: "u_1"}},
	}

	err := inst.CheckConsistency()
	require.Error(t, err)

	var mismatch *SourceTypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, ProviderGitHub, mismatch.RowProvider)
	assert.Equal(t, ProviderVercel, mismatch.InfoSourceType)
}

func TestCheckConsistencyAcceptsMatchingSourceType(t *testing.T) {
	inst := &Installation{
		ID:          "inst_1",
		Provider:    ProviderGitHub,
		ExternalID:  "42",
		AccountInfo: AccountInfoDoc{Info: &GitHubAccountInfo{AccountLogin: "octo-org"}},
	}
	assert.NoError(t, inst.CheckConsistency())
}

func TestMetadataResourceIDs(t *testing.T) {
	meta := Metadata{
		"repository_ids": []interface{}{"1", "2", "3"},
		"webhook_id":     "wh_1",
	}

	assert.Equal(t, []string{"1", "2", "3"}, meta.ResourceIDs("repository_ids"))
	assert.Nil(t, meta.ResourceIDs("project_ids"))
	assert.Nil(t, meta.ResourceIDs("webhook_id"))
}
