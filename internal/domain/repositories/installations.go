package repositories

import (
	"context"

	"github.com/lightfastai/connections/internal/domain/entities"
)

// UpsertResult reports how an installation upsert resolved.
type UpsertResult struct {
	// ID is the internal row ID after the write.
	ID string
	// Created is true when no row existed for (provider, external_id).
	Created bool
	// Reactivated is true when a previously revoked/errored row was brought
	// back to active by this write.
	Reactivated bool
}

// InstallationRepository defines data access for provider installations.
// One row exists per (provider, external_id); reconnection converges onto
// that key via upsert rather than creating duplicates.
type InstallationRepository interface {
	// Upsert inserts or updates the row keyed by (provider, external_id).
	// Relies on the store's ON CONFLICT semantics to resolve races between a
	// fresh install and a concurrent re-install of the same account.
	Upsert(ctx context.Context, installation *entities.Installation) (*UpsertResult, error)

	// GetByID retrieves an installation by internal row ID.
	GetByID(ctx context.Context, id string) (*entities.Installation, error)

	// GetByProviderAndExternalID is the fallback-recovery lookup used when an
	// OAuth state token is missing or expired.
	GetByProviderAndExternalID(ctx context.Context, provider entities.Provider, externalID string) (*entities.Installation, error)

	// ListByOrgAndProvider retrieves an org's installations for one provider.
	ListByOrgAndProvider(ctx context.Context, orgID string, provider entities.Provider) ([]*entities.Installation, error)

	// UpdateAccountInfo refreshes the stored account-info blob and metadata
	// after a successful validate. Leaves the row untouched on any error.
	UpdateAccountInfo(ctx context.Context, id string, info entities.AccountInfoDoc, metadata entities.Metadata) error

	// UpdateStatus transitions the row's lifecycle status. History is never
	// hard-deleted; revocation is a status flip.
	UpdateStatus(ctx context.Context, id string, status entities.InstallationStatus) error
}

// ResourceRepository defines data access for workspace-linked resources.
type ResourceRepository interface {
	// ListByWorkspaceAndProvider retrieves all linked resources for a
	// workspace and provider, regardless of status.
	ListByWorkspaceAndProvider(ctx context.Context, workspaceID string, provider entities.Provider) ([]*entities.LinkedResource, error)

	// BulkCreate inserts a batch of new linked resources in one statement.
	BulkCreate(ctx context.Context, resources []*entities.LinkedResource) error

	// BulkReactivate flips a batch of rows back to active by internal ID in
	// one statement.
	BulkReactivate(ctx context.Context, ids []string) error
}
