package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/domain/repositories"
	"github.com/lightfastai/connections/internal/pkg/idgen"
	"github.com/lightfastai/connections/internal/pkg/metrics"
)

// InstallationRepository implements the InstallationRepository interface for PostgreSQL
type InstallationRepository struct {
	db *sqlx.DB
}

// NewInstallationRepository creates a new PostgreSQL installation repository
func NewInstallationRepository(db *sqlx.DB) *InstallationRepository {
	return &InstallationRepository{db: db}
}

const installationColumns = `
	id, provider, external_id, connected_by, org_id, status,
	provider_account_info, webhook_secret, metadata, created_at, updated_at
`

// Upsert inserts or updates the installation row keyed by (provider, external_id).
// The prior row is read inside the same transaction so a reconnect of a
// revoked installation is reported as a reactivation; the ON CONFLICT clause
// resolves races between a fresh install and a concurrent re-install.
func (r *InstallationRepository) Upsert(ctx context.Context, installation *entities.Installation) (*repositories.UpsertResult, error) {
	if err := installation.CheckConsistency(); err != nil {
		return nil, err
	}

	start := time.Now()
	var result *repositories.UpsertResult
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var prior struct {
			ID     string                      `db:"id"`
			Status entities.InstallationStatus `db:"status"`
		}
		err := tx.GetContext(ctx, &prior,
			`SELECT id, status FROM installations WHERE provider = $1 AND external_id = $2 FOR UPDATE`,
			installation.Provider, installation.ExternalID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read prior installation: %w", err)
		}
		created := errors.Is(err, sql.ErrNoRows)

		if installation.ID == "" {
			installation.ID = idgen.InstallationID()
		}
		now := time.Now().UTC()
		if installation.CreatedAt.IsZero() {
			installation.CreatedAt = now
		}
		installation.UpdatedAt = now

		query := `
			INSERT INTO installations (` + installationColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (provider, external_id) DO UPDATE SET
				connected_by = EXCLUDED.connected_by,
				org_id = EXCLUDED.org_id,
				status = EXCLUDED.status,
				provider_account_info = EXCLUDED.provider_account_info,
				webhook_secret = COALESCE(EXCLUDED.webhook_secret, installations.webhook_secret),
				metadata = COALESCE(EXCLUDED.metadata, installations.metadata),
				updated_at = EXCLUDED.updated_at
			RETURNING id
		`
		var id string
		err = tx.GetContext(ctx, &id, query,
			installation.ID,
			installation.Provider,
			installation.ExternalID,
			installation.ConnectedBy,
			installation.OrgID,
			installation.Status,
			installation.AccountInfo,
			installation.WebhookSecret,
			installation.Metadata,
			installation.CreatedAt,
			installation.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert installation: %w", err)
		}
		installation.ID = id

		result = &repositories.UpsertResult{
			ID:          id,
			Created:     created,
			Reactivated: !created && prior.Status != entities.StatusActive && installation.Status == entities.StatusActive,
		}
		return nil
	})
	metrics.RecordDBOperation("installation", "upsert", time.Since(start), 1, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetByID retrieves an installation by internal row ID
func (r *InstallationRepository) GetByID(ctx context.Context, id string) (*entities.Installation, error) {
	start := time.Now()
	var installation entities.Installation
	query := `SELECT ` + installationColumns + ` FROM installations WHERE id = $1 LIMIT 1`

	err := r.db.GetContext(ctx, &installation, query, id)
	metrics.RecordDBOperation("installation", "get_by_id", time.Since(start), 1, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrInstallationNotFound
		}
		return nil, fmt.Errorf("failed to get installation by ID: %w", err)
	}

	if err := installation.CheckConsistency(); err != nil {
		return nil, err
	}
	return &installation, nil
}

// GetByProviderAndExternalID retrieves an installation by its natural key
func (r *InstallationRepository) GetByProviderAndExternalID(ctx context.Context, provider entities.Provider, externalID string) (*entities.Installation, error) {
	start := time.Now()
	var installation entities.Installation
	query := `
		SELECT ` + installationColumns + `
		FROM installations
		WHERE provider = $1 AND external_id = $2
		LIMIT 1
	`

	err := r.db.GetContext(ctx, &installation, query, provider, externalID)
	metrics.RecordDBOperation("installation", "get_by_external_id", time.Since(start), 1, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrInstallationNotFound
		}
		return nil, fmt.Errorf("failed to get installation by external ID: %w", err)
	}

	if err := installation.CheckConsistency(); err != nil {
		return nil, err
	}
	return &installation, nil
}

// ListByOrgAndProvider retrieves all installations for an org and provider
func (r *InstallationRepository) ListByOrgAndProvider(ctx context.Context, orgID string, provider entities.Provider) ([]*entities.Installation, error) {
	start := time.Now()
	var installations []*entities.Installation
	query := `
		SELECT ` + installationColumns + `
		FROM installations
		WHERE org_id = $1 AND provider = $2
		ORDER BY created_at ASC
	`

	err := r.db.SelectContext(ctx, &installations, query, orgID, provider)
	metrics.RecordDBOperation("installation", "list_by_org", time.Since(start), int64(len(installations)), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list installations: %w", err)
	}

	for _, installation := range installations {
		if err := installation.CheckConsistency(); err != nil {
			return nil, err
		}
	}
	return installations, nil
}

// UpdateAccountInfo refreshes the stored account-info blob and metadata
func (r *InstallationRepository) UpdateAccountInfo(ctx context.Context, id string, info entities.AccountInfoDoc, metadata entities.Metadata) error {
	start := time.Now()
	query := `
		UPDATE installations
		SET provider_account_info = $1,
		    metadata = COALESCE($2, metadata),
		    updated_at = $3
		WHERE id = $4
	`

	result, err := r.db.ExecContext(ctx, query, info, metadata, time.Now().UTC(), id)
	var rowsAffected int64
	if err == nil {
		rowsAffected, err = result.RowsAffected()
	}
	metrics.RecordDBOperation("installation", "update_account_info", time.Since(start), rowsAffected, err)
	if err != nil {
		return fmt.Errorf("failed to update account info: %w", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrInstallationNotFound
	}
	return nil
}

// UpdateStatus transitions the installation's lifecycle status
func (r *InstallationRepository) UpdateStatus(ctx context.Context, id string, status entities.InstallationStatus) error {
	start := time.Now()
	query := `UPDATE installations SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	var rowsAffected int64
	if err == nil {
		rowsAffected, err = result.RowsAffected()
	}
	metrics.RecordDBOperation("installation", "update_status", time.Since(start), rowsAffected, err)
	if err != nil {
		return fmt.Errorf("failed to update installation status: %w", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrInstallationNotFound
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success
func (r *InstallationRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ensure InstallationRepository implements repositories.InstallationRepository
var _ repositories.InstallationRepository = (*InstallationRepository)(nil)
