package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/domain/repositories"
	"github.com/lightfastai/connections/internal/pkg/idgen"
	"github.com/lightfastai/connections/internal/pkg/metrics"
)

// ResourceRepository implements the ResourceRepository interface for PostgreSQL
type ResourceRepository struct {
	db *sqlx.DB
}

// NewResourceRepository creates a new PostgreSQL linked-resource repository
func NewResourceRepository(db *sqlx.DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// ListByWorkspaceAndProvider retrieves all linked resources for a workspace and provider
func (r *ResourceRepository) ListByWorkspaceAndProvider(ctx context.Context, workspaceID string, provider entities.Provider) ([]*entities.LinkedResource, error) {
	start := time.Now()
	var resources []*entities.LinkedResource
	query := `
		SELECT id, workspace_id, installation_id, provider, external_id, name, key, status, created_at, updated_at
		FROM linked_resources
		WHERE workspace_id = $1 AND provider = $2
		ORDER BY name ASC
	`

	err := r.db.SelectContext(ctx, &resources, query, workspaceID, provider)
	metrics.RecordDBOperation("linked_resource", "list_by_workspace", time.Since(start), int64(len(resources)), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked resources: %w", err)
	}
	return resources, nil
}

// BulkCreate inserts a batch of new linked resources in a single statement.
// Batches are small (one console action) so a multi-row VALUES is enough.
func (r *ResourceRepository) BulkCreate(ctx context.Context, resources []*entities.LinkedResource) error {
	if len(resources) == 0 {
		return nil
	}

	start := time.Now()
	now := time.Now().UTC()

	valueClauses := make([]string, 0, len(resources))
	args := make([]interface{}, 0, len(resources)*10)
	for i, res := range resources {
		if res.ID == "" {
			res.ID = idgen.ResourceID()
		}
		if res.CreatedAt.IsZero() {
			res.CreatedAt = now
		}
		res.UpdatedAt = now

		base := i * 10
		valueClauses = append(valueClauses, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10))
		args = append(args,
			res.ID, res.WorkspaceID, res.InstallationID, res.Provider,
			res.ExternalID, res.Name, res.Key, res.Status, res.CreatedAt, res.UpdatedAt)
	}

	query := `
		INSERT INTO linked_resources (
			id, workspace_id, installation_id, provider, external_id, name, key, status, created_at, updated_at
		)
		VALUES ` + strings.Join(valueClauses, ", ")

	_, err := r.db.ExecContext(ctx, query, args...)
	metrics.RecordDBOperation("linked_resource", "bulk_create", time.Since(start), int64(len(resources)), err)
	if err != nil {
		return fmt.Errorf("failed to bulk create linked resources: %w", err)
	}
	return nil
}

// BulkReactivate flips a batch of rows back to active by internal ID
func (r *ResourceRepository) BulkReactivate(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	start := time.Now()
	query := `
		UPDATE linked_resources
		SET status = $1, updated_at = $2
		WHERE id = ANY($3)
	`

	result, err := r.db.ExecContext(ctx, query, entities.ResourceActive, time.Now().UTC(), pq.Array(ids))
	var rowsAffected int64
	if err == nil {
		rowsAffected, err = result.RowsAffected()
	}
	metrics.RecordDBOperation("linked_resource", "bulk_reactivate", time.Since(start), rowsAffected, err)
	if err != nil {
		return fmt.Errorf("failed to bulk reactivate linked resources: %w", err)
	}
	if rowsAffected != int64(len(ids)) {
		return fmt.Errorf("bulk reactivate affected %d of %d rows", rowsAffected, len(ids))
	}
	return nil
}

// Ensure ResourceRepository implements repositories.ResourceRepository
var _ repositories.ResourceRepository = (*ResourceRepository)(nil)
