package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gosimple/slug"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/domain/repositories"
)

// ReconcileService converges workspace-linked resources with the set the
// console asked to connect: new resources are created, previously
// disconnected ones are reactivated, already-active ones are skipped.
type ReconcileService struct {
	installations repositories.InstallationRepository
	resources     repositories.ResourceRepository
	log           *slog.Logger
}

// NewReconcileService creates a new reconcile service
func NewReconcileService(
	installations repositories.InstallationRepository,
	resources repositories.ResourceRepository,
	log *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		installations: installations,
		resources:     resources,
		log:           log,
	}
}

// ResourceInput identifies one provider sub-resource to link.
type ResourceInput struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

// BulkLinkResult reports how the batch partitioned.
type BulkLinkResult struct {
	Created     int `json:"created"`
	Reactivated int `json:"reactivated"`
	Skipped     int `json:"skipped"`
}

// BulkLink connects a batch of sub-resources to a workspace in one call.
// Creates go in as a single bulk insert and reactivations as a single bulk
// update — never row-by-row — so the whole operation fits one
// request/response cycle.
func (s *ReconcileService) BulkLink(ctx context.Context, workspaceID, installationID string, inputs []ResourceInput) (*BulkLinkResult, error) {
	if len(inputs) == 0 {
		return &BulkLinkResult{}, nil
	}

	installation, err := s.installations.GetByID(ctx, installationID)
	if err != nil {
		return nil, err
	}
	if installation.Status != entities.StatusActive {
		return nil, fmt.Errorf("installation %s is %s, not active", installationID, installation.Status)
	}

	existing, err := s.resources.ListByWorkspaceAndProvider(ctx, workspaceID, installation.Provider)
	if err != nil {
		return nil, err
	}
	byExternalID := make(map[string]*entities.LinkedResource, len(existing))
	for _, row := range existing {
		byExternalID[row.ExternalID] = row
	}

	var (
		toCreate     []*entities.LinkedResource
		toReactivate []string
		result       BulkLinkResult
	)
	seen := make(map[string]bool, len(inputs))
	for _, input := range inputs {
		if input.ExternalID == "" || seen[input.ExternalID] {
			continue
		}
		seen[input.ExternalID] = true

		row, ok := byExternalID[input.ExternalID]
		switch {
		case !ok:
			toCreate = append(toCreate, &entities.LinkedResource{
				WorkspaceID:    workspaceID,
				InstallationID: installationID,
				Provider:       installation.Provider,
				ExternalID:     input.ExternalID,
				Name:           input.Name,
				Key:            slug.Make(input.Name),
				Status:         entities.ResourceActive,
			})
			result.Created++
		case row.Status != entities.ResourceActive:
			toReactivate = append(toReactivate, row.ID)
			result.Reactivated++
		default:
			result.Skipped++
		}
	}

	if err := s.resources.BulkCreate(ctx, toCreate); err != nil {
		return nil, err
	}
	if err := s.resources.BulkReactivate(ctx, toReactivate); err != nil {
		return nil, err
	}

	s.log.Info("bulk link reconciled",
		slog.String("workspace_id", workspaceID),
		slog.String("installation_id", installationID),
		slog.Int("created", result.Created),
		slog.Int("reactivated", result.Reactivated),
		slog.Int("skipped", result.Skipped))

	return &result, nil
}
