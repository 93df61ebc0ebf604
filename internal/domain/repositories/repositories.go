package repositories

import "context"

// Repositories is a collection of all repository interfaces
type Repositories struct {
	Installations InstallationRepository
	Resources     ResourceRepository
}

// HealthChecker defines health check interface for repositories
type HealthChecker interface {
	// HealthCheck performs a health check on the repository
	HealthCheck(ctx context.Context) error
}
