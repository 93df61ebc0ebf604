package repositories

import "errors"

// Domain-specific repository errors
var (
	// ErrInstallationNotFound is returned when an installation cannot be found
	ErrInstallationNotFound = errors.New("installation not found")

	// ErrResourceNotFound is returned when a linked resource cannot be found
	ErrResourceNotFound = errors.New("linked resource not found")

	// ErrStateNotFound is returned when a state token is missing, expired, or
	// has already been consumed
	ErrStateNotFound = errors.New("state token not found")
)
