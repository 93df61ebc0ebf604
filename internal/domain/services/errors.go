package services

import (
	"errors"

	"github.com/lightfastai/connections/internal/domain/repositories"
)

// Service-level errors
var (
	// ErrUnknownProvider is returned for a provider tag outside the supported set
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrStateExpired is returned when a state token is gone and no fallback
	// recovery is possible
	ErrStateExpired = errors.New("state token expired or already used, and no existing installation matched")

	// ErrProviderMismatch is returned when a state token was issued for a
	// different provider than the callback that presented it
	ErrProviderMismatch = errors.New("state token was issued for a different provider")
)

// IsInstallationNotFound checks if the error indicates a missing installation.
func IsInstallationNotFound(err error) bool {
	return errors.Is(err, repositories.ErrInstallationNotFound)
}

// IsStateNotFound checks if the error indicates a missing/consumed state token.
func IsStateNotFound(err error) bool {
	return errors.Is(err, repositories.ErrStateNotFound)
}
