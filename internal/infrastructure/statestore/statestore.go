// Package statestore holds the ephemeral coordination state for OAuth
// exchanges: in-flight state tokens and callback results for polling tabs.
// All durable state lives in the relational store; nothing here survives its
// TTL.
package statestore

import (
	"context"
	"time"

	"github.com/lightfastai/connections/internal/domain/entities"
)

// StateTTL bounds the window between authorize and callback. A state token
// older than this is treated as expired and the callback falls back to
// external-ID recovery.
const StateTTL = 600 * time.Second

// StateStore is the injected capability for ephemeral OAuth coordination.
// Implementations must make TakeOnce atomic: concurrent callbacks racing on
// the same token see it at most once.
type StateStore interface {
	// Put stores the state payload under token with the given TTL.
	Put(ctx context.Context, token string, data entities.StateData, ttl time.Duration) error

	// TakeOnce retrieves and deletes the payload in one atomic step. Returns
	// repositories.ErrStateNotFound when the token is missing, expired, or
	// already consumed.
	TakeOnce(ctx context.Context, token string) (*entities.StateData, error)

	// PutResult records the callback outcome under token for the polling tab.
	PutResult(ctx context.Context, token string, result entities.CallbackResult, ttl time.Duration) error

	// GetResult reads the callback outcome without consuming it. Returns
	// repositories.ErrStateNotFound when nothing has been recorded.
	GetResult(ctx context.Context, token string) (*entities.CallbackResult, error)
}
