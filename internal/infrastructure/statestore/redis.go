package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/domain/repositories"
)

const (
	stateKeyPrefix  = "connstate:"
	resultKeyPrefix = "connresult:"
)

// RedisStore implements StateStore on Redis. Single-use consumption relies on
// GETDEL, so concurrent callbacks for the same token race on Redis's own
// atomicity rather than an application lock.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed state store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Put stores the state payload under token with the given TTL.
func (s *RedisStore) Put(ctx context.Context, token string, data entities.StateData, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode state data: %w", err)
	}
	if err := s.client.Set(ctx, stateKeyPrefix+token, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store state token: %w", err)
	}
	return nil
}

// TakeOnce retrieves and deletes the state payload atomically.
func (s *RedisStore) TakeOnce(ctx context.Context, token string) (*entities.StateData, error) {
	payload, err := s.client.GetDel(ctx, stateKeyPrefix+token).Bytes()
	if err == redis.Nil {
		return nil, repositories.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take state token: %w", err)
	}

	var data entities.StateData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("failed to decode state data: %w", err)
	}
	return &data, nil
}

// PutResult records the callback outcome under token.
func (s *RedisStore) PutResult(ctx context.Context, token string, result entities.CallbackResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode callback result: %w", err)
	}
	if err := s.client.Set(ctx, resultKeyPrefix+token, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store callback result: %w", err)
	}
	return nil
}

// GetResult reads the callback outcome without consuming it.
func (s *RedisStore) GetResult(ctx context.Context, token string) (*entities.CallbackResult, error) {
	payload, err := s.client.Get(ctx, resultKeyPrefix+token).Bytes()
	if err == redis.Nil {
		return nil, repositories.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read callback result: %w", err)
	}

	var result entities.CallbackResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode callback result: %w", err)
	}
	return &result, nil
}

// Ensure RedisStore implements StateStore
var _ StateStore = (*RedisStore)(nil)
