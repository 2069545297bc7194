package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces checkpoint keys in a shared Redis instance.
const redisKeyPrefix = "winnow:checkpoint:"

// RedisStore keeps checkpoints in Redis. Useful when harvesters for
// different collections run on multiple hosts and progress must live off the
// local filesystem. Redis SET is atomic, so a crash mid-save leaves the
// previous checkpoint intact.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed checkpoint store.
func NewRedisStore(redisClient *redis.Client) (*RedisStore, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisStore{redis: redisClient}, nil
}

func redisKey(resource string) string {
	return redisKeyPrefix + Slug(resource)
}

// Load returns the last saved state, or nil when no checkpoint exists.
func (s *RedisStore) Load(ctx context.Context, resource string) (*HarvestState, error) {
	data, err := s.redis.Get(ctx, redisKey(resource)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get checkpoint: %w", err)
	}

	var state HarvestState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}

	return &state, nil
}

// Save persists the state without expiry.
func (s *RedisStore) Save(ctx context.Context, state *HarvestState) error {
	state.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	if err := s.redis.Set(ctx, redisKey(state.Resource), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set checkpoint: %w", err)
	}

	return nil
}

// Delete removes the checkpoint. It is not an error if none exists.
func (s *RedisStore) Delete(ctx context.Context, resource string) error {
	if err := s.redis.Del(ctx, redisKey(resource)).Err(); err != nil {
		return fmt.Errorf("redis delete checkpoint: %w", err)
	}
	return nil
}
