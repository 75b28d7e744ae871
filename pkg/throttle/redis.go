package throttle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps attempt records in Redis so they aggregate across
// processes. Records expire after the window via key TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedisStore creates a Redis-backed attempt store. An empty prefix
// defaults to "throttle".
func NewRedisStore(client *redis.Client, prefix string, window time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "throttle"
	}
	return &RedisStore{client: client, prefix: prefix, window: window}
}

func (s *RedisStore) key(hash string) string {
	return fmt.Sprintf("%s:%s", s.prefix, hash)
}

func (s *RedisStore) Get(ctx context.Context, hash string) (*Attempt, error) {
	data, err := s.client.Get(ctx, s.key(hash)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var a Attempt
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		// Corrupt record, drop it rather than serve it.
		s.client.Del(ctx, s.key(hash))
		return nil, fmt.Errorf("failed to unmarshal attempt: %w", err)
	}
	return &a, nil
}

func (s *RedisStore) Put(ctx context.Context, attempt *Attempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}
	return s.client.Set(ctx, s.key(attempt.Hash), data, s.window).Err()
}

func (s *RedisStore) Clear(ctx context.Context, hash string) error {
	return s.client.Del(ctx, s.key(hash)).Err()
}
