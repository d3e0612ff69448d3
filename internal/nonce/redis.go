package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a Store backed by redis, for load-balanced deployments
// where all gateway instances must share one replay-guard state. SETNX
// provides the atomic first-use claim.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore with the given claim TTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(payer, nonce string) string {
	return fmt.Sprintf("x402:nonce:%s:%s", payer, nonce)
}

// Used reports whether the pair has an unexpired claim.
func (s *RedisStore) Used(ctx context.Context, payer, nonce string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKey(payer, nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check nonce: %w", err)
	}
	return n > 0, nil
}

// MarkUsed atomically claims the pair via SETNX.
func (s *RedisStore) MarkUsed(ctx context.Context, payer, nonce string) (bool, error) {
	claimed, err := s.client.SetNX(ctx, redisKey(payer, nonce), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim nonce: %w", err)
	}
	return claimed, nil
}

// Release removes a claim.
func (s *RedisStore) Release(ctx context.Context, payer, nonce string) error {
	if err := s.client.Del(ctx, redisKey(payer, nonce)).Err(); err != nil {
		return fmt.Errorf("failed to release nonce: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
