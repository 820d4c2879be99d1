package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orhaniscoding/vlanctl/internal/domain"
)

// RedisRepository backs idempotency records with Redis, so a retried
// request lands on the same outcome regardless of which replica handles
// it. Used when config.RedisConfig.Enabled is true.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository wraps an existing client. keyPrefix namespaces keys
// in a shared Redis instance.
func NewRedisRepository(client *redis.Client, keyPrefix string) *RedisRepository {
	if keyPrefix == "" {
		keyPrefix = "vlanctl:idempotency:"
	}
	return &RedisRepository{client: client, prefix: keyPrefix}
}

func (r *RedisRepository) redisKey(key string) string { return r.prefix + key }

func (r *RedisRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	raw, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, domain.NewError(domain.ErrNotFound, "idempotency key not found", nil)
	}
	if err != nil {
		return nil, err
	}
	var record domain.IdempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	if record.IsExpired() {
		return nil, domain.NewError(domain.ErrNotFound, "idempotency key expired", nil)
	}
	return &record, nil
}

func (r *RedisRepository) Set(ctx context.Context, record *domain.IdempotencyRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		ttl = domain.IdempotencyTTL
	}
	return r.client.Set(ctx, r.redisKey(record.Key), raw, ttl).Err()
}

func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.redisKey(key)).Err()
}

// Cleanup is a no-op: Redis expires keys itself via the TTL passed to Set.
func (r *RedisRepository) Cleanup(ctx context.Context) error { return nil }
