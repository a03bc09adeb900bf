package news

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds the last digest.
type Cache interface {
	Get(ctx context.Context) (Digest, bool, error)
	Set(ctx context.Context, d Digest, ttl time.Duration) error
}

// RedisCache stores the digest as JSON under one key.
type RedisCache struct {
	Rdb *redis.Client
	Key string
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{Rdb: rdb, Key: "svat:news:digest"}
}

func (c *RedisCache) Get(ctx context.Context) (Digest, bool, error) {
	raw, err := c.Rdb.Get(ctx, c.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var d Digest
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (c *RedisCache) Set(ctx context.Context, d Digest, ttl time.Duration) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.Rdb.Set(ctx, c.Key, raw, ttl).Err()
}
