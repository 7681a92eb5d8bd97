package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// RedisCache keeps a disposable snapshot of hot sessions. Postgres stays
// authoritative; a cache miss or a flushed Redis only costs a read.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, id string) (*bargain.Session, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(redisx.KeySession, id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s bargain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *RedisCache) Set(ctx context.Context, s bargain.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(redisx.KeySession, s.ID), raw, redisx.TTLSessionSnapshot).Err()
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(redisx.KeySession, id)).Err()
}
