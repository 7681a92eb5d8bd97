package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/redisx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Latest(ctx context.Context, productKey string) (*bargain.SupplierRate, error) {
	var rate bargain.SupplierRate
	err := r.DB.QueryRow(ctx, `
		SELECT product_key, cost_cents, supplier_id, updated_at
		FROM supplier_rates
		WHERE product_key = $1
		ORDER BY updated_at DESC
		LIMIT 1`, productKey).Scan(&rate.ProductKey, &rate.CostCents, &rate.SupplierID, &rate.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

type RedisCache struct{ RDB *redis.Client }

func (c *RedisCache) Get(ctx context.Context, productKey string) (*bargain.SupplierRate, error) {
	s, err := c.RDB.Get(ctx, fmt.Sprintf(redisx.KeyRate, productKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rate bargain.SupplierRate
	if err := json.Unmarshal([]byte(s), &rate); err != nil {
		return nil, err
	}
	return &rate, nil
}

func (c *RedisCache) Set(ctx context.Context, rate bargain.SupplierRate, ttl time.Duration) error {
	b, err := json.Marshal(rate)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(redisx.KeyRate, rate.ProductKey), b, ttl).Err()
}
