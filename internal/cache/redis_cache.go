package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tehtarik/backend/internal/domain"
)

// DefaultKeyPrefix namespaces every key the POS writes to a shared Redis.
const DefaultKeyPrefix = "tehtarik:"

// RedisSaleCache keeps sales under "<prefix>sale:<id>". A cached entry is
// only served when it is the sale that was asked for.
type RedisSaleCache struct {
	client *redis.Client
	prefix string
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisSaleCache uses DefaultKeyPrefix when prefix is blank.
func NewRedisSaleCache(client *redis.Client, prefix string) *RedisSaleCache {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisSaleCache{client: client, prefix: prefix + "sale:"}
}

func (c *RedisSaleCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSaleCache) Close() error {
	return c.client.Close()
}

func (c *RedisSaleCache) key(saleID string) string {
	return c.prefix + saleID
}

func (c *RedisSaleCache) Get(ctx context.Context, saleID string) (*domain.SaleTransaction, bool, error) {
	if saleID == "" {
		return nil, false, nil
	}
	val, err := c.client.Get(ctx, c.key(saleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sale domain.SaleTransaction
	if err := json.Unmarshal(val, &sale); err != nil {
		return nil, false, fmt.Errorf("decode cached sale %s: %w", saleID, err)
	}
	if sale.ID != saleID || len(sale.Lines) == 0 {
		// Written by something else under our key; treat as a miss.
		return nil, false, nil
	}
	return &sale, true, nil
}

func (c *RedisSaleCache) Set(ctx context.Context, sale *domain.SaleTransaction, ttl time.Duration) error {
	if sale == nil || sale.ID == "" {
		return nil
	}
	payload, err := json.Marshal(sale)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(sale.ID), payload, ttl).Err()
}
