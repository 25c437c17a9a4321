package cache

import (
	"context"
	"time"

	"tehtarik/backend/internal/domain"
)

// SaleCache stores finished sales by sale id. Sales never change after they
// are recorded, so entries only leave the cache by TTL.
type SaleCache interface {
	Get(ctx context.Context, saleID string) (*domain.SaleTransaction, bool, error)
	Set(ctx context.Context, sale *domain.SaleTransaction, ttl time.Duration) error
}

type NoopSaleCache struct{}

func (NoopSaleCache) Get(_ context.Context, _ string) (*domain.SaleTransaction, bool, error) {
	return nil, false, nil
}

func (NoopSaleCache) Set(_ context.Context, _ *domain.SaleTransaction, _ time.Duration) error {
	return nil
}
