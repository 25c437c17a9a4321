package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"tehtarik/backend/internal/domain"
)

func newMiniredisCache(t *testing.T, prefix string) (*RedisSaleCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisSaleCache(NewRedisClient(mr.Addr(), "", 0), prefix)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func tehTarikSale(id string) *domain.SaleTransaction {
	return &domain.SaleTransaction{
		ID:            id,
		CreatedAt:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		PaymentMethod: domain.PaymentCash,
		TotalAmount:   30000,
		CreatedBy:     "usr-owner",
		Lines: []domain.SaleLine{{
			ID: "sln-1", TransactionID: id, ProductID: "prd-teh-tarik-original",
			ProductName: "Teh Tarik Original", Quantity: 2, UnitPrice: 15000, Subtotal: 30000,
		}},
	}
}

func TestRedisSaleCacheRoundTrip(t *testing.T) {
	c, mr := newMiniredisCache(t, "")
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	sale := tehTarikSale("sal-1")
	require.NoError(t, c.Set(ctx, sale, time.Minute))
	require.True(t, mr.Exists("tehtarik:sale:sal-1"))

	got, ok, err := c.Get(ctx, "sal-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sale, got)
}

func TestRedisSaleCacheKeepsToItsPrefix(t *testing.T) {
	c, mr := newMiniredisCache(t, "cabang-2")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, tehTarikSale("sal-9"), time.Minute))
	require.Equal(t, []string{"cabang-2:sale:sal-9"}, mr.Keys())

	// Another branch sharing the Redis does not see this entry.
	other := NewRedisSaleCache(NewRedisClient(mr.Addr(), "", 0), "cabang-3:")
	t.Cleanup(func() { _ = other.Close() })
	_, ok, err := other.Get(ctx, "sal-9")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisSaleCacheRejectsForeignEntries(t *testing.T) {
	c, mr := newMiniredisCache(t, "")
	ctx := context.Background()

	require.NoError(t, mr.Set("tehtarik:sale:sal-2", `{"id":"sal-3","lines":[{"id":"sln-1"}]}`))
	_, ok, err := c.Get(ctx, "sal-2")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mr.Set("tehtarik:sale:sal-4", `not json`))
	_, _, err = c.Get(ctx, "sal-4")
	require.Error(t, err)
}

func TestRedisSaleCacheMissAndExpiry(t *testing.T) {
	c, mr := newMiniredisCache(t, "")
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, tehTarikSale("short"), time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err = c.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisSaleCacheIgnoresNil(t *testing.T) {
	c, mr := newMiniredisCache(t, "")
	require.NoError(t, c.Set(context.Background(), nil, time.Minute))
	require.NoError(t, c.Set(context.Background(), &domain.SaleTransaction{}, time.Minute))
	require.Empty(t, mr.Keys())
}
