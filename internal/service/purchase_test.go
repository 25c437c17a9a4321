package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
	"tehtarik/backend/internal/store/memory"
)

func TestRecordPurchaseRestocksExistingMaterial(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	purchase, err := svc.RecordPurchase(ctx, "usr-karyawan", domain.PurchaseRequest{
		ItemName:    "teh bubuk",
		Category:    "Bahan Minuman",
		Quantity:    decimal.RequireFromString("5.5"),
		TotalAmount: 275000,
	})
	require.NoError(t, err)
	require.Equal(t, "mat-teh-bubuk", purchase.RawMaterialID)
	require.Equal(t, "kg", purchase.Unit)
	require.Equal(t, "usr-karyawan", purchase.CreatedBy)

	requireDecimal(t, "25.5", materialStock(t, repo, "mat-teh-bubuk"))

	purchases, err := svc.ListPurchases(ctx, 0)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.Equal(t, purchase.ID, purchases[0].ID)
}

func TestRecordPurchaseCreatesUnknownMaterial(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	purchase, err := svc.RecordPurchase(ctx, ownerID, domain.PurchaseRequest{
		ItemName:    "Sedotan",
		Category:    "Kemasan",
		Quantity:    decimal.NewFromInt(500),
		TotalAmount: 50000,
	})
	require.NoError(t, err)
	require.Equal(t, domain.DefaultUnit, purchase.Unit)

	material, err := repo.GetRawMaterial(ctx, purchase.RawMaterialID)
	require.NoError(t, err)
	require.Equal(t, "Sedotan", material.Name)
	requireDecimal(t, "500", material.Stock)
}

func TestRecordPurchaseValidation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	cases := map[string]domain.PurchaseRequest{
		"missing name":     {Category: "Bahan", Quantity: decimal.NewFromInt(1)},
		"missing category": {ItemName: "Gula Pasir", Quantity: decimal.NewFromInt(1)},
		"zero quantity":    {ItemName: "Gula Pasir", Category: "Bahan"},
		"negative total":   {ItemName: "Gula Pasir", Category: "Bahan", Quantity: decimal.NewFromInt(1), TotalAmount: -5},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.RecordPurchase(ctx, ownerID, req)
			require.ErrorIs(t, err, store.ErrInvalidRequest)
		})
	}

	_, err := svc.RecordPurchase(ctx, "", domain.PurchaseRequest{
		ItemName: "Gula Pasir", Category: "Bahan", Quantity: decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, store.ErrNotFound)
	requireDecimal(t, "50", materialStock(t, repo, "mat-gula-pasir"))
}

type brokenPurchaseTx struct{ store.Tx }

func (brokenPurchaseTx) CreatePurchase(context.Context, domain.Purchase) error {
	return errors.New("connection reset")
}

func TestRecordPurchaseIsAtomic(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(failingRepo{Repository: repo, wrap: func(tx store.Tx) store.Tx {
		return brokenPurchaseTx{Tx: tx}
	}}, Options{Logger: quietLogger()})

	_, err := svc.RecordPurchase(context.Background(), ownerID, domain.PurchaseRequest{
		ItemName: "Gula Pasir", Category: "Bahan", Quantity: decimal.NewFromInt(10),
	})
	require.ErrorIs(t, err, store.ErrPersistence)
	requireDecimal(t, "50", materialStock(t, repo, "mat-gula-pasir"))
}
