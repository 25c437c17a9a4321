package sqlite

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/service"
	"tehtarik/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedTehTarik loads the Teh Tarik Original recipe and an operator.
func seedTehTarik(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateUser(ctx, domain.User{
		ID: "usr-owner", Username: "owner", PasswordHash: "$2a$10$test", Role: domain.RoleOwner, Active: true,
	}))
	_, err := s.CreateProduct(ctx, domain.Product{
		ID: "prd-teh-tarik", Name: "Teh Tarik Original", Price: 15000, Stock: 50, Category: "Minuman", CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	for _, m := range []domain.RawMaterial{
		{ID: "mat-teh-bubuk", Name: "Teh Bubuk", Category: "Bahan", Stock: decimal.NewFromInt(20), Unit: "kg", CreatedAt: now, UpdatedAt: now},
		{ID: "mat-susu", Name: "Susu Kental Manis", Category: "Bahan", Stock: decimal.NewFromInt(20), Unit: "kaleng", CreatedAt: now, UpdatedAt: now},
	} {
		_, err := s.CreateRawMaterial(ctx, m)
		require.NoError(t, err)
	}
	for i, r := range []domain.Recipe{
		{ID: "rcp-1", ProductID: "prd-teh-tarik", RawMaterialID: "mat-teh-bubuk", QuantityNeeded: decimal.RequireFromString("0.05")},
		{ID: "rcp-2", ProductID: "prd-teh-tarik", RawMaterialID: "mat-susu", QuantityNeeded: decimal.RequireFromString("0.02")},
	} {
		r.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		_, err := s.CreateRecipe(ctx, r)
		require.NoError(t, err)
	}
}

func newService(s *Store) *service.Service {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return service.New(s, service.Options{Logger: logger})
}

func requireStock(t *testing.T, s *Store, id string, want string) {
	t.Helper()
	m, err := s.GetRawMaterial(context.Background(), id)
	require.NoError(t, err)
	require.Truef(t, decimal.RequireFromString(want).Equal(m.Stock), "want %s, got %s", want, m.Stock.String())
}

func TestProcessSaleOnSQLite(t *testing.T) {
	s := newTestStore(t)
	seedTehTarik(t, s)
	svc := newService(s)
	ctx := context.Background()

	sale, err := svc.ProcessSale(ctx, "usr-owner", domain.SaleRequest{
		PaymentMethod: domain.PaymentDebit,
		Lines:         []domain.SaleLineRequest{{ProductID: "prd-teh-tarik", Quantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(30000), sale.TotalAmount)

	requireStock(t, s, "mat-teh-bubuk", "19.9")
	requireStock(t, s, "mat-susu", "19.96")
	products, err := s.GetProductsByIDs(ctx, []string{"prd-teh-tarik"})
	require.NoError(t, err)
	require.Equal(t, 48, products["prd-teh-tarik"].Stock)

	stored, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentDebit, stored.PaymentMethod)
	require.Len(t, stored.Lines, 1)
	require.Equal(t, "Teh Tarik Original", stored.Lines[0].ProductName)
	require.Equal(t, int64(30000), stored.Lines[0].Subtotal)
}

func TestProcessSaleShortfallOnSQLite(t *testing.T) {
	s := newTestStore(t)
	seedTehTarik(t, s)
	svc := newService(s)

	// 401 portions need 20.05kg teh bubuk
	_, err := svc.ProcessSale(context.Background(), "usr-owner", domain.SaleRequest{
		Lines: []domain.SaleLineRequest{{ProductID: "prd-teh-tarik", Quantity: 401}},
	})
	var shortfall *store.InsufficientStockError
	require.True(t, errors.As(err, &shortfall))
	require.Equal(t, "Teh Bubuk", shortfall.Name)
	require.True(t, shortfall.Needed.Equal(decimal.RequireFromString("20.05")))

	requireStock(t, s, "mat-teh-bubuk", "20")
	sales, err := s.ListSales(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, sales)
}

func TestWithinTxRollsBackOnSQLite(t *testing.T) {
	s := newTestStore(t)
	seedTehTarik(t, s)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockRawMaterials(ctx, []string{"mat-susu"}); err != nil {
			return err
		}
		if err := tx.DecrementProductStock(ctx, "prd-teh-tarik", 5); err != nil {
			return err
		}
		if err := tx.DecrementRawMaterialStock(ctx, "mat-susu", decimal.NewFromInt(1)); err != nil {
			return err
		}
		return tx.DecrementRawMaterialStock(ctx, "mat-susu", decimal.NewFromInt(100))
	})
	require.ErrorIs(t, err, store.ErrStockConflict)

	requireStock(t, s, "mat-susu", "20")
	products, err := s.GetProductsByIDs(ctx, []string{"prd-teh-tarik"})
	require.NoError(t, err)
	require.Equal(t, 50, products["prd-teh-tarik"].Stock)
}

func TestProductDecrementIsConditional(t *testing.T) {
	s := newTestStore(t)
	seedTehTarik(t, s)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.DecrementProductStock(ctx, "prd-teh-tarik", 51)
	})
	require.ErrorIs(t, err, store.ErrStockConflict)
}

func TestRecipesJoinMaterialsOnSQLite(t *testing.T) {
	s := newTestStore(t)
	seedTehTarik(t, s)

	byProduct, err := s.RecipesForProducts(context.Background(), []string{"prd-teh-tarik", "prd-none"})
	require.NoError(t, err)
	lines := byProduct["prd-teh-tarik"]
	require.Len(t, lines, 2)
	require.Equal(t, "Teh Bubuk", lines[0].Material.Name)
	require.Equal(t, "kaleng", lines[1].Material.Unit)
	require.Equal(t, "Teh Tarik Original", lines[0].ProductName)
	require.True(t, lines[1].QuantityNeeded.Equal(decimal.RequireFromString("0.02")))

	_, err = s.CreateRecipe(context.Background(), domain.Recipe{
		ID: "rcp-dup", ProductID: "prd-teh-tarik", RawMaterialID: "mat-susu", QuantityNeeded: decimal.NewFromInt(1), CreatedAt: time.Now(),
	})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	require.NoError(t, s.DeleteRecipe(context.Background(), "rcp-2"))
	require.ErrorIs(t, s.DeleteRecipe(context.Background(), "rcp-2"), store.ErrNotFound)
}

func TestRecordPurchaseOnSQLite(t *testing.T) {
	s := newTestStore(t)
	seedTehTarik(t, s)
	svc := newService(s)
	ctx := context.Background()

	purchase, err := svc.RecordPurchase(ctx, "usr-owner", domain.PurchaseRequest{
		ItemName: "SUSU KENTAL MANIS", Category: "Bahan", Quantity: decimal.RequireFromString("2.5"), TotalAmount: 30000,
	})
	require.NoError(t, err)
	require.Equal(t, "mat-susu", purchase.RawMaterialID)
	require.Equal(t, "kaleng", purchase.Unit)
	requireStock(t, s, "mat-susu", "22.5")

	created, err := svc.RecordPurchase(ctx, "usr-owner", domain.PurchaseRequest{
		ItemName: "Gula Aren", Category: "Bahan", Quantity: decimal.NewFromInt(3), Unit: "kg", TotalAmount: 45000,
	})
	require.NoError(t, err)
	requireStock(t, s, created.RawMaterialID, "3")

	purchases, err := s.ListPurchases(ctx, 10)
	require.NoError(t, err)
	require.Len(t, purchases, 2)
}

func TestUsersOnSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, domain.User{ID: "usr-1", Username: " Kasir ", PasswordHash: "hash", Active: true}))
	require.ErrorIs(t, s.CreateUser(ctx, domain.User{ID: "usr-2", Username: "kasir", PasswordHash: "hash"}), store.ErrInvalidRequest)

	u, err := s.GetUserByID(ctx, "usr-1")
	require.NoError(t, err)
	require.Equal(t, "kasir", u.Username)
	require.Equal(t, domain.RoleKaryawan, u.Role)
	require.True(t, u.Active)

	require.NoError(t, s.UpdateUserPassword(ctx, "usr-1", "new-hash"))
	require.ErrorIs(t, s.UpdateUserPassword(ctx, "usr-404", "x"), store.ErrNotFound)
	_, err = s.GetUserByID(ctx, "usr-404")
	require.ErrorIs(t, err, store.ErrNotFound)
}
