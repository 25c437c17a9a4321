package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
)

func TestCreateRecipeValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRecipe(ctx, domain.RecipeCreateRequest{
		ProductID: "prd-es-teh-manis", RawMaterialID: "mat-gula-pasir", QuantityNeeded: decimal.Zero,
	})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = svc.CreateRecipe(ctx, domain.RecipeCreateRequest{
		ProductID: "prd-es-teh-manis", RawMaterialID: "mat-gula-pasir", QuantityNeeded: decimal.RequireFromString("-0.1"),
	})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = svc.CreateRecipe(ctx, domain.RecipeCreateRequest{
		ProductID: "prd-ghost", RawMaterialID: "mat-gula-pasir", QuantityNeeded: decimal.RequireFromString("0.02"),
	})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = svc.CreateRecipe(ctx, domain.RecipeCreateRequest{
		ProductID: "prd-es-teh-manis", RawMaterialID: "mat-ghost", QuantityNeeded: decimal.RequireFromString("0.02"),
	})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	recipe, err := svc.CreateRecipe(ctx, domain.RecipeCreateRequest{
		ProductID: "prd-es-teh-manis", RawMaterialID: "mat-gula-pasir", QuantityNeeded: decimal.RequireFromString("0.02"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, recipe.ID)

	recipes, err := svc.ListRecipes(ctx)
	require.NoError(t, err)
	found := false
	for _, r := range recipes {
		if r.ID == recipe.ID {
			found = true
			require.Equal(t, "Es Teh Manis", r.ProductName)
			require.Equal(t, "Gula Pasir", r.Material.Name)
		}
	}
	require.True(t, found)
}

func TestNewRecipeAffectsNextSale(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRecipe(ctx, domain.RecipeCreateRequest{
		ProductID: "prd-es-teh-manis", RawMaterialID: "mat-gula-pasir", QuantityNeeded: decimal.RequireFromString("0.02"),
	})
	require.NoError(t, err)

	_, err = svc.ProcessSale(ctx, ownerID, domain.SaleRequest{
		Lines: []domain.SaleLineRequest{{ProductID: "prd-es-teh-manis", Quantity: 10}},
	})
	require.NoError(t, err)
	requireDecimal(t, "49.8", materialStock(t, repo, "mat-gula-pasir"))
}

func TestDeleteRecipe(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.DeleteRecipe(ctx, "rcp-003"))
	require.ErrorIs(t, svc.DeleteRecipe(ctx, "rcp-003"), store.ErrNotFound)
	require.ErrorIs(t, svc.DeleteRecipe(ctx, " "), store.ErrNotFound)

	// Thai Tea no longer consumes Daun Teh
	_, err := svc.ProcessSale(ctx, ownerID, domain.SaleRequest{
		Lines: []domain.SaleLineRequest{{ProductID: "prd-thai-tea", Quantity: 3}},
	})
	require.NoError(t, err)
	requireDecimal(t, "15", materialStock(t, repo, "mat-daun-teh"))
}

func TestCreateProductAndRawMaterial(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: " ", Price: 1000, Category: "Snack"})
	require.ErrorIs(t, err, store.ErrInvalidRequest)
	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Pisang Goreng", Price: 0, Category: "Snack"})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: " Pisang Goreng ", Price: 9000, Stock: 12, Category: "Snack"})
	require.NoError(t, err)
	require.Equal(t, "Pisang Goreng", product.Name)

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 16)

	material, err := svc.CreateRawMaterial(ctx, domain.RawMaterialCreateRequest{
		Name: "Pisang", Category: "Bahan Makanan", Stock: decimal.NewFromInt(30),
	})
	require.NoError(t, err)
	require.Equal(t, domain.DefaultUnit, material.Unit)

	_, err = svc.CreateRawMaterial(ctx, domain.RawMaterialCreateRequest{
		Name: "PISANG", Category: "Bahan Makanan", Stock: decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, store.ErrInvalidRequest, "names are unique regardless of case")

	_, err = svc.CreateRawMaterial(ctx, domain.RawMaterialCreateRequest{
		Name: "Minyak", Category: "Bahan Makanan", Stock: decimal.NewFromInt(-1),
	})
	require.ErrorIs(t, err, store.ErrInvalidRequest)
}
