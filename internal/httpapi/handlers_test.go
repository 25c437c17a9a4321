package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"tehtarik/backend/internal/cache"
	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/lock"
	"tehtarik/backend/internal/service"
	"tehtarik/backend/internal/store"
	"tehtarik/backend/internal/store/memory"
)

// newTestAPI builds a full API with the seeded in-memory store, a real
// AuthManager and a real Service so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return newAPIWithRepo(t, repo), repo
}

func newAPIWithRepo(t *testing.T, repo store.Repository) *API {
	t.Helper()
	return newAPIWithOptions(t, repo, service.Options{})
}

func newAPIWithOptions(t *testing.T, repo store.Repository, opts service.Options) *API {
	t.Helper()
	opts.Logger = quietLogger()
	svc := service.New(repo, opts)
	auth := NewAuthManager(context.Background(), "test-secret-key-with-enough-bytes", time.Hour, repo, quietLogger())
	return New(svc, auth, Options{AllowedOrigin: "*", Logger: quietLogger()})
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec := do(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func do(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		switch p := payload.(type) {
		case string:
			body.WriteString(p)
		default:
			require.NoError(t, json.NewEncoder(&body).Encode(p))
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := do(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := do(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "owner",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	for _, path := range []string{"/api/v1/products", "/api/v1/sales", "/api/v1/purchases", "/api/v1/recipes"} {
		rec := do(t, handler, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := do(t, handler, http.MethodGet, "/api/v1/products", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSaleRecordsAndDecrementsStock(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "karyawan", "karyawan123")

	rec := do(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"payment_method": "ewallet",
		"lines": []map[string]any{
			{"product_id": "prd-teh-tarik-original", "quantity": 2, "unit_price": 15000},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sale domain.SaleTransaction
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sale))
	require.Equal(t, domain.PaymentEWallet, sale.PaymentMethod)
	require.Equal(t, int64(30000), sale.TotalAmount)
	require.Equal(t, "usr-karyawan", sale.CreatedBy)
	require.Len(t, sale.Lines, 1)

	material, err := repo.GetRawMaterial(context.Background(), "mat-teh-bubuk")
	require.NoError(t, err)
	require.Equal(t, "19.9", material.Stock.String())

	rec = do(t, handler, http.MethodGet, "/api/v1/sales/"+sale.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched domain.SaleTransaction
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fetched))
	require.Equal(t, sale.ID, fetched.ID)

	rec = do(t, handler, http.MethodGet, "/api/v1/sales?limit=5", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sales []domain.SaleTransaction
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sales))
	require.Len(t, sales, 1)

	rec = do(t, handler, http.MethodGet, "/api/v1/sales/sal-unknown", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSaleShortfallReturnsConflictWithDetail(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "karyawan", "karyawan123")

	// 401 portions need 20.05kg of teh bubuk against 20kg on hand.
	rec := do(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"lines": []map[string]any{{"product_id": "prd-teh-tarik-original", "quantity": 401}},
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var body struct {
		Error  string         `json:"error"`
		Detail map[string]any `json:"detail"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, store.StockKindRawMaterial, body.Detail["kind"])
	require.Equal(t, "mat-teh-bubuk", body.Detail["item_id"])
	require.Equal(t, "Teh Bubuk", body.Detail["name"])
	require.Equal(t, "20.05", body.Detail["needed"])
	require.Equal(t, "20", body.Detail["available"])
	require.Equal(t, "kg", body.Detail["unit"])

	products, err := repo.GetProductsByIDs(context.Background(), []string{"prd-teh-tarik-original"})
	require.NoError(t, err)
	require.Equal(t, 50, products["prd-teh-tarik-original"].Stock)
}

func TestCreateSaleBadRequests(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "owner", "owner123")

	cases := map[string]any{
		"unknown payment method": map[string]any{
			"payment_method": "QRIS",
			"lines":          []map[string]any{{"product_id": "prd-thai-tea", "quantity": 1}},
		},
		"empty basket":      map[string]any{"lines": []map[string]any{}},
		"zero quantity":     map[string]any{"lines": []map[string]any{{"product_id": "prd-thai-tea", "quantity": 0}}},
		"quantity over cap": map[string]any{"lines": []map[string]any{{"product_id": "prd-thai-tea", "quantity": 1001}}},
		"repeated product over cap": map[string]any{"lines": []map[string]any{
			{"product_id": "prd-thai-tea", "quantity": 999},
			{"product_id": "prd-thai-tea", "quantity": 2},
		}},
		"price over cap":  map[string]any{"lines": []map[string]any{{"product_id": "prd-thai-tea", "quantity": 1, "unit_price": 100000001}}},
		"unknown product": map[string]any{"lines": []map[string]any{{"product_id": "prd-es-campur", "quantity": 1}}},
		"unknown field":   `{"lines":[{"product_id":"prd-thai-tea","quantity":1}],"discount":5000}`,
		"malformed json":  `{"lines":`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, handler, http.MethodPost, "/api/v1/sales", token, payload)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestOwnerOnlyCatalogRoutes(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	karyawan := login(t, handler, "karyawan", "karyawan123")
	owner := login(t, handler, "owner", "owner123")

	product := map[string]any{"name": "Es Kopi Gula Aren", "price": 20000, "stock": 25, "category": "Minuman"}

	rec := do(t, handler, http.MethodPost, "/api/v1/products", karyawan, product)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, handler, http.MethodPost, "/api/v1/products", owner, product)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.Product
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	rec = do(t, handler, http.MethodGet, "/api/v1/products", karyawan, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var products []domain.Product
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&products))
	require.Len(t, products, 16)

	rec = do(t, handler, http.MethodPost, "/api/v1/raw-materials", owner, map[string]any{
		"name": "Gula Aren", "category": "Bahan Minuman", "stock": "4.5", "unit": "kg",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var material domain.RawMaterial
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&material))

	rec = do(t, handler, http.MethodPost, "/api/v1/recipes", karyawan, map[string]any{
		"product_id": created.ID, "raw_material_id": material.ID, "quantity_needed": "0.03",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecipeLifecycle(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	owner := login(t, handler, "owner", "owner123")

	rec := do(t, handler, http.MethodPost, "/api/v1/recipes", owner, map[string]any{
		"product_id": "prd-jus-jeruk", "raw_material_id": "mat-gula-pasir", "quantity_needed": "0.02",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var recipe domain.Recipe
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&recipe))

	rec = do(t, handler, http.MethodPost, "/api/v1/recipes", owner, map[string]any{
		"product_id": "prd-jus-jeruk", "raw_material_id": "mat-vanili", "quantity_needed": "0.02",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/v1/recipes", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodDelete, "/api/v1/recipes/"+recipe.ID, owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, handler, http.MethodDelete, "/api/v1/recipes/"+recipe.ID, owner, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePurchaseRestocks(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "karyawan", "karyawan123")

	rec := do(t, handler, http.MethodPost, "/api/v1/purchases", token, map[string]any{
		"item_name": "Gula Pasir", "category": "Bahan Minuman", "quantity": 10, "total_amount": 150000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var purchase domain.Purchase
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&purchase))
	require.Equal(t, "mat-gula-pasir", purchase.RawMaterialID)
	require.Equal(t, "usr-karyawan", purchase.CreatedBy)

	material, err := repo.GetRawMaterial(context.Background(), "mat-gula-pasir")
	require.NoError(t, err)
	require.Equal(t, "60", material.Stock.String())

	rec = do(t, handler, http.MethodGet, "/api/v1/purchases", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var purchases []domain.Purchase
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&purchases))
	require.Len(t, purchases, 1)
}

type brokenSalesRepo struct {
	*memory.Store
}

func (brokenSalesRepo) ListSales(context.Context, int) ([]domain.SaleTransaction, error) {
	return nil, errors.New("dial tcp 10.0.0.7:5432: connection refused")
}

func TestInternalErrorsAreHidden(t *testing.T) {
	api := newAPIWithRepo(t, brokenSalesRepo{Store: memory.NewSeeded()})
	handler := api.Handler()
	token := login(t, handler, "owner", "owner123")

	rec := do(t, handler, http.MethodGet, "/api/v1/sales", token, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "10.0.0.7")
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestCreateSaleBusyLockReturnsServiceUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	locker := lock.NewRedisLocker(cache.NewRedisClient(mr.Addr(), "", 0), time.Second, quietLogger()).
		WithRetry(5*time.Millisecond, 2)
	repo := memory.NewSeeded()
	api := newAPIWithOptions(t, repo, service.Options{Locker: locker})
	handler := api.Handler()
	token := login(t, handler, "karyawan", "karyawan123")
	sale := map[string]any{"lines": []map[string]any{{"product_id": "prd-matcha-latte", "quantity": 1}}}

	require.NoError(t, mr.Set("lock:product:prd-matcha-latte", "another-sale"))
	rec := do(t, handler, http.MethodPost, "/api/v1/sales", token, sale)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "stock is busy, retry the sale", body["error"])

	products, err := repo.GetProductsByIDs(context.Background(), []string{"prd-matcha-latte"})
	require.NoError(t, err)
	require.Equal(t, 30, products["prd-matcha-latte"].Stock)

	mr.Del("lock:product:prd-matcha-latte")
	rec = do(t, handler, http.MethodPost, "/api/v1/sales", token, sale)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
