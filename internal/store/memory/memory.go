package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
)

// Store keeps the whole catalog in process memory. A unit of work stages
// its writes next to the live state and applies them only when the work
// succeeds.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	products   map[string]domain.Product
	materials  map[string]domain.RawMaterial
	recipes    map[string]domain.Recipe
	sales      map[string]domain.SaleTransaction
	purchases  map[string]domain.Purchase
	users      map[string]domain.User
	employees  map[string]domain.Employee
	shifts     map[string]domain.Shift
	attendance map[string]domain.Attendance
}

func newState() *state {
	return &state{
		products:   make(map[string]domain.Product),
		materials:  make(map[string]domain.RawMaterial),
		recipes:    make(map[string]domain.Recipe),
		sales:      make(map[string]domain.SaleTransaction),
		purchases:  make(map[string]domain.Purchase),
		users:      make(map[string]domain.User),
		employees:  make(map[string]domain.Employee),
		shifts:     make(map[string]domain.Shift),
		attendance: make(map[string]domain.Attendance),
	}
}

func New() *Store {
	return &Store{state: newState()}
}

// seedUsers builds the demo owner and karyawan accounts. Passwords come from
// SEED_OWNER_PASSWORD and SEED_KARYAWAN_PASSWORD with dev defaults otherwise.
func seedUsers(now time.Time) map[string]domain.User {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	karyawanPwd := envOr("SEED_KARYAWAN_PASSWORD", "karyawan123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_KARYAWAN_PASSWORD") == "" {
		logrus.WithField("component", "memory-store").
			Warn("using default dev credentials, set SEED_OWNER_PASSWORD and SEED_KARYAWAN_PASSWORD to override")
	}

	users := make(map[string]domain.User, 2)
	for _, u := range []struct {
		id       string
		username string
		password string
		role     string
	}{
		{"usr-owner", "owner", ownerPwd, domain.RoleOwner},
		{"usr-karyawan", "karyawan", karyawanPwd, domain.RoleKaryawan},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithField("component", "memory-store").Fatalf("failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.id] = domain.User{
			ID:           u.id,
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			Active:       true,
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store loaded with the Teh Tarik Space demo menu,
// pantry, recipes and staff.
func NewSeeded() *Store {
	now := time.Now().UTC()
	st := newState()

	materials := []struct {
		id, name, category, unit string
		stock                    string
	}{
		{"mat-teh-bubuk", "Teh Bubuk", "Bahan Minuman", "kg", "20"},
		{"mat-susu-kental-manis", "Susu Kental Manis", "Bahan Minuman", "kaleng", "20"},
		{"mat-susu-bubuk", "Susu Bubuk", "Bahan Minuman", "kg", "10"},
		{"mat-gula-pasir", "Gula Pasir", "Bahan Minuman", "kg", "50"},
		{"mat-daun-teh", "Daun Teh", "Bahan Minuman", "kg", "15"},
		{"mat-kopi-bubuk", "Kopi Bubuk", "Bahan Minuman", "kg", "10"},
		{"mat-matcha-powder", "Matcha Powder", "Bahan Minuman", "kg", "5"},
		{"mat-coklat-bubuk", "Coklat Bubuk", "Bahan Minuman", "kg", "5"},
		{"mat-beras", "Beras", "Bahan Makanan", "kg", "50"},
		{"mat-mie", "Mie", "Bahan Makanan", "bungkus", "40"},
		{"mat-telur", "Telur", "Bahan Makanan", "butir", "120"},
		{"mat-ayam", "Ayam", "Bahan Makanan", "kg", "30"},
		{"mat-tepung-terigu", "Tepung Terigu", "Bahan Makanan", "kg", "25"},
		{"mat-singkong", "Singkong", "Bahan Makanan", "kg", "20"},
		{"mat-cup-plastik", "Cup Plastik", "Kemasan", "pcs", "300"},
	}
	for _, m := range materials {
		st.materials[m.id] = domain.RawMaterial{
			ID:        m.id,
			Name:      m.name,
			Category:  m.category,
			Stock:     decimal.RequireFromString(m.stock),
			Unit:      m.unit,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	products := []domain.Product{
		{ID: "prd-teh-tarik-original", Name: "Teh Tarik Original", Price: 15000, Stock: 50, Category: "Minuman"},
		{ID: "prd-thai-tea", Name: "Thai Tea", Price: 16000, Stock: 40, Category: "Minuman"},
		{ID: "prd-thai-green-tea", Name: "Thai Green Tea", Price: 17000, Stock: 30, Category: "Minuman"},
		{ID: "prd-es-teh-manis", Name: "Es Teh Manis", Price: 5000, Stock: 60, Category: "Minuman"},
		{ID: "prd-jus-jeruk", Name: "Jus Jeruk", Price: 12000, Stock: 40, Category: "Minuman"},
		{ID: "prd-kopi-susu", Name: "Kopi Susu", Price: 15000, Stock: 50, Category: "Minuman"},
		{ID: "prd-matcha-latte", Name: "Matcha Latte", Price: 18000, Stock: 30, Category: "Minuman"},
		{ID: "prd-nasi-goreng-spesial", Name: "Nasi Goreng Spesial", Price: 25000, Stock: 25, Category: "Makanan"},
		{ID: "prd-mie-goreng", Name: "Mie Goreng", Price: 20000, Stock: 30, Category: "Makanan"},
		{ID: "prd-ayam-geprek", Name: "Ayam Geprek", Price: 22000, Stock: 25, Category: "Makanan"},
		{ID: "prd-nasi-ayam-teriyaki", Name: "Nasi Ayam Teriyaki", Price: 27000, Stock: 20, Category: "Makanan"},
		{ID: "prd-keripik-singkong", Name: "Keripik Singkong", Price: 10000, Stock: 80, Category: "Snack"},
		{ID: "prd-kerupuk-udang", Name: "Kerupuk Udang", Price: 8000, Stock: 70, Category: "Snack"},
		{ID: "prd-roti-bakar", Name: "Roti Bakar", Price: 12000, Stock: 40, Category: "Snack"},
		{ID: "prd-donat-mini", Name: "Donat Mini", Price: 10000, Stock: 50, Category: "Snack"},
	}
	for _, p := range products {
		p.CreatedAt = now
		p.UpdatedAt = now
		st.products[p.ID] = p
	}

	recipes := []struct {
		productID, materialID, qty string
	}{
		{"prd-teh-tarik-original", "mat-teh-bubuk", "0.05"},
		{"prd-teh-tarik-original", "mat-susu-kental-manis", "0.02"},
		{"prd-thai-tea", "mat-daun-teh", "0.04"},
		{"prd-thai-green-tea", "mat-matcha-powder", "0.03"},
		{"prd-kopi-susu", "mat-kopi-bubuk", "0.03"},
		{"prd-nasi-goreng-spesial", "mat-beras", "0.15"},
		{"prd-nasi-goreng-spesial", "mat-telur", "1"},
		{"prd-ayam-geprek", "mat-ayam", "0.2"},
		{"prd-mie-goreng", "mat-mie", "1"},
		{"prd-keripik-singkong", "mat-singkong", "0.1"},
		{"prd-roti-bakar", "mat-tepung-terigu", "0.05"},
		{"prd-donat-mini", "mat-tepung-terigu", "0.04"},
	}
	for i, r := range recipes {
		id := fmt.Sprintf("rcp-%03d", i+1)
		st.recipes[id] = domain.Recipe{
			ID:             id,
			ProductID:      r.productID,
			RawMaterialID:  r.materialID,
			QuantityNeeded: decimal.RequireFromString(r.qty),
			CreatedAt:      now.Add(time.Duration(i) * time.Millisecond),
		}
	}

	seedStaff(st, now)
	st.users = seedUsers(now)
	return &Store{state: st}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.Price < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.state.products[product.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	s.state.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pickProducts(s.state, ids), nil
}

func (s *Store) ListRawMaterials(_ context.Context) ([]domain.RawMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	materials := make([]domain.RawMaterial, 0, len(s.state.materials))
	for _, m := range s.state.materials {
		materials = append(materials, m)
	}
	slices.SortFunc(materials, func(a, b domain.RawMaterial) int {
		return strings.Compare(a.Name, b.Name)
	})
	return materials, nil
}

func (s *Store) CreateRawMaterial(_ context.Context, material domain.RawMaterial) (*domain.RawMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkMaterial(material); err != nil {
		return nil, err
	}
	for _, existing := range s.state.materials {
		if materialClash(existing, material) {
			return nil, store.ErrInvalidRequest
		}
	}
	s.state.materials[material.ID] = material
	created := material
	return &created, nil
}

func (s *Store) GetRawMaterial(_ context.Context, id string) (*domain.RawMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	material, ok := s.state.materials[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &material, nil
}

func (s *Store) ListRecipes(_ context.Context) ([]domain.RecipeLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.RecipeLine, 0, len(s.state.recipes))
	for _, r := range s.state.recipes {
		lines = append(lines, joinRecipe(s.state, r))
	}
	slices.SortFunc(lines, func(a, b domain.RecipeLine) int {
		if a.ProductName == b.ProductName {
			return strings.Compare(a.Material.Name, b.Material.Name)
		}
		return strings.Compare(a.ProductName, b.ProductName)
	})
	return lines, nil
}

func (s *Store) RecipesForProducts(_ context.Context, productIDs []string) (map[string][]domain.RecipeLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recipesFor(s.state, productIDs), nil
}

func (s *Store) CreateRecipe(_ context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if recipe.ID == "" || !recipe.QuantityNeeded.IsPositive() {
		return nil, store.ErrInvalidRequest
	}
	if _, ok := s.state.products[recipe.ProductID]; !ok {
		return nil, fmt.Errorf("product %s: %w", recipe.ProductID, store.ErrNotFound)
	}
	if _, ok := s.state.materials[recipe.RawMaterialID]; !ok {
		return nil, fmt.Errorf("raw material %s: %w", recipe.RawMaterialID, store.ErrNotFound)
	}
	for _, existing := range s.state.recipes {
		if existing.ProductID == recipe.ProductID && existing.RawMaterialID == recipe.RawMaterialID {
			return nil, store.ErrInvalidRequest
		}
	}
	s.state.recipes[recipe.ID] = recipe
	created := recipe
	return &created, nil
}

func (s *Store) DeleteRecipe(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.recipes[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.state.recipes, id)
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.state.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneSale(sale)
	return &dup, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.SaleTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.SaleTransaction, 0, len(s.state.sales))
	for _, sale := range s.state.sales {
		sales = append(sales, cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.SaleTransaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) ListPurchases(_ context.Context, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.Purchase, 0, len(s.state.purchases))
	for _, p := range s.state.purchases {
		purchases = append(purchases, p)
	}
	slices.SortFunc(purchases, func(a, b domain.Purchase) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(purchases) > limit {
		purchases = purchases[:limit]
	}
	return purchases, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.state.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.state.users))
	for _, user := range s.state.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.ID == "" || user.Username == "" || strings.TrimSpace(user.PasswordHash) == "" {
		return store.ErrInvalidRequest
	}
	for _, existing := range s.state.users {
		if existing.ID == user.ID || existing.Username == user.Username {
			return store.ErrInvalidRequest
		}
	}
	if user.Role == "" {
		user.Role = domain.RoleKaryawan
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.state.users[user.ID] = user
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, id string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(passwordHash) == "" {
		return store.ErrInvalidRequest
	}
	user, ok := s.state.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	s.state.users[id] = user
	return nil
}

// WithinTx holds the write lock for the whole unit of work, so units of work
// on the same Store run one at a time. Only rows the work touches are
// copied.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		st:        s.state,
		products:  make(map[string]domain.Product),
		materials: make(map[string]domain.RawMaterial),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx reads through to the live state and keeps its own writes aside
// until commit.
type memTx struct {
	st        *state
	products  map[string]domain.Product
	materials map[string]domain.RawMaterial
	sales     []domain.SaleTransaction
	purchases []domain.Purchase
}

func (t *memTx) commit() {
	for id, p := range t.products {
		t.st.products[id] = p
	}
	for id, m := range t.materials {
		t.st.materials[id] = m
	}
	for _, sale := range t.sales {
		t.st.sales[sale.ID] = sale
	}
	for _, p := range t.purchases {
		t.st.purchases[p.ID] = p
	}
}

func (t *memTx) product(id string) (domain.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	p, ok := t.st.products[id]
	return p, ok
}

func (t *memTx) material(id string) (domain.RawMaterial, bool) {
	if m, ok := t.materials[id]; ok {
		return m, true
	}
	m, ok := t.st.materials[id]
	return m, ok
}

func (t *memTx) LockProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.product(id); ok {
			result[id] = p
		}
	}
	return result, nil
}

func (t *memTx) LockRawMaterials(_ context.Context, ids []string) (map[string]domain.RawMaterial, error) {
	result := make(map[string]domain.RawMaterial, len(ids))
	for _, id := range ids {
		if m, ok := t.material(id); ok {
			result[id] = m
		}
	}
	return result, nil
}

func (t *memTx) RecipesForProducts(_ context.Context, productIDs []string) (map[string][]domain.RecipeLine, error) {
	recipes := recipesFor(t.st, productIDs)
	for _, lines := range recipes {
		for i := range lines {
			if m, ok := t.materials[lines[i].RawMaterialID]; ok {
				lines[i].Material = m
			}
		}
	}
	return recipes, nil
}

func (t *memTx) CreateSale(_ context.Context, sale domain.SaleTransaction) error {
	if sale.ID == "" || len(sale.Lines) == 0 {
		return store.ErrInvalidRequest
	}
	if _, exists := t.st.sales[sale.ID]; exists {
		return store.ErrInvalidRequest
	}
	for _, staged := range t.sales {
		if staged.ID == sale.ID {
			return store.ErrInvalidRequest
		}
	}
	t.sales = append(t.sales, cloneSale(sale))
	return nil
}

func (t *memTx) DecrementProductStock(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: product %s decrement must be positive", store.ErrInvalidRequest, productID)
	}
	product, ok := t.product(productID)
	if !ok {
		return store.ErrNotFound
	}
	if product.Stock < qty {
		return fmt.Errorf("product %s: %w", productID, store.ErrStockConflict)
	}
	product.Stock -= qty
	product.UpdatedAt = time.Now().UTC()
	t.products[productID] = product
	return nil
}

func (t *memTx) DecrementRawMaterialStock(_ context.Context, rawMaterialID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: raw material %s decrement must be positive", store.ErrInvalidRequest, rawMaterialID)
	}
	material, ok := t.material(rawMaterialID)
	if !ok {
		return store.ErrNotFound
	}
	if material.Stock.LessThan(amount) {
		return fmt.Errorf("raw material %s: %w", rawMaterialID, store.ErrStockConflict)
	}
	material.Stock = material.Stock.Sub(amount)
	material.UpdatedAt = time.Now().UTC()
	t.materials[rawMaterialID] = material
	return nil
}

func (t *memTx) FindRawMaterialByName(_ context.Context, name string) (*domain.RawMaterial, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, m := range t.materials {
		if strings.ToLower(m.Name) == needle {
			found := m
			return &found, nil
		}
	}
	for id, m := range t.st.materials {
		if _, staged := t.materials[id]; staged {
			continue
		}
		if strings.ToLower(m.Name) == needle {
			found := m
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) CreateRawMaterial(_ context.Context, material domain.RawMaterial) error {
	if err := checkMaterial(material); err != nil {
		return err
	}
	for _, existing := range t.materials {
		if materialClash(existing, material) {
			return store.ErrInvalidRequest
		}
	}
	for _, existing := range t.st.materials {
		if materialClash(existing, material) {
			return store.ErrInvalidRequest
		}
	}
	t.materials[material.ID] = material
	return nil
}

func (t *memTx) IncrementRawMaterialStock(_ context.Context, rawMaterialID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: raw material %s increment must be positive", store.ErrInvalidRequest, rawMaterialID)
	}
	material, ok := t.material(rawMaterialID)
	if !ok {
		return store.ErrNotFound
	}
	material.Stock = material.Stock.Add(amount)
	material.UpdatedAt = time.Now().UTC()
	t.materials[rawMaterialID] = material
	return nil
}

func (t *memTx) CreatePurchase(_ context.Context, purchase domain.Purchase) error {
	if purchase.ID == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := t.st.purchases[purchase.ID]; exists {
		return store.ErrInvalidRequest
	}
	for _, staged := range t.purchases {
		if staged.ID == purchase.ID {
			return store.ErrInvalidRequest
		}
	}
	t.purchases = append(t.purchases, purchase)
	return nil
}

func checkMaterial(material domain.RawMaterial) error {
	if material.ID == "" || strings.TrimSpace(material.Name) == "" || material.Stock.IsNegative() {
		return store.ErrInvalidRequest
	}
	return nil
}

// materialClash reports whether two materials share an id or a name.
func materialClash(a, b domain.RawMaterial) bool {
	return a.ID == b.ID || strings.EqualFold(strings.TrimSpace(a.Name), strings.TrimSpace(b.Name))
}

func pickProducts(st *state, ids []string) map[string]domain.Product {
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := st.products[id]; ok {
			result[id] = p
		}
	}
	return result
}

func recipesFor(st *state, productIDs []string) map[string][]domain.RecipeLine {
	wanted := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}
	result := make(map[string][]domain.RecipeLine)
	for _, r := range st.recipes {
		if _, ok := wanted[r.ProductID]; !ok {
			continue
		}
		result[r.ProductID] = append(result[r.ProductID], joinRecipe(st, r))
	}
	for _, lines := range result {
		slices.SortFunc(lines, func(a, b domain.RecipeLine) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})
	}
	return result
}

func joinRecipe(st *state, r domain.Recipe) domain.RecipeLine {
	return domain.RecipeLine{
		Recipe:      r,
		ProductName: st.products[r.ProductID].Name,
		Material:    st.materials[r.RawMaterialID],
	}
}

func cloneSale(src domain.SaleTransaction) domain.SaleTransaction {
	dup := src
	dup.Lines = make([]domain.SaleLine, len(src.Lines))
	copy(dup.Lines, src.Lines)
	return dup
}
