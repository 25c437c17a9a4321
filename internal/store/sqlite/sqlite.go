package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
)

// Store keeps the catalog in a single SQLite file. Raw material stock is
// stored as decimal text and guarded by a row version, products use a
// conditional integer decrement.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn (a file path or ":memory:") and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one connection: sqlite allows a single writer, and ":memory:" is per connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            username TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL,
            active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS products (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            price INTEGER NOT NULL CHECK (price > 0),
            stock INTEGER NOT NULL CHECK (stock >= 0),
            category TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS raw_materials (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            category TEXT NOT NULL,
            stock TEXT NOT NULL,
            unit TEXT NOT NULL DEFAULT 'pcs',
            version INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS raw_materials_lower_name_idx ON raw_materials (lower(name));`,
		`CREATE TABLE IF NOT EXISTS recipes (
            id TEXT PRIMARY KEY,
            product_id TEXT NOT NULL,
            raw_material_id TEXT NOT NULL,
            quantity_needed TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            UNIQUE(product_id, raw_material_id),
            FOREIGN KEY(product_id) REFERENCES products(id) ON DELETE CASCADE,
            FOREIGN KEY(raw_material_id) REFERENCES raw_materials(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS sale_transactions (
            id TEXT PRIMARY KEY,
            created_at DATETIME NOT NULL,
            payment_method TEXT NOT NULL,
            total_amount INTEGER NOT NULL CHECK (total_amount >= 0),
            created_by TEXT NOT NULL,
            FOREIGN KEY(created_by) REFERENCES users(id)
        );`,
		`CREATE TABLE IF NOT EXISTS sale_lines (
            id TEXT PRIMARY KEY,
            transaction_id TEXT NOT NULL,
            line_no INTEGER NOT NULL,
            product_id TEXT NOT NULL,
            product_name TEXT NOT NULL,
            quantity INTEGER NOT NULL CHECK (quantity > 0),
            unit_price INTEGER NOT NULL,
            subtotal INTEGER NOT NULL,
            UNIQUE(transaction_id, line_no),
            FOREIGN KEY(transaction_id) REFERENCES sale_transactions(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS purchases (
            id TEXT PRIMARY KEY,
            item_name TEXT NOT NULL,
            category TEXT NOT NULL,
            quantity TEXT NOT NULL,
            unit TEXT NOT NULL,
            total_amount INTEGER NOT NULL CHECK (total_amount >= 0),
            raw_material_id TEXT NOT NULL,
            created_by TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            FOREIGN KEY(raw_material_id) REFERENCES raw_materials(id),
            FOREIGN KEY(created_by) REFERENCES users(id)
        );`,
		`CREATE TABLE IF NOT EXISTS employees (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            birth_date TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            gender TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            position TEXT NOT NULL,
            photo_url TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS shifts (
            id TEXT PRIMARY KEY,
            employee_id TEXT NOT NULL,
            day_of_week TEXT NOT NULL,
            shift_time TEXT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            UNIQUE(employee_id, day_of_week),
            FOREIGN KEY(employee_id) REFERENCES employees(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS attendance (
            id TEXT PRIMARY KEY,
            employee_id TEXT NOT NULL,
            employee_name TEXT NOT NULL,
            work_date TEXT NOT NULL,
            status TEXT NOT NULL,
            check_in_at DATETIME NOT NULL,
            check_out_at DATETIME,
            recorded_by TEXT NOT NULL,
            UNIQUE(employee_id, work_date),
            FOREIGN KEY(recorded_by) REFERENCES users(id)
        );`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type productRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Price     int64     `db:"price"`
	Stock     int       `db:"stock"`
	Category  string    `db:"category"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID: r.ID, Name: r.Name, Price: r.Price, Stock: r.Stock, Category: r.Category,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type materialRow struct {
	ID        string          `db:"id"`
	Name      string          `db:"name"`
	Category  string          `db:"category"`
	Stock     decimal.Decimal `db:"stock"`
	Unit      string          `db:"unit"`
	Version   int64           `db:"version"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (r materialRow) toDomain() domain.RawMaterial {
	return domain.RawMaterial{
		ID: r.ID, Name: r.Name, Category: r.Category, Stock: r.Stock, Unit: r.Unit,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type recipeRow struct {
	ID             string          `db:"id"`
	ProductID      string          `db:"product_id"`
	RawMaterialID  string          `db:"raw_material_id"`
	QuantityNeeded decimal.Decimal `db:"quantity_needed"`
	CreatedAt      time.Time       `db:"created_at"`
	ProductName    string          `db:"product_name"`
	Material       materialRow     `db:"m"`
}

func (r recipeRow) toDomain() domain.RecipeLine {
	return domain.RecipeLine{
		Recipe: domain.Recipe{
			ID: r.ID, ProductID: r.ProductID, RawMaterialID: r.RawMaterialID,
			QuantityNeeded: r.QuantityNeeded, CreatedAt: r.CreatedAt,
		},
		ProductName: r.ProductName,
		Material:    r.Material.toDomain(),
	}
}

type saleRow struct {
	ID            string    `db:"id"`
	CreatedAt     time.Time `db:"created_at"`
	PaymentMethod string    `db:"payment_method"`
	TotalAmount   int64     `db:"total_amount"`
	CreatedBy     string    `db:"created_by"`
}

type saleLineRow struct {
	ID            string `db:"id"`
	TransactionID string `db:"transaction_id"`
	ProductID     string `db:"product_id"`
	ProductName   string `db:"product_name"`
	Quantity      int    `db:"quantity"`
	UnitPrice     int64  `db:"unit_price"`
	Subtotal      int64  `db:"subtotal"`
}

type purchaseRow struct {
	ID            string          `db:"id"`
	ItemName      string          `db:"item_name"`
	Category      string          `db:"category"`
	Quantity      decimal.Decimal `db:"quantity"`
	Unit          string          `db:"unit"`
	TotalAmount   int64           `db:"total_amount"`
	RawMaterialID string          `db:"raw_material_id"`
	CreatedBy     string          `db:"created_by"`
	CreatedAt     time.Time       `db:"created_at"`
}

type userRow struct {
	ID           string    `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		ID: r.ID, Username: r.Username, PasswordHash: r.PasswordHash, Role: r.Role,
		Active: r.Active, CreatedAt: r.CreatedAt,
	}
}

const (
	productColumns  = `id, name, price, stock, category, created_at, updated_at`
	materialColumns = `id, name, category, stock, unit, version, created_at, updated_at`
	recipeSelect    = `
		SELECT r.id, r.product_id, r.raw_material_id, r.quantity_needed, r.created_at, p.name AS product_name,
		       m.id AS "m.id", m.name AS "m.name", m.category AS "m.category", m.stock AS "m.stock",
		       m.unit AS "m.unit", m.version AS "m.version", m.created_at AS "m.created_at", m.updated_at AS "m.updated_at"
		FROM recipes r
		JOIN products p ON p.id = r.product_id
		JOIN raw_materials m ON m.id = r.raw_material_id`
)

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+productColumns+` FROM products ORDER BY category, name`); err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.toDomain())
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidRequest
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, product.ID, product.Name, product.Price, product.Stock, product.Category, product.CreatedAt.UTC(), product.UpdatedAt.UTC())
	if err != nil {
		return nil, mapError(err)
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return selectProducts(ctx, s.db, ids)
}

func selectProducts(ctx context.Context, q sqlx.QueryerContext, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	var rows []productRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		result[r.ID] = r.toDomain()
	}
	return result, nil
}

func selectMaterials(ctx context.Context, q sqlx.QueryerContext, ids []string) (map[string]materialRow, error) {
	result := make(map[string]materialRow, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT `+materialColumns+` FROM raw_materials WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	var rows []materialRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		result[r.ID] = r
	}
	return result, nil
}

func (s *Store) ListRawMaterials(ctx context.Context) ([]domain.RawMaterial, error) {
	var rows []materialRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+materialColumns+` FROM raw_materials ORDER BY name`); err != nil {
		return nil, err
	}
	materials := make([]domain.RawMaterial, 0, len(rows))
	for _, r := range rows {
		materials = append(materials, r.toDomain())
	}
	return materials, nil
}

func (s *Store) CreateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error) {
	if err := insertMaterial(ctx, s.db, material); err != nil {
		return nil, err
	}
	created := material
	return &created, nil
}

func insertMaterial(ctx context.Context, e sqlx.ExecerContext, material domain.RawMaterial) error {
	if material.ID == "" || strings.TrimSpace(material.Name) == "" || material.Stock.IsNegative() {
		return store.ErrInvalidRequest
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO raw_materials (id, name, category, stock, unit, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, material.ID, material.Name, material.Category, material.Stock.String(), material.Unit,
		material.CreatedAt.UTC(), material.UpdatedAt.UTC())
	return mapError(err)
}

func (s *Store) GetRawMaterial(ctx context.Context, id string) (*domain.RawMaterial, error) {
	var row materialRow
	err := s.db.GetContext(ctx, &row, `SELECT `+materialColumns+` FROM raw_materials WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := row.toDomain()
	return &m, nil
}

func (s *Store) ListRecipes(ctx context.Context) ([]domain.RecipeLine, error) {
	var rows []recipeRow
	if err := s.db.SelectContext(ctx, &rows, recipeSelect+` ORDER BY p.name, m.name`); err != nil {
		return nil, err
	}
	lines := make([]domain.RecipeLine, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, r.toDomain())
	}
	return lines, nil
}

func (s *Store) RecipesForProducts(ctx context.Context, productIDs []string) (map[string][]domain.RecipeLine, error) {
	return recipesForProducts(ctx, s.db, productIDs)
}

func recipesForProducts(ctx context.Context, q sqlx.QueryerContext, productIDs []string) (map[string][]domain.RecipeLine, error) {
	result := make(map[string][]domain.RecipeLine)
	if len(productIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(recipeSelect+` WHERE r.product_id IN (?) ORDER BY r.created_at, r.id`, productIDs)
	if err != nil {
		return nil, err
	}
	var rows []recipeRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		result[r.ProductID] = append(result[r.ProductID], r.toDomain())
	}
	return result, nil
}

func (s *Store) CreateRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	if recipe.ID == "" || !recipe.QuantityNeeded.IsPositive() {
		return nil, store.ErrInvalidRequest
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipes (id, product_id, raw_material_id, quantity_needed, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, recipe.ID, recipe.ProductID, recipe.RawMaterialID, recipe.QuantityNeeded.String(), recipe.CreatedAt.UTC())
	if err != nil {
		return nil, mapError(err)
	}
	created := recipe
	return &created, nil
}

func (s *Store) DeleteRecipe(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recipes WHERE id = ?`, id)
	return expectOneRow(res, err, store.ErrNotFound)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleTransaction, error) {
	var row saleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, created_at, payment_method, total_amount, created_by
		FROM sale_transactions WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sales, err := s.attachLines(ctx, []saleRow{row})
	if err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.SaleTransaction, error) {
	var rows []saleRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, created_at, payment_method, total_amount, created_by
		FROM sale_transactions
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit); err != nil {
		return nil, err
	}
	return s.attachLines(ctx, rows)
}

func (s *Store) attachLines(ctx context.Context, headers []saleRow) ([]domain.SaleTransaction, error) {
	sales := make([]domain.SaleTransaction, 0, len(headers))
	if len(headers) == 0 {
		return sales, nil
	}
	ids := make([]string, 0, len(headers))
	for _, h := range headers {
		ids = append(ids, h.ID)
	}
	query, args, err := sqlx.In(`
		SELECT id, transaction_id, product_id, product_name, quantity, unit_price, subtotal
		FROM sale_lines
		WHERE transaction_id IN (?)
		ORDER BY transaction_id, line_no
	`, ids)
	if err != nil {
		return nil, err
	}
	var lineRows []saleLineRow
	if err := s.db.SelectContext(ctx, &lineRows, query, args...); err != nil {
		return nil, err
	}
	byTx := make(map[string][]domain.SaleLine, len(headers))
	for _, l := range lineRows {
		byTx[l.TransactionID] = append(byTx[l.TransactionID], domain.SaleLine{
			ID: l.ID, TransactionID: l.TransactionID, ProductID: l.ProductID, ProductName: l.ProductName,
			Quantity: l.Quantity, UnitPrice: l.UnitPrice, Subtotal: l.Subtotal,
		})
	}
	for _, h := range headers {
		sales = append(sales, domain.SaleTransaction{
			ID: h.ID, CreatedAt: h.CreatedAt, PaymentMethod: domain.PaymentMethod(h.PaymentMethod),
			TotalAmount: h.TotalAmount, CreatedBy: h.CreatedBy, Lines: byTx[h.ID],
		})
	}
	return sales, nil
}

func (s *Store) ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	var rows []purchaseRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, item_name, category, quantity, unit, total_amount, raw_material_id, created_by, created_at
		FROM purchases
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit); err != nil {
		return nil, err
	}
	purchases := make([]domain.Purchase, 0, len(rows))
	for _, r := range rows {
		purchases = append(purchases, domain.Purchase{
			ID: r.ID, ItemName: r.ItemName, Category: r.Category, Quantity: r.Quantity, Unit: r.Unit,
			TotalAmount: r.TotalAmount, RawMaterialID: r.RawMaterialID, CreatedBy: r.CreatedBy, CreatedAt: r.CreatedAt,
		})
	}
	return purchases, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT id, username, password_hash, role, active, created_at FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u := row.toDomain()
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, username, password_hash, role, active, created_at FROM users ORDER BY username`); err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}
	return users, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if user.ID == "" || username == "" || strings.TrimSpace(user.PasswordHash) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = domain.RoleKaryawan
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.ID, username, user.PasswordHash, user.Role, user.Active, user.CreatedAt.UTC())
	return mapError(err)
}

func (s *Store) UpdateUserPassword(ctx context.Context, id string, passwordHash string) error {
	if strings.TrimSpace(passwordHash) == "" {
		return store.ErrInvalidRequest
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	return expectOneRow(res, err, store.ErrNotFound)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &liteTx{tx: sqlTx, versions: make(map[string]int64)}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type liteTx struct {
	tx *sqlx.Tx
	// versions remembers the row version each raw material was read at
	versions map[string]int64
}

// LockProducts only reads: the single connection already keeps other
// writers out until the transaction ends.
func (t *liteTx) LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return selectProducts(ctx, t.tx, ids)
}

func (t *liteTx) LockRawMaterials(ctx context.Context, ids []string) (map[string]domain.RawMaterial, error) {
	rows, err := selectMaterials(ctx, t.tx, ids)
	if err != nil {
		return nil, err
	}
	result := make(map[string]domain.RawMaterial, len(rows))
	for id, r := range rows {
		t.versions[id] = r.Version
		result[id] = r.toDomain()
	}
	return result, nil
}

func (t *liteTx) RecipesForProducts(ctx context.Context, productIDs []string) (map[string][]domain.RecipeLine, error) {
	return recipesForProducts(ctx, t.tx, productIDs)
}

func (t *liteTx) CreateSale(ctx context.Context, sale domain.SaleTransaction) error {
	if sale.ID == "" || len(sale.Lines) == 0 {
		return store.ErrInvalidRequest
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO sale_transactions (id, created_at, payment_method, total_amount, created_by)
		VALUES (?, ?, ?, ?, ?)
	`, sale.ID, sale.CreatedAt.UTC(), string(sale.PaymentMethod), sale.TotalAmount, sale.CreatedBy); err != nil {
		return mapError(err)
	}
	for i, line := range sale.Lines {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_lines (id, transaction_id, line_no, product_id, product_name, quantity, unit_price, subtotal)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, line.ID, sale.ID, i+1, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.Subtotal); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *liteTx) DecrementProductStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: product %s decrement must be positive", store.ErrInvalidRequest, productID)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?
	`, qty, time.Now().UTC(), productID, qty)
	return expectOneRow(res, err, fmt.Errorf("product %s: %w", productID, store.ErrStockConflict))
}

func (t *liteTx) DecrementRawMaterialStock(ctx context.Context, rawMaterialID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: raw material %s decrement must be positive", store.ErrInvalidRequest, rawMaterialID)
	}
	return t.adjustMaterial(ctx, rawMaterialID, amount.Neg())
}

func (t *liteTx) IncrementRawMaterialStock(ctx context.Context, rawMaterialID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: raw material %s increment must be positive", store.ErrInvalidRequest, rawMaterialID)
	}
	return t.adjustMaterial(ctx, rawMaterialID, amount)
}

// adjustMaterial applies delta with a compare-and-swap on the row version.
// A row that changed since it was read, or a result below zero, is a
// stock conflict.
func (t *liteTx) adjustMaterial(ctx context.Context, id string, delta decimal.Decimal) error {
	var row materialRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+materialColumns+` FROM raw_materials WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	version, seen := t.versions[id]
	if !seen {
		version = row.Version
	}
	next := row.Stock.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("raw material %s: %w", id, store.ErrStockConflict)
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE raw_materials SET stock = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, next.String(), time.Now().UTC(), id, version)
	if err := expectOneRow(res, err, fmt.Errorf("raw material %s: %w", id, store.ErrStockConflict)); err != nil {
		return err
	}
	t.versions[id] = version + 1
	return nil
}

func (t *liteTx) FindRawMaterialByName(ctx context.Context, name string) (*domain.RawMaterial, error) {
	var row materialRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT `+materialColumns+` FROM raw_materials WHERE lower(name) = lower(?)
	`, strings.TrimSpace(name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.versions[row.ID] = row.Version
	m := row.toDomain()
	return &m, nil
}

func (t *liteTx) CreateRawMaterial(ctx context.Context, material domain.RawMaterial) error {
	return insertMaterial(ctx, t.tx, material)
}

func (t *liteTx) CreatePurchase(ctx context.Context, purchase domain.Purchase) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (id, item_name, category, quantity, unit, total_amount, raw_material_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, purchase.ID, purchase.ItemName, purchase.Category, purchase.Quantity.String(), purchase.Unit,
		purchase.TotalAmount, purchase.RawMaterialID, purchase.CreatedBy, purchase.CreatedAt.UTC())
	return mapError(err)
}

func expectOneRow(res sql.Result, err error, zeroRows error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return zeroRows
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return err
	}
	switch liteErr.Code() {
	case sqlitelib.SQLITE_CONSTRAINT_UNIQUE, sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %w: %v", store.ErrInvalidRequest, store.ErrDuplicate, err)
	case sqlitelib.SQLITE_CONSTRAINT_CHECK:
		return fmt.Errorf("%w: %v", store.ErrInvalidRequest, err)
	case sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	return err
}
