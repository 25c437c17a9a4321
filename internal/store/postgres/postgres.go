package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, name, price, stock, category, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const materialColumns = `id, name, category, stock, unit, created_at, updated_at`

func scanMaterial(row rowScanner) (domain.RawMaterial, error) {
	var m domain.RawMaterial
	err := row.Scan(&m.ID, &m.Name, &m.Category, &m.Stock, &m.Unit, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidRequest
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock, category, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, product.ID, product.Name, product.Price, product.Stock, product.Category, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return selectProducts(ctx, s.db, ids, false)
}

func selectProducts(ctx context.Context, q queryer, ids []string, forUpdate bool) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) ListRawMaterials(ctx context.Context) ([]domain.RawMaterial, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+materialColumns+` FROM raw_materials ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	materials := make([]domain.RawMaterial, 0, 64)
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

func (s *Store) CreateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error) {
	if err := insertMaterial(ctx, s.db, material); err != nil {
		return nil, err
	}
	created := material
	return &created, nil
}

func insertMaterial(ctx context.Context, q queryer, material domain.RawMaterial) error {
	if material.ID == "" || strings.TrimSpace(material.Name) == "" || material.Stock.IsNegative() {
		return store.ErrInvalidRequest
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO raw_materials (id, name, category, stock, unit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, material.ID, material.Name, material.Category, material.Stock, material.Unit, material.CreatedAt, material.UpdatedAt)
	return mapError(err)
}

func (s *Store) GetRawMaterial(ctx context.Context, id string) (*domain.RawMaterial, error) {
	m, err := scanMaterial(s.db.QueryRowContext(ctx, `SELECT `+materialColumns+` FROM raw_materials WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const recipeSelect = `
	SELECT r.id, r.product_id, r.raw_material_id, r.quantity_needed, r.created_at, p.name,
	       m.id, m.name, m.category, m.stock, m.unit, m.created_at, m.updated_at
	FROM recipes r
	JOIN products p ON p.id = r.product_id
	JOIN raw_materials m ON m.id = r.raw_material_id
`

func scanRecipeLines(rows *sql.Rows) ([]domain.RecipeLine, error) {
	defer rows.Close()
	lines := make([]domain.RecipeLine, 0, 16)
	for rows.Next() {
		var l domain.RecipeLine
		if err := rows.Scan(
			&l.ID, &l.ProductID, &l.RawMaterialID, &l.QuantityNeeded, &l.CreatedAt, &l.ProductName,
			&l.Material.ID, &l.Material.Name, &l.Material.Category, &l.Material.Stock, &l.Material.Unit,
			&l.Material.CreatedAt, &l.Material.UpdatedAt,
		); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *Store) ListRecipes(ctx context.Context) ([]domain.RecipeLine, error) {
	rows, err := s.db.QueryContext(ctx, recipeSelect+` ORDER BY p.name, m.name`)
	if err != nil {
		return nil, err
	}
	return scanRecipeLines(rows)
}

func (s *Store) RecipesForProducts(ctx context.Context, productIDs []string) (map[string][]domain.RecipeLine, error) {
	return recipesForProducts(ctx, s.db, productIDs)
}

func recipesForProducts(ctx context.Context, q queryer, productIDs []string) (map[string][]domain.RecipeLine, error) {
	result := make(map[string][]domain.RecipeLine)
	if len(productIDs) == 0 {
		return result, nil
	}
	rows, err := q.QueryContext(ctx, recipeSelect+` WHERE r.product_id = ANY($1) ORDER BY r.created_at, r.id`, productIDs)
	if err != nil {
		return nil, err
	}
	lines, err := scanRecipeLines(rows)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		result[l.ProductID] = append(result[l.ProductID], l)
	}
	return result, nil
}

func (s *Store) CreateRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	if recipe.ID == "" || !recipe.QuantityNeeded.IsPositive() {
		return nil, store.ErrInvalidRequest
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipes (id, product_id, raw_material_id, quantity_needed, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, recipe.ID, recipe.ProductID, recipe.RawMaterialID, recipe.QuantityNeeded, recipe.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	created := recipe
	return &created, nil
}

func (s *Store) DeleteRecipe(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recipes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleTransaction, error) {
	var sale domain.SaleTransaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, payment_method, total_amount, created_by
		FROM sale_transactions
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.CreatedAt, &sale.PaymentMethod, &sale.TotalAmount, &sale.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	lines, err := s.saleLines(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	sale.Lines = lines[id]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.SaleTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, payment_method, total_amount, created_by
		FROM sale_transactions
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.SaleTransaction, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var sale domain.SaleTransaction
		if err := rows.Scan(&sale.ID, &sale.CreatedAt, &sale.PaymentMethod, &sale.TotalAmount, &sale.CreatedBy); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := s.saleLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = lines[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) saleLines(ctx context.Context, saleIDs []string) (map[string][]domain.SaleLine, error) {
	result := make(map[string][]domain.SaleLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, product_id, product_name, quantity, unit_price, subtotal
		FROM sale_lines
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.SaleLine
		if err := rows.Scan(&l.ID, &l.TransactionID, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice, &l.Subtotal); err != nil {
			return nil, err
		}
		result[l.TransactionID] = append(result[l.TransactionID], l)
	}
	return result, rows.Err()
}

func (s *Store) ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_name, category, quantity, unit, total_amount, raw_material_id, created_by, created_at
		FROM purchases
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, limit)
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.ItemName, &p.Category, &p.Quantity, &p.Unit, &p.TotalAmount, &p.RawMaterialID, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

const userColumns = `id, username, password_hash, role, active, created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	return u, err
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
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
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, username, user.PasswordHash, user.Role, user.Active, user.CreatedAt)
	return mapError(err)
}

func (s *Store) UpdateUserPassword(ctx context.Context, id string, passwordHash string) error {
	if strings.TrimSpace(passwordHash) == "" {
		return store.ErrInvalidRequest
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// WithinTx runs fn at READ COMMITTED. Writers serialize on the rows they
// lock with FOR UPDATE and every stock decrement is conditional, which
// together keep stock from going negative without serialization retries.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return selectProducts(ctx, t.tx, ids, true)
}

func (t *pgTx) LockRawMaterials(ctx context.Context, ids []string) (map[string]domain.RawMaterial, error) {
	result := make(map[string]domain.RawMaterial, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+materialColumns+`
		FROM raw_materials
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		result[m.ID] = m
	}
	return result, rows.Err()
}

func (t *pgTx) RecipesForProducts(ctx context.Context, productIDs []string) (map[string][]domain.RecipeLine, error) {
	return recipesForProducts(ctx, t.tx, productIDs)
}

func (t *pgTx) CreateSale(ctx context.Context, sale domain.SaleTransaction) error {
	if sale.ID == "" || len(sale.Lines) == 0 {
		return store.ErrInvalidRequest
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO sale_transactions (id, created_at, payment_method, total_amount, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, sale.ID, sale.CreatedAt, string(sale.PaymentMethod), sale.TotalAmount, sale.CreatedBy); err != nil {
		return mapError(err)
	}

	for i, line := range sale.Lines {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_lines (id, transaction_id, line_no, product_id, product_name, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, line.ID, sale.ID, i+1, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.Subtotal); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *pgTx) DecrementProductStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: product %s decrement must be positive", store.ErrInvalidRequest, productID)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
	`, productID, qty)
	return conditionalResult(res, err, "product", productID)
}

func (t *pgTx) DecrementRawMaterialStock(ctx context.Context, rawMaterialID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: raw material %s decrement must be positive", store.ErrInvalidRequest, rawMaterialID)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE raw_materials
		SET stock = stock - $2::numeric, updated_at = now()
		WHERE id = $1 AND stock >= $2::numeric
	`, rawMaterialID, amount)
	return conditionalResult(res, err, "raw material", rawMaterialID)
}

func conditionalResult(res sql.Result, err error, kind string, id string) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrStockConflict)
	}
	return nil
}

func (t *pgTx) FindRawMaterialByName(ctx context.Context, name string) (*domain.RawMaterial, error) {
	m, err := scanMaterial(t.tx.QueryRowContext(ctx, `
		SELECT `+materialColumns+`
		FROM raw_materials
		WHERE lower(name) = lower($1)
		FOR UPDATE
	`, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *pgTx) CreateRawMaterial(ctx context.Context, material domain.RawMaterial) error {
	return insertMaterial(ctx, t.tx, material)
}

func (t *pgTx) IncrementRawMaterialStock(ctx context.Context, rawMaterialID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: raw material %s increment must be positive", store.ErrInvalidRequest, rawMaterialID)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE raw_materials
		SET stock = stock + $2::numeric, updated_at = now()
		WHERE id = $1
	`, rawMaterialID, amount)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) CreatePurchase(ctx context.Context, purchase domain.Purchase) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (id, item_name, category, quantity, unit, total_amount, raw_material_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, purchase.ID, purchase.ItemName, purchase.Category, purchase.Quantity, purchase.Unit,
		purchase.TotalAmount, purchase.RawMaterialID, purchase.CreatedBy, purchase.CreatedAt)
	return mapError(err)
}

// mapError turns constraint violations into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %w: %s", store.ErrInvalidRequest, store.ErrDuplicate, pgErr.ConstraintName)
	case "23514":
		return fmt.Errorf("%w: %s", store.ErrInvalidRequest, pgErr.ConstraintName)
	case "23503":
		return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
	}
	return err
}
