package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tehtarik/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrPersistence       = errors.New("persistence failure")
	// ErrStockConflict is returned by a conditional decrement that would drive
	// a stock counter below zero.
	ErrStockConflict = errors.New("stock changed concurrently")
	// ErrDuplicate marks a write that collides with a unique key. It is
	// always returned together with ErrInvalidRequest.
	ErrDuplicate = errors.New("already exists")
)

const (
	StockKindProduct     = "product"
	StockKindRawMaterial = "raw_material"
)

// InsufficientStockError reports the first shortfall found for a basket.
type InsufficientStockError struct {
	Kind      string
	ItemID    string
	Name      string
	Needed    decimal.Decimal
	Available decimal.Decimal
	Unit      string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: needed %s %s, available %s %s",
		e.Name, e.Needed.String(), e.Unit, e.Available.String(), e.Unit)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	ListRawMaterials(ctx context.Context) ([]domain.RawMaterial, error)
	CreateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error)
	GetRawMaterial(ctx context.Context, id string) (*domain.RawMaterial, error)

	ListRecipes(ctx context.Context) ([]domain.RecipeLine, error)
	// RecipesForProducts returns recipe lines keyed by product id, joined with
	// the current raw material row.
	RecipesForProducts(ctx context.Context, productIDs []string) (map[string][]domain.RecipeLine, error)
	CreateRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error)
	DeleteRecipe(ctx context.Context, id string) error

	GetSale(ctx context.Context, id string) (*domain.SaleTransaction, error)
	ListSales(ctx context.Context, limit int) ([]domain.SaleTransaction, error)
	ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error)

	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	CreateUser(ctx context.Context, user domain.User) error
	UpdateUserPassword(ctx context.Context, id string, passwordHash string) error

	// ListEmployees and GetEmployee return employees with their shifts.
	ListEmployees(ctx context.Context) ([]domain.Employee, error)
	GetEmployee(ctx context.Context, id string) (*domain.Employee, error)
	// CreateEmployee stores the employee and employee.Shifts together.
	CreateEmployee(ctx context.Context, employee domain.Employee) error
	UpdateEmployee(ctx context.Context, employee domain.Employee) error
	// DeleteEmployee removes the employee and its shifts. Attendance history
	// is kept.
	DeleteEmployee(ctx context.Context, id string) error

	// ListShifts returns every shift when employeeID is empty.
	ListShifts(ctx context.Context, employeeID string) ([]domain.Shift, error)
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	// SaveShifts inserts or updates, by id, shifts of one employee as a
	// single write.
	SaveShifts(ctx context.Context, employeeID string, shifts []domain.Shift) error
	DeleteShift(ctx context.Context, id string) error

	// CreateAttendance fails with ErrDuplicate when the employee already has
	// a record for attendance.WorkDate.
	CreateAttendance(ctx context.Context, attendance domain.Attendance) error
	// CloseAttendance stamps the check-out time on the employee's open HADIR
	// record for workDate.
	CloseAttendance(ctx context.Context, employeeID string, workDate string, at time.Time) (*domain.Attendance, error)
	// ListAttendance returns newest first. An empty workDate lists every date.
	ListAttendance(ctx context.Context, workDate string, limit int) ([]domain.Attendance, error)

	// WithinTx runs fn as one all-or-nothing unit of work. Any error returned
	// by fn rolls back every write made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available inside a unit of work. Lock*
// methods hold the returned rows until the unit of work ends.
type Tx interface {
	LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	LockRawMaterials(ctx context.Context, ids []string) (map[string]domain.RawMaterial, error)
	RecipesForProducts(ctx context.Context, productIDs []string) (map[string][]domain.RecipeLine, error)
	CreateSale(ctx context.Context, sale domain.SaleTransaction) error
	DecrementProductStock(ctx context.Context, productID string, qty int) error
	DecrementRawMaterialStock(ctx context.Context, rawMaterialID string, amount decimal.Decimal) error

	FindRawMaterialByName(ctx context.Context, name string) (*domain.RawMaterial, error)
	CreateRawMaterial(ctx context.Context, material domain.RawMaterial) error
	IncrementRawMaterialStock(ctx context.Context, rawMaterialID string, amount decimal.Decimal) error
	CreatePurchase(ctx context.Context, purchase domain.Purchase) error
}
