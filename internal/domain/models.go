package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "CASH"
	PaymentEWallet PaymentMethod = "EWALLET"
	PaymentDebit   PaymentMethod = "DEBIT"
)

const (
	RoleOwner    = "OWNER"
	RoleKaryawan = "KARYAWAN"
)

const DefaultUnit = "pcs"

// Upper bounds on what a single product can be priced at and how many of it
// one sale may take. Both keep line subtotals well inside int64.
const (
	MaxPrice        = 100_000_000
	MaxLineQuantity = 1_000
)

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name     string `json:"name" validate:"required"`
	Price    int64  `json:"price" validate:"gt=0,lte=100000000"`
	Stock    int    `json:"stock" validate:"gte=0"`
	Category string `json:"category" validate:"required"`
}

type RawMaterial struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Stock     decimal.Decimal `json:"stock"`
	Unit      string          `json:"unit"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type RawMaterialCreateRequest struct {
	Name     string          `json:"name" validate:"required"`
	Category string          `json:"category" validate:"required"`
	Stock    decimal.Decimal `json:"stock"`
	Unit     string          `json:"unit"`
}

// Recipe says how much of one raw material a single unit of a product consumes.
type Recipe struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	RawMaterialID  string          `json:"raw_material_id"`
	QuantityNeeded decimal.Decimal `json:"quantity_needed"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RecipeLine is a Recipe joined with the current state of its raw material.
type RecipeLine struct {
	Recipe
	ProductName string      `json:"product_name,omitempty"`
	Material    RawMaterial `json:"raw_material"`
}

type RecipeCreateRequest struct {
	ProductID      string          `json:"product_id" validate:"required"`
	RawMaterialID  string          `json:"raw_material_id" validate:"required"`
	QuantityNeeded decimal.Decimal `json:"quantity_needed"`
}

type SaleLineRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity" validate:"gt=0,lte=1000"`
	UnitPrice   int64  `json:"unit_price,omitempty" validate:"gte=0,lte=100000000"`
}

type SaleRequest struct {
	PaymentMethod PaymentMethod     `json:"payment_method"`
	Lines         []SaleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type SaleTransaction struct {
	ID            string        `json:"id"`
	CreatedAt     time.Time     `json:"created_at"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	TotalAmount   int64         `json:"total_amount"`
	CreatedBy     string        `json:"created_by"`
	Lines         []SaleLine    `json:"lines"`
}

type SaleLine struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	Subtotal      int64  `json:"subtotal"`
}

type Purchase struct {
	ID            string          `json:"id"`
	ItemName      string          `json:"item_name"`
	Category      string          `json:"category"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
	TotalAmount   int64           `json:"total_amount"`
	RawMaterialID string          `json:"raw_material_id"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

type PurchaseRequest struct {
	ItemName    string          `json:"item_name" validate:"required"`
	Category    string          `json:"category" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	TotalAmount int64           `json:"total_amount" validate:"gte=0"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Operator is the authenticated user a request acts on behalf of.
type Operator struct {
	UserID   string
	Username string
	Role     string
}

// User is an internal persistence model for auth credentials.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
}

const (
	DaySenin  = "SENIN"
	DaySelasa = "SELASA"
	DayRabu   = "RABU"
	DayKamis  = "KAMIS"
	DayJumat  = "JUMAT"
	DaySabtu  = "SABTU"
	DayMinggu = "MINGGU"
)

// WorkingDays are the days a newly hired employee is scheduled on.
var WorkingDays = []string{DaySenin, DaySelasa, DayRabu, DayKamis, DayJumat, DaySabtu}

// DayIndex orders days Monday through Sunday. Unknown days sort last.
func DayIndex(day string) int {
	if i := slices.Index(WorkingDays, day); i >= 0 {
		return i
	}
	if day == DayMinggu {
		return len(WorkingDays)
	}
	return len(WorkingDays) + 1
}

const (
	ShiftTypePagi  = "PAGI"
	ShiftTypeMalam = "MALAM"

	ShiftTimePagi  = "07:00 - 17:00"
	ShiftTimeMalam = "17:00 - 23:00"
)

const (
	AttendanceHadir = "HADIR"
	AttendanceIzin  = "IZIN"
	AttendanceSakit = "SAKIT"
	AttendanceAlpa  = "ALPA"
)

type Employee struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BirthDate string    `json:"birth_date,omitempty"`
	Address   string    `json:"address,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Position  string    `json:"position"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Shifts    []Shift   `json:"shifts"`
}

type EmployeeRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	BirthDate string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Address   string `json:"address" validate:"max=200"`
	Gender    string `json:"gender" validate:"omitempty,oneof=L P"`
	Phone     string `json:"phone" validate:"max=20"`
	Position  string `json:"position" validate:"required,max=50"`
	PhotoURL  string `json:"photo_url" validate:"omitempty,url"`
	// ShiftType picks the hours of the default schedule on create. It is
	// ignored on update.
	ShiftType string `json:"shift_type" validate:"omitempty,oneof=PAGI MALAM"`
}

// Shift is one weekly schedule slot. An employee has at most one per day.
type Shift struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	DayOfWeek  string    `json:"day_of_week"`
	ShiftTime  string    `json:"shift_time"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ShiftRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	DayOfWeek  string `json:"day_of_week" validate:"required,oneof=SENIN SELASA RABU KAMIS JUMAT SABTU MINGGU"`
	ShiftTime  string `json:"shift_time" validate:"required,max=32"`
	IsActive   *bool  `json:"is_active,omitempty"`
}

type ShiftUpdateRequest struct {
	DayOfWeek string `json:"day_of_week" validate:"omitempty,oneof=SENIN SELASA RABU KAMIS JUMAT SABTU MINGGU"`
	ShiftTime string `json:"shift_time" validate:"max=32"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

// ShiftBulkRequest replaces an employee's week in one go. Days that already
// have a shift but are missing from Shifts are deactivated.
type ShiftBulkRequest struct {
	EmployeeID string          `json:"employee_id" validate:"required"`
	Shifts     []ShiftBulkLine `json:"shifts" validate:"dive"`
}

type ShiftBulkLine struct {
	ID        string `json:"id,omitempty"`
	DayOfWeek string `json:"day_of_week" validate:"required,oneof=SENIN SELASA RABU KAMIS JUMAT SABTU MINGGU"`
	ShiftTime string `json:"shift_time" validate:"max=32"`
	IsActive  bool   `json:"is_active"`
}

// Attendance is one employee's record for one work date. Only a HADIR
// record is open for check-out.
type Attendance struct {
	ID           string     `json:"id"`
	EmployeeID   string     `json:"employee_id"`
	EmployeeName string     `json:"employee_name"`
	WorkDate     string     `json:"work_date"`
	Status       string     `json:"status"`
	CheckInAt    time.Time  `json:"check_in_at"`
	CheckOutAt   *time.Time `json:"check_out_at,omitempty"`
	RecordedBy   string     `json:"recorded_by"`
}

type AttendanceRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	Status     string `json:"status" validate:"omitempty,oneof=HADIR IZIN SAKIT ALPA"`
}

type CheckOutRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
}
