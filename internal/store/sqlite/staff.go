package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
)

type employeeRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	BirthDate string    `db:"birth_date"`
	Address   string    `db:"address"`
	Gender    string    `db:"gender"`
	Phone     string    `db:"phone"`
	Position  string    `db:"position"`
	PhotoURL  string    `db:"photo_url"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r employeeRow) toDomain() domain.Employee {
	return domain.Employee{
		ID: r.ID, Name: r.Name, BirthDate: r.BirthDate, Address: r.Address, Gender: r.Gender,
		Phone: r.Phone, Position: r.Position, PhotoURL: r.PhotoURL,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, Shifts: []domain.Shift{},
	}
}

type shiftRow struct {
	ID         string    `db:"id"`
	EmployeeID string    `db:"employee_id"`
	DayOfWeek  string    `db:"day_of_week"`
	ShiftTime  string    `db:"shift_time"`
	IsActive   bool      `db:"is_active"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r shiftRow) toDomain() domain.Shift {
	return domain.Shift{
		ID: r.ID, EmployeeID: r.EmployeeID, DayOfWeek: r.DayOfWeek, ShiftTime: r.ShiftTime,
		IsActive: r.IsActive, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type attendanceRow struct {
	ID           string     `db:"id"`
	EmployeeID   string     `db:"employee_id"`
	EmployeeName string     `db:"employee_name"`
	WorkDate     string     `db:"work_date"`
	Status       string     `db:"status"`
	CheckInAt    time.Time  `db:"check_in_at"`
	CheckOutAt   *time.Time `db:"check_out_at"`
	RecordedBy   string     `db:"recorded_by"`
}

func (r attendanceRow) toDomain() domain.Attendance {
	return domain.Attendance{
		ID: r.ID, EmployeeID: r.EmployeeID, EmployeeName: r.EmployeeName, WorkDate: r.WorkDate,
		Status: r.Status, CheckInAt: r.CheckInAt, CheckOutAt: r.CheckOutAt, RecordedBy: r.RecordedBy,
	}
}

const (
	employeeColumns   = `id, name, birth_date, address, gender, phone, position, photo_url, created_at, updated_at`
	shiftColumns      = `id, employee_id, day_of_week, shift_time, is_active, created_at, updated_at`
	attendanceColumns = `id, employee_id, employee_name, work_date, status, check_in_at, check_out_at, recorded_by`
)

func (s *Store) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	var rows []employeeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+employeeColumns+` FROM employees ORDER BY created_at DESC, id`); err != nil {
		return nil, err
	}
	shifts, err := s.ListShifts(ctx, "")
	if err != nil {
		return nil, err
	}
	byEmployee := make(map[string][]domain.Shift, len(rows))
	for _, sh := range shifts {
		byEmployee[sh.EmployeeID] = append(byEmployee[sh.EmployeeID], sh)
	}

	employees := make([]domain.Employee, 0, len(rows))
	for _, r := range rows {
		e := r.toDomain()
		if week, ok := byEmployee[e.ID]; ok {
			e.Shifts = week
		}
		employees = append(employees, e)
	}
	return employees, nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*domain.Employee, error) {
	var row employeeRow
	err := s.db.GetContext(ctx, &row, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e := row.toDomain()
	if e.Shifts, err = s.ListShifts(ctx, id); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) CreateEmployee(ctx context.Context, employee domain.Employee) error {
	if employee.ID == "" || strings.TrimSpace(employee.Name) == "" {
		return store.ErrInvalidRequest
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO employees (id, name, birth_date, address, gender, phone, position, photo_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, employee.ID, employee.Name, employee.BirthDate, employee.Address, employee.Gender,
		employee.Phone, employee.Position, employee.PhotoURL, employee.CreatedAt.UTC(), employee.UpdatedAt.UTC()); err != nil {
		return mapError(err)
	}
	for _, sh := range employee.Shifts {
		sh.EmployeeID = employee.ID
		if err := upsertShift(ctx, tx, sh); err != nil {
			return err
		}
	}
	return mapError(tx.Commit())
}

func (s *Store) UpdateEmployee(ctx context.Context, employee domain.Employee) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE employees
		SET name = ?, birth_date = ?, address = ?, gender = ?, phone = ?, position = ?, photo_url = ?, updated_at = ?
		WHERE id = ?
	`, employee.Name, employee.BirthDate, employee.Address, employee.Gender, employee.Phone,
		employee.Position, employee.PhotoURL, employee.UpdatedAt.UTC(), employee.ID)
	return expectOneRow(res, err, store.ErrNotFound)
}

func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM employees WHERE id = ?`, id)
	return expectOneRow(res, err, store.ErrNotFound)
}

func (s *Store) ListShifts(ctx context.Context, employeeID string) ([]domain.Shift, error) {
	var rows []shiftRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+shiftColumns+` FROM shifts WHERE ? = '' OR employee_id = ?
	`, employeeID, employeeID); err != nil {
		return nil, err
	}
	shifts := make([]domain.Shift, 0, len(rows))
	for _, r := range rows {
		shifts = append(shifts, r.toDomain())
	}
	slices.SortFunc(shifts, func(a, b domain.Shift) int {
		if c := strings.Compare(a.EmployeeID, b.EmployeeID); c != 0 {
			return c
		}
		return domain.DayIndex(a.DayOfWeek) - domain.DayIndex(b.DayOfWeek)
	})
	return shifts, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	var row shiftRow
	err := s.db.GetContext(ctx, &row, `SELECT `+shiftColumns+` FROM shifts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sh := row.toDomain()
	return &sh, nil
}

func (s *Store) SaveShifts(ctx context.Context, employeeID string, shifts []domain.Shift) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var found string
	err = tx.GetContext(ctx, &found, `SELECT id FROM employees WHERE id = ?`, employeeID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("employee %s: %w", employeeID, store.ErrNotFound)
	}
	if err != nil {
		return err
	}

	for _, sh := range shifts {
		if sh.ID == "" {
			return store.ErrInvalidRequest
		}
		sh.EmployeeID = employeeID
		if err := upsertShift(ctx, tx, sh); err != nil {
			return err
		}
	}
	return mapError(tx.Commit())
}

func upsertShift(ctx context.Context, e sqlx.ExecerContext, sh domain.Shift) error {
	res, err := e.ExecContext(ctx, `
		INSERT INTO shifts (id, employee_id, day_of_week, shift_time, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE
		SET day_of_week = excluded.day_of_week,
			shift_time = excluded.shift_time,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		WHERE shifts.employee_id = excluded.employee_id
	`, sh.ID, sh.EmployeeID, sh.DayOfWeek, sh.ShiftTime, sh.IsActive, sh.CreatedAt.UTC(), sh.UpdatedAt.UTC())
	return expectOneRow(res, err, fmt.Errorf("%w: shift %s belongs to another employee", store.ErrInvalidRequest, sh.ID))
}

func (s *Store) DeleteShift(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM shifts WHERE id = ?`, id)
	return expectOneRow(res, err, store.ErrNotFound)
}

func (s *Store) CreateAttendance(ctx context.Context, attendance domain.Attendance) error {
	if attendance.ID == "" || attendance.EmployeeID == "" || attendance.WorkDate == "" {
		return store.ErrInvalidRequest
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance (id, employee_id, employee_name, work_date, status, check_in_at, check_out_at, recorded_by)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?)
	`, attendance.ID, attendance.EmployeeID, attendance.EmployeeName, attendance.WorkDate,
		attendance.Status, attendance.CheckInAt.UTC(), attendance.RecordedBy)
	return mapError(err)
}

func (s *Store) CloseAttendance(ctx context.Context, employeeID string, workDate string, at time.Time) (*domain.Attendance, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE attendance SET check_out_at = ?
		WHERE employee_id = ? AND work_date = ? AND status = ? AND check_out_at IS NULL
	`, at.UTC(), employeeID, workDate, domain.AttendanceHadir)
	if err := expectOneRow(res, err, store.ErrNotFound); err != nil {
		return nil, err
	}
	var row attendanceRow
	if err := tx.GetContext(ctx, &row, `
		SELECT `+attendanceColumns+` FROM attendance WHERE employee_id = ? AND work_date = ?
	`, employeeID, workDate); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	a := row.toDomain()
	return &a, nil
}

func (s *Store) ListAttendance(ctx context.Context, workDate string, limit int) ([]domain.Attendance, error) {
	var rows []attendanceRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE ? = '' OR work_date = ?
		ORDER BY check_in_at DESC, id DESC
		LIMIT ?
	`, workDate, workDate, limit); err != nil {
		return nil, err
	}
	records := make([]domain.Attendance, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.toDomain())
	}
	return records, nil
}
