package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
)

const employeeColumns = `id, name, COALESCE(to_char(birth_date, 'YYYY-MM-DD'), ''), address, gender,
	phone, position, photo_url, created_at, updated_at`

func scanEmployee(row rowScanner) (domain.Employee, error) {
	var e domain.Employee
	err := row.Scan(&e.ID, &e.Name, &e.BirthDate, &e.Address, &e.Gender,
		&e.Phone, &e.Position, &e.PhotoURL, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

const shiftColumns = `id, employee_id, day_of_week, shift_time, is_active, created_at, updated_at`

func scanShift(row rowScanner) (domain.Shift, error) {
	var sh domain.Shift
	err := row.Scan(&sh.ID, &sh.EmployeeID, &sh.DayOfWeek, &sh.ShiftTime, &sh.IsActive, &sh.CreatedAt, &sh.UpdatedAt)
	return sh, err
}

const attendanceColumns = `id, employee_id, employee_name, to_char(work_date, 'YYYY-MM-DD'), status,
	check_in_at, check_out_at, recorded_by`

func scanAttendance(row rowScanner) (domain.Attendance, error) {
	var (
		a        domain.Attendance
		checkOut sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.EmployeeID, &a.EmployeeName, &a.WorkDate, &a.Status,
		&a.CheckInAt, &checkOut, &a.RecordedBy); err != nil {
		return a, err
	}
	a.CheckInAt = a.CheckInAt.UTC()
	if checkOut.Valid {
		at := checkOut.Time.UTC()
		a.CheckOutAt = &at
	}
	return a, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	employees := make([]domain.Employee, 0, 16)
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	shifts, err := s.ListShifts(ctx, "")
	if err != nil {
		return nil, err
	}
	byEmployee := make(map[string][]domain.Shift, len(employees))
	for _, sh := range shifts {
		byEmployee[sh.EmployeeID] = append(byEmployee[sh.EmployeeID], sh)
	}
	for i := range employees {
		employees[i].Shifts = byEmployee[employees[i].ID]
		if employees[i].Shifts == nil {
			employees[i].Shifts = []domain.Shift{}
		}
	}
	return employees, nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*domain.Employee, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.Shifts, err = s.ListShifts(ctx, id); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) CreateEmployee(ctx context.Context, employee domain.Employee) error {
	if employee.ID == "" || strings.TrimSpace(employee.Name) == "" {
		return store.ErrInvalidRequest
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO employees (id, name, birth_date, address, gender, phone, position, photo_url, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10)
	`, employee.ID, employee.Name, nullIfEmpty(employee.BirthDate), employee.Address, employee.Gender,
		employee.Phone, employee.Position, employee.PhotoURL, employee.CreatedAt, employee.UpdatedAt); err != nil {
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
		SET name = $2, birth_date = $3::date, address = $4, gender = $5, phone = $6,
			position = $7, photo_url = $8, updated_at = $9
		WHERE id = $1
	`, employee.ID, employee.Name, nullIfEmpty(employee.BirthDate), employee.Address, employee.Gender,
		employee.Phone, employee.Position, employee.PhotoURL, employee.UpdatedAt)
	return affectedOne(res, err)
}

func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM employees WHERE id = $1`, id)
	return affectedOne(res, err)
}

func (s *Store) ListShifts(ctx context.Context, employeeID string) ([]domain.Shift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE $1 = '' OR employee_id = $1
	`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shifts := make([]domain.Shift, 0, 16)
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
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
	sh, err := scanShift(s.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// SaveShifts locks the employee row so concurrent edits of one week queue
// up. The one-shift-per-day constraint is deferred to commit, which lets a
// batch move shifts between days.
func (s *Store) SaveShifts(ctx context.Context, employeeID string, shifts []domain.Shift) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM employees WHERE id = $1 FOR UPDATE`, employeeID).Scan(&locked)
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

func upsertShift(ctx context.Context, q queryer, sh domain.Shift) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO shifts (id, employee_id, day_of_week, shift_time, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET day_of_week = EXCLUDED.day_of_week,
			shift_time = EXCLUDED.shift_time,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		WHERE shifts.employee_id = EXCLUDED.employee_id
	`, sh.ID, sh.EmployeeID, sh.DayOfWeek, sh.ShiftTime, sh.IsActive, sh.CreatedAt, sh.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: shift %s belongs to another employee", store.ErrInvalidRequest, sh.ID)
	}
	return nil
}

func (s *Store) DeleteShift(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM shifts WHERE id = $1`, id)
	return affectedOne(res, err)
}

func (s *Store) CreateAttendance(ctx context.Context, attendance domain.Attendance) error {
	if attendance.ID == "" || attendance.EmployeeID == "" || attendance.WorkDate == "" {
		return store.ErrInvalidRequest
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance (id, employee_id, employee_name, work_date, status, check_in_at, check_out_at, recorded_by)
		VALUES ($1, $2, $3, $4::date, $5, $6, NULL, $7)
	`, attendance.ID, attendance.EmployeeID, attendance.EmployeeName, attendance.WorkDate,
		attendance.Status, attendance.CheckInAt, attendance.RecordedBy)
	return mapError(err)
}

func (s *Store) CloseAttendance(ctx context.Context, employeeID string, workDate string, at time.Time) (*domain.Attendance, error) {
	a, err := scanAttendance(s.db.QueryRowContext(ctx, `
		UPDATE attendance
		SET check_out_at = $3
		WHERE employee_id = $1 AND work_date = $2::date AND status = $4 AND check_out_at IS NULL
		RETURNING `+attendanceColumns,
		employeeID, workDate, at.UTC(), domain.AttendanceHadir))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAttendance(ctx context.Context, workDate string, limit int) ([]domain.Attendance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE $1 = '' OR work_date = NULLIF($1, '')::date
		ORDER BY check_in_at DESC, id DESC
		LIMIT $2
	`, workDate, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.Attendance, 0, limit)
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, a)
	}
	return records, rows.Err()
}

func affectedOne(res sql.Result, err error) error {
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

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
