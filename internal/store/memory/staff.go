package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
)

// seedStaff adds the cafe crew and their weekly schedule.
func seedStaff(st *state, now time.Time) {
	crew := []struct {
		id, name, birthDate, address, gender, phone, position, shiftTime string
	}{
		{"emp-siti", "Siti Nurhaliza", "1990-03-20", "Jl. Kaliurang KM 5", "P", "082345678901", "Owner", "17:00 - 00:00"},
		{"emp-ahmad", "Ahmad Rizki", "1998-05-15", "Jl. Malioboro", "L", "081234567890", "Kasir", domain.ShiftTimePagi},
		{"emp-budi", "Budi Santoso", "1995-01-10", "Jl. Magelang No.45", "L", "081222334455", "Barista", domain.ShiftTimePagi},
		{"emp-dwi", "Dwi Laras", "1999-08-25", "Jl. Solo KM 10", "P", "081777889900", "Koki", "08:00 - 16:00"},
		{"emp-lina", "Lina Aprilia", "1997-11-03", "Jl. Wonosari No.7", "P", "081667788990", "Staff Gudang", "09:00 - 17:00"},
	}
	for i, c := range crew {
		created := now.Add(time.Duration(i) * time.Millisecond)
		st.employees[c.id] = domain.Employee{
			ID:        c.id,
			Name:      c.name,
			BirthDate: c.birthDate,
			Address:   c.address,
			Gender:    c.gender,
			Phone:     c.phone,
			Position:  c.position,
			CreatedAt: created,
			UpdatedAt: created,
		}
		for _, day := range domain.WorkingDays {
			id := fmt.Sprintf("shf-%s-%s", strings.TrimPrefix(c.id, "emp-"), strings.ToLower(day))
			st.shifts[id] = domain.Shift{
				ID:         id,
				EmployeeID: c.id,
				DayOfWeek:  day,
				ShiftTime:  c.shiftTime,
				IsActive:   true,
				CreatedAt:  created,
				UpdatedAt:  created,
			}
		}
	}
}

func (s *Store) ListEmployees(_ context.Context) ([]domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	employees := make([]domain.Employee, 0, len(s.state.employees))
	for _, e := range s.state.employees {
		e.Shifts = shiftsOf(s.state, e.ID)
		employees = append(employees, e)
	}
	slices.SortFunc(employees, func(a, b domain.Employee) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return employees, nil
}

func (s *Store) GetEmployee(_ context.Context, id string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.state.employees[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	e.Shifts = shiftsOf(s.state, id)
	return &e, nil
}

func (s *Store) CreateEmployee(_ context.Context, employee domain.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if employee.ID == "" || strings.TrimSpace(employee.Name) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.state.employees[employee.ID]; exists {
		return fmt.Errorf("%w: %w: employee %s", store.ErrInvalidRequest, store.ErrDuplicate, employee.ID)
	}
	days := make(map[string]struct{}, len(employee.Shifts))
	for _, sh := range employee.Shifts {
		if _, dup := days[sh.DayOfWeek]; dup || sh.ID == "" {
			return store.ErrInvalidRequest
		}
		if _, exists := s.state.shifts[sh.ID]; exists {
			return store.ErrInvalidRequest
		}
		days[sh.DayOfWeek] = struct{}{}
	}

	shifts := employee.Shifts
	employee.Shifts = nil
	s.state.employees[employee.ID] = employee
	for _, sh := range shifts {
		sh.EmployeeID = employee.ID
		s.state.shifts[sh.ID] = sh
	}
	return nil
}

func (s *Store) UpdateEmployee(_ context.Context, employee domain.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.state.employees[employee.ID]
	if !ok {
		return store.ErrNotFound
	}
	employee.CreatedAt = current.CreatedAt
	employee.Shifts = nil
	s.state.employees[employee.ID] = employee
	return nil
}

func (s *Store) DeleteEmployee(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.employees[id]; !ok {
		return store.ErrNotFound
	}
	for shiftID, sh := range s.state.shifts {
		if sh.EmployeeID == id {
			delete(s.state.shifts, shiftID)
		}
	}
	delete(s.state.employees, id)
	return nil
}

func (s *Store) ListShifts(_ context.Context, employeeID string) ([]domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if employeeID != "" {
		return shiftsOf(s.state, employeeID), nil
	}
	shifts := make([]domain.Shift, 0, len(s.state.shifts))
	for _, sh := range s.state.shifts {
		shifts = append(shifts, sh)
	}
	sortShifts(shifts)
	return shifts, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.state.shifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sh, nil
}

func (s *Store) SaveShifts(_ context.Context, employeeID string, shifts []domain.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.employees[employeeID]; !ok {
		return fmt.Errorf("employee %s: %w", employeeID, store.ErrNotFound)
	}

	// The week after the write must still hold one shift per day.
	week := make(map[string]string)
	for _, sh := range shiftsOf(s.state, employeeID) {
		week[sh.ID] = sh.DayOfWeek
	}
	for _, sh := range shifts {
		if sh.ID == "" {
			return store.ErrInvalidRequest
		}
		if existing, ok := s.state.shifts[sh.ID]; ok && existing.EmployeeID != employeeID {
			return fmt.Errorf("%w: shift %s belongs to another employee", store.ErrInvalidRequest, sh.ID)
		}
		week[sh.ID] = sh.DayOfWeek
	}
	days := make(map[string]struct{}, len(week))
	for _, day := range week {
		if _, dup := days[day]; dup {
			return fmt.Errorf("%w: %w: shift on %s", store.ErrInvalidRequest, store.ErrDuplicate, day)
		}
		days[day] = struct{}{}
	}

	for _, sh := range shifts {
		sh.EmployeeID = employeeID
		if existing, ok := s.state.shifts[sh.ID]; ok {
			sh.CreatedAt = existing.CreatedAt
		}
		s.state.shifts[sh.ID] = sh
	}
	return nil
}

func (s *Store) DeleteShift(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.shifts[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.state.shifts, id)
	return nil
}

func (s *Store) CreateAttendance(_ context.Context, attendance domain.Attendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if attendance.ID == "" || attendance.EmployeeID == "" || attendance.WorkDate == "" {
		return store.ErrInvalidRequest
	}
	for _, existing := range s.state.attendance {
		if existing.EmployeeID == attendance.EmployeeID && existing.WorkDate == attendance.WorkDate {
			return fmt.Errorf("%w: %w: attendance of %s on %s", store.ErrInvalidRequest, store.ErrDuplicate, attendance.EmployeeID, attendance.WorkDate)
		}
	}
	s.state.attendance[attendance.ID] = attendance
	return nil
}

func (s *Store) CloseAttendance(_ context.Context, employeeID string, workDate string, at time.Time) (*domain.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.state.attendance {
		if a.EmployeeID != employeeID || a.WorkDate != workDate {
			continue
		}
		if a.Status != domain.AttendanceHadir || a.CheckOutAt != nil {
			break
		}
		out := at.UTC()
		a.CheckOutAt = &out
		s.state.attendance[id] = a
		return &a, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListAttendance(_ context.Context, workDate string, limit int) ([]domain.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.Attendance, 0, len(s.state.attendance))
	for _, a := range s.state.attendance {
		if workDate != "" && a.WorkDate != workDate {
			continue
		}
		records = append(records, a)
	}
	slices.SortFunc(records, func(a, b domain.Attendance) int {
		if c := b.CheckInAt.Compare(a.CheckInAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func shiftsOf(st *state, employeeID string) []domain.Shift {
	shifts := make([]domain.Shift, 0, 7)
	for _, sh := range st.shifts {
		if sh.EmployeeID == employeeID {
			shifts = append(shifts, sh)
		}
	}
	sortShifts(shifts)
	return shifts
}

// sortShifts orders by employee, then Monday through Sunday.
func sortShifts(shifts []domain.Shift) {
	slices.SortFunc(shifts, func(a, b domain.Shift) int {
		if c := strings.Compare(a.EmployeeID, b.EmployeeID); c != 0 {
			return c
		}
		return domain.DayIndex(a.DayOfWeek) - domain.DayIndex(b.DayOfWeek)
	})
}
