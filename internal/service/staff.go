package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
	"tehtarik/backend/internal/xid"
)

func (s *Service) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	employees, err := s.repo.ListEmployees(ctx)
	return employees, persistenceErr(err)
}

// CreateEmployee hires someone onto the default Monday to Saturday week.
// shift_type MALAM puts every day on the evening hours.
func (s *Service) CreateEmployee(ctx context.Context, req domain.EmployeeRequest) (domain.Employee, error) {
	req = trimEmployeeRequest(req)
	if err := s.validateRequest(req); err != nil {
		return domain.Employee{}, err
	}

	hours := domain.ShiftTimePagi
	if req.ShiftType == domain.ShiftTypeMalam {
		hours = domain.ShiftTimeMalam
	}
	now := s.now()
	employee := domain.Employee{
		ID:        xid.New("emp"),
		Name:      req.Name,
		BirthDate: req.BirthDate,
		Address:   req.Address,
		Gender:    req.Gender,
		Phone:     req.Phone,
		Position:  req.Position,
		PhotoURL:  req.PhotoURL,
		CreatedAt: now,
		UpdatedAt: now,
		Shifts:    make([]domain.Shift, 0, len(domain.WorkingDays)),
	}
	for _, day := range domain.WorkingDays {
		employee.Shifts = append(employee.Shifts, domain.Shift{
			ID:         xid.New("shf"),
			EmployeeID: employee.ID,
			DayOfWeek:  day,
			ShiftTime:  hours,
			IsActive:   true,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err := s.repo.CreateEmployee(ctx, employee); err != nil {
		return domain.Employee{}, persistenceErr(err)
	}
	s.log.WithFields(logrus.Fields{"employee_id": employee.ID, "position": employee.Position}).Info("employee created")
	return employee, nil
}

func (s *Service) UpdateEmployee(ctx context.Context, id string, req domain.EmployeeRequest) (domain.Employee, error) {
	req = trimEmployeeRequest(req)
	if err := s.validateRequest(req); err != nil {
		return domain.Employee{}, err
	}
	current, err := s.repo.GetEmployee(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Employee{}, persistenceErr(err)
	}

	updated := *current
	updated.Name = req.Name
	updated.BirthDate = req.BirthDate
	updated.Address = req.Address
	updated.Gender = req.Gender
	updated.Phone = req.Phone
	updated.Position = req.Position
	updated.PhotoURL = req.PhotoURL
	updated.UpdatedAt = s.now()
	if err := s.repo.UpdateEmployee(ctx, updated); err != nil {
		return domain.Employee{}, persistenceErr(err)
	}
	return updated, nil
}

func (s *Service) DeleteEmployee(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteEmployee(ctx, id); err != nil {
		return persistenceErr(err)
	}
	s.log.WithField("employee_id", id).Info("employee deleted")
	return nil
}

func (s *Service) ListShifts(ctx context.Context, employeeID string) ([]domain.Shift, error) {
	shifts, err := s.repo.ListShifts(ctx, strings.TrimSpace(employeeID))
	return shifts, persistenceErr(err)
}

func (s *Service) CreateShift(ctx context.Context, req domain.ShiftRequest) (domain.Shift, error) {
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	req.DayOfWeek = strings.ToUpper(strings.TrimSpace(req.DayOfWeek))
	req.ShiftTime = strings.TrimSpace(req.ShiftTime)
	if err := s.validateRequest(req); err != nil {
		return domain.Shift{}, err
	}

	now := s.now()
	shift := domain.Shift{
		ID:         xid.New("shf"),
		EmployeeID: req.EmployeeID,
		DayOfWeek:  req.DayOfWeek,
		ShiftTime:  req.ShiftTime,
		IsActive:   req.IsActive == nil || *req.IsActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.saveShifts(ctx, shift.EmployeeID, []domain.Shift{shift}); err != nil {
		return domain.Shift{}, err
	}
	return shift, nil
}

func (s *Service) UpdateShift(ctx context.Context, id string, req domain.ShiftUpdateRequest) (domain.Shift, error) {
	req.DayOfWeek = strings.ToUpper(strings.TrimSpace(req.DayOfWeek))
	req.ShiftTime = strings.TrimSpace(req.ShiftTime)
	if err := s.validateRequest(req); err != nil {
		return domain.Shift{}, err
	}
	current, err := s.repo.GetShift(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Shift{}, persistenceErr(err)
	}

	shift := *current
	if req.DayOfWeek != "" {
		shift.DayOfWeek = req.DayOfWeek
	}
	if req.ShiftTime != "" {
		shift.ShiftTime = req.ShiftTime
	}
	if req.IsActive != nil {
		shift.IsActive = *req.IsActive
	}
	shift.UpdatedAt = s.now()
	if err := s.saveShifts(ctx, shift.EmployeeID, []domain.Shift{shift}); err != nil {
		return domain.Shift{}, err
	}
	return shift, nil
}

func (s *Service) DeleteShift(ctx context.Context, id string) error {
	return persistenceErr(s.repo.DeleteShift(ctx, strings.TrimSpace(id)))
}

// BulkUpdateShifts merges a whole week into the employee's schedule. A line
// with an id updates that shift, a line without one updates the shift on
// the same day or, when active, creates it. Days already scheduled but not
// sent are deactivated. The merged week is written at once.
func (s *Service) BulkUpdateShifts(ctx context.Context, req domain.ShiftBulkRequest) ([]domain.Shift, error) {
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	for i := range req.Shifts {
		req.Shifts[i].ID = strings.TrimSpace(req.Shifts[i].ID)
		req.Shifts[i].DayOfWeek = strings.ToUpper(strings.TrimSpace(req.Shifts[i].DayOfWeek))
		req.Shifts[i].ShiftTime = strings.TrimSpace(req.Shifts[i].ShiftTime)
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	employee, err := s.repo.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return nil, persistenceErr(err)
	}
	byID := make(map[string]domain.Shift, len(employee.Shifts))
	byDay := make(map[string]domain.Shift, len(employee.Shifts))
	for _, sh := range employee.Shifts {
		byID[sh.ID] = sh
		byDay[sh.DayOfWeek] = sh
	}

	now := s.now()
	sent := make(map[string]struct{}, len(req.Shifts))
	changed := make([]domain.Shift, 0, len(req.Shifts)+len(employee.Shifts))
	for _, line := range req.Shifts {
		if _, dup := sent[line.DayOfWeek]; dup {
			return nil, fmt.Errorf("%w: %s is listed twice", store.ErrInvalidRequest, line.DayOfWeek)
		}
		sent[line.DayOfWeek] = struct{}{}

		var (
			shift domain.Shift
			found bool
		)
		if line.ID != "" {
			if shift, found = byID[line.ID]; !found {
				return nil, fmt.Errorf("shift %s of employee %s: %w", line.ID, req.EmployeeID, store.ErrNotFound)
			}
			if shift.DayOfWeek != line.DayOfWeek {
				return nil, fmt.Errorf("%w: shift %s is on %s", store.ErrInvalidRequest, line.ID, shift.DayOfWeek)
			}
		} else {
			shift, found = byDay[line.DayOfWeek]
		}

		switch {
		case found:
			if line.ShiftTime != "" {
				shift.ShiftTime = line.ShiftTime
			}
			shift.IsActive = line.IsActive
			shift.UpdatedAt = now
		case line.IsActive:
			shift = domain.Shift{
				ID:         xid.New("shf"),
				EmployeeID: req.EmployeeID,
				DayOfWeek:  line.DayOfWeek,
				ShiftTime:  line.ShiftTime,
				IsActive:   true,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if shift.ShiftTime == "" {
				shift.ShiftTime = domain.ShiftTimePagi
			}
		default:
			continue
		}
		changed = append(changed, shift)
	}
	for _, sh := range employee.Shifts {
		if _, kept := sent[sh.DayOfWeek]; kept || !sh.IsActive {
			continue
		}
		sh.IsActive = false
		sh.UpdatedAt = now
		changed = append(changed, sh)
	}

	if err := s.saveShifts(ctx, req.EmployeeID, changed); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"employee_id": req.EmployeeID, "changed": len(changed)}).Info("schedule updated")
	return s.ListShifts(ctx, req.EmployeeID)
}

func (s *Service) saveShifts(ctx context.Context, employeeID string, shifts []domain.Shift) error {
	if len(shifts) == 0 {
		return nil
	}
	err := s.repo.SaveShifts(ctx, employeeID, shifts)
	if errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("%w: employee already has a shift on that day", store.ErrInvalidRequest)
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("employee %s: %w", employeeID, store.ErrNotFound)
	}
	return persistenceErr(err)
}

// CheckIn records today's attendance for an employee. Each employee gets one
// record per work date, whatever its status.
func (s *Service) CheckIn(ctx context.Context, operatorID string, req domain.AttendanceRequest) (domain.Attendance, error) {
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	req.Status = strings.ToUpper(strings.TrimSpace(req.Status))
	if err := s.validateRequest(req); err != nil {
		return domain.Attendance{}, err
	}
	operator, err := s.resolveOperator(ctx, operatorID)
	if err != nil {
		return domain.Attendance{}, err
	}
	employee, err := s.repo.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return domain.Attendance{}, persistenceErr(err)
	}

	now := s.now()
	record := domain.Attendance{
		ID:           xid.New("att"),
		EmployeeID:   employee.ID,
		EmployeeName: employee.Name,
		WorkDate:     s.workDate(now),
		Status:       req.Status,
		CheckInAt:    now,
		RecordedBy:   operator.ID,
	}
	if record.Status == "" {
		record.Status = domain.AttendanceHadir
	}

	if err := s.repo.CreateAttendance(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Attendance{}, fmt.Errorf("%w: %s already has attendance for %s", store.ErrInvalidRequest, employee.Name, record.WorkDate)
		}
		return domain.Attendance{}, persistenceErr(err)
	}
	s.log.WithFields(logrus.Fields{
		"employee_id": record.EmployeeID,
		"status":      record.Status,
		"work_date":   record.WorkDate,
	}).Info("attendance recorded")
	return record, nil
}

// CheckOut closes today's HADIR record of the employee.
func (s *Service) CheckOut(ctx context.Context, req domain.CheckOutRequest) (domain.Attendance, error) {
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	if err := s.validateRequest(req); err != nil {
		return domain.Attendance{}, err
	}
	now := s.now()
	record, err := s.repo.CloseAttendance(ctx, req.EmployeeID, s.workDate(now), now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Attendance{}, fmt.Errorf("no open attendance for %s today: %w", req.EmployeeID, store.ErrNotFound)
		}
		return domain.Attendance{}, persistenceErr(err)
	}
	return *record, nil
}

// ListAttendance lists records newest first. date is YYYY-MM-DD or empty for
// every date.
func (s *Service) ListAttendance(ctx context.Context, date string, limit int) ([]domain.Attendance, error) {
	date = strings.TrimSpace(date)
	if date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidRequest)
		}
	}
	records, err := s.repo.ListAttendance(ctx, date, normalizeLimit(limit))
	return records, persistenceErr(err)
}

// workDate is the calendar day at the cafe, not in UTC.
func (s *Service) workDate(t time.Time) string {
	return t.In(s.location).Format(time.DateOnly)
}

func trimEmployeeRequest(req domain.EmployeeRequest) domain.EmployeeRequest {
	req.Name = strings.TrimSpace(req.Name)
	req.BirthDate = strings.TrimSpace(req.BirthDate)
	req.Address = strings.TrimSpace(req.Address)
	req.Gender = strings.ToUpper(strings.TrimSpace(req.Gender))
	req.Phone = strings.TrimSpace(req.Phone)
	req.Position = strings.TrimSpace(req.Position)
	req.PhotoURL = strings.TrimSpace(req.PhotoURL)
	req.ShiftType = strings.ToUpper(strings.TrimSpace(req.ShiftType))
	return req
}
