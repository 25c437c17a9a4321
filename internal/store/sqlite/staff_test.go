package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
)

func TestEmployeeScheduleOnSQLite(t *testing.T) {
	s := newTestStore(t)
	seedTehTarik(t, s)
	svc := newService(s)
	ctx := context.Background()

	employee, err := svc.CreateEmployee(ctx, domain.EmployeeRequest{
		Name: "Rina Wulandari", Position: "Barista", BirthDate: "2001-02-03", ShiftType: domain.ShiftTypeMalam,
	})
	require.NoError(t, err)

	stored, err := s.GetEmployee(ctx, employee.ID)
	require.NoError(t, err)
	require.Equal(t, "2001-02-03", stored.BirthDate)
	require.Len(t, stored.Shifts, 6)
	require.Equal(t, domain.DaySenin, stored.Shifts[0].DayOfWeek)
	require.Equal(t, domain.ShiftTimeMalam, stored.Shifts[0].ShiftTime)

	_, err = svc.CreateShift(ctx, domain.ShiftRequest{
		EmployeeID: employee.ID, DayOfWeek: domain.DaySenin, ShiftTime: "07:00 - 12:00",
	})
	require.ErrorIs(t, err, store.ErrInvalidRequest, "one shift per day")

	week, err := svc.BulkUpdateShifts(ctx, domain.ShiftBulkRequest{
		EmployeeID: employee.ID,
		Shifts: []domain.ShiftBulkLine{
			{DayOfWeek: domain.DaySenin, ShiftTime: "07:00 - 12:00", IsActive: true},
			{DayOfWeek: domain.DayMinggu, IsActive: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, week, 7)
	active := 0
	for _, sh := range week {
		if sh.IsActive {
			active++
		}
	}
	require.Equal(t, 2, active)

	err = s.SaveShifts(ctx, "emp-unknown", []domain.Shift{{ID: "shf-x", DayOfWeek: domain.DaySenin}})
	require.ErrorIs(t, err, store.ErrNotFound)

	employees, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, employees, 1)
	require.Len(t, employees[0].Shifts, 7)

	require.NoError(t, s.DeleteEmployee(ctx, employee.ID))
	shifts, err := s.ListShifts(ctx, "")
	require.NoError(t, err)
	require.Empty(t, shifts, "shifts go with their employee")
	require.ErrorIs(t, s.DeleteEmployee(ctx, employee.ID), store.ErrNotFound)
}

func TestAttendanceOnSQLite(t *testing.T) {
	s := newTestStore(t)
	seedTehTarik(t, s)
	svc := newService(s)
	ctx := context.Background()

	employee, err := svc.CreateEmployee(ctx, domain.EmployeeRequest{Name: "Budi Santoso", Position: "Barista"})
	require.NoError(t, err)

	record, err := svc.CheckIn(ctx, "usr-owner", domain.AttendanceRequest{EmployeeID: employee.ID})
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, "usr-owner", domain.AttendanceRequest{EmployeeID: employee.ID})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	closed, err := svc.CheckOut(ctx, domain.CheckOutRequest{EmployeeID: employee.ID})
	require.NoError(t, err)
	require.NotNil(t, closed.CheckOutAt)
	require.Equal(t, record.ID, closed.ID)
	_, err = svc.CheckOut(ctx, domain.CheckOutRequest{EmployeeID: employee.ID})
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteEmployee(ctx, employee.ID))
	records, err := svc.ListAttendance(ctx, record.WorkDate, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Budi Santoso", records[0].EmployeeName)
	require.NotNil(t, records[0].CheckOutAt)
}
