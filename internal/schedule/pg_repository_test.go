package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestAcquireWinsWhenAvailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	slotID := uuid.New()
	mock.ExpectExec("UPDATE schedule_slots").
		WithArgs(slotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	reg := NewPgRegistry(mock)
	require.NoError(t, reg.Acquire(context.Background(), slotID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireLosesRace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	slotID := uuid.New()
	// Zero rows affected: the conditional write found is_available=false.
	mock.ExpectExec("UPDATE schedule_slots").
		WithArgs(slotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	reg := NewPgRegistry(mock)
	err = reg.Acquire(context.Background(), slotID)
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestReleaseUnknownSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	slotID := uuid.New()
	mock.ExpectExec("UPDATE schedule_slots").
		WithArgs(slotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	reg := NewPgRegistry(mock)
	require.ErrorIs(t, reg.Release(context.Background(), slotID), ErrSlotNotFound)
}

func TestGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	slotID := uuid.New()
	mock.ExpectQuery("SELECT id, doctor_id").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "doctor_id", "slot_date", "start_time", "end_time", "is_available", "created_at", "updated_at"}))

	reg := NewPgRegistry(mock)
	_, err = reg.GetByID(context.Background(), slotID)
	require.ErrorIs(t, err, ErrSlotNotFound)
}

func TestSlotDurationMinutes(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s := &Slot{StartTime: start, EndTime: start.Add(30 * time.Minute)}
	require.Equal(t, 30, s.DurationMinutes())

	broken := &Slot{StartTime: start, EndTime: start}
	require.Equal(t, 0, broken.DurationMinutes())
}
