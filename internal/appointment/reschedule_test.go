package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

func TestRescheduleOfferAndAccept(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	origSlot := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	newSlot := fx.addSlot(doctor, fx.now.Add(96*time.Hour), 30)

	a := fx.bookPaid(t, patient, doctor, origSlot)
	require.Equal(t, StatusConfirmed, a.Status)

	moved, err := fx.svc.RequestReschedule(ctx, Actor{ID: doctor, Role: RoleDoctor}, a.ID, newSlot, "surgery ran over")
	require.NoError(t, err)
	require.Equal(t, StatusDoctorReschedule, moved.Status)
	require.NotNil(t, moved.NewScheduleID)
	require.Equal(t, newSlot, *moved.NewScheduleID)
	require.Equal(t, "surgery ran over", moved.RescheduleReason)
	require.NotNil(t, moved.Reschedule)
	require.Equal(t, doctor, moved.Reschedule.ProposedBy)
	require.Equal(t, []uuid.UUID{newSlot}, moved.Reschedule.ProposedSlots)
	require.Equal(t, fx.now.Add(fx.cfg.RescheduleTTL), moved.Reschedule.ExpiresAt)

	// The offered slot is not taken until the patient accepts.
	offered, err := fx.slots.GetByID(ctx, newSlot)
	require.NoError(t, err)
	require.True(t, offered.IsAvailable)

	accepted, err := fx.svc.AcceptReschedule(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, uuid.Nil)
	require.NoError(t, err)

	// Already paid, so no second trip through payment.
	require.Equal(t, StatusConfirmed, accepted.Status)
	require.Equal(t, newSlot, accepted.ScheduleID)
	require.Nil(t, accepted.NewScheduleID)
	require.NotNil(t, accepted.Reschedule)
	require.NotNil(t, accepted.Reschedule.AcceptedAt)

	taken, err := fx.slots.GetByID(ctx, newSlot)
	require.NoError(t, err)
	require.False(t, taken.IsAvailable)

	freed, err := fx.slots.GetByID(ctx, origSlot)
	require.NoError(t, err)
	require.True(t, freed.IsAvailable)
}

func TestRescheduleDeclineRestoresStage(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	origSlot := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	newSlot := fx.addSlot(doctor, fx.now.Add(96*time.Hour), 30)

	a := fx.bookPaid(t, patient, doctor, origSlot)
	_, err := fx.svc.RequestReschedule(ctx, Actor{ID: doctor, Role: RoleDoctor}, a.ID, newSlot, "conference")
	require.NoError(t, err)

	declined, err := fx.svc.DeclineReschedule(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, "original time works")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, declined.Status)
	require.Nil(t, declined.NewScheduleID)
	require.Nil(t, declined.Reschedule)
	require.Equal(t, origSlot, declined.ScheduleID)

	orig, err := fx.slots.GetByID(ctx, origSlot)
	require.NoError(t, err)
	require.False(t, orig.IsAvailable)
}

func TestRescheduleUnpaidReturnsToBooked(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	origSlot := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	newSlot := fx.addSlot(doctor, fx.now.Add(96*time.Hour), 30)

	a := fx.book(t, patient, doctor, origSlot)
	require.Equal(t, StatusAwaitPayment, a.Status)

	moved, err := fx.svc.RequestReschedule(ctx, Actor{ID: doctor, Role: RoleDoctor}, a.ID, newSlot, "clash")
	require.NoError(t, err)
	require.Nil(t, moved.HoldExpiresAt)

	accepted, err := fx.svc.AcceptReschedule(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, StatusBooked, accepted.Status)
}

func TestRescheduleCounterProposal(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	otherDoctor := fx.addDoctor("Dr. Chi", "")
	origSlot := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	wanted := fx.addSlot(doctor, fx.now.Add(120*time.Hour), 30)
	foreign := fx.addSlot(otherDoctor, fx.now.Add(120*time.Hour), 30)

	a := fx.bookPaid(t, patient, doctor, origSlot)

	// Slots from another doctor's grid are rejected.
	_, err := fx.svc.ProposeReschedule(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, []uuid.UUID{foreign}, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	proposed, err := fx.svc.ProposeReschedule(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, []uuid.UUID{wanted}, "mornings are better")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, proposed.Status, "counter-proposal does not change status")
	require.NotNil(t, proposed.Reschedule)
	require.Equal(t, []uuid.UUID{wanted}, proposed.Reschedule.ProposedSlots)
	require.Equal(t, fx.now.Add(fx.cfg.RescheduleTTL), proposed.Reschedule.ExpiresAt)

	// The doctor takes the hint and offers the wanted slot.
	_, err = fx.svc.RequestReschedule(ctx, Actor{ID: doctor, Role: RoleDoctor}, a.ID, wanted, "works for me")
	require.NoError(t, err)

	accepted, err := fx.svc.AcceptReschedule(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, wanted, accepted.ScheduleID)
}

func TestRescheduleGuards(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	origSlot := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	newSlot := fx.addSlot(doctor, fx.now.Add(96*time.Hour), 30)

	a := fx.bookPaid(t, patient, doctor, origSlot)

	// Accept with no standing offer.
	_, err := fx.svc.AcceptReschedule(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, uuid.Nil)
	require.ErrorIs(t, err, ErrNoRescheduleOffer)

	// Offering the slot the appointment already sits on.
	_, err = fx.svc.RequestReschedule(ctx, Actor{ID: doctor, Role: RoleDoctor}, a.ID, origSlot, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	// A taken replacement slot cannot be offered.
	require.NoError(t, fx.slots.Acquire(ctx, newSlot))
	_, err = fx.svc.RequestReschedule(ctx, Actor{ID: doctor, Role: RoleDoctor}, a.ID, newSlot, "")
	require.ErrorIs(t, err, schedule.ErrSlotUnavailable)
	require.NoError(t, fx.slots.Release(ctx, newSlot))

	// Only the assigned doctor may open a reschedule.
	_, err = fx.svc.RequestReschedule(ctx, Actor{ID: uuid.New(), Role: RoleDoctor}, a.ID, newSlot, "")
	require.ErrorIs(t, err, ErrForbidden)

	// No negotiating mid-consultation.
	_, err = fx.svc.StartConsultation(ctx, Actor{ID: doctor, Role: RoleDoctor}, a.ID)
	require.NoError(t, err)
	_, err = fx.svc.ProposeReschedule(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, nil, "later please")
	require.ErrorIs(t, err, ErrInvalidTransition)
}
