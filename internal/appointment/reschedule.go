package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

// RequestReschedule lets the doctor offer a replacement slot. The offered
// slot is not reserved yet; it is only taken when the patient accepts.
func (s *Service) RequestReschedule(ctx context.Context, actor Actor, id, newSlotID uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	slot, err := s.validReplacementSlot(ctx, a, newSlotID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	moved, err := s.transition(ctx, a, actor, StatusDoctorReschedule, func(n *Appointment) {
		n.NewScheduleID = &slot.ID
		n.RescheduleReason = reason
		n.DoctorDecision = "reschedule"
		n.HoldExpiresAt = nil
		n.Reschedule = &RescheduleProposal{
			ProposedBy:    actor.ID,
			ProposedAt:    now,
			ProposedSlots: []uuid.UUID{slot.ID},
			Message:       reason,
			ExpiresAt:     now.Add(s.cfg.RescheduleTTL),
		}
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, moved.PatientID, "reschedule_offered", "New time proposed",
		fmt.Sprintf("Your doctor proposed %s %s instead. %s",
			slot.Date.Format("2006-01-02"), slotWindow(slot), reason),
		map[string]any{"appointment_id": moved.ID, "slot_id": slot.ID})

	return moved, nil
}

// ProposeReschedule records the patient's counter-proposal without changing
// status; the doctor sees it and can re-offer.
func (s *Service) ProposeReschedule(ctx context.Context, actor Actor, id uuid.UUID, slotIDs []uuid.UUID, message string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin && (actor.Role != RolePatient || actor.ID != a.PatientID) {
		return nil, ErrForbidden
	}
	if IsTerminal(a.Status) || a.Status == StatusInConsult {
		return nil, fmt.Errorf("%w: proposal from %s", ErrInvalidTransition, a.Status)
	}
	if len(slotIDs) == 0 && message == "" {
		return nil, validationf("a proposal needs slots or a message")
	}

	for _, slotID := range slotIDs {
		slot, err := s.slots.GetByID(ctx, slotID)
		if err != nil {
			return nil, err
		}
		if slot.DoctorID != a.DoctorID {
			return nil, validationf("slot %s does not belong to doctor %s", slotID, a.DoctorID)
		}
	}

	now := s.now()
	draft := *a
	draft.Reschedule = &RescheduleProposal{
		ProposedBy:    actor.ID,
		ProposedAt:    now,
		ProposedSlots: slotIDs,
		Message:       message,
		ExpiresAt:     now.Add(s.cfg.RescheduleTTL),
	}

	updated, err := s.repo.UpdateIfStatus(ctx, &draft, a.Status)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, "reschedule.proposed", updated.ID, map[string]any{
		"slots": slotIDs,
	})
	s.notifier.Notify(ctx, updated.DoctorID, "reschedule_proposed", "Patient proposed new times",
		message, map[string]any{"appointment_id": updated.ID, "slots": slotIDs})

	return updated, nil
}

// AcceptReschedule moves the appointment onto the chosen slot. Passing
// uuid.Nil takes the doctor's offered slot. The old slot is freed, and an
// already-paid appointment lands back in confirmed without a second payment.
func (s *Service) AcceptReschedule(ctx context.Context, actor Actor, id, slotID uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	chosen := slotID
	if chosen == uuid.Nil {
		if a.NewScheduleID == nil {
			return nil, ErrNoRescheduleOffer
		}
		chosen = *a.NewScheduleID
	}

	slot, err := s.validReplacementSlot(ctx, a, chosen)
	if err != nil {
		return nil, err
	}

	target := StatusBooked
	if a.PaymentSettled() {
		target = StatusConfirmed
	}

	oldSlot := a.ScheduleID
	now := s.now()

	var updated *Appointment
	err = s.locker.WithSlotLock(ctx, slot.ID, func(ctx context.Context) error {
		if err := s.slots.Acquire(ctx, slot.ID); err != nil {
			return err
		}

		updated, err = s.transition(ctx, a, actor, target, func(n *Appointment) {
			n.ScheduleID = slot.ID
			n.NewScheduleID = nil
			n.AppointmentDate = clinicDay(slot.Date, s.loc)
			n.AppointmentTime = slotWindow(slot)
			if n.Reschedule != nil {
				accepted := *n.Reschedule
				accepted.AcceptedAt = &now
				accepted.AcceptedBy = &actor.ID
				n.Reschedule = &accepted
			}
		})
		if err != nil {
			if relErr := s.slots.Release(ctx, slot.ID); relErr != nil {
				s.logger.Error().Err(relErr).Str("slot_id", slot.ID.String()).Msg("slot release after failed reschedule")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldSlot != slot.ID {
		s.releaseSlot(ctx, oldSlot)
	}

	s.notifier.Notify(ctx, updated.DoctorID, "reschedule_accepted", "Reschedule accepted",
		fmt.Sprintf("Appointment moved to %s %s", updated.AppointmentDate.Format("2006-01-02"), updated.AppointmentTime),
		map[string]any{"appointment_id": updated.ID})

	return updated, nil
}

// DeclineReschedule keeps the original slot and returns the appointment to
// its pre-negotiation stage.
func (s *Service) DeclineReschedule(ctx context.Context, actor Actor, id uuid.UUID, message string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	target := StatusBooked
	if a.PaymentSettled() {
		target = StatusConfirmed
	}

	declined, err := s.transition(ctx, a, actor, target, func(n *Appointment) {
		n.NewScheduleID = nil
		n.Reschedule = nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, declined.DoctorID, "reschedule_declined", "Reschedule declined",
		message, map[string]any{"appointment_id": declined.ID})

	return declined, nil
}

// validReplacementSlot checks that the slot can host this appointment.
func (s *Service) validReplacementSlot(ctx context.Context, a *Appointment, slotID uuid.UUID) (*schedule.Slot, error) {
	if slotID == a.ScheduleID {
		return nil, validationf("replacement slot is the current slot")
	}
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.DoctorID != a.DoctorID {
		return nil, validationf("slot %s does not belong to doctor %s", slotID, a.DoctorID)
	}
	if !slot.IsAvailable {
		return nil, schedule.ErrSlotUnavailable
	}
	if !slot.StartTime.After(s.now()) {
		return nil, validationf("slot is in the past")
	}
	return slot, nil
}
