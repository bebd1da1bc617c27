package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// RequestExtension asks for more consultation time. When another patient
// holds the doctor's next appointment that day, the extension waits on their
// consent; with nobody behind, it applies immediately.
func (s *Service) RequestExtension(ctx context.Context, actor Actor, id uuid.UUID, minutes int, reason string) (*Appointment, error) {
	if minutes <= 0 {
		return nil, validationf("extension minutes must be positive")
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin && (actor.Role != RoleDoctor || actor.ID != a.DoctorID) {
		return nil, ErrForbidden
	}
	if a.Status != StatusConfirmed && a.Status != StatusInConsult {
		return nil, fmt.Errorf("%w: extension from %s", ErrInvalidTransition, a.Status)
	}

	now := s.now()
	if ext := a.Extension; ext != nil && ext.Status == ExtensionConsentPending {
		// A pending request only blocks while its consent window is open;
		// an expired one is superseded by the new request.
		if ext.ConsentExpiresAt == nil || ext.ConsentExpiresAt.After(now) {
			return nil, ErrExtensionPending
		}
	}

	ext := &Extension{
		Minutes:     minutes,
		Reason:      reason,
		RequestedBy: actor.ID,
		RequestedAt: now,
	}

	next, err := s.repo.NextForDoctorAfter(ctx, a.DoctorID, a.AppointmentDate, a.BookedAt, a.ID)
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		ext.Status = ExtensionAccepted
		ext.AppliedAt = &now
	case err != nil:
		return nil, fmt.Errorf("find next appointment: %w", err)
	default:
		expires := now.Add(s.cfg.ConsentTTL)
		ext.Status = ExtensionConsentPending
		ext.TargetNextApptID = &next.ID
		ext.ConsentRequestedAt = &now
		ext.ConsentExpiresAt = &expires
	}

	draft := *a
	draft.Extension = ext
	updated, err := s.repo.UpdateIfStatus(ctx, &draft, a.Status)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, "extension.requested", updated.ID, map[string]any{
		"minutes": minutes,
		"status":  ext.Status,
	})

	if ext.Status == ExtensionConsentPending && next != nil {
		s.notifier.Notify(ctx, next.PatientID, "extension_consent", "Your appointment may start late",
			fmt.Sprintf("The doctor asked for %d extra minutes with the current patient. Please accept or decline.", minutes),
			map[string]any{"appointment_id": next.ID, "extending_appointment_id": updated.ID, "respond_by": ext.ConsentExpiresAt})
	}

	return updated, nil
}

// RespondExtension records the next patient's answer. id is the responding
// patient's own appointment, the one the extension would push back.
func (s *Service) RespondExtension(ctx context.Context, actor Actor, id uuid.UUID, accept bool) (*Appointment, error) {
	target, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin && (actor.Role != RolePatient || actor.ID != target.PatientID) {
		return nil, ErrForbidden
	}

	host, err := s.repo.FindByExtensionTarget(ctx, id)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrNoActiveExtension
	}
	if err != nil {
		return nil, err
	}

	ext := host.Extension
	now := s.now()

	draft := *host
	updatedExt := *ext
	draft.Extension = &updatedExt

	if ext.ConsentExpiresAt != nil && !ext.ConsentExpiresAt.After(now) {
		updatedExt.Status = ExtensionTimeout
		if _, err := s.repo.UpdateIfStatus(ctx, &draft, host.Status); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", host.ID.String()).Msg("extension timeout write failed")
		}
		return nil, ErrConsentExpired
	}

	if accept {
		updatedExt.Status = ExtensionAccepted
		updatedExt.ConsentResponse = "accepted"
		updatedExt.ConsentBy = &actor.ID
		updatedExt.AppliedAt = &now
	} else {
		updatedExt.Status = ExtensionDeclined
		updatedExt.ConsentResponse = "declined"
		updatedExt.ConsentBy = &actor.ID
	}

	updated, err := s.repo.UpdateIfStatus(ctx, &draft, host.Status)
	if err != nil {
		return nil, err
	}

	if accept {
		// The shift is advisory; the slot grid itself does not move.
		note := fmt.Sprintf("Start may shift by up to %d minutes (extension consented %s)",
			ext.Minutes, now.Format("15:04"))
		shifted := *target
		shifted.DoctorNotes = appendNote(shifted.DoctorNotes, note)
		if _, err := s.repo.UpdateIfStatus(ctx, &shifted, target.Status); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", target.ID.String()).Msg("shift note write failed")
		}
	}

	s.logEvent(ctx, "extension.responded", updated.ID, map[string]any{
		"accepted":  accept,
		"responder": actor.ID,
		"target_id": target.ID,
	})
	s.notifier.Notify(ctx, updated.DoctorID, "extension_response", "Extension response",
		fmt.Sprintf("The next patient %s the %d minute extension", updatedExt.ConsentResponse, ext.Minutes),
		map[string]any{"appointment_id": updated.ID})

	return updated, nil
}
