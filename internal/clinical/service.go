package clinical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service performs the consult-start intake: one encounter and one draft
// medical record per appointment, pre-filled from what the clinic already
// knows about the patient.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// EnsureConsultRecords is idempotent: if an encounter already exists for the
// appointment, nothing is created. Pre-fill lookups are best-effort; a
// missing profile or prior record still yields a usable draft.
func (s *Service) EnsureConsultRecords(ctx context.Context, appointmentID, patientID, doctorID uuid.UUID) error {
	if _, err := s.repo.EncounterForAppointment(ctx, appointmentID); err == nil {
		return nil
	} else if !errors.Is(err, ErrEncounterNotFound) {
		return fmt.Errorf("check encounter: %w", err)
	}

	enc, err := s.repo.CreateEncounter(ctx, &Encounter{
		AppointmentID: appointmentID,
		PatientID:     patientID,
		DoctorID:      doctorID,
		StartedAt:     s.now(),
	})
	if err != nil {
		return fmt.Errorf("create encounter: %w", err)
	}

	draft := &MedicalRecord{
		PatientID:     patientID,
		EncounterID:   &enc.ID,
		AppointmentID: &appointmentID,
		Status:        RecordDraft,
	}

	if profile, err := s.repo.GetPatientProfile(ctx, patientID); err == nil {
		draft.Allergies = profile.Allergies
		draft.Medications = profile.Medications
		draft.History = profile.MedicalHistory
		draft.IsPregnant = profile.IsPregnant
	} else {
		s.logger.Warn().Err(err).
			Str("patient_id", patientID.String()).
			Msg("intake: profile pre-fill skipped")
	}

	if prev, err := s.repo.LatestCompletedRecord(ctx, patientID); err == nil {
		if draft.History == "" {
			draft.History = prev.History
		}
		if draft.Allergies == "" {
			draft.Allergies = prev.Allergies
		}
		if draft.Medications == "" {
			draft.Medications = prev.Medications
		}
		draft.IsPregnant = draft.IsPregnant || prev.IsPregnant
	} else if !errors.Is(err, ErrRecordNotFound) {
		s.logger.Warn().Err(err).
			Str("patient_id", patientID.String()).
			Msg("intake: prior record pre-fill skipped")
	}

	if _, err := s.repo.CreateRecord(ctx, draft); err != nil {
		return fmt.Errorf("create draft record: %w", err)
	}

	return nil
}
