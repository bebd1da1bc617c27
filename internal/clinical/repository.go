package clinical

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrEncounterNotFound = errors.New("encounter not found")
	ErrRecordNotFound    = errors.New("medical record not found")
	ErrPatientNotFound   = errors.New("patient not found")
)

type Repository interface {
	GetPatientProfile(ctx context.Context, id uuid.UUID) (*PatientProfile, error)
	EncounterForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Encounter, error)
	CreateEncounter(ctx context.Context, e *Encounter) (*Encounter, error)
	// LatestCompletedRecord returns the patient's single most recent
	// completed record, or ErrRecordNotFound.
	LatestCompletedRecord(ctx context.Context, patientID uuid.UUID) (*MedicalRecord, error)
	CreateRecord(ctx context.Context, rec *MedicalRecord) (*MedicalRecord, error)
}
