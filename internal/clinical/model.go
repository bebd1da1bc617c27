package clinical

import (
	"time"

	"github.com/google/uuid"
)

// Encounter marks one consultation actually taking place. At most one per
// appointment.
type Encounter struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	StartedAt     time.Time
}

type RecordStatus string

const (
	RecordDraft     RecordStatus = "draft"
	RecordCompleted RecordStatus = "completed"
)

// MedicalRecord starts as a draft pre-filled from the patient profile and
// their most recent completed record.
type MedicalRecord struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	EncounterID   *uuid.UUID
	AppointmentID *uuid.UUID
	Status        RecordStatus
	History       string
	Allergies     string
	Medications   string
	IsPregnant    bool
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PatientProfile is the subset of the patient row the intake pre-fill reads.
type PatientProfile struct {
	ID             uuid.UUID
	Name           string
	Allergies      string
	Medications    string
	MedicalHistory string
	IsPregnant     bool
}
