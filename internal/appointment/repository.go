package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrStaleTransition means the compare-and-swap update found the row in
	// a different status than expected: a concurrent transition won.
	ErrStaleTransition = errors.New("appointment changed concurrently")
	ErrDuplicateBooking = errors.New("patient already has an appointment that day")
)

// Repository contains all DB interactions needed by the engine.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	GetPatientRef(ctx context.Context, id uuid.UUID) (*PatientRef, error)
	GetDoctorRef(ctx context.Context, id uuid.UUID) (*DoctorRef, error)

	// Create translates a one-per-day unique violation into
	// ErrDuplicateBooking.
	Create(ctx context.Context, a *Appointment) (*Appointment, error)
	// UpdateIfStatus persists the aggregate conditional on the row still
	// being in the given status. All transitions go through it.
	UpdateIfStatus(ctx context.Context, a *Appointment, from Status) (*Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Booking invariants
	CountBlockingOnDay(ctx context.Context, patientID uuid.UUID, day time.Time) (int, error)
	CountBlockingBySpecialtyOnDay(ctx context.Context, patientID uuid.UUID, specialty string, day time.Time) (int, error)

	// Extension protocol
	NextForDoctorAfter(ctx context.Context, doctorID uuid.UUID, day time.Time, after time.Time, excludeID uuid.UUID) (*Appointment, error)
	FindByExtensionTarget(ctx context.Context, targetID uuid.UUID) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
