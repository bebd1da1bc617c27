package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

type Status string

const (
	StatusBooked             Status = "booked"
	StatusDoctorApproved     Status = "doctor_approved"
	StatusDoctorReschedule   Status = "doctor_reschedule"
	StatusDoctorRejected     Status = "doctor_rejected"
	StatusAwaitPayment       Status = "await_payment"
	StatusPaid               Status = "paid"
	StatusPaymentOverdue     Status = "payment_overdue"
	StatusConfirmed          Status = "confirmed"
	StatusInConsult          Status = "in_consult"
	StatusPrescriptionIssued Status = "prescription_issued"
	StatusReadyToDischarge   Status = "ready_to_discharge"
	StatusCompleted          Status = "completed"
	StatusCancelled          Status = "cancelled"
	StatusClosed             Status = "closed"
)

type PaymentState string

const (
	PaymentPending    PaymentState = "pending"
	PaymentAuthorized PaymentState = "authorized"
	PaymentCaptured   PaymentState = "captured"
	PaymentRefunded   PaymentState = "refunded"
	PaymentOverdue    PaymentState = "overdue"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

// Actor is the opaque identity handed over by the auth middleware.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type ExtensionStatus string

const (
	ExtensionConsentPending ExtensionStatus = "consent_pending"
	ExtensionAccepted       ExtensionStatus = "accepted"
	ExtensionDeclined       ExtensionStatus = "declined"
	ExtensionTimeout        ExtensionStatus = "timeout"
)

// Extension is the embedded mid-consultation time-extension request. At most
// one active per appointment.
type Extension struct {
	Minutes            int             `json:"minutes"`
	Status             ExtensionStatus `json:"status"`
	Reason             string          `json:"reason,omitempty"`
	RequestedBy        uuid.UUID       `json:"requested_by"`
	RequestedAt        time.Time       `json:"requested_at"`
	TargetNextApptID   *uuid.UUID      `json:"target_next_appt_id,omitempty"`
	ConsentRequestedAt *time.Time      `json:"consent_requested_at,omitempty"`
	ConsentExpiresAt   *time.Time      `json:"consent_expires_at,omitempty"`
	ConsentBy          *uuid.UUID      `json:"consent_by,omitempty"`
	ConsentResponse    string          `json:"consent_response,omitempty"`
	AppliedAt          *time.Time      `json:"applied_at,omitempty"`
}

// RescheduleProposal is the embedded negotiation record. At most one active
// per appointment.
type RescheduleProposal struct {
	ProposedBy    uuid.UUID   `json:"proposed_by"`
	ProposedAt    time.Time   `json:"proposed_at"`
	ProposedSlots []uuid.UUID `json:"proposed_slots,omitempty"`
	Message       string      `json:"message,omitempty"`
	ExpiresAt     time.Time   `json:"expires_at"`
	AcceptedAt    *time.Time  `json:"accepted_at,omitempty"`
	AcceptedBy    *uuid.UUID  `json:"accepted_by,omitempty"`
}

// Appointment is the central aggregate. Status is the single source of truth
// for workflow stage; the money fields are a snapshot copied from the
// consultation invoice.
type Appointment struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	ScheduleID    uuid.UUID
	NewScheduleID *uuid.UUID

	ServiceCode     string
	AppointmentDate time.Time // clinic-local calendar day
	AppointmentTime string

	Status        Status
	PaymentStatus PaymentState

	ConsultationFee   int64
	DepositAmount     int64
	TotalAmount       int64
	InsuranceCoverage int64
	PatientAmount     int64

	DoctorDecision     string
	DoctorNotes        string
	RescheduleReason   string
	RejectionReason    string
	CancelledBy        string
	CancellationReason string

	Extension  *Extension
	Reschedule *RescheduleProposal

	BookedAt      time.Time
	ConfirmedAt   *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	HoldExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HoldExpired reports whether the payment hold has lapsed at the given time.
func (a *Appointment) HoldExpired(now time.Time) bool {
	return a.Status == StatusAwaitPayment &&
		a.HoldExpiresAt != nil &&
		!a.HoldExpiresAt.After(now)
}

// PaymentSettled reports whether the patient has already paid, in which case
// re-approval must not demand a second payment.
func (a *Appointment) PaymentSettled() bool {
	return a.PaymentStatus == PaymentCaptured || a.PaymentStatus == PaymentAuthorized
}

// PatientRef is the explicit hydrated patient reference used in read paths.
type PatientRef struct {
	ID                uuid.UUID
	Name              string
	InsuranceEligible bool
	CopayRate         float64
}

// DoctorRef is the explicit hydrated doctor reference used in read paths.
type DoctorRef struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
}

type AppointmentDetail struct {
	Appointment
	Patient *PatientRef
	Doctor  *DoctorRef
	Slot    *schedule.Slot
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
