package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/billing"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

type BookAppointmentRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	ScheduleID      string `json:"schedule_id"`
	ServiceCode     string `json:"service_code"`
	RequireApproval bool   `json:"require_approval,omitempty"`
}

type ApproveRequest struct {
	Notes string `json:"notes,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type CancelRequest struct {
	Reason   string `json:"reason"`
	Override bool   `json:"override,omitempty"`
}

type PayRequest struct {
	Method        string `json:"method"`
	TransactionID string `json:"transaction_id"`
}

type PrescriptionRequest struct {
	Notes string `json:"notes,omitempty"`
}

type LineItemRequest struct {
	Type            string `json:"type"`
	Description     string `json:"description"`
	Amount          int64  `json:"amount"`
	InsuranceAmount int64  `json:"insurance_amount,omitempty"`
	PatientAmount   int64  `json:"patient_amount"`
}

type DischargeRequest struct {
	Extras []LineItemRequest `json:"extras,omitempty"`
}

type ExtensionRequest struct {
	Minutes int    `json:"minutes"`
	Reason  string `json:"reason,omitempty"`
}

type ExtensionRespondRequest struct {
	Accept bool `json:"accept"`
}

type RescheduleOfferRequest struct {
	NewScheduleID string `json:"new_schedule_id"`
	Reason        string `json:"reason,omitempty"`
}

type RescheduleProposeRequest struct {
	ScheduleIDs []string `json:"schedule_ids,omitempty"`
	Message     string   `json:"message,omitempty"`
}

type RescheduleAcceptRequest struct {
	ScheduleID string `json:"schedule_id,omitempty"`
}

type RescheduleDeclineRequest struct {
	Message string `json:"message,omitempty"`
}

type AppointmentResponse struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	ScheduleID    uuid.UUID  `json:"schedule_id"`
	NewScheduleID *uuid.UUID `json:"new_schedule_id,omitempty"`
	ServiceCode   string     `json:"service_code"`
	Date          string     `json:"appointment_date"`
	Time          string     `json:"appointment_time"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`

	ConsultationFee   int64 `json:"consultation_fee"`
	DepositAmount     int64 `json:"deposit_amount"`
	TotalAmount       int64 `json:"total_amount"`
	InsuranceCoverage int64 `json:"insurance_coverage"`
	PatientAmount     int64 `json:"patient_amount"`

	DoctorDecision     string `json:"doctor_decision,omitempty"`
	DoctorNotes        string `json:"doctor_notes,omitempty"`
	RescheduleReason   string `json:"reschedule_reason,omitempty"`
	RejectionReason    string `json:"rejection_reason,omitempty"`
	CancelledBy        string `json:"cancelled_by,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`

	Extension  *appointment.Extension          `json:"extension,omitempty"`
	Reschedule *appointment.RescheduleProposal `json:"reschedule_proposal,omitempty"`

	BookedAt      time.Time  `json:"booked_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}

type PatientResponse struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	InsuranceEligible bool      `json:"insurance_eligible"`
}

type DoctorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	Date        string    `json:"date"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	IsAvailable bool      `json:"is_available"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	Patient *PatientResponse `json:"patient,omitempty"`
	Doctor  *DoctorResponse  `json:"doctor,omitempty"`
	Slot    *SlotResponse    `json:"slot,omitempty"`
}

type PaymentResponse struct {
	ID            uuid.UUID `json:"id"`
	InvoiceID     uuid.UUID `json:"invoice_id"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	RefundAmount  int64     `json:"refund_amount,omitempty"`
}

type InvoiceResponse struct {
	ID                uuid.UUID          `json:"id"`
	AppointmentID     uuid.UUID          `json:"appointment_id"`
	Type              string             `json:"type"`
	Items             []billing.LineItem `json:"items"`
	Subtotal          int64              `json:"subtotal"`
	InsuranceCoverage int64              `json:"insurance_coverage"`
	PatientAmount     int64              `json:"patient_amount"`
	Status            string             `json:"status"`
	DueDate           *time.Time         `json:"due_date,omitempty"`
	PaidAt            *time.Time         `json:"paid_at,omitempty"`
}

type PayResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Payment     PaymentResponse     `json:"payment"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

const dateLayout = "2006-01-02"

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		ScheduleID:         a.ScheduleID,
		NewScheduleID:      a.NewScheduleID,
		ServiceCode:        a.ServiceCode,
		Date:               a.AppointmentDate.Format(dateLayout),
		Time:               a.AppointmentTime,
		Status:             string(a.Status),
		PaymentStatus:      string(a.PaymentStatus),
		ConsultationFee:    a.ConsultationFee,
		DepositAmount:      a.DepositAmount,
		TotalAmount:        a.TotalAmount,
		InsuranceCoverage:  a.InsuranceCoverage,
		PatientAmount:      a.PatientAmount,
		DoctorDecision:     a.DoctorDecision,
		DoctorNotes:        a.DoctorNotes,
		RescheduleReason:   a.RescheduleReason,
		RejectionReason:    a.RejectionReason,
		CancelledBy:        a.CancelledBy,
		CancellationReason: a.CancellationReason,
		Extension:          a.Extension,
		Reschedule:         a.Reschedule,
		BookedAt:           a.BookedAt,
		ConfirmedAt:        a.ConfirmedAt,
		StartedAt:          a.StartedAt,
		CompletedAt:        a.CompletedAt,
		CancelledAt:        a.CancelledAt,
		HoldExpiresAt:      a.HoldExpiresAt,
	}
}

func toDetailResponse(d *appointment.AppointmentDetail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{AppointmentResponse: toAppointmentResponse(&d.Appointment)}
	if d.Patient != nil {
		resp.Patient = &PatientResponse{
			ID:                d.Patient.ID,
			Name:              d.Patient.Name,
			InsuranceEligible: d.Patient.InsuranceEligible,
		}
	}
	if d.Doctor != nil {
		resp.Doctor = &DoctorResponse{
			ID:        d.Doctor.ID,
			Name:      d.Doctor.Name,
			Specialty: d.Doctor.Specialty,
		}
	}
	if d.Slot != nil {
		s := toSlotResponse(d.Slot)
		resp.Slot = &s
	}
	return resp
}

func toSlotResponse(s *schedule.Slot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		DoctorID:    s.DoctorID,
		Date:        s.Date.Format(dateLayout),
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		IsAvailable: s.IsAvailable,
	}
}

func toPaymentResponse(p *billing.Payment) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		InvoiceID:     p.InvoiceID,
		Amount:        p.Amount,
		Status:        string(p.Status),
		PaymentMethod: p.PaymentMethod,
		TransactionID: p.TransactionID,
		RefundAmount:  p.RefundAmount,
	}
}

func toInvoiceResponse(inv *billing.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:                inv.ID,
		AppointmentID:     inv.AppointmentID,
		Type:              string(inv.Type),
		Items:             inv.Items,
		Subtotal:          inv.Subtotal,
		InsuranceCoverage: inv.InsuranceCoverage,
		PatientAmount:     inv.PatientAmount,
		Status:            string(inv.Status),
		DueDate:           inv.DueDate,
		PaidAt:            inv.PaidAt,
	}
}

func toLineItems(reqs []LineItemRequest) []billing.LineItem {
	items := make([]billing.LineItem, 0, len(reqs))
	for _, r := range reqs {
		typ := r.Type
		if typ == "" {
			typ = "extra"
		}
		items = append(items, billing.LineItem{
			Type:            typ,
			Description:     r.Description,
			Amount:          r.Amount,
			InsuranceAmount: r.InsuranceAmount,
			PatientAmount:   r.PatientAmount,
		})
	}
	return items
}
