package billing

import (
	"time"

	"github.com/google/uuid"
)

type InvoiceType string

const (
	InvoiceConsultation    InvoiceType = "consultation"
	InvoiceFinalSettlement InvoiceType = "final_settlement"
)

type InvoiceStatus string

const (
	InvoicePending  InvoiceStatus = "pending"
	InvoiceCaptured InvoiceStatus = "captured"
	InvoiceOverdue  InvoiceStatus = "overdue"
	InvoiceRefunded InvoiceStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentCaptured PaymentStatus = "captured"
	PaymentRefunded PaymentStatus = "refunded"
)

// All amounts are integer minor units of the clinic currency.

type LineItem struct {
	Type            string `json:"type"` // facility, doctor_fee, extra
	Description     string `json:"description"`
	Amount          int64  `json:"amount"`
	InsuranceAmount int64  `json:"insurance_amount"`
	PatientAmount   int64  `json:"patient_amount"`
}

// Invoice is an itemized bill for one appointment. Subtotal and the two
// coverage totals are always derived from the items.
type Invoice struct {
	ID                uuid.UUID
	AppointmentID     uuid.UUID
	Type              InvoiceType
	Items             []LineItem
	Subtotal          int64
	InsuranceCoverage int64
	PatientAmount     int64
	Status            InvoiceStatus
	DueDate           *time.Time
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Payment records one settlement attempt against an invoice.
type Payment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	InvoiceID     uuid.UUID
	Amount        int64
	Status        PaymentStatus
	PaymentMethod string
	TransactionID string
	CapturedAt    *time.Time
	RefundedAt    *time.Time
	RefundAmount  int64
	CreatedAt     time.Time
}

// recomputeTotals derives the invoice totals from its items.
func (inv *Invoice) recomputeTotals() {
	var subtotal, insurance, patient int64
	for _, it := range inv.Items {
		subtotal += it.Amount
		insurance += it.InsuranceAmount
		patient += it.PatientAmount
	}
	inv.Subtotal = subtotal
	inv.InsuranceCoverage = insurance
	inv.PatientAmount = patient
}
