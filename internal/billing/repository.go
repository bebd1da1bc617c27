package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrInvoiceNotPending    = errors.New("invoice is not pending")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentNotRefundable = errors.New("payment is not refundable")
)

// Repository contains the invoice/payment DB interactions used by the ledger.
type Repository interface {
	GetInvoiceByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// PendingInvoice returns the pending invoice of the given type for an
	// appointment, or ErrInvoiceNotFound.
	PendingInvoice(ctx context.Context, appointmentID uuid.UUID, typ InvoiceType) (*Invoice, error)
	ListInvoicesByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Invoice, error)
	CreateInvoice(ctx context.Context, inv *Invoice) (*Invoice, error)

	// MarkInvoiceCaptured is a compare-and-swap on status=pending.
	MarkInvoiceCaptured(ctx context.Context, id uuid.UUID, paidAt time.Time) (*Invoice, error)
	MarkInvoiceOverdue(ctx context.Context, id uuid.UUID) error
	MarkInvoiceRefunded(ctx context.Context, id uuid.UUID) error

	// FindOverdueConsultationInvoices feeds the hold-expiry sweeper.
	FindOverdueConsultationInvoices(ctx context.Context, now time.Time) ([]Invoice, error)

	CreatePayment(ctx context.Context, p *Payment) (*Payment, error)
	CapturedPaymentForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	// MarkPaymentRefunded is a compare-and-swap on status=captured.
	MarkPaymentRefunded(ctx context.Context, id uuid.UUID, amount int64, at time.Time) (*Payment, error)
}
