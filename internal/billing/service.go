package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger owns invoice and payment records. State transitions on the
// appointment side call into it and never write invoices directly.
type Ledger struct {
	repo   Repository
	engine *Engine
	logger zerolog.Logger
	now    func() time.Time
}

func NewLedger(repo Repository, engine *Engine, logger zerolog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		engine: engine,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the ledger clock. Tests use it to pin deadlines.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Quote previews a price without persisting anything.
func (l *Ledger) Quote(ctx context.Context, in QuoteInput) (*Quote, error) {
	return l.engine.Quote(ctx, in)
}

// EnsureConsultationInvoice returns the pending consultation invoice for the
// appointment, creating one from a fresh quote when none exists. The lookup
// before create makes duplicate concurrent triggers converge on one invoice.
// The second return reports whether an invoice was created by this call.
func (l *Ledger) EnsureConsultationInvoice(ctx context.Context, appointmentID uuid.UUID, in QuoteInput, dueDate time.Time) (*Invoice, bool, error) {
	existing, err := l.repo.PendingInvoice(ctx, appointmentID, InvoiceConsultation)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrInvoiceNotFound) {
		return nil, false, fmt.Errorf("check pending invoice: %w", err)
	}

	quote, err := l.engine.Quote(ctx, in)
	if err != nil {
		return nil, false, fmt.Errorf("price consultation: %w", err)
	}

	inv := &Invoice{
		AppointmentID:     appointmentID,
		Type:              InvoiceConsultation,
		Items:             quote.Items,
		Subtotal:          quote.Subtotal,
		InsuranceCoverage: quote.InsuranceCoverage,
		PatientAmount:     quote.PatientAmount,
		Status:            InvoicePending,
		DueDate:           &dueDate,
	}

	created, err := l.repo.CreateInvoice(ctx, inv)
	if err != nil {
		return nil, false, fmt.Errorf("create consultation invoice: %w", err)
	}

	return created, true, nil
}

// CapturePending captures the pending consultation invoice and records
// exactly one Payment for it.
func (l *Ledger) CapturePending(ctx context.Context, appointmentID uuid.UUID, method, transactionID string) (*Invoice, *Payment, error) {
	inv, err := l.repo.PendingInvoice(ctx, appointmentID, InvoiceConsultation)
	if err != nil {
		return nil, nil, err
	}

	now := l.now()
	captured, err := l.repo.MarkInvoiceCaptured(ctx, inv.ID, now)
	if err != nil {
		return nil, nil, err
	}

	payment, err := l.repo.CreatePayment(ctx, &Payment{
		AppointmentID: appointmentID,
		InvoiceID:     captured.ID,
		Amount:        captured.PatientAmount,
		Status:        PaymentCaptured,
		PaymentMethod: method,
		TransactionID: transactionID,
		CapturedAt:    &now,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("record payment: %w", err)
	}

	return captured, payment, nil
}

// Refund moves the captured payment and its invoice to refunded. Terminal.
func (l *Ledger) Refund(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	payment, err := l.repo.CapturedPaymentForAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	refunded, err := l.repo.MarkPaymentRefunded(ctx, payment.ID, payment.Amount, l.now())
	if err != nil {
		return nil, err
	}

	if err := l.repo.MarkInvoiceRefunded(ctx, payment.InvoiceID); err != nil {
		// The payment refund already committed; the invoice mirror is
		// best-effort and repairable.
		l.logger.Error().Err(err).
			Str("invoice_id", payment.InvoiceID.String()).
			Msg("refund: invoice status update failed")
	}

	return refunded, nil
}

// OverdueConsultationInvoices lists pending consultation invoices past due.
func (l *Ledger) OverdueConsultationInvoices(ctx context.Context, now time.Time) ([]Invoice, error) {
	return l.repo.FindOverdueConsultationInvoices(ctx, now)
}

// MarkOverdue flips one invoice to overdue. No-op if already handled.
func (l *Ledger) MarkOverdue(ctx context.Context, invoiceID uuid.UUID) error {
	return l.repo.MarkInvoiceOverdue(ctx, invoiceID)
}

// CreateFinalSettlement creates the discharge-time invoice for extra charges
// accrued during the consultation.
func (l *Ledger) CreateFinalSettlement(ctx context.Context, appointmentID uuid.UUID, extras []LineItem, dueDate time.Time) (*Invoice, error) {
	if len(extras) == 0 {
		return nil, nil
	}

	inv := &Invoice{
		AppointmentID: appointmentID,
		Type:          InvoiceFinalSettlement,
		Items:         extras,
		Status:        InvoicePending,
		DueDate:       &dueDate,
	}
	inv.recomputeTotals()

	created, err := l.repo.CreateInvoice(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("create final settlement invoice: %w", err)
	}

	return created, nil
}

// InvoicesFor lists all invoices tied to an appointment.
func (l *Ledger) InvoicesFor(ctx context.Context, appointmentID uuid.UUID) ([]Invoice, error) {
	return l.repo.ListInvoicesByAppointment(ctx, appointmentID)
}
