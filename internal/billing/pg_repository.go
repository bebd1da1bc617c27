package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking-engine/internal/db"
)

type PgRepository struct {
	db db.Querier
}

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{db: q}
}

const invoiceColumns = `id, appointment_id, invoice_type, items, subtotal, insurance_coverage, patient_amount, status, due_date, paid_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var items []byte

	err := row.Scan(
		&inv.ID,
		&inv.AppointmentID,
		&inv.Type,
		&items,
		&inv.Subtotal,
		&inv.InsuranceCoverage,
		&inv.PatientAmount,
		&inv.Status,
		&inv.DueDate,
		&inv.PaidAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &inv.Items); err != nil {
			return nil, fmt.Errorf("decode invoice items: %w", err)
		}
	}

	return &inv, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment

	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.InvoiceID,
		&p.Amount,
		&p.Status,
		&p.PaymentMethod,
		&p.TransactionID,
		&p.CapturedAt,
		&p.RefundedAt,
		&p.RefundAmount,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) GetInvoiceByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1
	`, id)
	return scanInvoice(row)
}

func (r *PgRepository) PendingInvoice(ctx context.Context, appointmentID uuid.UUID, typ InvoiceType) (*Invoice, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE appointment_id = $1
		  AND invoice_type = $2
		  AND status = 'pending'
		ORDER BY created_at
		LIMIT 1
	`, appointmentID, typ)
	return scanInvoice(row)
}

func (r *PgRepository) ListInvoicesByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Invoice, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE appointment_id = $1
		ORDER BY created_at
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inv)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreateInvoice(ctx context.Context, inv *Invoice) (*Invoice, error) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}

	items, err := json.Marshal(inv.Items)
	if err != nil {
		return nil, fmt.Errorf("encode invoice items: %w", err)
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO invoices (id, appointment_id, invoice_type, items, subtotal, insurance_coverage, patient_amount, status, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+invoiceColumns+`
	`, inv.ID, inv.AppointmentID, inv.Type, items, inv.Subtotal, inv.InsuranceCoverage, inv.PatientAmount, inv.Status, inv.DueDate)

	return scanInvoice(row)
}

func (r *PgRepository) MarkInvoiceCaptured(ctx context.Context, id uuid.UUID, paidAt time.Time) (*Invoice, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE invoices
		SET status = 'captured',
		    paid_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+invoiceColumns+`
	`, id, paidAt)

	inv, err := scanInvoice(row)
	if errors.Is(err, ErrInvoiceNotFound) {
		return nil, ErrInvoiceNotPending
	}
	return inv, err
}

func (r *PgRepository) MarkInvoiceOverdue(ctx context.Context, id uuid.UUID) error {
	// Conditional on pending so repeat sweeps are no-ops.
	_, err := r.db.Exec(ctx, `
		UPDATE invoices
		SET status = 'overdue',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, id)
	return err
}

func (r *PgRepository) MarkInvoiceRefunded(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE invoices
		SET status = 'refunded',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'captured'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *PgRepository) FindOverdueConsultationInvoices(ctx context.Context, now time.Time) ([]Invoice, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE invoice_type = 'consultation'
		  AND status = 'pending'
		  AND due_date IS NOT NULL
		  AND due_date <= $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inv)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

const paymentColumns = `id, appointment_id, invoice_id, amount, status, payment_method, transaction_id, captured_at, refunded_at, refund_amount, created_at`

func (r *PgRepository) CreatePayment(ctx context.Context, p *Payment) (*Payment, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO payments (id, appointment_id, invoice_id, amount, status, payment_method, transaction_id, captured_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING `+paymentColumns+`
	`, p.ID, p.AppointmentID, p.InvoiceID, p.Amount, p.Status, p.PaymentMethod, p.TransactionID, p.CapturedAt)

	return scanPayment(row)
}

func (r *PgRepository) CapturedPaymentForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE appointment_id = $1
		  AND status = 'captured'
		ORDER BY created_at DESC
		LIMIT 1
	`, appointmentID)
	return scanPayment(row)
}

func (r *PgRepository) MarkPaymentRefunded(ctx context.Context, id uuid.UUID, amount int64, at time.Time) (*Payment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE payments
		SET status = 'refunded',
		    refunded_at = $2,
		    refund_amount = $3
		WHERE id = $1
		  AND status = 'captured'
		RETURNING `+paymentColumns+`
	`, id, at, amount)

	p, err := scanPayment(row)
	if errors.Is(err, ErrPaymentNotFound) {
		return nil, ErrPaymentNotRefundable
	}
	return p, err
}

// PgPriceBook implements the pricing lookups against the service_prices,
// doctor_tariffs and doctors tables.
type PgPriceBook struct {
	db db.Querier
}

func NewPgPriceBook(q db.Querier) *PgPriceBook {
	return &PgPriceBook{db: q}
}

func (b *PgPriceBook) FacilityPrice(ctx context.Context, serviceCode string) (int64, error) {
	var amount int64
	err := b.db.QueryRow(ctx, `
		SELECT amount
		FROM service_prices
		WHERE service_code = $1 AND active
		ORDER BY created_at DESC
		LIMIT 1
	`, serviceCode).Scan(&amount)
	if err == nil {
		return amount, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// Unknown code: fall back to any active service, then to zero.
	err = b.db.QueryRow(ctx, `
		SELECT amount
		FROM service_prices
		WHERE active
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return amount, nil
}

func (b *PgPriceBook) TariffFor(ctx context.Context, doctorID uuid.UUID, serviceCode string) (*Tariff, error) {
	var t Tariff
	err := b.db.QueryRow(ctx, `
		SELECT kind, amount, unit_fee, min_fee, max_fee
		FROM doctor_tariffs
		WHERE doctor_id = $1 AND service_code = $2
	`, doctorID, serviceCode).Scan(&t.Kind, &t.Amount, &t.UnitFee, &t.MinFee, &t.MaxFee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (b *PgPriceBook) DoctorFlatFee(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	var fee int64
	err := b.db.QueryRow(ctx, `
		SELECT consultation_fee
		FROM doctors
		WHERE id = $1
	`, doctorID).Scan(&fee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return fee, nil
}
