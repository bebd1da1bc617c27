package appointment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

type PgRepository struct {
	db db.Querier
}

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{db: q}
}

const appointmentColumns = `id, patient_id, doctor_id, schedule_id, new_schedule_id, service_code,
appointment_date, appointment_time, status, payment_status,
consultation_fee, deposit_amount, total_amount, insurance_coverage, patient_amount,
doctor_decision, doctor_notes, reschedule_reason, rejection_reason, cancelled_by, cancellation_reason,
extension, reschedule_proposal,
booked_at, confirmed_at, started_at, completed_at, cancelled_at, hold_expires_at,
created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var decision, notes, reschedReason, rejReason, cancelledBy, cancelReason sql.NullString
	var extension, proposal []byte

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ScheduleID,
		&a.NewScheduleID,
		&a.ServiceCode,
		&a.AppointmentDate,
		&a.AppointmentTime,
		&a.Status,
		&a.PaymentStatus,
		&a.ConsultationFee,
		&a.DepositAmount,
		&a.TotalAmount,
		&a.InsuranceCoverage,
		&a.PatientAmount,
		&decision,
		&notes,
		&reschedReason,
		&rejReason,
		&cancelledBy,
		&cancelReason,
		&extension,
		&proposal,
		&a.BookedAt,
		&a.ConfirmedAt,
		&a.StartedAt,
		&a.CompletedAt,
		&a.CancelledAt,
		&a.HoldExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.DoctorDecision = decision.String
	a.DoctorNotes = notes.String
	a.RescheduleReason = reschedReason.String
	a.RejectionReason = rejReason.String
	a.CancelledBy = cancelledBy.String
	a.CancellationReason = cancelReason.String

	if len(extension) > 0 {
		a.Extension = &Extension{}
		if err := json.Unmarshal(extension, a.Extension); err != nil {
			return nil, fmt.Errorf("decode extension: %w", err)
		}
	}
	if len(proposal) > 0 {
		a.Reschedule = &RescheduleProposal{}
		if err := json.Unmarshal(proposal, a.Reschedule); err != nil {
			return nil, fmt.Errorf("decode reschedule proposal: %w", err)
		}
	}

	return &a, nil
}

func encodeEmbedded(a *Appointment) (extension, proposal []byte, err error) {
	if a.Extension != nil {
		extension, err = json.Marshal(a.Extension)
		if err != nil {
			return nil, nil, fmt.Errorf("encode extension: %w", err)
		}
	}
	if a.Reschedule != nil {
		proposal, err = json.Marshal(a.Reschedule)
		if err != nil {
			return nil, nil, fmt.Errorf("encode reschedule proposal: %w", err)
		}
	}
	return extension, proposal, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetPatientRef(ctx context.Context, id uuid.UUID) (*PatientRef, error) {
	var p PatientRef
	err := r.db.QueryRow(ctx, `
		SELECT id, name, insurance_eligible, copay_rate
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.InsuranceEligible, &p.CopayRate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetDoctorRef(ctx context.Context, id uuid.UUID) (*DoctorRef, error) {
	var d DoctorRef
	err := r.db.QueryRow(ctx, `
		SELECT id, name, specialty
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Specialty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) GetDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &AppointmentDetail{Appointment: *a}

	// Hydration is best-effort: a missing reference leaves the field nil
	// rather than failing the read.
	if p, err := r.GetPatientRef(ctx, a.PatientID); err == nil {
		detail.Patient = p
	}
	if d, err := r.GetDoctorRef(ctx, a.DoctorID); err == nil {
		detail.Doctor = d
	}

	var s schedule.Slot
	err = r.db.QueryRow(ctx, `
		SELECT id, doctor_id, slot_date, start_time, end_time, is_available, created_at, updated_at
		FROM schedule_slots
		WHERE id = $1
	`, a.ScheduleID).Scan(&s.ID, &s.DoctorID, &s.Date, &s.StartTime, &s.EndTime, &s.IsAvailable, &s.CreatedAt, &s.UpdatedAt)
	if err == nil {
		detail.Slot = &s
	}

	return detail, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	extension, proposal, err := encodeEmbedded(a)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, schedule_id, new_schedule_id, service_code,
			appointment_date, appointment_time, status, payment_status,
			consultation_fee, deposit_amount, total_amount, insurance_coverage, patient_amount,
			doctor_decision, doctor_notes, reschedule_reason, rejection_reason, cancelled_by, cancellation_reason,
			extension, reschedule_proposal,
			booked_at, confirmed_at, started_at, completed_at, cancelled_at, hold_expires_at,
			created_at, updated_at
		)
		VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21,
			$22, $23,
			$24, $25, $26, $27, $28, $29,
			now(), now()
		)
		RETURNING `+appointmentColumns+`
	`,
		a.ID, a.PatientID, a.DoctorID, a.ScheduleID, a.NewScheduleID, a.ServiceCode,
		a.AppointmentDate, a.AppointmentTime, a.Status, a.PaymentStatus,
		a.ConsultationFee, a.DepositAmount, a.TotalAmount, a.InsuranceCoverage, a.PatientAmount,
		nullable(a.DoctorDecision), nullable(a.DoctorNotes), nullable(a.RescheduleReason), nullable(a.RejectionReason), nullable(a.CancelledBy), nullable(a.CancellationReason),
		extension, proposal,
		a.BookedAt, a.ConfirmedAt, a.StartedAt, a.CompletedAt, a.CancelledAt, a.HoldExpiresAt,
	)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateBooking
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateIfStatus(ctx context.Context, a *Appointment, from Status) (*Appointment, error) {
	extension, proposal, err := encodeEmbedded(a)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET schedule_id = $3,
		    new_schedule_id = $4,
		    appointment_date = $5,
		    appointment_time = $6,
		    status = $7,
		    payment_status = $8,
		    consultation_fee = $9,
		    deposit_amount = $10,
		    total_amount = $11,
		    insurance_coverage = $12,
		    patient_amount = $13,
		    doctor_decision = $14,
		    doctor_notes = $15,
		    reschedule_reason = $16,
		    rejection_reason = $17,
		    cancelled_by = $18,
		    cancellation_reason = $19,
		    extension = $20,
		    reschedule_proposal = $21,
		    confirmed_at = $22,
		    started_at = $23,
		    completed_at = $24,
		    cancelled_at = $25,
		    hold_expires_at = $26,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns+`
	`,
		a.ID, from,
		a.ScheduleID, a.NewScheduleID, a.AppointmentDate, a.AppointmentTime,
		a.Status, a.PaymentStatus,
		a.ConsultationFee, a.DepositAmount, a.TotalAmount, a.InsuranceCoverage, a.PatientAmount,
		nullable(a.DoctorDecision), nullable(a.DoctorNotes), nullable(a.RescheduleReason), nullable(a.RejectionReason), nullable(a.CancelledBy), nullable(a.CancellationReason),
		extension, proposal,
		a.ConfirmedAt, a.StartedAt, a.CompletedAt, a.CancelledAt, a.HoldExpiresAt,
	)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStaleTransition
	}
	return updated, err
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, booked_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY appointment_date DESC, booked_at DESC
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CountBlockingOnDay(ctx context.Context, patientID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE patient_id = $1
		  AND appointment_date = $2
		  AND status IN ('await_payment', 'booked', 'confirmed')
	`, patientID, day).Scan(&n)
	return n, err
}

func (r *PgRepository) CountBlockingBySpecialtyOnDay(ctx context.Context, patientID uuid.UUID, specialty string, day time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		WHERE a.patient_id = $1
		  AND a.appointment_date = $2
		  AND d.specialty = $3
		  AND a.status NOT IN ('cancelled', 'closed', 'completed', 'payment_overdue', 'doctor_rejected')
	`, patientID, day, specialty).Scan(&n)
	return n, err
}

func (r *PgRepository) NextForDoctorAfter(ctx context.Context, doctorID uuid.UUID, day time.Time, after time.Time, excludeID uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND booked_at > $3
		  AND id <> $4
		  AND status NOT IN ('cancelled', 'closed', 'payment_overdue', 'doctor_rejected')
		ORDER BY booked_at
		LIMIT 1
	`, doctorID, day, after, excludeID)
	return scanAppointment(row)
}

func (r *PgRepository) FindByExtensionTarget(ctx context.Context, targetID uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE extension ->> 'status' = 'consent_pending'
		  AND extension ->> 'target_next_appt_id' = $1
		LIMIT 1
	`, targetID.String())
	return scanAppointment(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert appointment event: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
