package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/billing"
	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/notify"
	"github.com/hackgods/clinic-booking-engine/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-engine/internal/redisclient"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

var (
	ErrInvalidTransition = errors.New("transition not allowed")
	ErrForbidden         = errors.New("actor may not perform this action")
	ErrHoldExpired       = errors.New("payment hold has expired")
	ErrTooLateToCancel   = errors.New("too close to the appointment to cancel")
	ErrConsentExpired    = errors.New("consent window has closed")
	ErrExtensionPending  = errors.New("an extension request is already pending")
	ErrNoActiveExtension = errors.New("no extension awaits this patient's consent")
	ErrNoRescheduleOffer = errors.New("no reschedule offer to act on")
	ErrNotRefundable     = errors.New("appointment has no refundable payment")
)

// ValidationError marks bad request input, as opposed to state conflicts.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Biller is the slice of the billing ledger the engine drives.
type Biller interface {
	Quote(ctx context.Context, in billing.QuoteInput) (*billing.Quote, error)
	EnsureConsultationInvoice(ctx context.Context, appointmentID uuid.UUID, in billing.QuoteInput, dueDate time.Time) (*billing.Invoice, bool, error)
	CapturePending(ctx context.Context, appointmentID uuid.UUID, method, transactionID string) (*billing.Invoice, *billing.Payment, error)
	Refund(ctx context.Context, appointmentID uuid.UUID) (*billing.Payment, error)
	OverdueConsultationInvoices(ctx context.Context, now time.Time) ([]billing.Invoice, error)
	MarkOverdue(ctx context.Context, invoiceID uuid.UUID) error
	CreateFinalSettlement(ctx context.Context, appointmentID uuid.UUID, extras []billing.LineItem, dueDate time.Time) (*billing.Invoice, error)
	InvoicesFor(ctx context.Context, appointmentID uuid.UUID) ([]billing.Invoice, error)
}

// Intake prepares clinical paperwork when a consultation starts.
type Intake interface {
	EnsureConsultRecords(ctx context.Context, appointmentID, patientID, doctorID uuid.UUID) error
}

// Service drives every appointment through its lifecycle. All status changes
// funnel through transition, which enforces the table, authorization and the
// compare-and-swap write.
type Service struct {
	repo     Repository
	slots    schedule.Registry
	locker   redisclient.Locker
	ledger   Biller
	intake   Intake
	notifier notify.Notifier
	metrics  *metrics.BookingMetrics
	logger   zerolog.Logger
	cfg      config.Config
	loc      *time.Location
	now      func() time.Time
}

func NewService(
	repo Repository,
	slots schedule.Registry,
	locker redisclient.Locker,
	ledger Biller,
	intake Intake,
	notifier notify.Notifier,
	m *metrics.BookingMetrics,
	logger zerolog.Logger,
	cfg config.Config,
) *Service {
	return &Service{
		repo:     repo,
		slots:    slots,
		locker:   locker,
		ledger:   ledger,
		intake:   intake,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		loc:      cfg.ClinicLocation(),
		now:      time.Now,
	}
}

// WithClock overrides the service clock. Tests use it to pin deadlines.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// transition is the single chokepoint for status changes. mutate runs on a
// copy with the target status already set; the write is conditional on the
// row still holding the status we read.
func (s *Service) transition(ctx context.Context, a *Appointment, actor Actor, target Status, mutate func(*Appointment)) (*Appointment, error) {
	from := a.Status
	if !CanTransition(from, target) {
		s.metrics.ObserveTransition(string(from), string(target), "rejected")
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}
	if !authorized(a, actor, target) {
		return nil, ErrForbidden
	}

	next := *a
	next.Status = target
	if mutate != nil {
		mutate(&next)
	}

	updated, err := s.repo.UpdateIfStatus(ctx, &next, from)
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			s.metrics.ObserveTransition(string(from), string(target), "stale")
		}
		return nil, err
	}

	s.metrics.ObserveTransition(string(from), string(target), "ok")
	s.logEvent(ctx, "appointment."+string(target), updated.ID, map[string]any{
		"from":  from,
		"actor": actor.ID,
		"role":  actor.Role,
	})
	return updated, nil
}

func (s *Service) logEvent(ctx context.Context, eventType string, appointmentID uuid.UUID, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("event payload encode failed")
		return
	}
	id := appointmentID
	if err := s.repo.InsertEvent(ctx, EventLog{EventType: eventType, AppointmentID: &id, Payload: body}); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("event log write failed")
	}
}

type BookInput struct {
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	ScheduleID  uuid.UUID
	ServiceCode string
	// RequireApproval routes the booking through doctor review before
	// payment instead of opening a payment hold immediately.
	RequireApproval bool
}

// Book reserves the slot and creates the appointment. The per-slot Redis
// lock serializes racing requests; the slot flag flip is the authoritative
// winner selection underneath it.
func (s *Service) Book(ctx context.Context, actor Actor, in BookInput) (*Appointment, error) {
	if actor.Role == RolePatient && actor.ID != in.PatientID {
		return nil, ErrForbidden
	}
	if in.ServiceCode == "" {
		return nil, validationf("service_code is required")
	}

	patient, err := s.repo.GetPatientRef(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.repo.GetDoctorRef(ctx, in.DoctorID)
	if err != nil {
		return nil, err
	}
	slot, err := s.slots.GetByID(ctx, in.ScheduleID)
	if err != nil {
		return nil, err
	}
	if slot.DoctorID != in.DoctorID {
		return nil, validationf("slot %s does not belong to doctor %s", slot.ID, in.DoctorID)
	}

	now := s.now()
	if !slot.StartTime.After(now) {
		return nil, validationf("slot is in the past")
	}

	day := clinicDay(slot.Date, s.loc)
	blocking, err := s.repo.CountBlockingOnDay(ctx, in.PatientID, day)
	if err != nil {
		return nil, fmt.Errorf("check daily bookings: %w", err)
	}
	if blocking > 0 {
		return nil, ErrDuplicateBooking
	}
	if doctor.Specialty != nil {
		n, err := s.repo.CountBlockingBySpecialtyOnDay(ctx, in.PatientID, *doctor.Specialty, day)
		if err == nil && n > 0 {
			return nil, ErrDuplicateBooking
		}
	}

	var created *Appointment
	err = s.locker.WithSlotLock(ctx, slot.ID, func(ctx context.Context) error {
		if err := s.slots.Acquire(ctx, slot.ID); err != nil {
			return err
		}

		a := &Appointment{
			PatientID:       in.PatientID,
			DoctorID:        in.DoctorID,
			ScheduleID:      slot.ID,
			ServiceCode:     in.ServiceCode,
			AppointmentDate: day,
			AppointmentTime: slotWindow(slot),
			PaymentStatus:   PaymentPending,
			BookedAt:        now,
		}
		if in.RequireApproval {
			a.Status = StatusBooked
		} else {
			a.Status = StatusAwaitPayment
			holdUntil := now.Add(s.cfg.HoldDuration)
			a.HoldExpiresAt = &holdUntil
		}

		created, err = s.repo.Create(ctx, a)
		if err != nil {
			// Give the slot back so the row-level conflict does not
			// strand it.
			if relErr := s.slots.Release(ctx, slot.ID); relErr != nil {
				s.logger.Error().Err(relErr).Str("slot_id", slot.ID.String()).Msg("slot release after failed create")
			}
			return err
		}

		if created.Status == StatusAwaitPayment {
			created, _, err = s.attachHoldInvoice(ctx, created, patient, slot)
			if err != nil {
				// The booking stands; the invoice is recreated lazily
				// on the payment path.
				s.logger.Error().Err(err).Str("appointment_id", created.ID.String()).Msg("consultation invoice deferred")
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) || errors.Is(err, schedule.ErrSlotUnavailable) {
			s.metrics.ObserveBookingConflict()
		}
		return nil, err
	}

	s.logEvent(ctx, "appointment.booked", created.ID, map[string]any{
		"patient_id": in.PatientID,
		"doctor_id":  in.DoctorID,
		"slot_id":    slot.ID,
		"status":     created.Status,
	})
	s.notifier.Notify(ctx, in.DoctorID, "appointment_booked", "New appointment",
		fmt.Sprintf("%s booked %s %s", patient.Name, day.Format("2006-01-02"), created.AppointmentTime),
		map[string]any{"appointment_id": created.ID})

	return created, nil
}

// attachHoldInvoice prices the consultation, opens the pending invoice due
// at hold expiry, and snapshots the totals onto the appointment row.
func (s *Service) attachHoldInvoice(ctx context.Context, a *Appointment, patient *PatientRef, slot *schedule.Slot) (*Appointment, *billing.Invoice, error) {
	if a.HoldExpiresAt == nil {
		return a, nil, errors.New("appointment has no payment hold")
	}

	inv, _, err := s.ledger.EnsureConsultationInvoice(ctx, a.ID, s.quoteInput(patient, slot, a.ServiceCode), *a.HoldExpiresAt)
	if err != nil {
		return a, nil, err
	}

	next := *a
	next.TotalAmount = inv.Subtotal
	next.InsuranceCoverage = inv.InsuranceCoverage
	next.PatientAmount = inv.PatientAmount
	next.ConsultationFee = doctorFeeOf(inv)
	if inv.DueDate != nil {
		next.HoldExpiresAt = inv.DueDate
	}

	updated, err := s.repo.UpdateIfStatus(ctx, &next, a.Status)
	if err != nil {
		return a, nil, fmt.Errorf("snapshot invoice totals: %w", err)
	}
	return updated, inv, nil
}

func (s *Service) quoteInput(patient *PatientRef, slot *schedule.Slot, serviceCode string) billing.QuoteInput {
	return billing.QuoteInput{
		ServiceCode:       serviceCode,
		DoctorID:          slot.DoctorID,
		DurationMinutes:   slot.DurationMinutes(),
		StartTime:         slot.StartTime,
		InsuranceEligible: patient.InsuranceEligible,
		CopayRate:         patient.CopayRate,
	}
}

func doctorFeeOf(inv *billing.Invoice) int64 {
	for _, it := range inv.Items {
		if it.Type == "doctor_fee" {
			return it.Amount
		}
	}
	return 0
}

// DoctorApprove moves a reviewed booking forward. If the patient already
// paid (re-approval after a reschedule) it lands directly in confirmed;
// otherwise a payment hold opens.
func (s *Service) DoctorApprove(ctx context.Context, actor Actor, id uuid.UUID, notes string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	approved, err := s.transition(ctx, a, actor, StatusDoctorApproved, func(n *Appointment) {
		n.DoctorDecision = "approved"
		if notes != "" {
			n.DoctorNotes = notes
		}
	})
	if err != nil {
		return nil, err
	}

	system := Actor{Role: RoleSystem}
	now := s.now()

	if approved.PaymentSettled() {
		return s.transition(ctx, approved, system, StatusConfirmed, func(n *Appointment) {
			n.ConfirmedAt = &now
		})
	}

	holdUntil := now.Add(s.cfg.HoldDuration)
	awaiting, err := s.transition(ctx, approved, system, StatusAwaitPayment, func(n *Appointment) {
		n.HoldExpiresAt = &holdUntil
	})
	if err != nil {
		return nil, err
	}

	patient, perr := s.repo.GetPatientRef(ctx, awaiting.PatientID)
	slot, serr := s.slots.GetByID(ctx, awaiting.ScheduleID)
	if perr == nil && serr == nil {
		if withInvoice, _, ierr := s.attachHoldInvoice(ctx, awaiting, patient, slot); ierr == nil {
			awaiting = withInvoice
		} else {
			s.logger.Error().Err(ierr).Str("appointment_id", awaiting.ID.String()).Msg("consultation invoice deferred")
		}
	}

	s.notifier.Notify(ctx, awaiting.PatientID, "appointment_approved", "Appointment approved",
		fmt.Sprintf("Pay %d by %s to keep your slot", awaiting.PatientAmount, holdUntil.Format(time.RFC3339)),
		map[string]any{"appointment_id": awaiting.ID})

	return awaiting, nil
}

// DoctorReject declines the booking and frees the slot.
func (s *Service) DoctorReject(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rejected, err := s.transition(ctx, a, actor, StatusDoctorRejected, func(n *Appointment) {
		n.DoctorDecision = "rejected"
		n.RejectionReason = reason
		n.HoldExpiresAt = nil
	})
	if err != nil {
		return nil, err
	}

	s.releaseSlot(ctx, rejected.ScheduleID)
	s.notifier.Notify(ctx, rejected.PatientID, "appointment_rejected", "Appointment declined",
		reason, map[string]any{"appointment_id": rejected.ID})
	return rejected, nil
}

// Cancel ends the appointment. Patients are held to the cancellation cutoff
// measured against the slot start unless they send an explicit override;
// staff are never held to it.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string, override bool) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if actor.Role == RolePatient && !override {
		slot, err := s.slots.GetByID(ctx, a.ScheduleID)
		if err == nil && slot.StartTime.Sub(now) < s.cfg.CancelCutoff {
			return nil, ErrTooLateToCancel
		}
	}

	cancelled, err := s.transition(ctx, a, actor, StatusCancelled, func(n *Appointment) {
		n.CancelledBy = string(actor.Role)
		n.CancellationReason = reason
		n.CancelledAt = &now
		n.HoldExpiresAt = nil
	})
	if err != nil {
		return nil, err
	}

	s.releaseSlot(ctx, cancelled.ScheduleID)

	counterpart := cancelled.DoctorID
	if actor.Role != RolePatient {
		counterpart = cancelled.PatientID
	}
	s.notifier.Notify(ctx, counterpart, "appointment_cancelled", "Appointment cancelled",
		reason, map[string]any{"appointment_id": cancelled.ID, "cancelled_by": actor.Role})

	return cancelled, nil
}

// ProcessPayment captures the consultation invoice and confirms the
// appointment. A lapsed hold is expired in place and rejected.
func (s *Service) ProcessPayment(ctx context.Context, actor Actor, id uuid.UUID, method, transactionID string) (*Appointment, *billing.Payment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if a.Status != StatusAwaitPayment {
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, StatusPaid)
	}

	now := s.now()
	if a.HoldExpired(now) {
		if err := s.expireHold(ctx, a); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("hold expiry on payment path")
		}
		return nil, nil, ErrHoldExpired
	}

	// Repair a missing invoice before capture; booking defers it on error.
	if patient, perr := s.repo.GetPatientRef(ctx, a.PatientID); perr == nil {
		if slot, serr := s.slots.GetByID(ctx, a.ScheduleID); serr == nil {
			if repaired, _, ierr := s.attachHoldInvoice(ctx, a, patient, slot); ierr == nil {
				a = repaired
			}
		}
	}

	invoice, payment, err := s.ledger.CapturePending(ctx, a.ID, method, transactionID)
	if err != nil {
		return nil, nil, err
	}

	paid, err := s.transition(ctx, a, actor, StatusPaid, func(n *Appointment) {
		n.PaymentStatus = PaymentCaptured
		n.TotalAmount = invoice.Subtotal
		n.InsuranceCoverage = invoice.InsuranceCoverage
		n.PatientAmount = invoice.PatientAmount
		n.ConsultationFee = doctorFeeOf(invoice)
		n.DepositAmount = payment.Amount
		n.HoldExpiresAt = nil
	})
	if err != nil {
		return nil, nil, err
	}

	confirmed, err := s.transition(ctx, paid, Actor{Role: RoleSystem}, StatusConfirmed, func(n *Appointment) {
		n.ConfirmedAt = &now
	})
	if err != nil {
		return nil, nil, err
	}

	s.notifier.Notify(ctx, confirmed.DoctorID, "appointment_confirmed", "Appointment confirmed",
		fmt.Sprintf("Payment received for %s %s", confirmed.AppointmentDate.Format("2006-01-02"), confirmed.AppointmentTime),
		map[string]any{"appointment_id": confirmed.ID})

	return confirmed, payment, nil
}

// RefundPayment refunds the captured consultation payment of an ended
// appointment. Admin only.
func (s *Service) RefundPayment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, *billing.Payment, error) {
	if actor.Role != RoleAdmin && actor.Role != RoleSystem {
		return nil, nil, ErrForbidden
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if a.PaymentStatus != PaymentCaptured {
		return nil, nil, ErrNotRefundable
	}
	switch a.Status {
	case StatusCancelled, StatusDoctorRejected, StatusClosed:
	default:
		return nil, nil, ErrNotRefundable
	}

	payment, err := s.ledger.Refund(ctx, a.ID)
	if err != nil {
		return nil, nil, err
	}

	next := *a
	next.PaymentStatus = PaymentRefunded
	updated, err := s.repo.UpdateIfStatus(ctx, &next, a.Status)
	if err != nil {
		return nil, nil, err
	}

	s.logEvent(ctx, "payment.refunded", updated.ID, map[string]any{"payment_id": payment.ID, "amount": payment.RefundAmount})
	s.notifier.Notify(ctx, updated.PatientID, "payment_refunded", "Payment refunded",
		fmt.Sprintf("%d was refunded", payment.RefundAmount), map[string]any{"appointment_id": updated.ID})

	return updated, payment, nil
}

// StartConsultation opens the visit and prepares the clinical paperwork.
func (s *Service) StartConsultation(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	started, err := s.transition(ctx, a, actor, StatusInConsult, func(n *Appointment) {
		n.StartedAt = &now
	})
	if err != nil {
		return nil, err
	}

	if err := s.intake.EnsureConsultRecords(ctx, started.ID, started.PatientID, started.DoctorID); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", started.ID.String()).Msg("consult record prep failed")
	}
	return started, nil
}

func (s *Service) IssuePrescription(ctx context.Context, actor Actor, id uuid.UUID, notes string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, a, actor, StatusPrescriptionIssued, func(n *Appointment) {
		if notes != "" {
			n.DoctorNotes = appendNote(n.DoctorNotes, notes)
		}
	})
}

// ReadyForDischarge closes the clinical part of the visit. Extra charges
// accrued in the room become a final settlement invoice.
func (s *Service) ReadyForDischarge(ctx context.Context, actor Actor, id uuid.UUID, extras []billing.LineItem) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ready, err := s.transition(ctx, a, actor, StatusReadyToDischarge, nil)
	if err != nil {
		return nil, err
	}

	if len(extras) > 0 {
		due := s.now().AddDate(0, 0, 7)
		if _, err := s.ledger.CreateFinalSettlement(ctx, ready.ID, extras, due); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", ready.ID.String()).Msg("final settlement invoice failed")
		} else {
			s.notifier.Notify(ctx, ready.PatientID, "final_settlement", "Final settlement issued",
				"Extra charges from your visit are ready to pay", map[string]any{"appointment_id": ready.ID})
		}
	}
	return ready, nil
}

func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	done, err := s.transition(ctx, a, actor, StatusCompleted, func(n *Appointment) {
		n.CompletedAt = &now
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, done.PatientID, "appointment_completed", "Visit complete",
		"Thank you for visiting", map[string]any{"appointment_id": done.ID})
	return done, nil
}

// Close archives rejected and overdue appointments.
func (s *Service) Close(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, a, actor, StatusClosed, nil)
}

// ExpireHold moves an appointment whose payment hold lapsed to
// payment_overdue. Safe to call on anything; already-settled rows are left
// alone.
func (s *Service) ExpireHold(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !a.HoldExpired(s.now()) {
		return nil
	}
	return s.expireHold(ctx, a)
}

func (s *Service) expireHold(ctx context.Context, a *Appointment) error {
	_, err := s.transition(ctx, a, Actor{Role: RoleSystem}, StatusPaymentOverdue, func(n *Appointment) {
		n.PaymentStatus = PaymentOverdue
	})
	if errors.Is(err, ErrStaleTransition) {
		// A concurrent payment or cancellation won; nothing to undo.
		return nil
	}
	if err != nil {
		return err
	}

	s.releaseSlot(ctx, a.ScheduleID)
	s.markConsultationOverdue(ctx, a.ID)
	s.metrics.ObserveHoldExpired()
	s.notifier.Notify(ctx, a.PatientID, "hold_expired", "Payment window expired",
		"Your slot was released because payment did not arrive in time",
		map[string]any{"appointment_id": a.ID})
	return nil
}

func (s *Service) markConsultationOverdue(ctx context.Context, appointmentID uuid.UUID) {
	invs, err := s.ledger.InvoicesFor(ctx, appointmentID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("overdue invoice lookup failed")
		return
	}
	for _, inv := range invs {
		if inv.Type == billing.InvoiceConsultation && inv.Status == billing.InvoicePending {
			if err := s.ledger.MarkOverdue(ctx, inv.ID); err != nil {
				s.logger.Warn().Err(err).Str("invoice_id", inv.ID.String()).Msg("mark invoice overdue failed")
			}
		}
	}
}

func (s *Service) releaseSlot(ctx context.Context, slotID uuid.UUID) {
	if err := s.slots.Release(ctx, slotID); err != nil && !errors.Is(err, schedule.ErrSlotNotHeld) {
		s.logger.Error().Err(err).Str("slot_id", slotID.String()).Msg("slot release failed")
	}
}

// Get returns the hydrated appointment. A lapsed hold is corrected before
// the read is answered so callers never see a stale await_payment.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.mayRead(actor, &detail.Appointment) {
		return nil, ErrForbidden
	}

	if detail.HoldExpired(s.now()) {
		if err := s.expireHold(ctx, &detail.Appointment); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", id.String()).Msg("hold expiry on read path")
		}
		return s.repo.GetDetail(ctx, id)
	}
	return detail, nil
}

func (s *Service) mayRead(actor Actor, a *Appointment) bool {
	switch actor.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleDoctor:
		return actor.ID == a.DoctorID
	case RolePatient:
		return actor.ID == a.PatientID
	default:
		return false
	}
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListByPatient scopes patients to their own history.
func (s *Service) ListByPatient(ctx context.Context, actor Actor, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if actor.Role == RolePatient && actor.ID != patientID {
		return nil, ErrForbidden
	}
	limit, offset = clampPage(limit, offset)
	list, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.correctLapsedHolds(ctx, list), nil
}

func (s *Service) ListByDoctor(ctx context.Context, actor Actor, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if actor.Role == RolePatient {
		return nil, ErrForbidden
	}
	if actor.Role == RoleDoctor && actor.ID != doctorID {
		return nil, ErrForbidden
	}
	limit, offset = clampPage(limit, offset)
	list, err := s.repo.ListByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.correctLapsedHolds(ctx, list), nil
}

// correctLapsedHolds applies the same read-path hold expiry as Get to a
// listed page, so a lapsed await_payment row is never served as live.
func (s *Service) correctLapsedHolds(ctx context.Context, list []Appointment) []Appointment {
	now := s.now()
	for i := range list {
		if !list[i].HoldExpired(now) {
			continue
		}
		if err := s.expireHold(ctx, &list[i]); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", list[i].ID.String()).Msg("hold expiry on list path")
		}
		if fresh, err := s.repo.GetByID(ctx, list[i].ID); err == nil {
			list[i] = *fresh
		}
	}
	return list
}

// Invoices lists the appointment's invoices, same visibility as the
// appointment itself.
func (s *Service) Invoices(ctx context.Context, actor Actor, id uuid.UUID) ([]billing.Invoice, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.mayRead(actor, a) {
		return nil, ErrForbidden
	}
	return s.ledger.InvoicesFor(ctx, a.ID)
}

// ConsultationInvoice returns the appointment's consultation invoice,
// creating it first when the payment hold is open and none exists yet.
func (s *Service) ConsultationInvoice(ctx context.Context, actor Actor, id uuid.UUID) (*billing.Invoice, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.mayRead(actor, a) {
		return nil, ErrForbidden
	}

	if a.Status == StatusAwaitPayment {
		if a.HoldExpired(s.now()) {
			if err := s.expireHold(ctx, a); err != nil {
				s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("hold expiry on invoice path")
			}
			return nil, ErrHoldExpired
		}
		patient, err := s.repo.GetPatientRef(ctx, a.PatientID)
		if err != nil {
			return nil, err
		}
		slot, err := s.slots.GetByID(ctx, a.ScheduleID)
		if err != nil {
			return nil, err
		}
		_, inv, err := s.attachHoldInvoice(ctx, a, patient, slot)
		if err != nil {
			return nil, err
		}
		return inv, nil
	}

	invoices, err := s.ledger.InvoicesFor(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		if invoices[i].Type == billing.InvoiceConsultation {
			return &invoices[i], nil
		}
	}
	return nil, billing.ErrInvoiceNotFound
}

// OpenSlots lists a doctor's free slots in a window.
func (s *Service) OpenSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.Slot, error) {
	if _, err := s.repo.GetDoctorRef(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.slots.ListOpen(ctx, doctorID, from, to)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func clinicDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func slotWindow(slot *schedule.Slot) string {
	return slot.StartTime.Format("15:04") + " - " + slot.EndTime.Format("15:04")
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
