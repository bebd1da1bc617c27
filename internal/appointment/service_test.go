package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-engine/internal/billing"
	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/redisclient"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

// memStore is an in-memory Repository with the same compare-and-swap
// semantics as the Postgres one.
type memStore struct {
	mu       sync.Mutex
	appts    map[uuid.UUID]*Appointment
	patients map[uuid.UUID]*PatientRef
	doctors  map[uuid.UUID]*DoctorRef
	slots    *memSlots
	events   []EventLog
}

func newMemStore(slots *memSlots) *memStore {
	return &memStore{
		appts:    make(map[uuid.UUID]*Appointment),
		patients: make(map[uuid.UUID]*PatientRef),
		doctors:  make(map[uuid.UUID]*DoctorRef),
		slots:    slots,
	}
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) GetDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &AppointmentDetail{Appointment: *a}
	if p, err := m.GetPatientRef(ctx, a.PatientID); err == nil {
		d.Patient = p
	}
	if doc, err := m.GetDoctorRef(ctx, a.DoctorID); err == nil {
		d.Doctor = doc
	}
	if s, err := m.slots.GetByID(ctx, a.ScheduleID); err == nil {
		d.Slot = s
	}
	return d, nil
}

func (m *memStore) GetPatientRef(_ context.Context, id uuid.UUID) (*PatientRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetDoctorRef(_ context.Context, id uuid.UUID) (*DoctorRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) Create(_ context.Context, a *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.appts {
		if other.PatientID == a.PatientID &&
			other.AppointmentDate.Equal(a.AppointmentDate) &&
			IsBlocking(other.Status) {
			return nil, ErrDuplicateBooking
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	m.appts[a.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) UpdateIfStatus(_ context.Context, a *Appointment, from Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.appts[a.ID]
	if !ok || stored.Status != from {
		return nil, ErrStaleTransition
	}
	cp := *a
	m.appts[a.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) CountBlockingOnDay(_ context.Context, patientID uuid.UUID, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.PatientID == patientID && a.AppointmentDate.Equal(day) && IsBlocking(a.Status) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountBlockingBySpecialtyOnDay(_ context.Context, patientID uuid.UUID, specialty string, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.PatientID != patientID || !a.AppointmentDate.Equal(day) {
			continue
		}
		if IsTerminal(a.Status) || a.Status == StatusPaymentOverdue || a.Status == StatusDoctorRejected {
			continue
		}
		if d, ok := m.doctors[a.DoctorID]; ok && d.Specialty != nil && *d.Specialty == specialty {
			n++
		}
	}
	return n, nil
}

func (m *memStore) NextForDoctorAfter(_ context.Context, doctorID uuid.UUID, day, after time.Time, excludeID uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Appointment
	for _, a := range m.appts {
		if a.DoctorID != doctorID || !a.AppointmentDate.Equal(day) || a.ID == excludeID {
			continue
		}
		if !a.BookedAt.After(after) {
			continue
		}
		switch a.Status {
		case StatusCancelled, StatusClosed, StatusPaymentOverdue, StatusDoctorRejected:
			continue
		}
		if best == nil || a.BookedAt.Before(best.BookedAt) {
			best = a
		}
	}
	if best == nil {
		return nil, ErrAppointmentNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) FindByExtensionTarget(_ context.Context, targetID uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.Extension != nil && a.Extension.Status == ExtensionConsentPending &&
			a.Extension.TargetNextApptID != nil && *a.Extension.TargetNextApptID == targetID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (m *memStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// memSlots is an in-memory schedule.Registry with conditional flag flips.
type memSlots struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*schedule.Slot
}

func newMemSlots() *memSlots {
	return &memSlots{slots: make(map[uuid.UUID]*schedule.Slot)}
}

func (m *memSlots) GetByID(_ context.Context, id uuid.UUID) (*schedule.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, schedule.ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSlots) Acquire(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return schedule.ErrSlotNotFound
	}
	if !s.IsAvailable {
		return schedule.ErrSlotUnavailable
	}
	s.IsAvailable = false
	return nil
}

func (m *memSlots) Release(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return schedule.ErrSlotNotFound
	}
	s.IsAvailable = true
	return nil
}

func (m *memSlots) ListOpen(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schedule.Slot
	for _, s := range m.slots {
		if s.DoctorID == doctorID && s.IsAvailable && !s.StartTime.Before(from) && s.StartTime.Before(to) {
			out = append(out, *s)
		}
	}
	return out, nil
}

// memLocker mimics the Redis SetNX lock: a second holder is rejected, not
// queued.
type memLocker struct {
	mu   sync.Mutex
	held map[uuid.UUID]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[uuid.UUID]bool)}
}

func (l *memLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[slotID] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[slotID] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, slotID)
		l.mu.Unlock()
	}()
	return fn(ctx)
}

// fakeBiller keeps invoices and payments in memory with the same
// idempotency rules as the real ledger.
type fakeBiller struct {
	mu       sync.Mutex
	invoices []*billing.Invoice
	payments []*billing.Payment
	quote    billing.Quote
}

func newFakeBiller() *fakeBiller {
	return &fakeBiller{
		quote: billing.Quote{
			Items: []billing.LineItem{
				{Type: "facility", Description: "General consultation", Amount: 200_000, InsuranceAmount: 160_000, PatientAmount: 40_000},
				{Type: "doctor_fee", Description: "Doctor fee", Amount: 150_000, PatientAmount: 150_000},
			},
			Subtotal:          350_000,
			InsuranceCoverage: 160_000,
			PatientAmount:     190_000,
		},
	}
}

func (b *fakeBiller) Quote(_ context.Context, _ billing.QuoteInput) (*billing.Quote, error) {
	q := b.quote
	return &q, nil
}

func (b *fakeBiller) pendingConsultation(apptID uuid.UUID) *billing.Invoice {
	for _, inv := range b.invoices {
		if inv.AppointmentID == apptID && inv.Type == billing.InvoiceConsultation && inv.Status == billing.InvoicePending {
			return inv
		}
	}
	return nil
}

func (b *fakeBiller) EnsureConsultationInvoice(_ context.Context, apptID uuid.UUID, _ billing.QuoteInput, dueDate time.Time) (*billing.Invoice, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inv := b.pendingConsultation(apptID); inv != nil {
		cp := *inv
		return &cp, false, nil
	}
	due := dueDate
	inv := &billing.Invoice{
		ID:                uuid.New(),
		AppointmentID:     apptID,
		Type:              billing.InvoiceConsultation,
		Items:             b.quote.Items,
		Subtotal:          b.quote.Subtotal,
		InsuranceCoverage: b.quote.InsuranceCoverage,
		PatientAmount:     b.quote.PatientAmount,
		Status:            billing.InvoicePending,
		DueDate:           &due,
	}
	b.invoices = append(b.invoices, inv)
	cp := *inv
	return &cp, true, nil
}

func (b *fakeBiller) CapturePending(_ context.Context, apptID uuid.UUID, method, txID string) (*billing.Invoice, *billing.Payment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inv := b.pendingConsultation(apptID)
	if inv == nil {
		return nil, nil, billing.ErrInvoiceNotFound
	}
	inv.Status = billing.InvoiceCaptured
	p := &billing.Payment{
		ID:            uuid.New(),
		AppointmentID: apptID,
		InvoiceID:     inv.ID,
		Amount:        inv.PatientAmount,
		Status:        billing.PaymentCaptured,
		PaymentMethod: method,
		TransactionID: txID,
	}
	b.payments = append(b.payments, p)
	invCp, pCp := *inv, *p
	return &invCp, &pCp, nil
}

func (b *fakeBiller) Refund(_ context.Context, apptID uuid.UUID) (*billing.Payment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.payments {
		if p.AppointmentID == apptID && p.Status == billing.PaymentCaptured {
			p.Status = billing.PaymentRefunded
			p.RefundAmount = p.Amount
			cp := *p
			return &cp, nil
		}
	}
	return nil, billing.ErrPaymentNotFound
}

func (b *fakeBiller) OverdueConsultationInvoices(_ context.Context, now time.Time) ([]billing.Invoice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []billing.Invoice
	for _, inv := range b.invoices {
		if inv.Type == billing.InvoiceConsultation && inv.Status == billing.InvoicePending &&
			inv.DueDate != nil && !inv.DueDate.After(now) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (b *fakeBiller) MarkOverdue(_ context.Context, invoiceID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, inv := range b.invoices {
		if inv.ID == invoiceID && inv.Status == billing.InvoicePending {
			inv.Status = billing.InvoiceOverdue
		}
	}
	return nil
}

func (b *fakeBiller) CreateFinalSettlement(_ context.Context, apptID uuid.UUID, extras []billing.LineItem, dueDate time.Time) (*billing.Invoice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(extras) == 0 {
		return nil, nil
	}
	due := dueDate
	inv := &billing.Invoice{
		ID:            uuid.New(),
		AppointmentID: apptID,
		Type:          billing.InvoiceFinalSettlement,
		Items:         extras,
		Status:        billing.InvoicePending,
		DueDate:       &due,
	}
	for _, it := range extras {
		inv.Subtotal += it.Amount
		inv.InsuranceCoverage += it.InsuranceAmount
		inv.PatientAmount += it.PatientAmount
	}
	b.invoices = append(b.invoices, inv)
	cp := *inv
	return &cp, nil
}

func (b *fakeBiller) InvoicesFor(_ context.Context, apptID uuid.UUID) ([]billing.Invoice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []billing.Invoice
	for _, inv := range b.invoices {
		if inv.AppointmentID == apptID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

type fakeIntake struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (f *fakeIntake) EnsureConsultRecords(_ context.Context, appointmentID, _, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, appointmentID)
	return nil
}

type sentNote struct {
	UserID uuid.UUID
	Kind   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNote
}

func (f *fakeNotifier) Notify(_ context.Context, userID uuid.UUID, kind, _, _ string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNote{UserID: userID, Kind: kind})
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Kind)
	}
	return out
}

// fixture wires a Service onto the in-memory fakes with a controllable
// clock.
type fixture struct {
	repo     *memStore
	slots    *memSlots
	locker   *memLocker
	biller   *fakeBiller
	intake   *fakeIntake
	notifier *fakeNotifier
	svc      *Service
	cfg      config.Config
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	slots := newMemSlots()
	fx := &fixture{
		repo:     newMemStore(slots),
		slots:    slots,
		locker:   newMemLocker(),
		biller:   newFakeBiller(),
		intake:   &fakeIntake{},
		notifier: &fakeNotifier{},
		cfg: config.Config{
			ClinicTimezone: "Asia/Ho_Chi_Minh",
			HoldDuration:   30 * time.Minute,
			ConsentTTL:     3 * time.Minute,
			RescheduleTTL:  7 * 24 * time.Hour,
			CancelCutoff:   24 * time.Hour,
			AfterHoursRate: 1.5,
		},
		// Monday 09:00 in Ho Chi Minh City.
		now: time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC),
	}
	fx.svc = NewService(fx.repo, fx.slots, fx.locker, fx.biller, fx.intake, fx.notifier, nil, zerolog.Nop(), fx.cfg).
		WithClock(func() time.Time { return fx.now })
	return fx
}

func (fx *fixture) advance(d time.Duration) { fx.now = fx.now.Add(d) }

func (fx *fixture) addPatient(name string) uuid.UUID {
	id := uuid.New()
	fx.repo.patients[id] = &PatientRef{ID: id, Name: name, InsuranceEligible: true, CopayRate: 0.2}
	return id
}

func (fx *fixture) addDoctor(name, specialty string) uuid.UUID {
	id := uuid.New()
	d := &DoctorRef{ID: id, Name: name}
	if specialty != "" {
		d.Specialty = &specialty
	}
	fx.repo.doctors[id] = d
	return id
}

func (fx *fixture) addSlot(doctorID uuid.UUID, start time.Time, minutes int) uuid.UUID {
	id := uuid.New()
	loc := fx.cfg.ClinicLocation()
	fx.slots.slots[id] = &schedule.Slot{
		ID:          id,
		DoctorID:    doctorID,
		Date:        clinicDay(start, loc),
		StartTime:   start,
		EndTime:     start.Add(time.Duration(minutes) * time.Minute),
		IsAvailable: true,
	}
	return id
}

func (fx *fixture) book(t *testing.T, patientID, doctorID, slotID uuid.UUID) *Appointment {
	t.Helper()
	a, err := fx.svc.Book(context.Background(), Actor{ID: patientID, Role: RolePatient}, BookInput{
		PatientID:   patientID,
		DoctorID:    doctorID,
		ScheduleID:  slotID,
		ServiceCode: "general_consult",
	})
	require.NoError(t, err)
	return a
}

func (fx *fixture) bookPaid(t *testing.T, patientID, doctorID, slotID uuid.UUID) *Appointment {
	t.Helper()
	a := fx.book(t, patientID, doctorID, slotID)
	paid, _, err := fx.svc.ProcessPayment(context.Background(), Actor{ID: patientID, Role: RolePatient}, a.ID, "card", "tx-1")
	require.NoError(t, err)
	return paid
}

func TestBookOpensPaymentHold(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "cardiology")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)

	a := fx.book(t, patient, doctor, slotID)

	require.Equal(t, StatusAwaitPayment, a.Status)
	require.NotNil(t, a.HoldExpiresAt)
	require.Equal(t, fx.now.Add(fx.cfg.HoldDuration), *a.HoldExpiresAt)
	require.Equal(t, int64(350_000), a.TotalAmount)
	require.Equal(t, int64(190_000), a.PatientAmount)
	require.Equal(t, int64(150_000), a.ConsultationFee)

	slot, err := fx.slots.GetByID(ctx, slotID)
	require.NoError(t, err)
	require.False(t, slot.IsAvailable)

	invs, err := fx.biller.InvoicesFor(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	require.Equal(t, billing.InvoicePending, invs[0].Status)
	require.Equal(t, *a.HoldExpiresAt, *invs[0].DueDate)
}

func TestBookWithApprovalSkipsHold(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)

	a, err := fx.svc.Book(context.Background(), Actor{ID: patient, Role: RolePatient}, BookInput{
		PatientID:       patient,
		DoctorID:        doctor,
		ScheduleID:      slotID,
		ServiceCode:     "general_consult",
		RequireApproval: true,
	})
	require.NoError(t, err)
	require.Equal(t, StatusBooked, a.Status)
	require.Nil(t, a.HoldExpiresAt)

	invs, err := fx.biller.InvoicesFor(context.Background(), a.ID)
	require.NoError(t, err)
	require.Empty(t, invs)
}

func TestBookSecondSameDayRejected(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	first := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	second := fx.addSlot(doctor, fx.now.Add(50*time.Hour), 30)

	fx.book(t, patient, doctor, first)

	_, err := fx.svc.Book(context.Background(), Actor{ID: patient, Role: RolePatient}, BookInput{
		PatientID:   patient,
		DoctorID:    doctor,
		ScheduleID:  second,
		ServiceCode: "general_consult",
	})
	require.ErrorIs(t, err, ErrDuplicateBooking)
}

func TestBookConcurrentSingleWinner(t *testing.T) {
	fx := newFixture(t)
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)

	const racers = 8
	patients := make([]uuid.UUID, racers)
	for i := range patients {
		patients[i] = fx.addPatient("Racer")
	}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.svc.Book(context.Background(), Actor{ID: patients[i], Role: RolePatient}, BookInput{
				PatientID:   patients[i],
				DoctorID:    doctor,
				ScheduleID:  slotID,
				ServiceCode: "general_consult",
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		require.True(t,
			errors.Is(err, redisclient.ErrLockNotAcquired) || errors.Is(err, schedule.ErrSlotUnavailable),
			"unexpected error: %v", err)
	}
	require.Equal(t, 1, winners)
}

func TestBookForAnotherPatientForbidden(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	other := fx.addPatient("Someone Else")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)

	_, err := fx.svc.Book(context.Background(), Actor{ID: other, Role: RolePatient}, BookInput{
		PatientID:   patient,
		DoctorID:    doctor,
		ScheduleID:  slotID,
		ServiceCode: "general_consult",
	})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestPaymentConfirms(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	a := fx.book(t, patient, doctor, slotID)

	fx.advance(10 * time.Minute)
	confirmed, payment, err := fx.svc.ProcessPayment(context.Background(), Actor{ID: patient, Role: RolePatient}, a.ID, "card", "tx-42")
	require.NoError(t, err)

	require.Equal(t, StatusConfirmed, confirmed.Status)
	require.Equal(t, PaymentCaptured, confirmed.PaymentStatus)
	require.NotNil(t, confirmed.ConfirmedAt)
	require.Nil(t, confirmed.HoldExpiresAt)
	require.Equal(t, int64(190_000), payment.Amount)
	require.Equal(t, confirmed.DepositAmount, payment.Amount)
}

func TestPaymentJustBeforeAndAfterDeadline(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")

	t.Run("inside the hold", func(t *testing.T) {
		slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
		a := fx.book(t, patient, doctor, slotID)

		fx.advance(fx.cfg.HoldDuration - time.Second)
		confirmed, _, err := fx.svc.ProcessPayment(context.Background(), Actor{ID: patient, Role: RolePatient}, a.ID, "card", "tx-1")
		require.NoError(t, err)
		require.Equal(t, StatusConfirmed, confirmed.Status)
	})

	t.Run("after the hold", func(t *testing.T) {
		other := fx.addPatient("Binh Tran")
		slotID := fx.addSlot(doctor, fx.now.Add(72*time.Hour), 30)
		a := fx.book(t, other, doctor, slotID)

		fx.advance(fx.cfg.HoldDuration + time.Second)
		_, _, err := fx.svc.ProcessPayment(context.Background(), Actor{ID: other, Role: RolePatient}, a.ID, "card", "tx-2")
		require.ErrorIs(t, err, ErrHoldExpired)

		got, err := fx.repo.GetByID(context.Background(), a.ID)
		require.NoError(t, err)
		require.Equal(t, StatusPaymentOverdue, got.Status)
		require.Equal(t, PaymentOverdue, got.PaymentStatus)

		slot, err := fx.slots.GetByID(context.Background(), slotID)
		require.NoError(t, err)
		require.True(t, slot.IsAvailable)

		invs, err := fx.biller.InvoicesFor(context.Background(), a.ID)
		require.NoError(t, err)
		require.Len(t, invs, 1)
		require.Equal(t, billing.InvoiceOverdue, invs[0].Status)
	})
}

func TestGetCorrectsLapsedHold(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	a := fx.book(t, patient, doctor, slotID)

	fx.advance(fx.cfg.HoldDuration + time.Minute)
	detail, err := fx.svc.Get(context.Background(), Actor{ID: patient, Role: RolePatient}, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaymentOverdue, detail.Status)
}

func TestListCorrectsLapsedHold(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	a := fx.book(t, patient, doctor, slotID)

	fx.advance(fx.cfg.HoldDuration + time.Minute)

	listed, err := fx.svc.ListByPatient(ctx, Actor{ID: patient, Role: RolePatient}, patient, 0, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, StatusPaymentOverdue, listed[0].Status)

	stored, err := fx.repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaymentOverdue, stored.Status)

	slot, err := fx.slots.GetByID(ctx, slotID)
	require.NoError(t, err)
	require.True(t, slot.IsAvailable)

	byDoctor, err := fx.svc.ListByDoctor(ctx, Actor{ID: doctor, Role: RoleDoctor}, doctor, 0, 0)
	require.NoError(t, err)
	require.Len(t, byDoctor, 1)
	require.Equal(t, StatusPaymentOverdue, byDoctor[0].Status)
}

func TestCancelCutoff(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	ctx := context.Background()

	t.Run("patient inside cutoff is rejected", func(t *testing.T) {
		slotID := fx.addSlot(doctor, fx.now.Add(12*time.Hour), 30)
		a := fx.book(t, patient, doctor, slotID)

		_, err := fx.svc.Cancel(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, "changed my mind", false)
		require.ErrorIs(t, err, ErrTooLateToCancel)

		// Staff may still cancel inside the window.
		cancelled, err := fx.svc.Cancel(ctx, Actor{ID: uuid.New(), Role: RoleAdmin}, a.ID, "front desk", true)
		require.NoError(t, err)
		require.Equal(t, StatusCancelled, cancelled.Status)
		require.Equal(t, "admin", cancelled.CancelledBy)

		slot, err := fx.slots.GetByID(ctx, slotID)
		require.NoError(t, err)
		require.True(t, slot.IsAvailable)
	})

	t.Run("patient inside cutoff overrides", func(t *testing.T) {
		slotID := fx.addSlot(doctor, fx.now.Add(2*time.Hour), 30)
		a := fx.book(t, patient, doctor, slotID)

		cancelled, err := fx.svc.Cancel(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, "emergency", true)
		require.NoError(t, err)
		require.Equal(t, StatusCancelled, cancelled.Status)
		require.Equal(t, "patient", cancelled.CancelledBy)

		slot, err := fx.slots.GetByID(ctx, slotID)
		require.NoError(t, err)
		require.True(t, slot.IsAvailable)
	})

	t.Run("patient outside cutoff cancels", func(t *testing.T) {
		slotID := fx.addSlot(doctor, fx.now.Add(72*time.Hour), 30)
		a := fx.book(t, patient, doctor, slotID)

		cancelled, err := fx.svc.Cancel(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, "travel", false)
		require.NoError(t, err)
		require.Equal(t, StatusCancelled, cancelled.Status)
		require.NotNil(t, cancelled.CancelledAt)
	})
}

func TestApprovalFlow(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	ctx := context.Background()

	a, err := fx.svc.Book(ctx, Actor{ID: patient, Role: RolePatient}, BookInput{
		PatientID:       patient,
		DoctorID:        doctor,
		ScheduleID:      slotID,
		ServiceCode:     "general_consult",
		RequireApproval: true,
	})
	require.NoError(t, err)
	require.Equal(t, StatusBooked, a.Status)

	// The patient cannot approve their own booking.
	_, err = fx.svc.DoctorApprove(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, "")
	require.ErrorIs(t, err, ErrForbidden)

	// Nor can an unrelated doctor.
	_, err = fx.svc.DoctorApprove(ctx, Actor{ID: uuid.New(), Role: RoleDoctor}, a.ID, "")
	require.ErrorIs(t, err, ErrForbidden)

	awaiting, err := fx.svc.DoctorApprove(ctx, Actor{ID: doctor, Role: RoleDoctor}, a.ID, "looks fine")
	require.NoError(t, err)
	require.Equal(t, StatusAwaitPayment, awaiting.Status)
	require.NotNil(t, awaiting.HoldExpiresAt)
	require.Equal(t, int64(350_000), awaiting.TotalAmount)

	confirmed, _, err := fx.svc.ProcessPayment(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, "cash", "tx-9")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)
}

func TestDoctorRejectFreesSlotAndCloses(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	ctx := context.Background()

	a, err := fx.svc.Book(ctx, Actor{ID: patient, Role: RolePatient}, BookInput{
		PatientID:       patient,
		DoctorID:        doctor,
		ScheduleID:      slotID,
		ServiceCode:     "general_consult",
		RequireApproval: true,
	})
	require.NoError(t, err)

	rejected, err := fx.svc.DoctorReject(ctx, Actor{ID: doctor, Role: RoleDoctor}, a.ID, "fully booked elsewhere")
	require.NoError(t, err)
	require.Equal(t, StatusDoctorRejected, rejected.Status)
	require.Equal(t, "fully booked elsewhere", rejected.RejectionReason)

	slot, err := fx.slots.GetByID(ctx, slotID)
	require.NoError(t, err)
	require.True(t, slot.IsAvailable)

	closed, err := fx.svc.Close(ctx, Actor{ID: uuid.New(), Role: RoleAdmin}, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)
}

func TestFullConsultationLifecycle(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	ctx := context.Background()
	docActor := Actor{ID: doctor, Role: RoleDoctor}

	a := fx.bookPaid(t, patient, doctor, slotID)

	started, err := fx.svc.StartConsultation(ctx, docActor, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInConsult, started.Status)
	require.NotNil(t, started.StartedAt)
	require.Equal(t, []uuid.UUID{a.ID}, fx.intake.calls)

	prescribed, err := fx.svc.IssuePrescription(ctx, docActor, a.ID, "paracetamol 500mg")
	require.NoError(t, err)
	require.Equal(t, StatusPrescriptionIssued, prescribed.Status)
	require.Contains(t, prescribed.DoctorNotes, "paracetamol")

	extras := []billing.LineItem{
		{Type: "extra", Description: "Blood panel", Amount: 90_000, PatientAmount: 90_000},
	}
	ready, err := fx.svc.ReadyForDischarge(ctx, docActor, a.ID, extras)
	require.NoError(t, err)
	require.Equal(t, StatusReadyToDischarge, ready.Status)

	invs, err := fx.biller.InvoicesFor(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, invs, 2)

	done, err := fx.svc.Complete(ctx, docActor, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	// Terminal: nothing moves out of completed.
	_, err = fx.svc.Cancel(ctx, Actor{ID: uuid.New(), Role: RoleAdmin}, a.ID, "oops", true)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRefundAfterCancel(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(72*time.Hour), 30)
	ctx := context.Background()

	a := fx.bookPaid(t, patient, doctor, slotID)

	// Not refundable while the appointment is live.
	_, _, err := fx.svc.RefundPayment(ctx, Actor{Role: RoleAdmin}, a.ID)
	require.ErrorIs(t, err, ErrNotRefundable)

	_, err = fx.svc.Cancel(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, "travel", false)
	require.NoError(t, err)

	_, _, err = fx.svc.RefundPayment(ctx, Actor{ID: patient, Role: RolePatient}, a.ID)
	require.ErrorIs(t, err, ErrForbidden)

	refunded, payment, err := fx.svc.RefundPayment(ctx, Actor{Role: RoleAdmin}, a.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentRefunded, refunded.PaymentStatus)
	require.Equal(t, int64(190_000), payment.RefundAmount)
}

func TestListScoping(t *testing.T) {
	fx := newFixture(t)
	patient := fx.addPatient("An Nguyen")
	other := fx.addPatient("Binh Tran")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	ctx := context.Background()

	fx.book(t, patient, doctor, slotID)

	_, err := fx.svc.ListByPatient(ctx, Actor{ID: other, Role: RolePatient}, patient, 0, 0)
	require.ErrorIs(t, err, ErrForbidden)

	mine, err := fx.svc.ListByPatient(ctx, Actor{ID: patient, Role: RolePatient}, patient, 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	_, err = fx.svc.ListByDoctor(ctx, Actor{ID: patient, Role: RolePatient}, doctor, 0, 0)
	require.ErrorIs(t, err, ErrForbidden)

	theirs, err := fx.svc.ListByDoctor(ctx, Actor{ID: doctor, Role: RoleDoctor}, doctor, 0, 0)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
}

func TestConsultationInvoiceCreateOrFetch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	a := fx.book(t, patient, doctor, slotID)

	// Fetching during the hold returns the pending invoice without
	// duplicating it.
	inv, err := fx.svc.ConsultationInvoice(ctx, Actor{ID: patient, Role: RolePatient}, a.ID)
	require.NoError(t, err)
	require.Equal(t, billing.InvoicePending, inv.Status)
	require.Equal(t, a.ID, inv.AppointmentID)

	invs, err := fx.biller.InvoicesFor(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, invs, 1)

	stranger := fx.addPatient("Chi Tran")
	_, err = fx.svc.ConsultationInvoice(ctx, Actor{ID: stranger, Role: RolePatient}, a.ID)
	require.ErrorIs(t, err, ErrForbidden)

	paid, _, err := fx.svc.ProcessPayment(ctx, Actor{ID: patient, Role: RolePatient}, a.ID, "card", "tx-9")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, paid.Status)

	inv, err = fx.svc.ConsultationInvoice(ctx, Actor{ID: patient, Role: RolePatient}, a.ID)
	require.NoError(t, err)
	require.Equal(t, billing.InvoiceCaptured, inv.Status)
}

func TestConsultationInvoiceAfterHoldLapse(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	patient := fx.addPatient("An Nguyen")
	doctor := fx.addDoctor("Dr. Binh", "")
	slotID := fx.addSlot(doctor, fx.now.Add(48*time.Hour), 30)
	a := fx.book(t, patient, doctor, slotID)

	fx.advance(fx.cfg.HoldDuration + time.Second)

	_, err := fx.svc.ConsultationInvoice(ctx, Actor{ID: patient, Role: RolePatient}, a.ID)
	require.ErrorIs(t, err, ErrHoldExpired)

	got, err := fx.repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaymentOverdue, got.Status)
}
