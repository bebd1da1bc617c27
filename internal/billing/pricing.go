package billing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

type TariffKind string

const (
	TariffFlat    TariffKind = "flat"
	TariffPerSlot TariffKind = "per_slot"
)

// Tariff is a doctor-specific fee rule for one service code.
type Tariff struct {
	Kind    TariffKind
	Amount  int64 // flat fee
	UnitFee int64 // per 15-minute unit
	MinFee  int64 // 0 means unbounded
	MaxFee  int64 // 0 means unbounded
}

// PriceBook supplies the read-only lookups the pricing engine needs.
type PriceBook interface {
	// FacilityPrice never fails on a missing code: implementations fall
	// back to any active service, then to zero.
	FacilityPrice(ctx context.Context, serviceCode string) (int64, error)
	// TariffFor returns (nil, nil) when the doctor has no tariff for the code.
	TariffFor(ctx context.Context, doctorID uuid.UUID, serviceCode string) (*Tariff, error)
	DoctorFlatFee(ctx context.Context, doctorID uuid.UUID) (int64, error)
}

type QuoteInput struct {
	ServiceCode       string
	DoctorID          uuid.UUID
	DurationMinutes   int
	StartTime         time.Time
	InsuranceEligible bool
	CopayRate         float64 // 0..1, patient share of the facility base even when insured
}

type Quote struct {
	Items             []LineItem
	Subtotal          int64
	InsuranceCoverage int64
	PatientAmount     int64
}

// Engine computes itemized consultation prices. It has no side effects and
// is safe to call speculatively for previews.
type Engine struct {
	book           PriceBook
	afterHoursRate float64
	loc            *time.Location
}

func NewEngine(book PriceBook, afterHoursRate float64, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if afterHoursRate <= 0 {
		afterHoursRate = 1.0
	}
	return &Engine{book: book, afterHoursRate: afterHoursRate, loc: loc}
}

func (e *Engine) Quote(ctx context.Context, in QuoteInput) (*Quote, error) {
	base, err := e.book.FacilityPrice(ctx, in.ServiceCode)
	if err != nil {
		return nil, fmt.Errorf("facility price: %w", err)
	}

	doctorFee, err := e.doctorFee(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("doctor fee: %w", err)
	}

	copay := in.CopayRate
	if copay < 0 {
		copay = 0
	}
	if copay > 1 {
		copay = 1
	}

	var insurerShare int64
	if in.InsuranceEligible {
		insurerShare = int64(math.Round(float64(base) * (1 - copay)))
	}

	q := &Quote{
		Items: []LineItem{
			{
				Type:            "facility",
				Description:     fmt.Sprintf("Facility charge (%s)", in.ServiceCode),
				Amount:          base,
				InsuranceAmount: insurerShare,
				PatientAmount:   base - insurerShare,
			},
			{
				// The doctor fee is always fully patient-borne.
				Type:            "doctor_fee",
				Description:     "Doctor consultation fee",
				Amount:          doctorFee,
				InsuranceAmount: 0,
				PatientAmount:   doctorFee,
			},
		},
	}

	for _, it := range q.Items {
		q.Subtotal += it.Amount
		q.InsuranceCoverage += it.InsuranceAmount
		q.PatientAmount += it.PatientAmount
	}

	return q, nil
}

func (e *Engine) doctorFee(ctx context.Context, in QuoteInput) (int64, error) {
	tariff, err := e.book.TariffFor(ctx, in.DoctorID, in.ServiceCode)
	if err != nil {
		return 0, err
	}
	if tariff == nil {
		return e.book.DoctorFlatFee(ctx, in.DoctorID)
	}

	var fee int64
	switch tariff.Kind {
	case TariffPerSlot:
		units := int64((in.DurationMinutes + 14) / 15)
		if units < 1 {
			units = 1
		}
		fee = units * tariff.UnitFee
	default:
		fee = tariff.Amount
	}

	if e.isAfterHours(in.StartTime) {
		fee = int64(math.Round(float64(fee) * e.afterHoursRate))
	}

	if tariff.MinFee > 0 && fee < tariff.MinFee {
		fee = tariff.MinFee
	}
	if tariff.MaxFee > 0 && fee > tariff.MaxFee {
		fee = tariff.MaxFee
	}

	return fee, nil
}

// isAfterHours reports whether the consultation starts outside 07:00-18:00
// clinic time or on a weekend.
func (e *Engine) isAfterHours(start time.Time) bool {
	local := start.In(e.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	h := local.Hour()
	return h < 7 || h >= 18
}
