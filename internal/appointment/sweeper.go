package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/billing"
	"github.com/hackgods/clinic-booking-engine/internal/observability/metrics"
)

// Sweeper is the safety net behind lazy hold expiry: it periodically scans
// for pending consultation invoices past due and expires their holds.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger
	metrics  *metrics.BookingMetrics
	now      func() time.Time
}

func NewSweeper(svc *Service, interval time.Duration, m *metrics.BookingMetrics, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		interval: interval,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

func (w *Sweeper) WithClock(now func() time.Time) *Sweeper {
	w.now = now
	return w
}

// Run sweeps once immediately, then on every tick until the context ends.
func (w *Sweeper) Run(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("hold-expiry sweeper started")

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("hold-expiry sweeper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	start := w.now()
	expired, err := w.SweepOnce(ctx)
	w.metrics.ObserveSweepDuration(time.Since(start).Seconds())
	if err != nil {
		w.logger.Error().Err(err).Msg("sweep failed")
		return
	}
	if expired > 0 {
		w.logger.Info().Int("expired", expired).Msg("expired lapsed payment holds")
	}
}

// SweepOnce expires every lapsed hold it can find and returns how many
// appointments it moved. Individual failures are logged and skipped so one
// bad row cannot stall the sweep.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	invoices, err := w.svc.ledger.OverdueConsultationInvoices(ctx, w.now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, inv := range invoices {
		a, err := w.svc.repo.GetByID(ctx, inv.AppointmentID)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				w.logger.Warn().Err(err).Str("appointment_id", inv.AppointmentID.String()).Msg("sweep: load appointment")
			}
			continue
		}

		switch a.Status {
		case StatusAwaitPayment:
			if err := w.svc.expireHold(ctx, a); err != nil {
				w.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("sweep: expire hold")
				continue
			}
			expired++
		default:
			// The appointment moved on but the invoice did not; settle
			// the book alone.
			if inv.Status == billing.InvoicePending && (IsTerminal(a.Status) || a.Status == StatusPaymentOverdue) {
				if err := w.svc.ledger.MarkOverdue(ctx, inv.ID); err != nil {
					w.logger.Warn().Err(err).Str("invoice_id", inv.ID.String()).Msg("sweep: mark invoice overdue")
				}
			}
		}
	}
	return expired, nil
}
