package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the appointment engine.
type BookingMetrics struct {
	transitionsTotal *prometheus.CounterVec
	bookingConflicts prometheus.Counter
	holdsExpired     prometheus.Counter
	sweepDuration    prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Appointment status transitions by edge and outcome",
		}, []string{"from", "to", "outcome"}),
		bookingConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "booking_conflicts_total",
			Help:      "Bookings rejected because the slot race was lost",
		}),
		holdsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "holds_expired_total",
			Help:      "Payment holds moved to overdue by the sweeper or lazy reads",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of hold-expiry sweep cycles",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.bookingConflicts, m.holdsExpired, m.sweepDuration)
	return m
}

func (m *BookingMetrics) ObserveTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to, outcome).Inc()
}

func (m *BookingMetrics) ObserveBookingConflict() {
	if m == nil {
		return
	}
	m.bookingConflicts.Inc()
}

func (m *BookingMetrics) ObserveHoldExpired() {
	if m == nil {
		return
	}
	m.holdsExpired.Inc()
}

func (m *BookingMetrics) ObserveSweepDuration(seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
}
