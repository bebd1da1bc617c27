package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
)

type RouterConfig struct {
	Service  *appointment.Service
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   zerolog.Logger
	Registry *prometheus.Registry
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", bookAppointmentHandler(cfg.Service))
			r.Get("/", listAppointmentsHandler(cfg.Service))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", getAppointmentHandler(cfg.Service))
				r.Get("/invoices", listInvoicesHandler(cfg.Service))
				r.Post("/invoice", consultationInvoiceHandler(cfg.Service))

				r.Post("/approve", approveHandler(cfg.Service))
				r.Post("/reject", rejectHandler(cfg.Service))
				r.Post("/cancel", cancelHandler(cfg.Service))
				r.Post("/pay", payHandler(cfg.Service))
				r.Post("/refund", refundHandler(cfg.Service))
				r.Post("/start-consult", startConsultHandler(cfg.Service))
				r.Post("/issue-prescription", issuePrescriptionHandler(cfg.Service))
				r.Post("/ready-discharge", readyDischargeHandler(cfg.Service))
				r.Post("/complete", completeHandler(cfg.Service))
				r.Post("/close", closeHandler(cfg.Service))

				r.Post("/extension", requestExtensionHandler(cfg.Service))
				r.Post("/extension/respond", respondExtensionHandler(cfg.Service))

				r.Route("/reschedule", func(r chi.Router) {
					r.Post("/request", offerRescheduleHandler(cfg.Service))
					r.Post("/propose", proposeRescheduleHandler(cfg.Service))
					r.Post("/accept", acceptRescheduleHandler(cfg.Service))
					r.Post("/decline", declineRescheduleHandler(cfg.Service))
				})
			})
		})

		r.Get("/doctors/{id}/slots", listOpenSlotsHandler(cfg.Service))
	})

	return r
}
