package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/billing"
	"github.com/hackgods/clinic-booking-engine/internal/clinical"
	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/internal/notify"
	"github.com/hackgods/clinic-booking-engine/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-engine/internal/redisclient"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrapLogger := zerolog.New(os.Stderr)
		bootstrapLogger.Fatal().Err(err).Msg("config load")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "sweeper").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("sweeper starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	bookingMetrics := metrics.NewBookingMetrics(prometheus.NewRegistry())

	priceBook := billing.NewPgPriceBook(pgPool)
	engine := billing.NewEngine(priceBook, cfg.AfterHoursRate, cfg.ClinicLocation())
	ledger := billing.NewLedger(billing.NewPgRepository(pgPool), engine, logger)

	// The sweeper shares the real service so expiry walks the exact same
	// path as the API and the lazy read-side correction.
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		schedule.NewPgRegistry(pgPool),
		redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL),
		ledger,
		clinical.NewService(clinical.NewPgRepository(pgPool), logger),
		notify.NewOutboxNotifier(pgPool, logger),
		bookingMetrics,
		logger,
		cfg,
	)

	appointment.NewSweeper(svc, cfg.SweepInterval, bookingMetrics, logger).Run(rootCtx)
}
