package main

import (
	"context"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/db"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var serviceCodes = map[string]int64{
	"general_consult":    200_000,
	"specialist_consult": 350_000,
	"followup_consult":   120_000,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	root := context.Background()
	doctorIDs, err := seedDoctors(root, pool, 40)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(root, pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedServicePrices(root, pool); err != nil {
		log.Fatalf("seed service prices: %v", err)
	}
	if err := seedTariffs(root, pool, doctorIDs); err != nil {
		log.Fatalf("seed tariffs: %v", err)
	}
	if err := seedSlots(root, pool, doctorIDs, cfg.ClinicLocation()); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		fee := int64(gofakeit.Number(100, 400)) * 1000

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, consultation_fee, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, "Dr. "+gofakeit.Name(), spec, fee)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	log.Println("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			insured := gofakeit.Bool()
			copay := 1.0
			if insured {
				copay = float64(gofakeit.Number(0, 50)) / 100
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (
					id, name, email, phone, date_of_birth,
					allergies, insurance_eligible, copay_rate,
					created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			`,
				uuid.New(),
				gofakeit.Name(),
				gofakeit.Email(),
				gofakeit.Phone(),
				gofakeit.DateRange(
					time.Date(1945, 1, 1, 0, 0, 0, 0, time.UTC),
					time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC),
				),
				gofakeit.RandomString([]string{"", "", "penicillin", "aspirin", "latex"}),
				insured,
				copay,
			)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		log.Printf("patients seeded: %d/%d", end, count)
	}
	return nil
}

func seedServicePrices(ctx context.Context, pool *pgxpool.Pool) error {
	log.Println("seeding service prices")

	for code, amount := range serviceCodes {
		_, err := pool.Exec(ctx, `
			INSERT INTO service_prices (id, service_code, description, amount, active, created_at)
			VALUES ($1, $2, $3, $4, true, now())
		`, uuid.New(), code, gofakeit.Sentence(4), amount)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedTariffs(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Println("seeding doctor tariffs")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, doctorID := range doctorIDs {
		// Roughly half the doctors bill per 15-minute unit, the rest flat.
		if gofakeit.Bool() {
			_, err = tx.Exec(ctx, `
				INSERT INTO doctor_tariffs (id, doctor_id, service_code, kind, unit_fee, min_fee, max_fee, created_at)
				VALUES ($1, $2, 'general_consult', 'per_slot', $3, $4, $5, now())
			`, uuid.New(), doctorID,
				int64(gofakeit.Number(40, 120))*1000,
				int64(100_000),
				int64(600_000),
			)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO doctor_tariffs (id, doctor_id, service_code, kind, amount, created_at)
				VALUES ($1, $2, 'general_consult', 'flat', $3, now())
			`, uuid.New(), doctorID, int64(gofakeit.Number(100, 400))*1000)
		}
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Println("tariffs seeded")
	return nil
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID, loc *time.Location) error {
	log.Println("seeding schedule slots")

	const days = 14
	start := time.Now().In(loc).AddDate(0, 0, 1)
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)

	for _, doctorID := range doctorIDs {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for d := 0; d < days; d++ {
			day := dayStart.AddDate(0, 0, d)
			if day.Weekday() == time.Sunday {
				continue
			}
			// Clinic hours 07:00 to 18:00 in 30-minute slots.
			for h := 7; h < 18; h++ {
				for _, m := range []int{0, 30} {
					slotStart := day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
					_, err := tx.Exec(ctx, `
						INSERT INTO schedule_slots (id, doctor_id, slot_date, start_time, end_time, is_available, created_at, updated_at)
						VALUES ($1, $2, $3, $4, $5, true, now(), now())
					`, uuid.New(), doctorID, day, slotStart, slotStart.Add(30*time.Minute))
					if err != nil {
						_ = tx.Rollback(ctx)
						return err
					}
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("slots seeded")
	return nil
}
