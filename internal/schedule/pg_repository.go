package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking-engine/internal/db"
)

type PgRegistry struct {
	db db.Querier
}

func NewPgRegistry(q db.Querier) *PgRegistry {
	return &PgRegistry{db: q}
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.IsAvailable,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func (r *PgRegistry) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, doctor_id, slot_date, start_time, end_time, is_available, created_at, updated_at
		FROM schedule_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

// Acquire flips the availability flag in one conditional write. Exactly one
// of N concurrent callers sees a row affected; the rest get
// ErrSlotUnavailable.
func (r *PgRegistry) Acquire(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE schedule_slots
		SET is_available = false,
		    updated_at = now()
		WHERE id = $1
		  AND is_available = true
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotUnavailable
	}
	return nil
}

// Release is idempotent on an already-open slot so overdue sweeps and
// cancellations can race without harm.
func (r *PgRegistry) Release(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE schedule_slots
		SET is_available = true,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRegistry) ListOpen(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, doctor_id, slot_date, start_time, end_time, is_available, created_at, updated_at
		FROM schedule_slots
		WHERE doctor_id = $1
		  AND is_available = true
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
