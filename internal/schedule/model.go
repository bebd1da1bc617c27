package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Slot is a doctor's bookable time unit. IsAvailable is owned by the
// registry: it is false exactly while one non-cancelled appointment holds
// the slot.
type Slot struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Date        time.Time
	StartTime   time.Time
	EndTime     time.Time
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DurationMinutes is the slot length used as consultation duration for
// pricing.
func (s *Slot) DurationMinutes() int {
	d := s.EndTime.Sub(s.StartTime)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}
