package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot is not available")
	ErrSlotNotHeld     = errors.New("slot is not currently held")
)

// Registry mediates all mutation of the slot availability flag. Acquire and
// Release are single conditional writes so interleaved requests cannot both
// win the same slot.
type Registry interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	Acquire(ctx context.Context, id uuid.UUID) error
	Release(ctx context.Context, id uuid.UUID) error
	ListOpen(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error)
}
