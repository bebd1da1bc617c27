// Package notify is the boundary to notification delivery. The engine only
// ever records that a user should be told something; actual push/email
// delivery is a separate system draining the outbox.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/db"
)

// Notifier is invoked once per state transition, best-effort: implementations
// must never return an error into the transition path.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, body string, meta map[string]any)
}

// OutboxNotifier persists notifications to the outbox table. A failed insert
// is logged and dropped; the triggering transition has already committed.
type OutboxNotifier struct {
	db     db.Querier
	logger zerolog.Logger
}

func NewOutboxNotifier(q db.Querier, logger zerolog.Logger) *OutboxNotifier {
	return &OutboxNotifier{db: q, logger: logger}
}

func (n *OutboxNotifier) Notify(ctx context.Context, userID uuid.UUID, kind, title, body string, meta map[string]any) {
	var payload []byte
	if meta != nil {
		var err error
		payload, err = json.Marshal(meta)
		if err != nil {
			n.logger.Warn().Err(err).Str("kind", kind).Msg("notify: drop unmarshalable meta")
			payload = nil
		}
	}

	insertCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := n.db.Exec(insertCtx, `
		INSERT INTO notifications (id, user_id, kind, title, body, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, uuid.New(), userID, kind, title, body, payload)
	if err != nil {
		n.logger.Error().Err(err).
			Str("user_id", userID.String()).
			Str("kind", kind).
			Msg("notify: outbox insert failed")
	}
}

// LogNotifier writes notifications to the log only. Used in dev and tests.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID uuid.UUID, kind, title, body string, meta map[string]any) {
	n.logger.Info().
		Str("user_id", userID.String()).
		Str("kind", kind).
		Str("title", title).
		Str("body", body).
		Interface("meta", meta).
		Msg("notification")
}
