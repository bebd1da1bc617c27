package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestOutboxNotifierInserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	userID := uuid.New()
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(pgxmock.AnyArg(), userID, "payment_received", "Payment received", "Your appointment is confirmed", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n := NewOutboxNotifier(mock, zerolog.Nop())
	n.Notify(context.Background(), userID, "payment_received", "Payment received", "Your appointment is confirmed", map[string]any{"appointment_id": "x"})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxNotifierSwallowsInsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	userID := uuid.New()
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(pgxmock.AnyArg(), userID, "k", "t", "b", pgxmock.AnyArg()).
		WillReturnError(errors.New("outbox table gone"))

	n := NewOutboxNotifier(mock, zerolog.Nop())

	// Must not panic or propagate; notifications are fire-and-forget.
	n.Notify(context.Background(), userID, "k", "t", "b", nil)

	require.NoError(t, mock.ExpectationsWereMet())
}
