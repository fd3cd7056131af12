package commlog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRetention(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{40 * 24 * time.Hour, 10 * 24 * time.Hour, time.Hour} {
		require.NoError(t, store.Append(ctx, &Entry{
			Channel:   ChannelSMS,
			Direction: DirectionOutbound,
			To:        []string{"+15550000000"},
			Text:      "reminder",
			DateTime:  now.Add(-age),
			AppID:     string(rune('a' + i)),
		}))
	}

	deleted, err := store.DeleteOlderThan(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	list, err := store.ListBetween(ctx, now.Add(-365*24*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].AppID)
	assert.NotEmpty(t, list[0].ID)
}

func TestSQLStoreAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO communication_logs").
		WithArgs(sqlmock.AnyArg(), "email", "outbound", "clinic@example.com", sqlmock.AnyArg(),
			"Appointment reminder", "See you soon", "app-1", "appt-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	e := &Entry{
		Channel:       ChannelEmail,
		Direction:     DirectionOutbound,
		From:          "clinic@example.com",
		To:            []string{"jane@example.com"},
		Subject:       "Appointment reminder",
		Text:          "See you soon",
		AppID:         "app-1",
		AppointmentID: "appt-1",
	}
	require.NoError(t, NewSQLStore(db).Append(context.Background(), e))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.DateTime.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreListAndDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db)
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mock.ExpectQuery("FROM communication_logs").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"id", "channel", "direction", "sender", "recipients", "subject", "body", "app_id", "appointment_id", "date_time"}).
			AddRow("l1", "sms", "inbound", "+15550001111", "{+15550002222}", "", "hi", "app-1", "", from.Add(time.Hour)))

	list, err := store.ListBetween(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ChannelSMS, list[0].Channel)
	assert.Equal(t, DirectionInbound, list[0].Direction)
	assert.Equal(t, []string{"+15550002222"}, list[0].To)

	mock.ExpectExec("DELETE FROM communication_logs").
		WithArgs(from).
		WillReturnResult(sqlmock.NewResult(0, 7))
	n, err := store.DeleteOlderThan(context.Background(), from)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}
