package scheduler

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresLedger(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger := NewPostgresLedger(mock)
	key := ReminderKey{AppointmentID: "a-1", Offset: 24 * time.Hour, Start: ref}

	mock.ExpectExec("INSERT INTO reminder_deliveries").
		WithArgs("a-1", 1440, ref, ref).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := ledger.Claim(context.Background(), key, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("INSERT INTO reminder_deliveries").
		WithArgs("a-1", 1440, ref, ref).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	ok, err = ledger.Claim(context.Background(), key, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec("DELETE FROM reminder_deliveries").
		WithArgs(ref).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	n, err := ledger.Prune(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}
