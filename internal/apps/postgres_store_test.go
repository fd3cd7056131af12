package apps

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appRowColumns = []string{"id", "name", "scopes", "status", "data", "created_at", "updated_at"}

func TestPostgresStoreInsertAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	app := &ConnectedApp{
		ID:        "0b8b1f7e-54f4-4d4b-8f53-5d2b7c1f9a10",
		Name:      "calendar",
		Scopes:    []Scope{ScopeCalendarRead},
		Status:    StatusPending,
		Data:      json.RawMessage(`{"k":"v"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO connected_apps").
		WithArgs(app.ID, "calendar", []string{"calendar-read"}, "pending", []byte(`{"k":"v"}`), now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.Insert(context.Background(), app))

	mock.ExpectQuery("SELECT id::text, name, scopes").
		WithArgs(app.ID).
		WillReturnRows(pgxmock.NewRows(appRowColumns).
			AddRow(app.ID, "calendar", []string{"calendar-read"}, "connected", []byte(`{"k":"v"}`), now, now))
	got, err := store.Get(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, got.Status)
	assert.Equal(t, []Scope{ScopeCalendarRead}, got.Scopes)
	assert.JSONEq(t, `{"k":"v"}`, string(got.Data))

	mock.ExpectQuery("SELECT id::text, name, scopes").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAppNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("FROM connected_apps").
		WithArgs("", "calendar-read", []string{"connected"}).
		WillReturnRows(pgxmock.NewRows(appRowColumns).
			AddRow("a1", "calendar", []string{"calendar-read", "calendar-write"}, "connected", []byte(nil), now, now).
			AddRow("a2", "calendar", []string{"calendar-read"}, "connected", []byte(`{}`), now, now))

	list, err := NewPostgresStore(mock).List(context.Background(), ListFilter{Scope: ScopeCalendarRead, Statuses: []Status{StatusConnected}})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Nil(t, list[0].Data)
	assert.Equal(t, "a2", list[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUpdateStatusIsConditional(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	ctx := context.Background()

	mock.ExpectExec("UPDATE connected_apps SET status").
		WithArgs("failed", pgxmock.AnyArg(), "a1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	changed, err := store.UpdateStatus(ctx, "a1", StatusFailed)
	require.NoError(t, err)
	assert.True(t, changed)

	mock.ExpectExec("UPDATE connected_apps SET status").
		WithArgs("failed", pgxmock.AnyArg(), "a1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM connected_apps").
		WithArgs("a1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("failed"))
	changed, err = store.UpdateStatus(ctx, "a1", StatusFailed)
	require.NoError(t, err)
	assert.False(t, changed)

	mock.ExpectExec("UPDATE connected_apps SET status").
		WithArgs("failed", pgxmock.AnyArg(), "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM connected_apps").
		WithArgs("gone").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.UpdateStatus(ctx, "gone", StatusFailed)
	assert.ErrorIs(t, err, ErrAppNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUpdateDataAndDelete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	ctx := context.Background()

	mock.ExpectExec("UPDATE connected_apps SET data").
		WithArgs([]byte(`{"x":1}`), pgxmock.AnyArg(), "a1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.UpdateData(ctx, "a1", json.RawMessage(`{"x":1}`)))

	mock.ExpectExec("DELETE FROM connected_apps").
		WithArgs("a1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	assert.ErrorIs(t, store.Delete(ctx, "a1"), ErrAppNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
