package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkingWindow(t *testing.T) {
	b := DefaultBooking()
	b.Timezone = "America/New_York"
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Monday 2025-12-08, queried at 03:00 UTC which is still Sunday in New York.
	window, ok := b.WorkingWindow(time.Date(2025, 12, 8, 15, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 12, 8, 9, 0, 0, 0, loc), window.Start)
	assert.Equal(t, time.Date(2025, 12, 8, 17, 0, 0, 0, loc), window.End)

	_, ok = b.WorkingWindow(time.Date(2025, 12, 8, 3, 0, 0, 0, time.UTC))
	assert.False(t, ok, "Sunday is closed")
}

func TestBookingValidate(t *testing.T) {
	b := DefaultBooking()
	require.NoError(t, b.Validate())

	b.WorkingHours.Monday = &DayHours{Open: "17:00", Close: "09:00"}
	assert.ErrorIs(t, b.Validate(), ErrInvalid)

	b = DefaultBooking()
	b.Timezone = "Mars/Olympus"
	assert.ErrorIs(t, b.Validate(), ErrInvalid)

	b = DefaultBooking()
	b.InitialStatus = "declined"
	assert.ErrorIs(t, b.Validate(), ErrInvalid)
}

func TestBookingDerivedValues(t *testing.T) {
	b := Booking{ReminderOffsetsMinutes: []int{60, 0, -5, 1440}}
	assert.Equal(t, []time.Duration{time.Hour, 24 * time.Hour}, b.ReminderOffsets())
	assert.Equal(t, 15*time.Minute, b.Granularity())
	assert.Equal(t, 14*24*time.Hour, b.Window())
	assert.Equal(t, time.UTC, b.Location())
}
