package appointments

import (
	"context"
	"time"

	"github.com/wolfman30/medspa-scheduling/internal/timerange"
)

// Store persists appointments. Writes that affect time on a resource are
// conditional so concurrent writers cannot double book.
type Store interface {
	// InsertIfFree inserts appt, failing with ErrSlotUnavailable when
	// checkOverlap is set and a blocking appointment overlaps it.
	InsertIfFree(ctx context.Context, appt *Appointment, checkOverlap bool) error
	Get(ctx context.Context, id string) (*Appointment, error)
	// UpdateStatus moves id from one status to another, returning errStale
	// when the current status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error
	// Reschedule moves appt to its new Start/Duration provided the stored
	// slot still equals prevStart/prevDuration.
	Reschedule(ctx context.Context, appt *Appointment, prevStart time.Time, prevDuration time.Duration, checkOverlap bool) error
	// AddAppRef records that appID mirrors the appointment as externalID.
	AddAppRef(ctx context.Context, id, appID, externalID string) error
	// CalendarEvents maps app id to external event id for the appointment.
	CalendarEvents(ctx context.Context, id string) (map[string]string, error)
	BusyBetween(ctx context.Context, resource string, from, to time.Time, excludeID string) ([]timerange.Interval, error)
	// ListStarting returns blocking appointments starting in [from, to).
	ListStarting(ctx context.Context, from, to time.Time) ([]*Appointment, error)
	// ReferencesApp reports whether a pending appointment references appID.
	ReferencesApp(ctx context.Context, appID string) (bool, error)
}
