package apps

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/wolfman30/medspa-scheduling/internal/events"
	"github.com/wolfman30/medspa-scheduling/internal/timerange"
)

type fakeCalendar struct {
	healthErr error
}

func (f *fakeCalendar) BusyIntervals(ctx context.Context, from, to time.Time) ([]timerange.Interval, error) {
	return nil, nil
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, appt events.AppointmentSnapshot) (string, error) {
	return "evt", nil
}

func (f *fakeCalendar) UpdateEvent(ctx context.Context, externalID string, appt events.AppointmentSnapshot) error {
	return nil
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, externalID string) error { return nil }

func (f *fakeCalendar) CheckHealth(ctx context.Context) error { return f.healthErr }

func (f *fakeCalendar) ProcessWebhook(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return nil
}

type fakeHook struct{}

func (fakeHook) OnAppointmentCreated(ctx context.Context, evt events.AppointmentCreatedV1) error {
	return nil
}

func testRegistry(healthErr error) *Registry {
	reg, err := NewRegistry(
		Descriptor{
			Name:   "calendar",
			Label:  "Calendar",
			Scopes: []Scope{ScopeCalendarRead, ScopeCalendarWrite},
			Build: func(app *ConnectedApp, env Env) (any, error) {
				return &fakeCalendar{healthErr: healthErr}, nil
			},
		},
		Descriptor{
			Name:   "hook",
			Label:  "Hook",
			Scopes: []Scope{ScopeAppointmentHook},
			Build:  func(app *ConnectedApp, env Env) (any, error) { return fakeHook{}, nil },
		},
		Descriptor{
			Name:   "broken",
			Label:  "Broken",
			Scopes: []Scope{ScopeAppointmentHook},
			Build:  func(app *ConnectedApp, env Env) (any, error) { return nil, errors.New("no credentials") },
		},
	)
	if err != nil {
		panic(err)
	}
	return reg
}
