package hooks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/events"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

type recordingHook struct {
	mu      sync.Mutex
	created []events.AppointmentCreatedV1
	changed []events.AppointmentStatusChangedV1
	err     error
	panics  bool
	block   chan struct{}
}

func (h *recordingHook) OnAppointmentCreated(ctx context.Context, evt events.AppointmentCreatedV1) error {
	if h.panics {
		panic("hook exploded")
	}
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, evt)
	return h.err
}

func (h *recordingHook) OnAppointmentStatusChanged(ctx context.Context, evt events.AppointmentStatusChangedV1) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changed = append(h.changed, evt)
	return h.err
}

func (h *recordingHook) createdCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.created)
}

type fakeSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *fakeSink) CreateEvent(ctx context.Context, appt events.AppointmentSnapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "create:"+appt.ID)
	return "ext-" + appt.ID, nil
}

func (s *fakeSink) UpdateEvent(ctx context.Context, externalID string, appt events.AppointmentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "update:"+externalID+":"+appt.Status)
	return nil
}

func (s *fakeSink) DeleteEvent(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "delete:"+externalID)
	return nil
}

type refRecorder struct {
	mu   sync.Mutex
	refs map[string]map[string]string
}

func (r *refRecorder) AddAppRef(ctx context.Context, appointmentID, appID, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs == nil {
		r.refs = make(map[string]map[string]string)
	}
	if r.refs[appointmentID] == nil {
		r.refs[appointmentID] = make(map[string]string)
	}
	r.refs[appointmentID][appID] = externalID
	return nil
}

func (r *refRecorder) CalendarEvents(ctx context.Context, appointmentID string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string)
	for appID, ext := range r.refs[appointmentID] {
		out[appID] = ext
	}
	return out, nil
}

type fixture struct {
	apps  *apps.Service
	impls map[string]any
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{impls: make(map[string]any)}
	build := func(app *apps.ConnectedApp, env apps.Env) (any, error) {
		return f.impls[app.ID], nil
	}
	reg, err := apps.NewRegistry(
		apps.Descriptor{Name: "recorder", Scopes: []apps.Scope{apps.ScopeAppointmentHook}, Build: build},
		apps.Descriptor{Name: "calendar", Scopes: []apps.Scope{apps.ScopeCalendarWrite}, Build: build},
	)
	require.NoError(t, err)
	f.apps = apps.NewService(apps.NewMemoryStore(), reg, logging.Discard())
	return f
}

func (f *fixture) connect(t *testing.T, name string, impl any) string {
	t.Helper()
	app, err := f.apps.Create(context.Background(), name, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.apps.UpdateStatus(context.Background(), app.ID, apps.StatusConnected))
	f.impls[app.ID] = impl
	return app.ID
}

func createdEvent() events.Event {
	return events.Created(events.AppointmentSnapshot{
		ID:              "appt-1",
		Start:           time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		DurationSeconds: 1800,
		Status:          "pending",
	}, time.Now())
}

func TestDispatchIsolatesFailingApps(t *testing.T) {
	f := newFixture(t)
	good1, good2 := &recordingHook{}, &recordingHook{}
	f.connect(t, "recorder", good1)
	badID := f.connect(t, "recorder", &recordingHook{err: errors.New("endpoint down")})
	panicID := f.connect(t, "recorder", &recordingHook{panics: true})
	f.connect(t, "recorder", good2)

	d := NewDispatcher(f.apps, logging.Discard(), WithWorkers(1))
	defer d.Close()

	report := d.Dispatch(context.Background(), createdEvent())
	assert.Equal(t, 4, report.Targets)
	assert.Equal(t, 2, report.Delivered)
	require.Len(t, report.Failures, 2)
	failed := []string{report.Failures[0].AppID, report.Failures[1].AppID}
	assert.ElementsMatch(t, []string{badID, panicID}, failed)

	assert.Equal(t, 1, good1.createdCount())
	assert.Equal(t, 1, good2.createdCount())
}

func TestDispatchTimesOutSlowApps(t *testing.T) {
	f := newFixture(t)
	block := make(chan struct{})
	defer close(block)
	slowID := f.connect(t, "recorder", &recordingHook{block: block})
	fast := &recordingHook{}
	f.connect(t, "recorder", fast)

	d := NewDispatcher(f.apps, logging.Discard(), WithTimeout(20*time.Millisecond), WithCeiling(time.Second))
	defer d.Close()

	start := time.Now()
	report := d.Dispatch(context.Background(), createdEvent())
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, 1, report.Delivered)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, slowID, report.Failures[0].AppID)
	assert.Equal(t, 1, fast.createdCount())
}

func TestDispatchSkipsAppsWithoutMatchingHook(t *testing.T) {
	f := newFixture(t)
	onlyCreated := &struct{ apps.CreatedHook }{CreatedHook: &recordingHook{}}
	f.connect(t, "recorder", onlyCreated)
	changed := &recordingHook{}
	f.connect(t, "recorder", changed)

	d := NewDispatcher(f.apps, logging.Discard())
	defer d.Close()

	snap := createdEvent().Appointment()
	report := d.Dispatch(context.Background(), events.StatusChanged(snap, "pending", "confirmed", time.Now()))
	assert.Equal(t, 2, report.Targets)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Failures)
	require.Len(t, changed.changed, 1)
	assert.Equal(t, "confirmed", changed.changed[0].NewStatus)
}

func TestDispatchSyncsCalendarSinksOnCreate(t *testing.T) {
	f := newFixture(t)
	sink := &fakeSink{}
	sinkID := f.connect(t, "calendar", sink)
	refs := &refRecorder{}

	d := NewDispatcher(f.apps, logging.Discard(), WithRefRecorder(refs))
	defer d.Close()

	report := d.Dispatch(context.Background(), createdEvent())
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, []string{"create:appt-1"}, sink.calls)
	assert.Equal(t, map[string]string{sinkID: "ext-appt-1"}, refs.refs["appt-1"])
}

func TestDispatchFollowsAppointmentInCalendarSinks(t *testing.T) {
	f := newFixture(t)
	sink := &fakeSink{}
	f.connect(t, "calendar", sink)
	refs := &refRecorder{}

	d := NewDispatcher(f.apps, logging.Discard(), WithRefRecorder(refs))
	defer d.Close()
	ctx := context.Background()

	d.Dispatch(ctx, createdEvent())
	snap := createdEvent().Appointment()

	moved := snap
	moved.Start = snap.Start.Add(time.Hour)
	report := d.Dispatch(ctx, events.Rescheduled(moved, snap.Start, 30*time.Minute, time.Now()))
	assert.Equal(t, 1, report.Delivered)

	confirmed := moved
	confirmed.Status = "confirmed"
	d.Dispatch(ctx, events.StatusChanged(confirmed, "pending", "confirmed", time.Now()))

	declined := moved
	declined.Status = "declined"
	report = d.Dispatch(ctx, events.StatusChanged(declined, "confirmed", "declined", time.Now()))
	assert.Equal(t, 1, report.Delivered)
	assert.Empty(t, report.Failures)

	assert.Equal(t, []string{
		"create:appt-1",
		"update:ext-appt-1:pending",
		"update:ext-appt-1:confirmed",
		"delete:ext-appt-1",
	}, sink.calls)
}

func TestDispatchMirrorsRescheduleForLateSink(t *testing.T) {
	f := newFixture(t)
	refs := &refRecorder{}
	d := NewDispatcher(f.apps, logging.Discard(), WithRefRecorder(refs))
	defer d.Close()
	ctx := context.Background()

	// Booked before any calendar was connected.
	d.Dispatch(ctx, createdEvent())
	sink := &fakeSink{}
	sinkID := f.connect(t, "calendar", sink)

	snap := createdEvent().Appointment()
	other := snap
	other.ID = "appt-2"
	other.Status = "declined"
	report := d.Dispatch(ctx, events.StatusChanged(other, "pending", "declined", time.Now()))
	assert.Equal(t, 1, report.Skipped, "nothing mirrored, nothing to remove")

	report = d.Dispatch(ctx, events.Rescheduled(snap, snap.Start.Add(-time.Hour), 30*time.Minute, time.Now()))
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, []string{"create:appt-1"}, sink.calls)
	assert.Equal(t, "ext-appt-1", refs.refs["appt-1"][sinkID])
}

func TestSubmitDeliversAndCloseDrains(t *testing.T) {
	f := newFixture(t)
	hook := &recordingHook{}
	f.connect(t, "recorder", hook)

	d := NewDispatcher(f.apps, logging.Discard(), WithWorkers(2), WithQueueSize(16))
	for i := 0; i < 5; i++ {
		require.True(t, d.Submit(createdEvent()))
	}
	d.Close()

	assert.Equal(t, 5, hook.createdCount())
	assert.False(t, d.Submit(createdEvent()), "closed dispatcher rejects events")
	d.Close()
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	f := newFixture(t)
	block := make(chan struct{})
	f.connect(t, "recorder", &recordingHook{block: block})

	d := NewDispatcher(f.apps, logging.Discard(), WithWorkers(1), WithQueueSize(1), WithTimeout(5*time.Second))

	dropped := 0
	for i := 0; i < 10; i++ {
		if !d.Submit(createdEvent()) {
			dropped++
		}
	}
	close(block)
	d.Close()
	assert.GreaterOrEqual(t, dropped, 8)
}

func TestSubmitKeepsAppointmentEventsInOrder(t *testing.T) {
	f := newFixture(t)
	sink := &fakeSink{}
	f.connect(t, "calendar", sink)
	refs := &refRecorder{}

	d := NewDispatcher(f.apps, logging.Discard(), WithWorkers(4), WithQueueSize(64), WithRefRecorder(refs))

	snap := createdEvent().Appointment()
	declined := snap
	declined.Status = "declined"
	for i := 0; i < 5; i++ {
		s := snap
		s.ID = "appt-" + string(rune('a'+i))
		d2 := declined
		d2.ID = s.ID
		require.True(t, d.Submit(events.Created(s, time.Now())))
		require.True(t, d.Submit(events.Rescheduled(s, s.Start.Add(-time.Hour), 30*time.Minute, time.Now())))
		require.True(t, d.Submit(events.StatusChanged(d2, "pending", "declined", time.Now())))
	}
	d.Close()

	perAppointment := make(map[string][]string)
	for _, call := range sink.calls {
		parts := strings.SplitN(call, ":", 3)
		id := strings.TrimPrefix(parts[1], "ext-")
		perAppointment[id] = append(perAppointment[id], parts[0])
	}
	require.Len(t, perAppointment, 5)
	for id, ops := range perAppointment {
		assert.Equal(t, []string{"create", "update", "delete"}, ops, id)
	}
}
