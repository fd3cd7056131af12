// Package hooks delivers appointment lifecycle events to connected apps.
//
// Delivery is detached from the request that caused the event: Submit only
// enqueues, and a fixed set of workers fans each event out to every
// appointment-hook app and every calendar-write app. Calendar apps get the
// mirrored event created, moved on reschedule and removed on decline.
// One app failing, hanging or panicking never affects another. There are no
// retries. Events of one appointment always land on the same worker, so
// they are delivered in the order they were submitted.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/events"
	"github.com/wolfman30/medspa-scheduling/internal/fanout"
	"github.com/wolfman30/medspa-scheduling/internal/observability/metrics"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

var hooksTracer = otel.Tracer("medspa.internal.hooks")

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	defaultTimeout   = 10 * time.Second
	defaultCeiling   = 30 * time.Second
)

// errNotHandled marks an app that implements none of the hook methods for the event.
var errNotHandled = errors.New("hooks: event not handled")

// AppSource lists and builds connected apps.
type AppSource interface {
	ListByScope(ctx context.Context, scope apps.Scope, statuses ...apps.Status) ([]*apps.ConnectedApp, error)
	Instantiate(app *apps.ConnectedApp) (*apps.Instance, error)
}

// RefRecorder remembers which calendar-write apps hold a copy of an
// appointment, and under which external event id.
type RefRecorder interface {
	AddAppRef(ctx context.Context, appointmentID, appID, externalID string) error
	CalendarEvents(ctx context.Context, appointmentID string) (map[string]string, error)
}

// Failure is one app that did not take the event.
type Failure struct {
	AppID string `json:"app_id"`
	App   string `json:"app"`
	Error string `json:"error"`
}

// Report summarizes one dispatch.
type Report struct {
	EventID   string    `json:"event_id"`
	Event     string    `json:"event"`
	Targets   int       `json:"targets"`
	Delivered int       `json:"delivered"`
	Skipped   int       `json:"skipped"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Dispatcher owns the delivery queue and its workers.
type Dispatcher struct {
	apps    AppSource
	refs    RefRecorder
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics

	workers   int
	queueSize int
	timeout   time.Duration
	ceiling   time.Duration

	queues []chan events.Event
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize bounds the number of events waiting, split across workers.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithTimeout bounds each app call.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithCeiling bounds one whole dispatch.
func WithCeiling(ceiling time.Duration) Option {
	return func(d *Dispatcher) {
		if ceiling > 0 {
			d.ceiling = ceiling
		}
	}
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRefRecorder records calendar-write deliveries on the appointment.
func WithRefRecorder(r RefRecorder) Option {
	return func(d *Dispatcher) { d.refs = r }
}

// NewDispatcher starts the workers. Call Close to drain them.
func NewDispatcher(source AppSource, logger *logging.Logger, opts ...Option) *Dispatcher {
	if source == nil {
		panic("hooks: app source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		apps:      source,
		logger:    logger,
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		timeout:   defaultTimeout,
		ceiling:   defaultCeiling,
	}
	for _, opt := range opts {
		opt(d)
	}
	perWorker := d.queueSize / d.workers
	if perWorker < 1 {
		perWorker = 1
	}
	d.queues = make([]chan events.Event, d.workers)
	for i := range d.queues {
		d.queues[i] = make(chan events.Event, perWorker)
		d.wg.Add(1)
		go d.run(i+1, d.queues[i])
	}
	return d
}

// SetRefRecorder wires the recorder after construction, for services that
// depend on each other.
func (d *Dispatcher) SetRefRecorder(r RefRecorder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs = r
}

// Submit enqueues evt without blocking. It returns false when the queue is
// full or the dispatcher is closed; the event is dropped.
func (d *Dispatcher) Submit(evt events.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.ObserveHookDrop()
		d.logger.Warn("hook event dropped: dispatcher closed", "event", evt.Type, "event_id", evt.ID())
		return false
	}
	select {
	case d.queueFor(evt) <- evt:
		return true
	default:
		d.metrics.ObserveHookDrop()
		d.logger.Warn("hook event dropped: queue full", "event", evt.Type, "event_id", evt.ID(), "appointment_id", evt.Appointment().ID)
		return false
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) queueFor(evt events.Event) chan events.Event {
	h := fnv.New32a()
	_, _ = h.Write([]byte(evt.Appointment().ID))
	return d.queues[h.Sum32()%uint32(len(d.queues))]
}

func (d *Dispatcher) run(workerID int, queue <-chan events.Event) {
	defer d.wg.Done()
	d.logger.Debug("hook worker started", "worker_id", workerID)
	for evt := range queue {
		d.Dispatch(context.Background(), evt)
	}
	d.logger.Debug("hook worker stopped", "worker_id", workerID)
}

type target struct {
	app      *apps.ConnectedApp
	calendar bool
}

// Dispatch delivers evt to every subscribed app and waits for them, up to the
// dispatch ceiling.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.Event) Report {
	ctx, span := hooksTracer.Start(ctx, "hooks.dispatch")
	defer span.End()

	appt := evt.Appointment()
	span.SetAttributes(
		attribute.String("medspa.event", string(evt.Type)),
		attribute.String("medspa.appointment_id", appt.ID),
	)
	report := Report{EventID: evt.ID(), Event: string(evt.Type)}

	targets, err := d.targets(ctx, evt)
	if err != nil {
		span.RecordError(err)
		d.logger.Error("hook targets unavailable", "event", evt.Type, "event_id", report.EventID, "error", err)
		report.Failures = append(report.Failures, Failure{Error: err.Error()})
		return report
	}
	report.Targets = len(targets)
	if len(targets) == 0 {
		return report
	}

	outcomes := fanout.Run(ctx, targets, fanout.Options{TaskTimeout: d.timeout, Deadline: d.ceiling}, func(ctx context.Context, t target) error {
		return d.deliver(ctx, t, evt)
	})
	for _, o := range outcomes {
		operation := "hook"
		if o.Item.calendar {
			operation = "calendar_write"
		}
		switch {
		case o.Err == nil:
			report.Delivered++
		case errors.Is(o.Err, errNotHandled):
			report.Skipped++
			continue
		default:
			d.logger.Warn("hook delivery failed",
				"app_id", o.Item.app.ID, "app", o.Item.app.Name, "event", evt.Type,
				"event_id", report.EventID, "appointment_id", appt.ID, "error", o.Err)
			report.Failures = append(report.Failures, Failure{AppID: o.Item.app.ID, App: o.Item.app.Name, Error: o.Err.Error()})
		}
		d.metrics.ObserveAppCall(operation, o.Err, o.Duration)
	}
	span.SetAttributes(attribute.Int("medspa.hook_targets", report.Targets), attribute.Int("medspa.hook_failures", len(report.Failures)))
	return report
}

func (d *Dispatcher) targets(ctx context.Context, evt events.Event) ([]target, error) {
	hookApps, err := d.apps.ListByScope(ctx, apps.ScopeAppointmentHook)
	if err != nil {
		return nil, fmt.Errorf("hooks: list hook apps: %w", err)
	}
	out := make([]target, 0, len(hookApps))
	for _, app := range hookApps {
		out = append(out, target{app: app})
	}
	sinks, err := d.apps.ListByScope(ctx, apps.ScopeCalendarWrite)
	if err != nil {
		return nil, fmt.Errorf("hooks: list calendar sinks: %w", err)
	}
	for _, app := range sinks {
		out = append(out, target{app: app, calendar: true})
	}
	return out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, t target, evt events.Event) error {
	inst, err := d.apps.Instantiate(t.app)
	if err != nil {
		return err
	}
	if t.calendar {
		return d.syncCalendar(ctx, inst, evt)
	}

	hook, ok := inst.AppointmentHook()
	if !ok {
		return apps.ErrCapabilityMissing
	}
	switch evt.Type {
	case events.TypeAppointmentCreated:
		if h, ok := hook.(apps.CreatedHook); ok && evt.Created != nil {
			return h.OnAppointmentCreated(ctx, *evt.Created)
		}
	case events.TypeAppointmentStatusChanged:
		if h, ok := hook.(apps.StatusChangedHook); ok && evt.StatusChanged != nil {
			return h.OnAppointmentStatusChanged(ctx, *evt.StatusChanged)
		}
	case events.TypeAppointmentRescheduled:
		if h, ok := hook.(apps.RescheduledHook); ok && evt.Rescheduled != nil {
			return h.OnAppointmentRescheduled(ctx, *evt.Rescheduled)
		}
	}
	return errNotHandled
}

func (d *Dispatcher) syncCalendar(ctx context.Context, inst *apps.Instance, evt events.Event) error {
	sink, ok := inst.CalendarSink()
	if !ok {
		return apps.ErrCapabilityMissing
	}
	appt := evt.Appointment()

	d.mu.RLock()
	refs := d.refs
	d.mu.RUnlock()

	if evt.Type == events.TypeAppointmentCreated {
		return d.mirror(ctx, sink, refs, inst.App.ID, appt)
	}
	if refs == nil {
		return errNotHandled
	}
	external, err := refs.CalendarEvents(ctx, appt.ID)
	if err != nil {
		return fmt.Errorf("hooks: load calendar refs: %w", err)
	}
	externalID := external[inst.App.ID]

	switch {
	case evt.StatusChanged != nil && evt.StatusChanged.NewStatus == "declined":
		if externalID == "" {
			return errNotHandled
		}
		if err := sink.DeleteEvent(ctx, externalID); err != nil {
			return err
		}
		d.logger.Info("calendar event removed", "app_id", inst.App.ID, "appointment_id", appt.ID, "external_id", externalID)
		return nil
	case externalID != "":
		if err := sink.UpdateEvent(ctx, externalID, appt); err != nil {
			return err
		}
		d.logger.Info("calendar event updated", "app_id", inst.App.ID, "appointment_id", appt.ID, "external_id", externalID, "event", evt.Type)
		return nil
	case evt.Type == events.TypeAppointmentRescheduled:
		// Connected after the booking was made.
		return d.mirror(ctx, sink, refs, inst.App.ID, appt)
	}
	return errNotHandled
}

func (d *Dispatcher) mirror(ctx context.Context, sink apps.CalendarSink, refs RefRecorder, appID string, appt events.AppointmentSnapshot) error {
	externalID, err := sink.CreateEvent(ctx, appt)
	if err != nil {
		return err
	}
	d.logger.Info("appointment synced to calendar", "app_id", appID, "appointment_id", appt.ID, "external_id", externalID)
	if refs == nil {
		return nil
	}
	if err := refs.AddAppRef(ctx, appt.ID, appID, externalID); err != nil {
		return fmt.Errorf("hooks: record calendar ref: %w", err)
	}
	return nil
}
