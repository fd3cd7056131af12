// Package availability computes bookable slots from working hours, connected
// calendar sources and already booked appointments.
package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/fanout"
	"github.com/wolfman30/medspa-scheduling/internal/observability/metrics"
	"github.com/wolfman30/medspa-scheduling/internal/settings"
	"github.com/wolfman30/medspa-scheduling/internal/timerange"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

var availabilityTracer = otel.Tracer("medspa.internal.availability")

// MaxRange bounds both a query range and a single slot duration.
const MaxRange = 366 * 24 * time.Hour

var (
	ErrInvalidDuration    = errors.New("availability: duration must be positive")
	ErrInvalidRange       = errors.New("availability: range end must be after start")
	ErrSlotUnavailable    = errors.New("availability: slot unavailable")
	ErrSourcesUnavailable = errors.New("availability: calendar sources unavailable")
)

// FailurePolicy decides what a failed calendar source does to a computation.
type FailurePolicy string

const (
	// PolicyExclude drops the failed source and flags the result degraded.
	PolicyExclude FailurePolicy = "exclude"
	// PolicyFail aborts with ErrSourcesUnavailable.
	PolicyFail FailurePolicy = "fail"
)

// ParsePolicy maps a config value to a policy, defaulting to exclude.
func ParsePolicy(raw string) FailurePolicy {
	if FailurePolicy(strings.ToLower(strings.TrimSpace(raw))) == PolicyFail {
		return PolicyFail
	}
	return PolicyExclude
}

// AppSource lists and builds connected apps.
type AppSource interface {
	ListByScope(ctx context.Context, scope apps.Scope, statuses ...apps.Status) ([]*apps.ConnectedApp, error)
	Instantiate(app *apps.ConnectedApp) (*apps.Instance, error)
}

// BookedSource reports time already taken by appointments on a resource.
type BookedSource interface {
	BusyBetween(ctx context.Context, resource string, from, to time.Time, excludeID string) ([]timerange.Interval, error)
}

// Query is an availability request.
type Query struct {
	Duration time.Duration
	From     time.Time
	To       time.Time
	Location *time.Location
	Resource string
	// ExcludeID ignores one appointment's own booking, for reschedules.
	ExcludeID string
}

// Slot is a bookable interval.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Result is the outcome of Compute.
type Result struct {
	Slots         []Slot   `json:"slots"`
	Degraded      bool     `json:"degraded"`
	FailedSources []string `json:"failed_sources,omitempty"`
}

// Engine computes availability.
type Engine struct {
	apps     AppSource
	booked   BookedSource
	settings settings.Provider
	logger   *logging.Logger
	metrics  *metrics.SchedulingMetrics

	sourceTimeout time.Duration
	workers       int
	policy        FailurePolicy
	now           func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

func WithSourceTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sourceTimeout = d
		}
	}
}

func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine wires an engine. booked may be nil when appointments are not
// tracked as a busy source.
func NewEngine(appSource AppSource, booked BookedSource, provider settings.Provider, logger *logging.Logger, opts ...Option) *Engine {
	if appSource == nil {
		panic("availability: app source cannot be nil")
	}
	if provider == nil {
		panic("availability: settings provider cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		apps:          appSource,
		booked:        booked,
		settings:      provider,
		logger:        logger,
		sourceTimeout: 3 * time.Second,
		workers:       8,
		policy:        PolicyExclude,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetBookedSource attaches the appointment busy source after construction.
func (e *Engine) SetBookedSource(b BookedSource) {
	e.booked = b
}

// Compute returns the ordered slots of q.Duration within the requested range.
func (e *Engine) Compute(ctx context.Context, q Query) (*Result, error) {
	ctx, span := availabilityTracer.Start(ctx, "availability.compute")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("medspa.duration_seconds", int64(q.Duration/time.Second)),
		attribute.String("medspa.resource", q.Resource),
	)

	if q.Duration <= 0 {
		return nil, ErrInvalidDuration
	}
	booking, err := e.settings.Booking(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("availability: load booking settings: %w", err)
	}

	now := e.now()
	from := q.From
	if from.IsZero() {
		from = now
	}
	to := q.To
	if to.IsZero() {
		to = from.Add(booking.Window())
	}
	if !to.After(from) || to.Sub(from) > MaxRange {
		return nil, ErrInvalidRange
	}

	busy, failed, err := e.collectBusy(ctx, booking, from, to, q.Resource, q.ExcludeID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	loc := q.Location
	if loc == nil {
		loc = booking.Location()
	}

	earliest := from
	if now.After(earliest) {
		earliest = now
	}

	slots := make([]Slot, 0)
	for _, day := range workingWindows(booking, from, to) {
		for _, free := range timerange.Subtract(day.clipped, busy) {
			for _, iv := range slide(free, day.open.Start, q.Duration, booking.Granularity(), earliest, to) {
				slots = append(slots, Slot{Start: iv.Start.In(loc), End: iv.End.In(loc)})
			}
		}
	}

	res := &Result{Slots: slots, Degraded: len(failed) > 0, FailedSources: failed}
	e.metrics.ObserveAvailability(res.Degraded)
	span.SetAttributes(attribute.Int("medspa.slots", len(slots)), attribute.Bool("medspa.degraded", res.Degraded))
	return res, nil
}

// CheckSlot verifies that [start, start+duration) is bookable: in the future,
// inside working hours and free of busy time on the resource.
func (e *Engine) CheckSlot(ctx context.Context, start time.Time, duration time.Duration, resource, excludeID string) error {
	ctx, span := availabilityTracer.Start(ctx, "availability.check_slot")
	defer span.End()

	if duration <= 0 {
		return ErrInvalidDuration
	}
	if start.Before(e.now()) {
		return fmt.Errorf("%w: start is in the past", ErrSlotUnavailable)
	}
	booking, err := e.settings.Booking(ctx)
	if err != nil {
		return fmt.Errorf("availability: load booking settings: %w", err)
	}

	candidate := timerange.New(start, duration)
	window, open := booking.WorkingWindow(start)
	if !open || !window.Contains(candidate) {
		return fmt.Errorf("%w: outside working hours", ErrSlotUnavailable)
	}

	busy, _, err := e.collectBusy(ctx, booking, candidate.Start, candidate.End, resource, excludeID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if timerange.AnyOverlap(candidate, busy) {
		return fmt.Errorf("%w: overlaps busy time", ErrSlotUnavailable)
	}
	return nil
}

// collectBusy queries every calendar-read app concurrently plus the booked
// source, and returns the merged busy set and the ids of failed sources.
func (e *Engine) collectBusy(ctx context.Context, booking settings.Booking, from, to time.Time, resource, excludeID string) ([]timerange.Interval, []string, error) {
	list, err := e.apps.ListByScope(ctx, apps.ScopeCalendarRead)
	if err != nil {
		return nil, nil, fmt.Errorf("availability: list calendar sources: %w", err)
	}

	// Results are keyed by app so a source abandoned on timeout, which may
	// still finish later, is never merged.
	var (
		mu     sync.Mutex
		found  = make(map[string][]timerange.Interval, len(list))
		all    []timerange.Interval
		failed []string
	)
	outcomes := fanout.Run(ctx, list, fanout.Options{Workers: e.workers, TaskTimeout: e.sourceTimeout}, func(ctx context.Context, app *apps.ConnectedApp) error {
		inst, err := e.apps.Instantiate(app)
		if err != nil {
			return err
		}
		source, ok := inst.CalendarSource()
		if !ok {
			return apps.ErrCapabilityMissing
		}
		intervals, err := source.BusyIntervals(ctx, from, to)
		if err != nil {
			return err
		}
		mu.Lock()
		found[app.ID] = intervals
		mu.Unlock()
		return nil
	})
	mu.Lock()
	for _, o := range outcomes {
		e.metrics.ObserveAppCall("calendar_read", o.Err, o.Duration)
		if o.Err != nil {
			e.logger.Warn("calendar source failed", "app_id", o.Item.ID, "app", o.Item.Name, "error", o.Err)
			failed = append(failed, o.Item.ID)
			continue
		}
		all = append(all, found[o.Item.ID]...)
	}
	mu.Unlock()
	if len(failed) > 0 && e.policy == PolicyFail {
		return nil, failed, fmt.Errorf("%w: %d of %d failed", ErrSourcesUnavailable, len(failed), len(list))
	}

	if e.booked != nil && !booking.AllowOverlap {
		booked, err := e.booked.BusyBetween(ctx, resource, from, to, excludeID)
		if err != nil {
			return nil, failed, fmt.Errorf("availability: booked intervals: %w", err)
		}
		all = append(all, booked...)
	}
	return timerange.Merge(all), failed, nil
}

type dayWindow struct {
	open    timerange.Interval
	clipped timerange.Interval
}

// workingWindows returns the open windows of every day touching [from, to),
// with their clipped part inside the range.
func workingWindows(booking settings.Booking, from, to time.Time) []dayWindow {
	loc := booking.Location()
	local := from.In(loc)

	var out []dayWindow
	for day := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, loc); ; day = day.AddDate(0, 0, 1) {
		if !time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc).Before(to) {
			break
		}
		window, open := booking.WorkingWindow(day)
		if !open {
			continue
		}
		clipped := window
		if clipped.Start.Before(from) {
			clipped.Start = from
		}
		if clipped.End.After(to) {
			clipped.End = to
		}
		if clipped.Start.Before(clipped.End) {
			out = append(out, dayWindow{open: window, clipped: clipped})
		}
	}
	return out
}

// slide emits duration-long windows inside free, stepping by granularity on a
// grid anchored at anchor. Slots starting before earliest are dropped.
func slide(free timerange.Interval, anchor time.Time, duration, step time.Duration, earliest, limit time.Time) []timerange.Interval {
	start := free.Start
	if earliest.After(start) {
		start = earliest
	}
	if off := start.Sub(anchor) % step; off > 0 {
		start = start.Add(step - off)
	}

	var out []timerange.Interval
	for s := start; ; s = s.Add(step) {
		end := s.Add(duration)
		if end.After(free.End) || end.After(limit) {
			break
		}
		out = append(out, timerange.Interval{Start: s, End: end})
	}
	return out
}
