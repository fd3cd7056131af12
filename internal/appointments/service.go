// Package appointments owns the appointment lifecycle: booking, status
// transitions and reschedules, with lifecycle events handed to the hook
// dispatcher.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-scheduling/internal/availability"
	"github.com/wolfman30/medspa-scheduling/internal/events"
	"github.com/wolfman30/medspa-scheduling/internal/observability/metrics"
	"github.com/wolfman30/medspa-scheduling/internal/settings"
	"github.com/wolfman30/medspa-scheduling/internal/timerange"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

var appointmentsTracer = otel.Tracer("medspa.internal.appointments")

// SlotChecker validates a candidate slot.
type SlotChecker interface {
	CheckSlot(ctx context.Context, start time.Time, duration time.Duration, resource, excludeID string) error
}

// EventSubmitter accepts lifecycle events for detached delivery.
type EventSubmitter interface {
	Submit(evt events.Event) bool
}

// CreateInput is a booking request.
type CreateInput struct {
	Fields     map[string]string
	Start      time.Time
	Duration   time.Duration
	Timezone   string
	Resource   string
	CustomerID *string
	// Status overrides booking.initial_status when set.
	Status Status
}

// Service implements the lifecycle operations.
type Service struct {
	store    Store
	checker  SlotChecker
	settings settings.Provider
	hooks    EventSubmitter
	logger   *logging.Logger
	metrics  *metrics.SchedulingMetrics
	locks    *keyedMutex
	now      func() time.Time
}

// Option configures the service.
type Option func(*Service)

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEventSubmitter routes lifecycle events to hooks.
func WithEventSubmitter(h EventSubmitter) Option {
	return func(s *Service) { s.hooks = h }
}

func NewService(store Store, checker SlotChecker, provider settings.Provider, logger *logging.Logger, opts ...Option) *Service {
	if store == nil {
		panic("appointments: store cannot be nil")
	}
	if checker == nil {
		panic("appointments: slot checker cannot be nil")
	}
	if provider == nil {
		panic("appointments: settings provider cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:    store,
		checker:  checker,
		settings: provider,
		logger:   logger,
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and books an appointment, then submits the created event.
// Hook delivery never affects the result.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.create")
	defer span.End()

	booking, err := s.settings.Booking(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: load booking settings: %w", err)
	}
	if missing := missingFields(booking.RequiredFields, in.Fields); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	if in.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}
	if in.Start.IsZero() {
		return nil, fmt.Errorf("%w: start is required", ErrInvalidInput)
	}

	status := in.Status
	if status == "" {
		status = Status(booking.InitialStatus)
	}
	if status == "" {
		status = StatusPending
	}
	if status != StatusPending && status != StatusConfirmed {
		return nil, fmt.Errorf("%w: initial status %q", ErrInvalidInput, status)
	}

	tz := in.Timezone
	if tz == "" {
		tz = booking.Location().String()
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("%w: timezone %q", ErrInvalidInput, tz)
	}
	resource := in.Resource
	if resource == "" {
		resource = DefaultResource
	}

	now := s.now()
	appt := &Appointment{
		ID:         uuid.NewString(),
		Resource:   resource,
		Start:      in.Start.UTC(),
		Duration:   in.Duration,
		Timezone:   tz,
		Status:     status,
		Fields:     copyFields(in.Fields),
		CustomerID: in.CustomerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	span.SetAttributes(attribute.String("medspa.appointment_id", appt.ID), attribute.String("medspa.resource", resource))

	if err := s.checkSlot(ctx, appt.Start, appt.Duration, resource, ""); err != nil {
		s.metrics.ObserveAppointmentWrite("create", "rejected")
		return nil, err
	}

	unlock := s.locks.Lock(resource)
	err = s.store.InsertIfFree(ctx, appt, !booking.AllowOverlap)
	unlock()
	if err != nil {
		s.metrics.ObserveAppointmentWrite("create", "conflict")
		span.RecordError(err)
		if errors.Is(err, ErrSlotUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("appointments: create: %w", err)
	}

	s.metrics.ObserveAppointmentWrite("create", "ok")
	s.logger.Info("appointment created", "appointment_id", appt.ID, "resource", resource, "status", status, "start", appt.Start)
	s.submit(events.Created(appt.Snapshot(), now))
	return appt.clone(), nil
}

// ChangeStatus applies a lifecycle transition. A concurrent change between the
// read and the conditional write is retried once.
func (s *Service) ChangeStatus(ctx context.Context, id string, to Status) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.change_status")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.appointment_id", id), attribute.String("medspa.status", string(to)))

	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		appt, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		from := appt.Status
		if !CanTransition(from, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		now := s.now()
		err = s.store.UpdateStatus(ctx, id, from, to, now)
		if errors.Is(err, errStale) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		appt.Status = to
		appt.UpdatedAt = now
		s.metrics.ObserveAppointmentWrite("status", "ok")
		s.logger.Info("appointment status changed", "appointment_id", id, "old_status", from, "new_status", to)
		s.submit(events.StatusChanged(appt.Snapshot(), string(from), string(to), now))
		return appt, nil
	}
	s.metrics.ObserveAppointmentWrite("status", "conflict")
	return nil, ErrConcurrentUpdate
}

// Reschedule moves an appointment in place. A zero duration keeps the current one.
func (s *Service) Reschedule(ctx context.Context, id string, start time.Time, duration time.Duration) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.appointment_id", id))

	if start.IsZero() {
		return nil, fmt.Errorf("%w: start is required", ErrInvalidInput)
	}
	if duration < 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}
	booking, err := s.settings.Booking(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: load booking settings: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		appt, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !appt.Blocks() {
			return nil, fmt.Errorf("%w: declined appointments cannot be rescheduled", ErrInvalidTransition)
		}
		oldStart, oldDuration := appt.Start, appt.Duration
		next := appt.clone()
		next.Start = start.UTC()
		if duration > 0 {
			next.Duration = duration
		}
		next.UpdatedAt = s.now()

		if err := s.checkSlot(ctx, next.Start, next.Duration, next.Resource, id); err != nil {
			s.metrics.ObserveAppointmentWrite("reschedule", "rejected")
			return nil, err
		}

		unlock := s.locks.Lock(next.Resource)
		err = s.store.Reschedule(ctx, next, oldStart, oldDuration, !booking.AllowOverlap)
		unlock()
		if errors.Is(err, errStale) {
			continue
		}
		if err != nil {
			s.metrics.ObserveAppointmentWrite("reschedule", "conflict")
			span.RecordError(err)
			return nil, err
		}

		s.metrics.ObserveAppointmentWrite("reschedule", "ok")
		s.logger.Info("appointment rescheduled", "appointment_id", id, "old_start", oldStart, "new_start", next.Start)
		s.submit(events.Rescheduled(next.Snapshot(), oldStart, oldDuration, next.UpdatedAt))
		return next, nil
	}
	s.metrics.ObserveAppointmentWrite("reschedule", "conflict")
	return nil, ErrConcurrentUpdate
}

func (s *Service) Get(ctx context.Context, id string) (*Appointment, error) {
	return s.store.Get(ctx, id)
}

// ListStarting returns blocking appointments starting in [from, to).
func (s *Service) ListStarting(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	return s.store.ListStarting(ctx, from, to)
}

// BusyBetween serves booked time to the availability engine.
func (s *Service) BusyBetween(ctx context.Context, resource string, from, to time.Time, excludeID string) ([]timerange.Interval, error) {
	if resource == "" {
		resource = DefaultResource
	}
	return s.store.BusyBetween(ctx, resource, from, to, excludeID)
}

// AddAppRef records that a calendar-write app mirrors the appointment as
// externalID.
func (s *Service) AddAppRef(ctx context.Context, id, appID, externalID string) error {
	return s.store.AddAppRef(ctx, id, appID, externalID)
}

// CalendarEvents returns the external event ids mirroring the appointment, by app id.
func (s *Service) CalendarEvents(ctx context.Context, id string) (map[string]string, error) {
	return s.store.CalendarEvents(ctx, id)
}

// AppInUse is the connected app deletion guard: apps referenced by pending
// appointments cannot be removed.
func (s *Service) AppInUse(ctx context.Context, appID string) (bool, error) {
	return s.store.ReferencesApp(ctx, appID)
}

func (s *Service) checkSlot(ctx context.Context, start time.Time, duration time.Duration, resource, excludeID string) error {
	err := s.checker.CheckSlot(ctx, start, duration, resource, excludeID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, availability.ErrSlotUnavailable):
		return fmt.Errorf("%w: %v", ErrSlotUnavailable, err)
	case errors.Is(err, availability.ErrInvalidDuration):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return fmt.Errorf("appointments: check slot: %w", err)
}

func (s *Service) submit(evt events.Event) {
	if s.hooks == nil {
		return
	}
	if !s.hooks.Submit(evt) {
		s.logger.Warn("appointment event not queued", "event", evt.Type, "event_id", evt.ID(), "appointment_id", evt.Appointment().ID)
	}
}

func missingFields(required []string, fields map[string]string) []string {
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
