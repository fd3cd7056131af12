package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names an appointment lifecycle event.
type Type string

const (
	TypeAppointmentCreated       Type = "appointment.created.v1"
	TypeAppointmentStatusChanged Type = "appointment.status_changed.v1"
	TypeAppointmentRescheduled   Type = "appointment.rescheduled.v1"
)

// AppointmentSnapshot is the appointment state carried by lifecycle events.
type AppointmentSnapshot struct {
	ID              string            `json:"id"`
	Resource        string            `json:"resource"`
	Start           time.Time         `json:"start"`
	DurationSeconds int64             `json:"duration_seconds"`
	Timezone        string            `json:"timezone"`
	Status          string            `json:"status"`
	Fields          map[string]string `json:"fields,omitempty"`
	CustomerID      string            `json:"customer_id,omitempty"`
}

// End returns the end of the booked interval.
func (a AppointmentSnapshot) End() time.Time {
	return a.Start.Add(time.Duration(a.DurationSeconds) * time.Second)
}

type AppointmentCreatedV1 struct {
	EventID     string              `json:"event_id"`
	Appointment AppointmentSnapshot `json:"appointment"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

type AppointmentStatusChangedV1 struct {
	EventID     string              `json:"event_id"`
	Appointment AppointmentSnapshot `json:"appointment"`
	OldStatus   string              `json:"old_status"`
	NewStatus   string              `json:"new_status"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

type AppointmentRescheduledV1 struct {
	EventID            string              `json:"event_id"`
	Appointment        AppointmentSnapshot `json:"appointment"`
	OldStart           time.Time           `json:"old_start"`
	OldDurationSeconds int64               `json:"old_duration_seconds"`
	NewStart           time.Time           `json:"new_start"`
	NewDurationSeconds int64               `json:"new_duration_seconds"`
	OccurredAt         time.Time           `json:"occurred_at"`
}

// Event is the envelope handed to the hook dispatcher. Exactly one payload is set.
type Event struct {
	Type          Type                        `json:"type"`
	Created       *AppointmentCreatedV1       `json:"created,omitempty"`
	StatusChanged *AppointmentStatusChangedV1 `json:"status_changed,omitempty"`
	Rescheduled   *AppointmentRescheduledV1   `json:"rescheduled,omitempty"`
}

// Created wraps a creation event.
func Created(appt AppointmentSnapshot, at time.Time) Event {
	return Event{Type: TypeAppointmentCreated, Created: &AppointmentCreatedV1{
		EventID:     uuid.NewString(),
		Appointment: appt,
		OccurredAt:  at,
	}}
}

// StatusChanged wraps a status transition event.
func StatusChanged(appt AppointmentSnapshot, oldStatus, newStatus string, at time.Time) Event {
	return Event{Type: TypeAppointmentStatusChanged, StatusChanged: &AppointmentStatusChangedV1{
		EventID:     uuid.NewString(),
		Appointment: appt,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		OccurredAt:  at,
	}}
}

// Rescheduled wraps a reschedule event.
func Rescheduled(appt AppointmentSnapshot, oldStart time.Time, oldDuration time.Duration, at time.Time) Event {
	return Event{Type: TypeAppointmentRescheduled, Rescheduled: &AppointmentRescheduledV1{
		EventID:            uuid.NewString(),
		Appointment:        appt,
		OldStart:           oldStart,
		OldDurationSeconds: int64(oldDuration / time.Second),
		NewStart:           appt.Start,
		NewDurationSeconds: appt.DurationSeconds,
		OccurredAt:         at,
	}}
}

// ID returns the event id of whichever payload is set.
func (e Event) ID() string {
	switch {
	case e.Created != nil:
		return e.Created.EventID
	case e.StatusChanged != nil:
		return e.StatusChanged.EventID
	case e.Rescheduled != nil:
		return e.Rescheduled.EventID
	}
	return ""
}

// Appointment returns the snapshot of whichever payload is set.
func (e Event) Appointment() AppointmentSnapshot {
	switch {
	case e.Created != nil:
		return e.Created.Appointment
	case e.StatusChanged != nil:
		return e.StatusChanged.Appointment
	case e.Rescheduled != nil:
		return e.Rescheduled.Appointment
	}
	return AppointmentSnapshot{}
}
