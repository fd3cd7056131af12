package appointments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/medspa-scheduling/internal/events"
	"github.com/wolfman30/medspa-scheduling/internal/timerange"
)

// DefaultResource is the scheduling resource used when a booking names none.
const DefaultResource = "default"

var (
	ErrNotFound          = errors.New("appointments: not found")
	ErrMissingFields     = errors.New("appointments: missing required fields")
	ErrInvalidInput      = errors.New("appointments: invalid input")
	ErrInvalidTransition = errors.New("appointments: invalid status transition")
	ErrSlotUnavailable   = errors.New("appointments: slot unavailable")
	ErrConcurrentUpdate  = errors.New("appointments: concurrent update")

	// errStale is returned by conditional store writes whose precondition no
	// longer holds.
	errStale = errors.New("appointments: stale write")
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDeclined  Status = "declined"
)

// ParseStatus validates a raw status.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusConfirmed, StatusDeclined:
		return s, nil
	}
	return "", fmt.Errorf("%w: status %q", ErrInvalidInput, raw)
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusDeclined},
	StatusConfirmed: {StatusDeclined},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Appointment is a booked time on a scheduling resource. Appointments are
// never deleted; declined ones stop blocking time.
type Appointment struct {
	ID         string            `json:"id"`
	Resource   string            `json:"resource"`
	Start      time.Time         `json:"start"`
	Duration   time.Duration     `json:"-"`
	Timezone   string            `json:"timezone"`
	Status     Status            `json:"status"`
	Fields     map[string]string `json:"fields"`
	CustomerID *string           `json:"customer_id,omitempty"`
	// AppRefs lists calendar-write apps holding data for this appointment.
	AppRefs   []string  `json:"app_refs,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// End returns the end of the booked interval.
func (a *Appointment) End() time.Time {
	return a.Start.Add(a.Duration)
}

// Interval returns [Start, End).
func (a *Appointment) Interval() timerange.Interval {
	return timerange.New(a.Start, a.Duration)
}

// Blocks reports whether the appointment holds its slot.
func (a *Appointment) Blocks() bool {
	return a.Status != StatusDeclined
}

// Snapshot converts the appointment to the form carried by hook events.
func (a *Appointment) Snapshot() events.AppointmentSnapshot {
	snap := events.AppointmentSnapshot{
		ID:              a.ID,
		Resource:        a.Resource,
		Start:           a.Start,
		DurationSeconds: int64(a.Duration / time.Second),
		Timezone:        a.Timezone,
		Status:          string(a.Status),
	}
	if len(a.Fields) > 0 {
		snap.Fields = make(map[string]string, len(a.Fields))
		for k, v := range a.Fields {
			snap.Fields[k] = v
		}
	}
	if a.CustomerID != nil {
		snap.CustomerID = *a.CustomerID
	}
	return snap
}

func (a *Appointment) clone() *Appointment {
	out := *a
	if a.Fields != nil {
		out.Fields = make(map[string]string, len(a.Fields))
		for k, v := range a.Fields {
			out.Fields[k] = v
		}
	}
	if a.CustomerID != nil {
		id := *a.CustomerID
		out.CustomerID = &id
	}
	out.AppRefs = append([]string(nil), a.AppRefs...)
	return &out
}

// MarshalJSON adds duration_seconds and end to the wire form.
func (a Appointment) MarshalJSON() ([]byte, error) {
	type alias Appointment
	return json.Marshal(struct {
		alias
		DurationSeconds int64     `json:"duration_seconds"`
		End             time.Time `json:"end"`
	}{alias(a), int64(a.Duration / time.Second), a.End()})
}
