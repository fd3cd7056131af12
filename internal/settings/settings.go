// Package settings serves the general, booking and communications sections
// of the platform configuration.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/medspa-scheduling/internal/timerange"
)

const (
	SectionGeneral        = "general"
	SectionBooking        = "booking"
	SectionCommunications = "communications"
)

var (
	// ErrUnknownSection is returned for sections other than the three known ones.
	ErrUnknownSection = errors.New("settings: unknown section")
	// ErrInvalid is returned when a section fails validation.
	ErrInvalid = errors.New("settings: invalid section")
)

// Provider reads configuration sections. Missing sections resolve to defaults.
type Provider interface {
	General(ctx context.Context) (General, error)
	Booking(ctx context.Context) (Booking, error)
	Communications(ctx context.Context) (Communications, error)
	Get(ctx context.Context, section string) (json.RawMessage, error)
}

// Writer replaces a section.
type Writer interface {
	Set(ctx context.Context, section string, raw json.RawMessage) error
}

// General holds site-wide values.
type General struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Timezone  string `json:"timezone"`
}

// DayHours is the open window of a single day, "15:04" formatted.
// Nil means closed that day.
type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// BusinessHours maps day names to their hours.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// GetHoursForDay returns the hours for weekday, or nil when closed.
func (b *BusinessHours) GetHoursForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Sunday:
		return b.Sunday
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	}
	return nil
}

// HasAnyHours reports whether at least one day is open.
func (b *BusinessHours) HasAnyHours() bool {
	return b.Sunday != nil || b.Monday != nil || b.Tuesday != nil ||
		b.Wednesday != nil || b.Thursday != nil || b.Friday != nil || b.Saturday != nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("%w: bad time %q", ErrInvalid, v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (d *DayHours) minutes() (open, close int, err error) {
	if open, err = parseClock(d.Open); err != nil {
		return 0, 0, err
	}
	if close, err = parseClock(d.Close); err != nil {
		return 0, 0, err
	}
	if close <= open {
		return 0, 0, fmt.Errorf("%w: close %s not after open %s", ErrInvalid, d.Close, d.Open)
	}
	return open, close, nil
}

// Booking controls slot computation, appointment creation and reminders.
type Booking struct {
	Timezone               string        `json:"timezone"`
	WorkingHours           BusinessHours `json:"working_hours"`
	SlotGranularityMinutes int           `json:"slot_granularity_minutes"`
	WindowDays             int           `json:"window_days"`
	RequiredFields         []string      `json:"required_fields"`
	InitialStatus          string        `json:"initial_status"`
	AllowOverlap           bool          `json:"allow_overlap"`
	ReminderOffsetsMinutes []int         `json:"reminder_offsets_minutes"`
}

// Location resolves the booking timezone, falling back to UTC.
func (b Booking) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Granularity is the slot step.
func (b Booking) Granularity() time.Duration {
	if b.SlotGranularityMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(b.SlotGranularityMinutes) * time.Minute
}

// Window is the default forward-looking search range.
func (b Booking) Window() time.Duration {
	days := b.WindowDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

// ReminderOffsets returns the lead times before an appointment start at which
// reminders go out.
func (b Booking) ReminderOffsets() []time.Duration {
	out := make([]time.Duration, 0, len(b.ReminderOffsetsMinutes))
	for _, m := range b.ReminderOffsetsMinutes {
		if m > 0 {
			out = append(out, time.Duration(m)*time.Minute)
		}
	}
	return out
}

// WorkingWindow returns the open interval of the calendar day containing day,
// in the booking timezone. ok is false when closed.
func (b Booking) WorkingWindow(day time.Time) (timerange.Interval, bool) {
	loc := b.Location()
	local := day.In(loc)
	hours := b.WorkingHours.GetHoursForDay(local.Weekday())
	if hours == nil {
		return timerange.Interval{}, false
	}
	open, close, err := hours.minutes()
	if err != nil {
		return timerange.Interval{}, false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return timerange.Interval{
		Start: midnight.Add(time.Duration(open) * time.Minute),
		End:   midnight.Add(time.Duration(close) * time.Minute),
	}, true
}

// Validate checks the section for values the engine cannot work with.
func (b Booking) Validate() error {
	if b.Timezone != "" {
		if _, err := time.LoadLocation(b.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q", ErrInvalid, b.Timezone)
		}
	}
	if b.SlotGranularityMinutes < 0 || b.WindowDays < 0 {
		return fmt.Errorf("%w: negative granularity or window", ErrInvalid)
	}
	switch b.InitialStatus {
	case "", "pending", "confirmed":
	default:
		return fmt.Errorf("%w: initial_status %q", ErrInvalid, b.InitialStatus)
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if h := b.WorkingHours.GetHoursForDay(wd); h != nil {
			if _, _, err := h.minutes(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Communications selects the apps used for outbound messages.
type Communications struct {
	MailAppID       string `json:"mail_app_id"`
	TextAppID       string `json:"text_app_id"`
	ResponderAppID  string `json:"responder_app_id"`
	FromNumber      string `json:"from_number"`
	ReminderSubject string `json:"reminder_subject"`
	EmailReminders  bool   `json:"email_reminders"`
	TextReminders   bool   `json:"text_reminders"`
}

// DefaultGeneral returns the general section used until one is saved.
func DefaultGeneral() General {
	return General{Name: "MedSpa", Timezone: "UTC"}
}

// DefaultBooking returns weekday 09:00-17:00 hours with 15 minute slots.
func DefaultBooking() Booking {
	weekday := func() *DayHours { return &DayHours{Open: "09:00", Close: "17:00"} }
	return Booking{
		Timezone: "UTC",
		WorkingHours: BusinessHours{
			Monday:    weekday(),
			Tuesday:   weekday(),
			Wednesday: weekday(),
			Thursday:  weekday(),
			Friday:    weekday(),
		},
		SlotGranularityMinutes: 15,
		WindowDays:             14,
		RequiredFields:         []string{"name"},
		InitialStatus:          "pending",
		ReminderOffsetsMinutes: []int{24 * 60, 60},
	}
}

// DefaultCommunications sends reminders on both channels through whichever
// app is connected first.
func DefaultCommunications() Communications {
	return Communications{
		ReminderSubject: "Appointment reminder",
		EmailReminders:  true,
		TextReminders:   true,
	}
}

func defaultSection(section string) (any, error) {
	switch section {
	case SectionGeneral:
		return DefaultGeneral(), nil
	case SectionBooking:
		return DefaultBooking(), nil
	case SectionCommunications:
		return DefaultCommunications(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSection, section)
}

// normalize decodes raw over the section defaults, validates it and returns
// the canonical encoding.
func normalize(section string, raw json.RawMessage) (json.RawMessage, error) {
	var target any
	switch section {
	case SectionGeneral:
		v := DefaultGeneral()
		target = &v
	case SectionBooking:
		v := DefaultBooking()
		target = &v
	case SectionCommunications:
		v := DefaultCommunications()
		target = &v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSection, section)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if b, ok := target.(*Booking); ok {
		if err := b.Validate(); err != nil {
			return nil, err
		}
	}
	out, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("settings: marshal %s: %w", section, err)
	}
	return out, nil
}

func decodeSection[T any](ctx context.Context, p Provider, section string) (T, error) {
	var out T
	raw, err := p.Get(ctx, section)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("settings: unmarshal %s: %w", section, err)
	}
	return out, nil
}
