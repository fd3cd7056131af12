package apps

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/wolfman30/medspa-scheduling/internal/events"
	"github.com/wolfman30/medspa-scheduling/internal/timerange"
)

// CalendarSource reports busy time (calendar-read). Events written through
// CalendarSink are not reported; booked time comes from the appointment store.
type CalendarSource interface {
	BusyIntervals(ctx context.Context, from, to time.Time) ([]timerange.Interval, error)
}

// CalendarSink mirrors booked appointments into an external calendar
// (calendar-write). CreateEvent returns the provider's event id, which later
// updates and deletes address.
type CalendarSink interface {
	CreateEvent(ctx context.Context, appt events.AppointmentSnapshot) (string, error)
	UpdateEvent(ctx context.Context, externalID string, appt events.AppointmentSnapshot) error
	DeleteEvent(ctx context.Context, externalID string) error
}

// MailMessage is an outbound email.
type MailMessage struct {
	To            []string
	ToName        string
	Subject       string
	Text          string
	HTML          string
	AppointmentID string
}

// MailSender delivers email (mail-send).
type MailSender interface {
	SendMail(ctx context.Context, msg MailMessage) error
}

// TextMessage is an outbound SMS.
type TextMessage struct {
	To            string
	From          string
	Body          string
	AppointmentID string
}

// TextSender delivers SMS (text-message-send).
type TextSender interface {
	SendText(ctx context.Context, msg TextMessage) error
}

// InboundText is an SMS received by a text app.
type InboundText struct {
	From       string
	To         string
	Body       string
	ReceivedAt time.Time
}

// TextResponder produces a reply for an inbound SMS (text-message-respond).
// An empty reply means no answer is sent.
type TextResponder interface {
	Respond(ctx context.Context, in InboundText) (string, error)
}

// The appointment-hook scope is served by any of these three; an app
// implements only the events it cares about.
type (
	CreatedHook interface {
		OnAppointmentCreated(ctx context.Context, evt events.AppointmentCreatedV1) error
	}
	StatusChangedHook interface {
		OnAppointmentStatusChanged(ctx context.Context, evt events.AppointmentStatusChangedV1) error
	}
	RescheduledHook interface {
		OnAppointmentRescheduled(ctx context.Context, evt events.AppointmentRescheduledV1) error
	}
)

// ScheduledTask runs on every scheduler tick (scheduled).
type ScheduledTask interface {
	OnTime(ctx context.Context, ref time.Time) error
}

// WebhookProcessor owns the full request/response of /apps/{id}/webhook.
// Returning an error before writing lets the gateway pick the status.
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// StreamingWebhook marks processors that hold the connection open (websockets)
// and must not get the gateway deadline.
type StreamingWebhook interface {
	StreamsWebhook() bool
}

// OAuthCompleter drives the provider authorization flow. CompleteOAuth returns
// the data blob to persist for the app.
type OAuthCompleter interface {
	AuthorizationURL(state string) string
	CompleteOAuth(ctx context.Context, params url.Values) (json.RawMessage, error)
}

// HealthChecker lets the periodic sweep flip an app between connected and failed.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}
