// Package googlecalendar connects a Google Calendar for busy-time reads and
// appointment mirroring, authorized through the OAuth gateway.
package googlecalendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/events"
	"github.com/wolfman30/medspa-scheduling/internal/timerange"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Name is the descriptor name.
const Name = "google-calendar"

var tracer = otel.Tracer("medspa.internal.integrations.googlecalendar")

// ErrNotAuthorized is returned by calendar calls before the OAuth flow completed.
var ErrNotAuthorized = errors.New("googlecalendar: not authorized")

// Config holds the platform OAuth client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint and APIEndpoint override Google's defaults.
	Endpoint    oauth2.Endpoint
	APIEndpoint string
}

// Data is the per-app blob persisted after authorization.
type Data struct {
	Token      *oauth2.Token `json:"token,omitempty"`
	CalendarID string        `json:"calendar_id,omitempty"`
}

// Calendar is a built Google Calendar app.
type Calendar struct {
	oauth       *oauth2.Config
	apiEndpoint string
	data        Data
	save        func(ctx context.Context, data json.RawMessage) error
	logger      *logging.Logger

	once    sync.Once
	svc     *calendar.Service
	initErr error
}

// Descriptor returns the app definition.
func Descriptor(cfg Config) apps.Descriptor {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       []string{calendar.CalendarScope},
	}
	return apps.Descriptor{
		Name:   Name,
		Label:  "Google Calendar",
		Scopes: []apps.Scope{apps.ScopeCalendarRead, apps.ScopeCalendarWrite},
		Build: func(app *apps.ConnectedApp, env apps.Env) (any, error) {
			if cfg.ClientID == "" {
				return nil, errors.New("googlecalendar: oauth client not configured")
			}
			var data Data
			if err := app.DecodeData(&data); err != nil {
				return nil, err
			}
			if data.CalendarID == "" {
				data.CalendarID = "primary"
			}
			logger := env.Logger
			if logger == nil {
				logger = logging.Default()
			}
			return &Calendar{oauth: oauthCfg, apiEndpoint: cfg.APIEndpoint, data: data, save: env.SaveData, logger: logger}, nil
		},
	}
}

// AuthorizationURL asks for offline access so a refresh token is issued.
func (c *Calendar) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// CompleteOAuth exchanges the authorization code for a token.
func (c *Calendar) CompleteOAuth(ctx context.Context, params url.Values) (json.RawMessage, error) {
	if e := params.Get("error"); e != "" {
		return nil, fmt.Errorf("googlecalendar: authorization denied: %s", e)
	}
	code := params.Get("code")
	if code == "" {
		return nil, errors.New("googlecalendar: missing authorization code")
	}
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("googlecalendar: exchange code: %w", err)
	}
	return json.Marshal(Data{Token: tok, CalendarID: c.data.CalendarID})
}

// service lazily builds the API client. Refreshed tokens are written back to
// the app data so later builds start from them.
func (c *Calendar) service(ctx context.Context) (*calendar.Service, error) {
	if c.data.Token == nil {
		return nil, ErrNotAuthorized
	}
	c.once.Do(func() {
		ts := &savingTokenSource{
			base: c.oauth.TokenSource(context.Background(), c.data.Token),
			last: c.data.Token.AccessToken,
			save: c.persistToken,
		}
		opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(context.Background(), oauth2.ReuseTokenSource(c.data.Token, ts)))}
		if c.apiEndpoint != "" {
			opts = append(opts, option.WithEndpoint(c.apiEndpoint))
		}
		c.svc, c.initErr = calendar.NewService(ctx, opts...)
	})
	return c.svc, c.initErr
}

func (c *Calendar) persistToken(tok *oauth2.Token) {
	data := c.data
	data.Token = tok
	raw, err := json.Marshal(data)
	if err == nil && c.save != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = c.save(ctx, raw)
	}
	if err != nil {
		c.logger.Warn("googlecalendar: persist refreshed token failed", "error", err)
	}
}

// BusyIntervals queries the free/busy endpoint for the configured calendar.
// Mirrored appointments are transparent, so free/busy leaves them out.
func (c *Calendar) BusyIntervals(ctx context.Context, from, to time.Time) ([]timerange.Interval, error) {
	ctx, span := tracer.Start(ctx, "googlecalendar.freebusy")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.calendar_id", c.data.CalendarID))

	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: c.data.CalendarID}},
	}).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("googlecalendar: freebusy: %w", err)
	}

	cal, ok := resp.Calendars[c.data.CalendarID]
	if !ok {
		return nil, fmt.Errorf("googlecalendar: calendar %q missing from response", c.data.CalendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("googlecalendar: freebusy %s: %s", c.data.CalendarID, cal.Errors[0].Reason)
	}

	out := make([]timerange.Interval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("googlecalendar: parse busy start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("googlecalendar: parse busy end: %w", err)
		}
		out = append(out, timerange.Interval{Start: start.UTC(), End: end.UTC()})
	}
	return out, nil
}

// CreateEvent mirrors a booked appointment and returns the Google event id.
func (c *Calendar) CreateEvent(ctx context.Context, appt events.AppointmentSnapshot) (string, error) {
	ctx, span := tracer.Start(ctx, "googlecalendar.insert")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.appointment_id", appt.ID))

	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	ev, err := svc.Events.Insert(c.data.CalendarID, mirroredEvent(appt)).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("googlecalendar: insert event: %w", err)
	}
	return ev.Id, nil
}

// UpdateEvent rewrites a mirrored event with the appointment's current slot and status.
func (c *Calendar) UpdateEvent(ctx context.Context, externalID string, appt events.AppointmentSnapshot) error {
	ctx, span := tracer.Start(ctx, "googlecalendar.patch")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.appointment_id", appt.ID), attribute.String("medspa.external_id", externalID))

	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	if _, err := svc.Events.Patch(c.data.CalendarID, externalID, mirroredEvent(appt)).Context(ctx).Do(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("googlecalendar: patch event: %w", err)
	}
	return nil
}

// DeleteEvent removes a mirrored event. An event already gone counts as removed.
func (c *Calendar) DeleteEvent(ctx context.Context, externalID string) error {
	ctx, span := tracer.Start(ctx, "googlecalendar.delete")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.external_id", externalID))

	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	err = svc.Events.Delete(c.data.CalendarID, externalID).Context(ctx).Do()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("googlecalendar: delete event: %w", err)
	}
	return nil
}

func mirroredEvent(appt events.AppointmentSnapshot) *calendar.Event {
	return &calendar.Event{
		Summary:      eventSummary(appt),
		Description:  eventDescription(appt),
		Start:        &calendar.EventDateTime{DateTime: appt.Start.Format(time.RFC3339), TimeZone: appt.Timezone},
		End:          &calendar.EventDateTime{DateTime: appt.End().Format(time.RFC3339), TimeZone: appt.Timezone},
		Transparency: "transparent",
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{"appointment_id": appt.ID},
		},
	}
}

// CheckHealth confirms the calendar is still readable with the stored token.
func (c *Calendar) CheckHealth(ctx context.Context) error {
	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	if _, err := svc.Calendars.Get(c.data.CalendarID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("googlecalendar: get calendar: %w", err)
	}
	return nil
}

func eventSummary(appt events.AppointmentSnapshot) string {
	if name := strings.TrimSpace(appt.Fields["name"]); name != "" {
		return "Appointment: " + name
	}
	return "Appointment"
}

func eventDescription(appt events.AppointmentSnapshot) string {
	keys := make([]string, 0, len(appt.Fields))
	for k := range appt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, appt.Fields[k])
	}
	fmt.Fprintf(&b, "status: %s\n", appt.Status)
	return b.String()
}

type savingTokenSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	last string
	save func(*oauth2.Token)
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	changed := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()
	if changed {
		s.save(tok)
	}
	return tok, nil
}

var (
	_ apps.CalendarSource = (*Calendar)(nil)
	_ apps.CalendarSink   = (*Calendar)(nil)
	_ apps.OAuthCompleter = (*Calendar)(nil)
	_ apps.HealthChecker  = (*Calendar)(nil)
)
