// Package livefeed streams appointment events to dashboard clients over a
// websocket opened through the app's webhook endpoint.
package livefeed

import (
	"context"
	"crypto/subtle"
	"net/http"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/events"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Name is the descriptor name.
const Name = "live-feed"

// Config is the per-app data. When Token is set, clients must pass it as
// the token query parameter.
type Config struct {
	Token string `json:"token,omitempty"`
}

// Feed is a built livefeed app.
type Feed struct {
	appID  string
	cfg    Config
	hub    *Hub
	logger *logging.Logger
}

// Descriptor returns the app definition bound to hub.
func Descriptor(hub *Hub) apps.Descriptor {
	return apps.Descriptor{
		Name:   Name,
		Label:  "Live appointment feed",
		Scopes: []apps.Scope{apps.ScopeAppointmentHook},
		Build: func(app *apps.ConnectedApp, env apps.Env) (any, error) {
			var cfg Config
			if err := app.DecodeData(&cfg); err != nil {
				return nil, err
			}
			logger := env.Logger
			if logger == nil {
				logger = logging.Default()
			}
			return &Feed{appID: app.ID, cfg: cfg, hub: hub, logger: logger}, nil
		},
	}
}

// StreamsWebhook keeps the gateway from applying its deadline.
func (f *Feed) StreamsWebhook() bool { return true }

// ProcessWebhook upgrades the request and holds the connection until the
// client goes away.
func (f *Feed) ProcessWebhook(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if f.cfg.Token != "" && subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("token")), []byte(f.cfg.Token)) != 1 {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return nil
	}
	websocket.Handler(func(conn *websocket.Conn) {
		f.serve(conn)
	}).ServeHTTP(w, r)
	return nil
}

func (f *Feed) serve(conn *websocket.Conn) {
	sub := &subscriber{conn: conn}
	f.hub.add(f.appID, sub)
	defer func() {
		f.hub.remove(f.appID, sub)
		_ = conn.Close()
	}()

	if err := sub.send(Message{Type: "hello", AppID: f.appID}); err != nil {
		return
	}
	f.logger.Info("livefeed: connection opened", "app_id", f.appID)

	for {
		var in struct {
			Type string `json:"type"`
		}
		if err := websocket.JSON.Receive(conn, &in); err != nil {
			f.logger.Debug("livefeed: connection closed", "app_id", f.appID, "error", err)
			return
		}
		if in.Type == "ping" {
			_ = sub.send(Message{Type: "pong"})
		}
	}
}

func (f *Feed) OnAppointmentCreated(_ context.Context, evt events.AppointmentCreatedV1) error {
	f.hub.Broadcast(f.appID, Message{Type: string(events.TypeAppointmentCreated), AppID: f.appID, Event: evt})
	return nil
}

func (f *Feed) OnAppointmentStatusChanged(_ context.Context, evt events.AppointmentStatusChangedV1) error {
	f.hub.Broadcast(f.appID, Message{Type: string(events.TypeAppointmentStatusChanged), AppID: f.appID, Event: evt})
	return nil
}

func (f *Feed) OnAppointmentRescheduled(_ context.Context, evt events.AppointmentRescheduledV1) error {
	f.hub.Broadcast(f.appID, Message{Type: string(events.TypeAppointmentRescheduled), AppID: f.appID, Event: evt})
	return nil
}

var (
	_ apps.WebhookProcessor  = (*Feed)(nil)
	_ apps.StreamingWebhook  = (*Feed)(nil)
	_ apps.CreatedHook       = (*Feed)(nil)
	_ apps.StatusChangedHook = (*Feed)(nil)
	_ apps.RescheduledHook   = (*Feed)(nil)
)
