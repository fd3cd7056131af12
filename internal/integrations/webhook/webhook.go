// Package webhook posts appointment events as signed JSON to an external URL.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/events"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Name is the descriptor name.
const Name = "webhook"

const (
	// SignatureHeader carries "sha256=<hex hmac of the body>".
	SignatureHeader = "X-Medspa-Signature"
	EventHeader     = "X-Medspa-Event"
)

// Config is the per-app data.
type Config struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// Payload is the request body.
type Payload struct {
	Type  events.Type `json:"type"`
	AppID string      `json:"app_id"`
	Data  any         `json:"data"`
}

// Hook delivers every appointment event to one URL.
type Hook struct {
	appID  string
	cfg    Config
	client *http.Client
	logger *logging.Logger
}

// Descriptor returns the app definition.
func Descriptor() apps.Descriptor {
	return apps.Descriptor{
		Name:   Name,
		Label:  "Outgoing webhook",
		Scopes: []apps.Scope{apps.ScopeAppointmentHook},
		Build: func(app *apps.ConnectedApp, env apps.Env) (any, error) {
			var cfg Config
			if err := app.DecodeData(&cfg); err != nil {
				return nil, err
			}
			return New(app.ID, cfg, env.Logger)
		},
	}
}

// New validates cfg and creates a hook.
func New(appID string, cfg Config, logger *logging.Logger) (*Hook, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook: invalid url %q", cfg.URL)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Hook{appID: appID, cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}, logger: logger}, nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (h *Hook) OnAppointmentCreated(ctx context.Context, evt events.AppointmentCreatedV1) error {
	return h.post(ctx, events.TypeAppointmentCreated, evt)
}

func (h *Hook) OnAppointmentStatusChanged(ctx context.Context, evt events.AppointmentStatusChangedV1) error {
	return h.post(ctx, events.TypeAppointmentStatusChanged, evt)
}

func (h *Hook) OnAppointmentRescheduled(ctx context.Context, evt events.AppointmentRescheduledV1) error {
	return h.post(ctx, events.TypeAppointmentRescheduled, evt)
}

func (h *Hook) post(ctx context.Context, typ events.Type, data any) error {
	body, err := json.Marshal(Payload{Type: typ, AppID: h.appID, Data: data})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(typ))
	if h.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(h.cfg.Secret, body))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s returned status %d", typ, resp.StatusCode)
	}
	h.logger.Debug("webhook delivered", "event", typ, "status", resp.StatusCode)
	return nil
}

// CheckHealth fails only when the endpoint cannot be reached at all.
func (h *Hook) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.cfg.URL, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Join(errors.New("webhook: endpoint unreachable"), err)
	}
	resp.Body.Close()
	return nil
}

var (
	_ apps.CreatedHook       = (*Hook)(nil)
	_ apps.StatusChangedHook = (*Hook)(nil)
	_ apps.RescheduledHook   = (*Hook)(nil)
	_ apps.HealthChecker     = (*Hook)(nil)
)
