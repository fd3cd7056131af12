// Package gateway is the HTTP edge of connected apps: the OAuth connect and
// redirect flow, and the per-app webhook endpoint.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/observability/metrics"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultStateTTL = 10 * time.Minute
	maxWebhookBody  = 1 << 20
)

// AppService is the subset of apps.Service the gateway drives.
type AppService interface {
	Registry() *apps.Registry
	Create(ctx context.Context, name string, scopes []apps.Scope, data json.RawMessage) (*apps.ConnectedApp, error)
	Get(ctx context.Context, id string) (*apps.ConnectedApp, error)
	NewestPending(ctx context.Context, name string) (*apps.ConnectedApp, error)
	UpdateStatus(ctx context.Context, id string, status apps.Status) error
	UpdateData(ctx context.Context, id string, data json.RawMessage) error
	Instantiate(app *apps.ConnectedApp) (*apps.Instance, error)
}

// Handler serves /apps.
type Handler struct {
	apps     AppService
	states   StateStore
	logger   *logging.Logger
	metrics  *metrics.SchedulingMetrics
	timeout  time.Duration
	stateTTL time.Duration
}

// Option configures the handler.
type Option func(*Handler)

// WithTimeout bounds non-streaming webhook processing.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func WithStateTTL(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.stateTTL = d
		}
	}
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(appService AppService, states StateStore, logger *logging.Logger, opts ...Option) *Handler {
	if appService == nil {
		panic("gateway: app service cannot be nil")
	}
	if states == nil {
		states = NewMemoryStateStore()
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		apps:     appService,
		states:   states,
		logger:   logger,
		timeout:  defaultTimeout,
		stateTTL: defaultStateTTL,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the public endpoints under /apps.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/oauth/{name}/redirect", h.HandleOAuthRedirect)
	r.HandleFunc("/{appID}/webhook", h.HandleWebhook)
}

// RegisterAdminRoutes mounts the connect endpoint, which creates apps and so
// sits behind admin auth.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/oauth/{name}/connect", h.HandleOAuthConnect)
}

// HandleOAuthConnect creates a pending app for the descriptor and sends the
// browser to the provider.
// GET /apps/oauth/{name}/connect
func (h *Handler) HandleOAuthConnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	desc, err := h.apps.Registry().Resolve(name)
	if err != nil {
		http.Error(w, `{"error": "unknown app"}`, http.StatusNotFound)
		return
	}

	app, err := h.apps.Create(r.Context(), desc.Name, nil, nil)
	if err != nil {
		h.logger.Error("oauth connect: create app failed", "app", name, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	inst, err := h.apps.Instantiate(app)
	if err != nil {
		h.failApp(r.Context(), app.ID, "oauth connect: build app failed", err)
		http.Error(w, `{"error": "app unavailable"}`, http.StatusBadGateway)
		return
	}
	completer, ok := inst.OAuthCompleter()
	if !ok {
		h.failApp(r.Context(), app.ID, "oauth connect: app has no oauth flow", apps.ErrCapabilityMissing)
		http.Error(w, `{"error": "app does not support oauth"}`, http.StatusNotFound)
		return
	}

	state, err := newStateToken()
	if err != nil {
		h.logger.Error("failed to generate state", "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	if err := h.states.Put(r.Context(), state, app.ID, h.stateTTL); err != nil {
		h.logger.Warn("oauth state not stored; redirect will fall back to newest pending app", "app_id", app.ID, "error", err)
	}

	h.logger.Info("initiating oauth", "app", name, "app_id", app.ID)
	http.Redirect(w, r, completer.AuthorizationURL(state), http.StatusFound)
}

const closePopupHTML = `<!doctype html>
<html><head><title>Connected</title></head>
<body><script>window.close();</script>You can close this window.</body></html>
`

// HandleOAuthRedirect completes the provider flow. It always answers 201 with
// a page that closes the popup; the outcome is the app's status.
// GET /apps/oauth/{name}/redirect?code=...&state=...
func (h *Handler) HandleOAuthRedirect(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(closePopupHTML))
	}()

	ctx := r.Context()
	name := chi.URLParam(r, "name")
	app, err := h.resolvePending(ctx, name, r.URL.Query().Get("state"))
	if err != nil {
		h.logger.Warn("oauth redirect: no pending app", "app", name, "error", err)
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.failApp(ctx, app.ID, "oauth redirect: provider returned error", errors.New(errParam))
		return
	}
	inst, err := h.apps.Instantiate(app)
	if err != nil {
		h.failApp(ctx, app.ID, "oauth redirect: build app failed", err)
		return
	}
	completer, ok := inst.OAuthCompleter()
	if !ok {
		h.failApp(ctx, app.ID, "oauth redirect: app has no oauth flow", apps.ErrCapabilityMissing)
		return
	}
	data, err := completer.CompleteOAuth(ctx, r.URL.Query())
	if err != nil {
		h.failApp(ctx, app.ID, "oauth redirect: completion failed", err)
		return
	}
	if len(data) > 0 {
		if err := h.apps.UpdateData(ctx, app.ID, data); err != nil {
			h.failApp(ctx, app.ID, "oauth redirect: save data failed", err)
			return
		}
	}
	if err := h.apps.UpdateStatus(ctx, app.ID, apps.StatusConnected); err != nil {
		h.logger.Error("oauth redirect: mark connected failed", "app_id", app.ID, "error", err)
		return
	}
	h.logger.Info("oauth completed", "app", name, "app_id", app.ID)
}

// resolvePending finds the app by state token, falling back to the newest
// pending app of the descriptor.
func (h *Handler) resolvePending(ctx context.Context, name, state string) (*apps.ConnectedApp, error) {
	if state != "" {
		appID, ok, err := h.states.Take(ctx, state)
		if err != nil {
			h.logger.Warn("oauth state lookup failed", "error", err)
		}
		if ok {
			app, err := h.apps.Get(ctx, appID)
			if err != nil {
				return nil, err
			}
			if app.Name != name {
				return nil, errors.New("state issued for a different app")
			}
			return app, nil
		}
	}
	return h.apps.NewestPending(ctx, name)
}

func (h *Handler) failApp(ctx context.Context, appID, msg string, cause error) {
	h.logger.Warn(msg, "app_id", appID, "error", cause)
	if err := h.apps.UpdateStatus(ctx, appID, apps.StatusFailed); err != nil {
		h.logger.Error("mark app failed", "app_id", appID, "error", err)
	}
}

// HandleWebhook hands the request to the app's webhook processor.
// Any method on /apps/{appID}/webhook.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	app, err := h.apps.Get(r.Context(), appID)
	if err != nil {
		if !errors.Is(err, apps.ErrAppNotFound) {
			h.logger.Error("webhook: app lookup failed", "app_id", appID, "error", err)
			h.metrics.ObserveWebhook("error")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.metrics.ObserveWebhook("not_found")
		http.NotFound(w, r)
		return
	}
	inst, err := h.apps.Instantiate(app)
	if err != nil {
		h.logger.Warn("webhook: build app failed", "app_id", appID, "error", err)
		h.metrics.ObserveWebhook("not_found")
		http.NotFound(w, r)
		return
	}
	processor, ok := inst.WebhookProcessor()
	if !ok {
		h.metrics.ObserveWebhook("not_found")
		http.NotFound(w, r)
		return
	}

	rec := newStatusRecorder(w)
	if s, ok := processor.(apps.StreamingWebhook); ok && s.StreamsWebhook() {
		err := processor.ProcessWebhook(r.Context(), rec, r)
		h.complete(rec, app, err, false)
		return
	}

	// Processors may outlive this handler, so they get a copy of the request
	// with the body already read.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.metrics.ObserveWebhook("error")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	detached := r.Clone(ctx)
	detached.Body = io.NopCloser(bytes.NewReader(body))
	detached.ContentLength = int64(len(body))

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- errors.New("webhook processor panicked")
			}
		}()
		done <- processor.ProcessWebhook(ctx, rec, detached)
	}()

	select {
	case err := <-done:
		h.complete(rec, app, err, errors.Is(ctx.Err(), context.DeadlineExceeded))
	case <-ctx.Done():
		h.complete(rec, app, ctx.Err(), errors.Is(ctx.Err(), context.DeadlineExceeded))
	}
}

func (h *Handler) complete(rec *statusRecorder, app *apps.ConnectedApp, err error, timedOut bool) {
	switch {
	case timedOut:
		h.logger.Warn("webhook timed out", "app_id", app.ID, "app", app.Name)
		h.metrics.ObserveWebhook("timeout")
		rec.finish(http.StatusGatewayTimeout, "webhook timed out\n")
	case err != nil:
		h.logger.Warn("webhook failed", "app_id", app.ID, "app", app.Name, "error", err)
		h.metrics.ObserveWebhook("error")
		rec.finish(http.StatusInternalServerError, "webhook failed\n")
	default:
		h.metrics.ObserveWebhook("ok")
		rec.finish(http.StatusOK, "")
	}
}
