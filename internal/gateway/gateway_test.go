package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

type fakeOAuth struct{}

func (fakeOAuth) AuthorizationURL(state string) string {
	return "https://provider.example.com/auth?state=" + url.QueryEscape(state)
}

func (fakeOAuth) CompleteOAuth(ctx context.Context, params url.Values) (json.RawMessage, error) {
	if params.Get("code") == "bad" {
		return nil, errors.New("exchange failed")
	}
	return json.RawMessage(`{"token":"` + params.Get("code") + `"}`), nil
}

type webhookFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

func (f webhookFunc) ProcessWebhook(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return f(ctx, w, r)
}

type fixture struct {
	apps    *apps.Service
	router  chi.Router
	webhook webhookFunc
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{}
	reg, err := apps.NewRegistry(
		apps.Descriptor{
			Name:   "oauthapp",
			Scopes: []apps.Scope{apps.ScopeCalendarRead},
			Build:  func(*apps.ConnectedApp, apps.Env) (any, error) { return fakeOAuth{}, nil },
		},
		apps.Descriptor{
			Name:   "hooky",
			Scopes: []apps.Scope{apps.ScopeAppointmentHook},
			Build: func(*apps.ConnectedApp, apps.Env) (any, error) {
				return f.webhook, nil
			},
		},
		apps.Descriptor{
			Name:   "plain",
			Scopes: []apps.Scope{apps.ScopeMailSend},
			Build:  func(*apps.ConnectedApp, apps.Env) (any, error) { return struct{}{}, nil },
		},
	)
	require.NoError(t, err)
	f.apps = apps.NewService(apps.NewMemoryStore(), reg, logging.Discard())

	h := NewHandler(f.apps, NewMemoryStateStore(), logging.Discard(), opts...)
	r := chi.NewRouter()
	r.Route("/apps", func(r chi.Router) {
		h.RegisterRoutes(r)
		h.RegisterAdminRoutes(r)
	})
	f.router = r
	return f
}

func (f *fixture) serve(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(`{}`)))
	return rec
}

func TestOAuthConnectAndRedirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.serve(http.MethodGet, "/apps/oauth/oauthapp/connect")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	pending, err := f.apps.NewestPending(ctx, "oauthapp")
	require.NoError(t, err)

	rec = f.serve(http.MethodGet, "/apps/oauth/oauthapp/redirect?code=abc&state="+state)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "window.close()")

	app, err := f.apps.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, apps.StatusConnected, app.Status)
	assert.JSONEq(t, `{"token":"abc"}`, string(app.Data))
}

func TestOAuthRedirectFallsBackToNewestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app, err := f.apps.Create(ctx, "oauthapp", nil, nil)
	require.NoError(t, err)

	rec := f.serve(http.MethodGet, "/apps/oauth/oauthapp/redirect?code=xyz")
	assert.Equal(t, http.StatusCreated, rec.Code)

	got, err := f.apps.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, apps.StatusConnected, got.Status)
}

func TestOAuthRedirectFailureMarksAppFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app, err := f.apps.Create(ctx, "oauthapp", nil, nil)
	require.NoError(t, err)

	rec := f.serve(http.MethodGet, "/apps/oauth/oauthapp/redirect?code=bad")
	assert.Equal(t, http.StatusCreated, rec.Code, "the popup always closes")

	got, err := f.apps.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, apps.StatusFailed, got.Status)

	rec = f.serve(http.MethodGet, "/apps/oauth/oauthapp/redirect?code=abc")
	assert.Equal(t, http.StatusCreated, rec.Code, "no pending app left")
}

func TestOAuthConnectUnknownOrUnsupported(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.serve(http.MethodGet, "/apps/oauth/nope/connect").Code)
	assert.Equal(t, http.StatusNotFound, f.serve(http.MethodGet, "/apps/oauth/plain/connect").Code)

	list, err := f.apps.List(context.Background(), apps.ListFilter{Name: "plain"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, apps.StatusFailed, list[0].Status)
}

func (f *fixture) connect(t *testing.T, name string) string {
	t.Helper()
	app, err := f.apps.Create(context.Background(), name, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.apps.UpdateStatus(context.Background(), app.ID, apps.StatusConnected))
	return app.ID
}

func TestWebhookDelegation(t *testing.T) {
	f := newFixture(t, WithTimeout(50*time.Millisecond))
	hookID := f.connect(t, "hooky")
	plainID := f.connect(t, "plain")

	tests := []struct {
		name    string
		handler webhookFunc
		method  string
		want    int
		body    string
	}{
		{
			name: "processor sets status",
			handler: func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				w.WriteHeader(http.StatusAccepted)
				return nil
			},
			method: http.MethodPost,
			want:   http.StatusAccepted,
		},
		{
			name: "processor writes body only",
			handler: func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				_, err := w.Write([]byte("pong"))
				return err
			},
			method: http.MethodPut,
			want:   http.StatusOK,
			body:   "pong",
		},
		{
			name:    "nothing written defaults to 200",
			handler: func(ctx context.Context, w http.ResponseWriter, r *http.Request) error { return nil },
			method:  http.MethodDelete,
			want:    http.StatusOK,
		},
		{
			name: "error before writing",
			handler: func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				return errors.New("bad signature")
			},
			method: http.MethodPost,
			want:   http.StatusInternalServerError,
		},
		{
			name: "error after writing keeps processor status",
			handler: func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				w.WriteHeader(http.StatusBadRequest)
				return errors.New("rejected")
			},
			method: http.MethodPost,
			want:   http.StatusBadRequest,
		},
		{
			name: "deadline",
			handler: func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				<-ctx.Done()
				return ctx.Err()
			},
			method: http.MethodGet,
			want:   http.StatusGatewayTimeout,
		},
		{
			name: "processor ignoring the deadline",
			handler: func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				time.Sleep(300 * time.Millisecond)
				w.WriteHeader(http.StatusTeapot)
				return nil
			},
			method: http.MethodGet,
			want:   http.StatusGatewayTimeout,
		},
		{
			name: "panic",
			handler: func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				panic("boom")
			},
			method: http.MethodPost,
			want:   http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.webhook = tt.handler
			rec := f.serve(tt.method, "/apps/"+hookID+"/webhook")
			assert.Equal(t, tt.want, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}

	assert.Equal(t, http.StatusNotFound, f.serve(http.MethodPost, "/apps/missing/webhook").Code)
	assert.Equal(t, http.StatusNotFound, f.serve(http.MethodPost, "/apps/"+plainID+"/webhook").Code)
}

func TestMemoryStateStoreExpiresAndConsumes(t *testing.T) {
	s := NewMemoryStateStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "t1", "app-1", time.Minute))
	require.NoError(t, s.Put(ctx, "t2", "app-2", time.Minute))

	appID, ok, err := s.Take(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "app-1", appID)

	_, ok, _ = s.Take(ctx, "t1")
	assert.False(t, ok, "tokens are single use")

	now = now.Add(2 * time.Minute)
	_, ok, _ = s.Take(ctx, "t2")
	assert.False(t, ok, "expired")
}

func TestWebhookProcessorOutlivingDeadline(t *testing.T) {
	f := newFixture(t, WithTimeout(20*time.Millisecond))
	hookID := f.connect(t, "hooky")

	type late struct {
		body     string
		readErr  error
		writeErr error
	}
	finished := make(chan late, 1)
	f.webhook = func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("X-Late", "leaked")
		body, readErr := io.ReadAll(r.Body)
		_, writeErr := w.Write([]byte("too late"))
		finished <- late{body: string(body), readErr: readErr, writeErr: writeErr}
		return nil
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/apps/"+hookID+"/webhook", strings.NewReader(`{"n":1}`)))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	got := <-finished
	assert.Empty(t, rec.Header().Get("X-Late"))
	assert.Equal(t, "webhook timed out\n", rec.Body.String())
	assert.ErrorIs(t, got.writeErr, http.ErrHandlerTimeout)
	require.NoError(t, got.readErr)
	assert.Equal(t, `{"n":1}`, got.body, "the request body stays readable after the handler returned")
}

func TestWebhookHeadersAndBodyLimit(t *testing.T) {
	f := newFixture(t)
	hookID := f.connect(t, "hooky")

	f.webhook = func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusAccepted)
		w.Header().Set("X-After-Status", "ignored")
		return nil
	}
	rec := f.serve(http.MethodPost, "/apps/"+hookID+"/webhook")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("X-After-Status"))

	called := false
	f.webhook = func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		called = true
		return nil
	}
	rec = httptest.NewRecorder()
	big := strings.NewReader(strings.Repeat("x", maxWebhookBody+1))
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/apps/"+hookID+"/webhook", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.False(t, called)
}
