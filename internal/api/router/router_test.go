package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-scheduling/internal/appointments"
	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/availability"
	httpmiddleware "github.com/wolfman30/medspa-scheduling/internal/http/middleware"
	"github.com/wolfman30/medspa-scheduling/internal/settings"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

const testSecret = "admin-secret"

func newTestRouter(t *testing.T, mutate func(*Config)) http.Handler {
	t.Helper()

	logger := logging.Discard()
	registry, err := apps.NewRegistry()
	require.NoError(t, err)
	appService := apps.NewService(apps.NewMemoryStore(), registry, logger)
	provider := settings.NewStatic(nil, nil, nil)
	engine := availability.NewEngine(appService, nil, provider, logger)
	apptService := appointments.NewService(appointments.NewMemoryStore(), engine, provider, logger)
	engine.SetBookedSource(apptService)

	cfg := &Config{
		Logger:              logger,
		AvailabilityHandler: availability.NewHandler(engine, logger),
		AppointmentsHandler: appointments.NewHandler(apptService, provider, logger),
		AppsHandler:         apps.NewHandler(appService, logger),
		SettingsHandler:     settings.NewHandler(provider, provider, logger),
		AdminAuthSecret:     testSecret,
		CORSAllowedOrigins:  []string{"https://widget.example.com"},
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func adminToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "staff-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.HealthChecks = map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
		}
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "ok", resp["postgres"])
}

func TestRouterHealthDegraded(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.HealthChecks = map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
			"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
		}
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp["status"])
	assert.Equal(t, "connection refused", resp["redis"])
	assert.Equal(t, "ok", resp["postgres"])
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router := newTestRouter(t, nil)

	cases := []struct {
		name   string
		auth   string
		status int
	}{
		{name: "missing", status: http.StatusUnauthorized},
		{name: "garbage", auth: "Bearer not-a-jwt", status: http.StatusUnauthorized},
		{name: "valid", auth: "Bearer " + adminToken(t), status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/apps/", nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
		})
	}
}

func TestRouterAdminSettings(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/settings/booking", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var booking settings.Booking
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &booking))
	assert.Equal(t, 15, booking.SlotGranularityMinutes)
}

func TestRouterAdminDisabledWithoutSecret(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) { cfg.AdminAuthSecret = "" })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/apps/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouterAvailabilityMounted(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/availability", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	from := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	to := time.Now().UTC().Add(72 * time.Hour).Format(time.RFC3339)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/availability?duration=1800&from="+from+"&to="+to, nil))
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestRouterPublicRateLimit(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.PublicRateLimiter = httpmiddleware.NewRateLimiter(0.001, 1)
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/availability", nil))
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/availability", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Health sits outside the throttled group.
	health := httptest.NewRecorder()
	router.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/event", nil)
	req.Header.Set("Origin", "https://widget.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, "https://widget.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterAdminMetricsSummary(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.MetricsSummaryHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"hook_queue_drops":0}`))
		})
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"hook_queue_drops":0}`, rr.Body.String())
}
