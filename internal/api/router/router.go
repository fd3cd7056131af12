package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/medspa-scheduling/internal/appointments"
	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/availability"
	"github.com/wolfman30/medspa-scheduling/internal/gateway"
	httpmiddleware "github.com/wolfman30/medspa-scheduling/internal/http/middleware"
	"github.com/wolfman30/medspa-scheduling/internal/scheduler"
	"github.com/wolfman30/medspa-scheduling/internal/settings"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	AvailabilityHandler *availability.Handler
	AppointmentsHandler *appointments.Handler
	AppsHandler         *apps.Handler
	GatewayHandler      *gateway.Handler
	SchedulerHandler    *scheduler.Handler
	SettingsHandler     *settings.Handler
	MetricsHandler      http.Handler
	// MetricsSummaryHandler serves the admin counter summary.
	MetricsSummaryHandler http.Handler
	HealthChecks          map[string]HealthCheck
	AdminAuthSecret       string
	CORSAllowedOrigins    []string
	// PublicRateLimiter throttles the booking endpoints when set.
	PublicRateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Booking surface used by the public widget.
	r.Group(func(public chi.Router) {
		if cfg.PublicRateLimiter != nil {
			public.Use(httpmiddleware.RateLimit(cfg.PublicRateLimiter))
		}
		public.Use(middleware.Compress(5))
		if cfg.AvailabilityHandler != nil {
			cfg.AvailabilityHandler.RegisterRoutes(public)
		}
		if cfg.AppointmentsHandler != nil {
			cfg.AppointmentsHandler.RegisterRoutes(public)
		}
	})

	if cfg.GatewayHandler != nil {
		r.Route("/apps", func(appsRouter chi.Router) {
			cfg.GatewayHandler.RegisterRoutes(appsRouter)
			if cfg.AdminAuthSecret != "" {
				appsRouter.Group(func(admin chi.Router) {
					admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
					cfg.GatewayHandler.RegisterAdminRoutes(admin)
				})
			}
		})
	}

	// The scheduler authenticates with its own shared key.
	if cfg.SchedulerHandler != nil {
		r.Route("/scheduler", cfg.SchedulerHandler.RegisterRoutes)
	}

	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.AppsHandler != nil {
				admin.Route("/apps", cfg.AppsHandler.RegisterRoutes)
			}
			if cfg.SettingsHandler != nil {
				admin.Route("/settings", cfg.SettingsHandler.RegisterRoutes)
			}
			if cfg.AppointmentsHandler != nil {
				admin.Route("/appointments", cfg.AppointmentsHandler.RegisterAdminRoutes)
			}
			if cfg.MetricsSummaryHandler != nil {
				admin.Handle("/metrics", cfg.MetricsSummaryHandler)
			}
		})
	}

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := map[string]string{"status": "ok"}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp[name] = err.Error()
				resp["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
