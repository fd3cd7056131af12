package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-scheduling/internal/api/router"
	"github.com/wolfman30/medspa-scheduling/internal/appointments"
	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/availability"
	"github.com/wolfman30/medspa-scheduling/internal/commlog"
	appconfig "github.com/wolfman30/medspa-scheduling/internal/config"
	"github.com/wolfman30/medspa-scheduling/internal/gateway"
	"github.com/wolfman30/medspa-scheduling/internal/hooks"
	httpmiddleware "github.com/wolfman30/medspa-scheduling/internal/http/middleware"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/livefeed"
	"github.com/wolfman30/medspa-scheduling/internal/observability/metrics"
	"github.com/wolfman30/medspa-scheduling/internal/scheduler"
	"github.com/wolfman30/medspa-scheduling/internal/settings"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Stores bundles the persistence backends. Build fills unset fields from the
// config: Postgres when a pool is present, in-memory otherwise.
type Stores struct {
	Pool   *pgxpool.Pool
	SQL    *sql.DB
	Redis  *redis.Client
	Apps   apps.Store
	Appts  appointments.Store
	Logs   commlog.Store
	Ledger scheduler.Ledger
}

// Runtime is the fully wired scheduling core.
type Runtime struct {
	Config       *appconfig.Config
	Logger       *logging.Logger
	Registry     *prometheus.Registry
	Metrics      *metrics.SchedulingMetrics
	Stores       Stores
	Settings     settings.Provider
	Apps         *apps.Service
	Engine       *availability.Engine
	Appointments *appointments.Service
	Hooks        *hooks.Dispatcher
	Scheduler    *scheduler.Scheduler
	Hub          *livefeed.Hub
	States       gateway.StateStore
}

// Build wires every component. Stores left nil are derived from the pool and
// Redis client in stores; with neither, everything runs in memory.
func Build(cfg *appconfig.Config, logger *logging.Logger, stores Stores, clients AWSClients) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	fillStores(&stores)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewSchedulingMetrics(reg)

	var (
		provider settings.Provider
		states   gateway.StateStore
	)
	if stores.Redis != nil {
		provider = settings.NewRedisStore(stores.Redis)
		states = gateway.NewRedisStateStore(stores.Redis)
	} else {
		provider = settings.NewStatic(nil, nil, nil)
		states = gateway.NewMemoryStateStore()
	}

	// The responder lookup needs the app service, which needs the descriptors.
	var appService *apps.Service
	hub := livefeed.NewHub(logger)
	descriptors := BuildDescriptors(cfg, clients, IntegrationDeps{
		Logs: stores.Logs,
		Hub:  hub,
		Responder: func(ctx context.Context) (apps.TextResponder, string, error) {
			return ResponderLookup(appService, provider)(ctx)
		},
	})
	registry, err := apps.NewRegistry(descriptors...)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: app registry: %w", err)
	}
	appService = apps.NewService(stores.Apps, registry, logger,
		apps.WithHealthTimeout(cfg.AppHealthTimeout),
		apps.WithMetrics(m),
	)

	engine := availability.NewEngine(appService, nil, provider, logger,
		availability.WithSourceTimeout(cfg.AvailabilitySourceTimeout),
		availability.WithWorkers(cfg.AvailabilityWorkers),
		availability.WithFailurePolicy(availability.ParsePolicy(cfg.AvailabilityFailurePolicy)),
		availability.WithMetrics(m),
	)

	dispatcher := hooks.NewDispatcher(appService, logger,
		hooks.WithWorkers(cfg.HookWorkers),
		hooks.WithQueueSize(cfg.HookQueueSize),
		hooks.WithTimeout(cfg.HookTimeout),
		hooks.WithCeiling(cfg.HookDispatchCeiling),
		hooks.WithMetrics(m),
	)

	apptService := appointments.NewService(stores.Appts, engine, provider, logger,
		appointments.WithMetrics(m),
		appointments.WithEventSubmitter(dispatcher),
	)
	engine.SetBookedSource(apptService)
	dispatcher.SetRefRecorder(apptService)
	appService.RegisterGuard(apptService)

	sched := scheduler.New(apptService, appService, stores.Logs, stores.Ledger, provider, logger,
		scheduler.WithTickInterval(cfg.SchedulerTickInterval),
		scheduler.WithRetention(cfg.LogRetention),
		scheduler.WithWorkers(cfg.SchedulerWorkers),
		scheduler.WithMetrics(m),
	)

	logger.Info("scheduling core wired",
		"descriptors", len(descriptors),
		"postgres", stores.Pool != nil,
		"redis", stores.Redis != nil,
	)

	return &Runtime{
		Config:       cfg,
		Logger:       logger,
		Registry:     reg,
		Metrics:      m,
		Stores:       stores,
		Settings:     provider,
		Apps:         appService,
		Engine:       engine,
		Appointments: apptService,
		Hooks:        dispatcher,
		Scheduler:    sched,
		Hub:          hub,
		States:       states,
	}, nil
}

func fillStores(s *Stores) {
	if s.Apps == nil {
		if s.Pool != nil {
			s.Apps = apps.NewPostgresStore(s.Pool)
		} else {
			s.Apps = apps.NewMemoryStore()
		}
	}
	if s.Appts == nil {
		if s.Pool != nil {
			s.Appts = appointments.NewPostgresStore(s.Pool)
		} else {
			s.Appts = appointments.NewMemoryStore()
		}
	}
	if s.Ledger == nil {
		if s.Pool != nil {
			s.Ledger = scheduler.NewPostgresLedger(s.Pool)
		} else {
			s.Ledger = scheduler.NewMemoryLedger()
		}
	}
	if s.Logs == nil {
		if s.SQL != nil {
			s.Logs = commlog.NewSQLStore(s.SQL)
		} else {
			s.Logs = commlog.NewMemoryStore()
		}
	}
}

// RouterConfig returns the HTTP surface of the runtime.
func (rt *Runtime) RouterConfig() *router.Config {
	cfg := rt.Config
	var writer settings.Writer
	if w, ok := rt.Settings.(settings.Writer); ok {
		writer = w
	}

	return &router.Config{
		Logger:              rt.Logger,
		AvailabilityHandler: availability.NewHandler(rt.Engine, rt.Logger),
		AppointmentsHandler: appointments.NewHandler(rt.Appointments, rt.Settings, rt.Logger),
		AppsHandler:         apps.NewHandler(rt.Apps, rt.Logger),
		GatewayHandler: gateway.NewHandler(rt.Apps, rt.States, rt.Logger,
			gateway.WithTimeout(cfg.GatewayTimeout),
			gateway.WithStateTTL(cfg.OAuthStateTTL),
			gateway.WithMetrics(rt.Metrics),
		),
		SchedulerHandler:      scheduler.NewHandler(rt.Scheduler, cfg.SchedulerSecret, rt.Logger),
		SettingsHandler:       settings.NewHandler(rt.Settings, writer, rt.Logger),
		MetricsHandler:        promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}),
		MetricsSummaryHandler: metrics.SummaryHandler(rt.Registry),
		HealthChecks:          rt.healthChecks(),
		AdminAuthSecret:       cfg.AdminJWTSecret,
		CORSAllowedOrigins:    cfg.CORSAllowedOrigins,
		PublicRateLimiter:     httpmiddleware.NewRateLimiter(cfg.PublicRateLimit, cfg.PublicRateBurst),
	}
}

func (rt *Runtime) healthChecks() map[string]router.HealthCheck {
	checks := make(map[string]router.HealthCheck)
	if rt.Stores.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return rt.Stores.Pool.Ping(ctx) }
	}
	if rt.Stores.SQL != nil {
		checks["communication_logs"] = func(ctx context.Context) error { return rt.Stores.SQL.PingContext(ctx) }
	}
	if rt.Stores.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return rt.Stores.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Handler returns the routed HTTP handler.
func (rt *Runtime) Handler() http.Handler {
	return router.New(rt.RouterConfig())
}

// Close drains the hook queue and releases the stores.
func (rt *Runtime) Close() {
	rt.Hooks.Close()
	if rt.Stores.Pool != nil {
		rt.Stores.Pool.Close()
	}
	if rt.Stores.SQL != nil {
		_ = rt.Stores.SQL.Close()
	}
	if rt.Stores.Redis != nil {
		_ = rt.Stores.Redis.Close()
	}
}
