package apps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/medspa-scheduling/internal/fanout"
	"github.com/wolfman30/medspa-scheduling/internal/observability/metrics"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

const defaultHealthTimeout = 5 * time.Second

// Service is the connected app store as seen by the rest of the core: storage
// plus descriptor validation, deletion guards and instance building.
type Service struct {
	store    Store
	registry *Registry
	logger   *logging.Logger
	metrics  *metrics.SchedulingMetrics

	healthTimeout time.Duration
	now           func() time.Time

	guardsMu sync.RWMutex
	guards   []Guard
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithHealthTimeout bounds each app's health check.
func WithHealthTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.healthTimeout = d
		}
	}
}

// WithMetrics records health checks.
func WithMetrics(m *metrics.SchedulingMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, registry *Registry, logger *logging.Logger, opts ...ServiceOption) *Service {
	if store == nil {
		panic("apps: store cannot be nil")
	}
	if registry == nil {
		panic("apps: registry cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:         store,
		registry:      registry,
		logger:        logger,
		healthTimeout: defaultHealthTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the descriptor registry.
func (s *Service) Registry() *Registry { return s.registry }

// Create registers a new app in pending status. Scopes must be declared by the
// descriptor; none means all of them.
func (s *Service) Create(ctx context.Context, name string, scopes []Scope, data json.RawMessage) (*ConnectedApp, error) {
	resolved, err := s.registry.ValidateScopes(name, scopes)
	if err != nil {
		return nil, fmt.Errorf("apps: create: %w", err)
	}
	if len(data) > 0 && !json.Valid(data) {
		return nil, fmt.Errorf("apps: create: %w", ErrInvalidData)
	}
	now := s.now()
	app := &ConnectedApp{
		ID:        uuid.NewString(),
		Name:      name,
		Scopes:    resolved,
		Status:    StatusPending,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, app); err != nil {
		return nil, err
	}
	s.logger.Info("connected app created", "app_id", app.ID, "app", name, "scopes", scopeStrings(resolved))
	return app.clone(), nil
}

func (s *Service) Get(ctx context.Context, id string) (*ConnectedApp, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*ConnectedApp, error) {
	return s.store.List(ctx, filter)
}

// ListByScope returns apps holding scope. Without statuses only connected
// apps are returned.
func (s *Service) ListByScope(ctx context.Context, scope Scope, statuses ...Status) ([]*ConnectedApp, error) {
	if len(statuses) == 0 {
		statuses = []Status{StatusConnected}
	}
	return s.store.List(ctx, ListFilter{Scope: scope, Statuses: statuses})
}

// NewestPending returns the most recently created pending app of a descriptor.
func (s *Service) NewestPending(ctx context.Context, name string) (*ConnectedApp, error) {
	list, err := s.store.List(ctx, ListFilter{Name: name, Statuses: []Status{StatusPending}})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrAppNotFound
	}
	return list[len(list)-1], nil
}

// UpdateStatus moves an app to status. Repeating a status is a no-op and
// never touches stored data.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	changed, err := s.store.UpdateStatus(ctx, id, status)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("connected app status changed", "app_id", id, "status", status)
	}
	return nil
}

func (s *Service) UpdateData(ctx context.Context, id string, data json.RawMessage) error {
	if len(data) > 0 && !json.Valid(data) {
		return fmt.Errorf("apps: update data: %w", ErrInvalidData)
	}
	return s.store.UpdateData(ctx, id, data)
}

// RegisterGuard adds a deletion guard.
func (s *Service) RegisterGuard(g Guard) {
	s.guardsMu.Lock()
	defer s.guardsMu.Unlock()
	s.guards = append(s.guards, g)
}

// Delete removes an app unless a guard reports it in use.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	s.guardsMu.RLock()
	guards := append([]Guard(nil), s.guards...)
	s.guardsMu.RUnlock()
	for _, g := range guards {
		inUse, err := g.AppInUse(ctx, id)
		if err != nil {
			return fmt.Errorf("apps: delete guard: %w", err)
		}
		if inUse {
			return ErrAppInUse
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("connected app deleted", "app_id", id)
	return nil
}

// Instantiate builds the app implementation with data persistence bound to
// this app.
func (s *Service) Instantiate(app *ConnectedApp) (*Instance, error) {
	id := app.ID
	return s.registry.Instantiate(app, Env{
		Logger: s.logger,
		SaveData: func(ctx context.Context, data json.RawMessage) error {
			return s.store.UpdateData(ctx, id, data)
		},
	})
}

// Instances builds every connected app holding scope. Apps that fail to build
// are logged and skipped.
func (s *Service) Instances(ctx context.Context, scope Scope) ([]*Instance, error) {
	list, err := s.ListByScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]*Instance, 0, len(list))
	for _, app := range list {
		inst, err := s.Instantiate(app)
		if err != nil {
			s.logger.Warn("connected app build failed", "app_id", app.ID, "app", app.Name, "error", err)
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// HealthReport summarizes a health sweep.
type HealthReport struct {
	Checked   int      `json:"checked"`
	Healthy   int      `json:"healthy"`
	Failed    []string `json:"failed,omitempty"`
	Recovered []string `json:"recovered,omitempty"`
}

// CheckHealth runs the optional health check of every connected or failed app
// and flips its status accordingly. Pending apps are left alone.
func (s *Service) CheckHealth(ctx context.Context) (HealthReport, error) {
	list, err := s.store.List(ctx, ListFilter{Statuses: []Status{StatusConnected, StatusFailed}})
	if err != nil {
		return HealthReport{}, err
	}

	type target struct {
		app     *ConnectedApp
		checker HealthChecker
	}
	var targets []target
	for _, app := range list {
		inst, err := s.Instantiate(app)
		if err != nil {
			s.logger.Warn("health check build failed", "app_id", app.ID, "error", err)
			continue
		}
		if hc, ok := inst.HealthChecker(); ok {
			targets = append(targets, target{app: app, checker: hc})
		}
	}

	outcomes := fanout.Run(ctx, targets, fanout.Options{TaskTimeout: s.healthTimeout}, func(ctx context.Context, t target) error {
		return t.checker.CheckHealth(ctx)
	})

	var report HealthReport
	for _, o := range outcomes {
		app := o.Item.app
		report.Checked++
		s.metrics.ObserveAppCall("health", o.Err, o.Duration)
		next := StatusConnected
		if o.Err != nil {
			next = StatusFailed
			s.logger.Warn("connected app unhealthy", "app_id", app.ID, "app", app.Name, "error", o.Err)
		}
		if err := s.UpdateStatus(ctx, app.ID, next); err != nil && !errors.Is(err, ErrAppNotFound) {
			s.logger.Error("health status update failed", "app_id", app.ID, "error", err)
			continue
		}
		switch {
		case next == StatusFailed && app.Status != StatusFailed:
			report.Failed = append(report.Failed, app.ID)
		case next == StatusConnected && app.Status == StatusFailed:
			report.Recovered = append(report.Recovered, app.ID)
		}
		if next == StatusConnected {
			report.Healthy++
		}
	}
	return report, nil
}
