package apps

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Env is handed to a descriptor when it builds an implementation for a stored app.
type Env struct {
	Logger *logging.Logger
	// SaveData persists a new data blob for the app being built. Webhook and
	// scheduled implementations use it to keep provider state.
	SaveData func(ctx context.Context, data json.RawMessage) error
}

// BuildFunc constructs the implementation behind a connected app. The returned
// value is type-asserted against the capability interfaces.
type BuildFunc func(app *ConnectedApp, env Env) (any, error)

// Descriptor is the static definition of an app kind.
type Descriptor struct {
	Name   string
	Label  string
	Scopes []Scope
	Build  BuildFunc
}

// Registry maps descriptor names to descriptors.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry creates a registry with the given descriptors.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a descriptor. Names must be unique and scopes known.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("apps: register: descriptor name required")
	}
	if d.Build == nil {
		return fmt.Errorf("apps: register %s: build func required", d.Name)
	}
	for _, s := range d.Scopes {
		if _, ok := knownScopes[s]; !ok {
			return fmt.Errorf("apps: register %s: %w: %q", d.Name, ErrInvalidScope, s)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.descriptors[d.Name]; dup {
		return fmt.Errorf("apps: register: duplicate descriptor %q", d.Name)
	}
	d.Scopes = sortedScopes(d.Scopes)
	r.descriptors[d.Name] = d
	return nil
}

// Resolve returns the descriptor registered under name.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrDescriptorNotFound, name)
	}
	return d, nil
}

// Descriptors lists registered descriptors ordered by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateScopes checks that scopes is a subset of the descriptor's declared
// scopes. An empty request resolves to the full declared set.
func (r *Registry) ValidateScopes(name string, scopes []Scope) ([]Scope, error) {
	d, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return append([]Scope(nil), d.Scopes...), nil
	}
	for _, s := range scopes {
		if !HasScope(d.Scopes, s) {
			return nil, fmt.Errorf("%w: %s does not declare %q", ErrInvalidScope, name, s)
		}
	}
	return sortedScopes(scopes), nil
}

// Instantiate builds the implementation for a stored app.
func (r *Registry) Instantiate(app *ConnectedApp, env Env) (*Instance, error) {
	d, err := r.Resolve(app.Name)
	if err != nil {
		return nil, err
	}
	if env.Logger == nil {
		env.Logger = logging.Default()
	}
	env.Logger = env.Logger.With("app_id", app.ID, "app", app.Name)
	if env.SaveData == nil {
		env.SaveData = func(context.Context, json.RawMessage) error { return nil }
	}
	impl, err := d.Build(app.clone(), env)
	if err != nil {
		return nil, fmt.Errorf("apps: build %s: %w", app.Name, err)
	}
	return &Instance{App: app.clone(), Descriptor: d, impl: impl}, nil
}

// Instance is a built connected app. Accessors only succeed when the app
// holds the scope and the implementation satisfies the interface.
type Instance struct {
	App        *ConnectedApp
	Descriptor Descriptor
	impl       any
}

func capability[T any](inst *Instance, scope Scope) (T, bool) {
	var zero T
	if inst == nil || !inst.App.HasScope(scope) {
		return zero, false
	}
	v, ok := inst.impl.(T)
	return v, ok
}

func (i *Instance) CalendarSource() (CalendarSource, bool) {
	return capability[CalendarSource](i, ScopeCalendarRead)
}

func (i *Instance) CalendarSink() (CalendarSink, bool) {
	return capability[CalendarSink](i, ScopeCalendarWrite)
}

func (i *Instance) MailSender() (MailSender, bool) {
	return capability[MailSender](i, ScopeMailSend)
}

func (i *Instance) TextSender() (TextSender, bool) {
	return capability[TextSender](i, ScopeTextMessageSend)
}

func (i *Instance) TextResponder() (TextResponder, bool) {
	return capability[TextResponder](i, ScopeTextMessageRespond)
}

// AppointmentHook returns the implementation when it handles at least one
// appointment event.
func (i *Instance) AppointmentHook() (any, bool) {
	if i == nil || !i.App.HasScope(ScopeAppointmentHook) {
		return nil, false
	}
	switch i.impl.(type) {
	case CreatedHook, StatusChangedHook, RescheduledHook:
		return i.impl, true
	}
	return nil, false
}

func (i *Instance) ScheduledTask() (ScheduledTask, bool) {
	return capability[ScheduledTask](i, ScopeScheduled)
}

// WebhookProcessor and OAuthCompleter are not scope gated; any descriptor may
// expose them.
func (i *Instance) WebhookProcessor() (WebhookProcessor, bool) {
	if i == nil {
		return nil, false
	}
	p, ok := i.impl.(WebhookProcessor)
	return p, ok
}

func (i *Instance) OAuthCompleter() (OAuthCompleter, bool) {
	if i == nil {
		return nil, false
	}
	c, ok := i.impl.(OAuthCompleter)
	return c, ok
}

func (i *Instance) HealthChecker() (HealthChecker, bool) {
	if i == nil {
		return nil, false
	}
	h, ok := i.impl.(HealthChecker)
	return h, ok
}
