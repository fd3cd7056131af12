package apps

import (
	"context"
	"encoding/json"
)

// ListFilter narrows a listing. Zero fields match everything.
type ListFilter struct {
	Name     string
	Scope    Scope
	Statuses []Status
}

func (f ListFilter) matches(app *ConnectedApp) bool {
	if f.Name != "" && app.Name != f.Name {
		return false
	}
	if f.Scope != "" && !app.HasScope(f.Scope) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if app.Status == s {
			return true
		}
	}
	return false
}

// Store persists connected apps. Listings are ordered oldest first.
type Store interface {
	Insert(ctx context.Context, app *ConnectedApp) error
	Get(ctx context.Context, id string) (*ConnectedApp, error)
	List(ctx context.Context, filter ListFilter) ([]*ConnectedApp, error)
	// UpdateStatus is a conditional write; changed is false when the app
	// already had the status.
	UpdateStatus(ctx context.Context, id string, status Status) (changed bool, err error)
	UpdateData(ctx context.Context, id string, data json.RawMessage) error
	Delete(ctx context.Context, id string) error
}

// Guard vetoes deletion of an app that is still referenced. It returns true
// when the app is in use.
type Guard interface {
	AppInUse(ctx context.Context, appID string) (bool, error)
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(ctx context.Context, appID string) (bool, error)

func (f GuardFunc) AppInUse(ctx context.Context, appID string) (bool, error) {
	return f(ctx, appID)
}
