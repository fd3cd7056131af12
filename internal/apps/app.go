package apps

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a connected app.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConnected Status = "connected"
	StatusFailed    Status = "failed"
)

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusConnected, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// ConnectedApp is a configured integration instance. Scopes never change after
// creation; Data is opaque to the core and owned by the descriptor.
type ConnectedApp struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Scopes    []Scope         `json:"scopes"`
	Status    Status          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HasScope reports whether the app holds s.
func (a *ConnectedApp) HasScope(s Scope) bool {
	return a != nil && HasScope(a.Scopes, s)
}

// DecodeData unmarshals the app's opaque data into v. Empty data leaves v untouched.
func (a *ConnectedApp) DecodeData(v any) error {
	if a == nil || len(a.Data) == 0 || string(a.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(a.Data, v); err != nil {
		return fmt.Errorf("apps: decode data for %s: %w", a.ID, err)
	}
	return nil
}

func (a *ConnectedApp) clone() *ConnectedApp {
	if a == nil {
		return nil
	}
	out := *a
	out.Scopes = append([]Scope(nil), a.Scopes...)
	if a.Data != nil {
		out.Data = append(json.RawMessage(nil), a.Data...)
	}
	return &out
}
