// Package canned is a text-message-respond app that answers from a fixed
// keyword table.
package canned

import (
	"context"
	"sort"
	"strings"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
)

// Name is the descriptor name.
const Name = "canned-responder"

// Config is the per-app data. Keywords are matched case-insensitively as
// substrings of the inbound body, longest keyword first.
type Config struct {
	Keywords map[string]string `json:"keywords,omitempty"`
	Fallback string            `json:"fallback,omitempty"`
}

// Responder replies from Config.
type Responder struct {
	keys     []string
	replies  map[string]string
	fallback string
}

// Descriptor returns the app definition.
func Descriptor() apps.Descriptor {
	return apps.Descriptor{
		Name:   Name,
		Label:  "Canned SMS replies",
		Scopes: []apps.Scope{apps.ScopeTextMessageRespond},
		Build: func(app *apps.ConnectedApp, _ apps.Env) (any, error) {
			var cfg Config
			if err := app.DecodeData(&cfg); err != nil {
				return nil, err
			}
			return New(cfg), nil
		},
	}
}

// New builds a responder from cfg.
func New(cfg Config) *Responder {
	r := &Responder{replies: make(map[string]string, len(cfg.Keywords)), fallback: cfg.Fallback}
	for k, v := range cfg.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		r.keys = append(r.keys, k)
		r.replies[k] = v
	}
	sort.Slice(r.keys, func(i, j int) bool {
		if len(r.keys[i]) != len(r.keys[j]) {
			return len(r.keys[i]) > len(r.keys[j])
		}
		return r.keys[i] < r.keys[j]
	})
	return r
}

func (r *Responder) Respond(_ context.Context, in apps.InboundText) (string, error) {
	body := strings.ToLower(in.Body)
	for _, k := range r.keys {
		if strings.Contains(body, k) {
			return r.replies[k], nil
		}
	}
	return r.fallback, nil
}

var _ apps.TextResponder = (*Responder)(nil)
