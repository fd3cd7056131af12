// Package twilio exposes Twilio Programmable Messaging as a text-message-send
// app with an inbound webhook that answers through a text-message-respond app.
package twilio

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/commlog"
)

// Name is the descriptor name.
const Name = "twilio"

// Config holds platform defaults. Per-app data may override any field.
type Config struct {
	AccountSID string `json:"account_sid,omitempty"`
	AuthToken  string `json:"auth_token,omitempty"`
	FromNumber string `json:"from_number,omitempty"`
	// WebhookURL is the public URL Twilio posts to; it is part of the signed
	// payload. When empty it is derived from PublicBaseURL and the app id.
	WebhookURL string `json:"webhook_url,omitempty"`
	// SkipSignature disables inbound signature checks (local development).
	SkipSignature bool `json:"skip_signature,omitempty"`
}

// ResponderLookup returns the text-message-respond app that should answer
// inbound messages and its id. A nil responder means nobody answers.
type ResponderLookup func(ctx context.Context) (apps.TextResponder, string, error)

// Deps are the platform services the app needs for inbound traffic.
type Deps struct {
	Logs          commlog.Store
	Responder     ResponderLookup
	PublicBaseURL string
}

// App is a built Twilio connected app.
type App struct {
	*Sender
	*Inbound
}

// Descriptor returns the app definition.
func Descriptor(cfg Config, deps Deps) apps.Descriptor {
	return apps.Descriptor{
		Name:   Name,
		Label:  "Twilio SMS",
		Scopes: []apps.Scope{apps.ScopeTextMessageSend},
		Build: func(app *apps.ConnectedApp, env apps.Env) (any, error) {
			merged := cfg
			if err := app.DecodeData(&merged); err != nil {
				return nil, err
			}
			if merged.AccountSID == "" || merged.AuthToken == "" {
				return nil, fmt.Errorf("twilio: credentials missing")
			}
			if merged.WebhookURL == "" && deps.PublicBaseURL != "" {
				merged.WebhookURL = strings.TrimRight(deps.PublicBaseURL, "/") + "/apps/" + app.ID + "/webhook"
			}
			return &App{
				Sender:  NewSender(merged.AccountSID, merged.AuthToken, merged.FromNumber, env.Logger),
				Inbound: newInbound(app.ID, merged, deps, env.Logger),
			}, nil
		},
	}
}
