package bootstrap

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/commlog"
	appconfig "github.com/wolfman30/medspa-scheduling/internal/config"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/bedrock"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/canned"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/gemini"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/googlecalendar"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/livefeed"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/logarchive"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/sendgrid"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/ses"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/sqshook"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/twilio"
	"github.com/wolfman30/medspa-scheduling/internal/integrations/webhook"
	"github.com/wolfman30/medspa-scheduling/internal/settings"
)

// errNoResponder is returned when no text-message-respond app is connected.
var errNoResponder = errors.New("bootstrap: no text responder connected")

// AWSClients holds the SDK clients handed to AWS-backed apps. Nil fields leave
// the matching app registered but unbuildable.
type AWSClients struct {
	SES     ses.API
	SQS     sqshook.API
	S3      logarchive.S3API
	Bedrock bedrock.ConverseAPI
}

// NewAWSClients builds every AWS client from one SDK config.
func NewAWSClients(awsCfg aws.Config, cfg *appconfig.Config) AWSClients {
	pathStyle := cfg != nil && cfg.AWSEndpointOverride != ""
	return AWSClients{
		SES: sesv2.NewFromConfig(awsCfg),
		SQS: sqs.NewFromConfig(awsCfg),
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = pathStyle
		}),
		Bedrock: bedrockruntime.NewFromConfig(awsCfg),
	}
}

// IntegrationDeps are the shared pieces some app descriptors close over.
type IntegrationDeps struct {
	Logs      commlog.Store
	Hub       *livefeed.Hub
	Responder twilio.ResponderLookup
}

// BuildDescriptors returns every app the registry knows how to build.
func BuildDescriptors(cfg *appconfig.Config, clients AWSClients, deps IntegrationDeps) []apps.Descriptor {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	return []apps.Descriptor{
		sendgrid.Descriptor(sendgrid.Config{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}),
		ses.Descriptor(clients.SES, ses.Config{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}),
		twilio.Descriptor(twilio.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
		}, twilio.Deps{
			Logs:          deps.Logs,
			Responder:     deps.Responder,
			PublicBaseURL: base,
		}),
		bedrock.Descriptor(clients.Bedrock, bedrock.Config{ModelID: cfg.BedrockModelID}),
		gemini.Descriptor(gemini.Config{
			APIKey:  cfg.GeminiAPIKey,
			ModelID: cfg.GeminiModelID,
		}),
		canned.Descriptor(),
		webhook.Descriptor(),
		sqshook.Descriptor(clients.SQS),
		logarchive.Descriptor(clients.S3, deps.Logs, cfg.ArchiveBucket),
		livefeed.Descriptor(deps.Hub),
		googlecalendar.Descriptor(googlecalendar.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  base + "/apps/oauth/" + googlecalendar.Name + "/redirect",
		}),
	}
}

// responderSource is the subset of apps.Service the responder lookup needs.
type responderSource interface {
	Get(ctx context.Context, id string) (*apps.ConnectedApp, error)
	ListByScope(ctx context.Context, scope apps.Scope, statuses ...apps.Status) ([]*apps.ConnectedApp, error)
	Instantiate(app *apps.ConnectedApp) (*apps.Instance, error)
}

// ResponderLookup resolves the app answering inbound texts: the one named in
// the communications settings when it is connected, else the first connected
// text-message-respond app.
func ResponderLookup(source responderSource, provider settings.Provider) twilio.ResponderLookup {
	return func(ctx context.Context) (apps.TextResponder, string, error) {
		comms, err := provider.Communications(ctx)
		if err != nil {
			return nil, "", err
		}
		if id := strings.TrimSpace(comms.ResponderAppID); id != "" {
			app, err := source.Get(ctx, id)
			if err == nil && app.Status == apps.StatusConnected {
				if responder, ok := instantiateResponder(source, app); ok {
					return responder, app.ID, nil
				}
			}
		}

		candidates, err := source.ListByScope(ctx, apps.ScopeTextMessageRespond, apps.StatusConnected)
		if err != nil {
			return nil, "", err
		}
		for _, app := range candidates {
			if responder, ok := instantiateResponder(source, app); ok {
				return responder, app.ID, nil
			}
		}
		return nil, "", errNoResponder
	}
}

func instantiateResponder(source responderSource, app *apps.ConnectedApp) (apps.TextResponder, bool) {
	inst, err := source.Instantiate(app)
	if err != nil {
		return nil, false
	}
	return inst.TextResponder()
}
