// Package bedrock answers inbound text messages with an Amazon Bedrock model.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Name is the descriptor name.
const Name = "bedrock-responder"

var tracer = otel.Tracer("medspa.internal.integrations.bedrock")

const defaultSystemPrompt = "You are the front desk of a med spa replying by SMS. " +
	"Answer in at most two short sentences. Never confirm or change bookings; " +
	"point the customer to the booking link instead."

// ConverseAPI is the subset of the Bedrock runtime client the responder uses.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Config is the per-app data.
type Config struct {
	ModelID      string `json:"model_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxTokens    int32  `json:"max_tokens,omitempty"`
}

// Responder is a text-message-respond app backed by Bedrock Converse.
type Responder struct {
	api    ConverseAPI
	cfg    Config
	logger *logging.Logger
}

// Descriptor returns the app definition; defaults apply when app data omits a field.
func Descriptor(api ConverseAPI, defaults Config) apps.Descriptor {
	return apps.Descriptor{
		Name:   Name,
		Label:  "Amazon Bedrock SMS responder",
		Scopes: []apps.Scope{apps.ScopeTextMessageRespond},
		Build: func(app *apps.ConnectedApp, env apps.Env) (any, error) {
			if api == nil {
				return nil, errors.New("bedrock: client not configured")
			}
			cfg := defaults
			if err := app.DecodeData(&cfg); err != nil {
				return nil, err
			}
			return NewResponder(api, cfg, env.Logger)
		},
	}
}

// NewResponder validates cfg and creates a responder.
func NewResponder(api ConverseAPI, cfg Config, logger *logging.Logger) (*Responder, error) {
	if strings.TrimSpace(cfg.ModelID) == "" {
		return nil, errors.New("bedrock: model id is required")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Responder{api: api, cfg: cfg, logger: logger}, nil
}

// Respond sends the inbound body as a single user turn.
func (r *Responder) Respond(ctx context.Context, in apps.InboundText) (string, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return "", nil
	}

	ctx, span := tracer.Start(ctx, "bedrock.respond")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.model_id", r.cfg.ModelID))

	out, err := r.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(r.cfg.ModelID),
		System: []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: r.cfg.SystemPrompt},
		},
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: body}},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(r.cfg.MaxTokens)},
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("bedrock: converse: %w", err)
	}

	text, err := outputText(out)
	if err != nil {
		return "", err
	}
	r.logger.Info("bedrock reply generated", "stop_reason", string(out.StopReason))
	return strings.TrimSpace(text), nil
}

func outputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("bedrock: response is nil")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock: response did not include a message output")
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New("bedrock: response contained no text")
	}
	return b.String(), nil
}

var _ apps.TextResponder = (*Responder)(nil)
