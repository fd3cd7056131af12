// Package gemini answers inbound text messages with a Google Gemini model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Name is the descriptor name.
const Name = "gemini-responder"

const defaultModel = "gemini-2.5-flash"

var tracer = otel.Tracer("medspa.internal.integrations.gemini")

// Config is the per-app data.
type Config struct {
	APIKey       string `json:"api_key,omitempty"`
	ModelID      string `json:"model_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxTokens    int32  `json:"max_tokens,omitempty"`
}

// Generator produces one reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, cfg Config, text string) (string, error)
}

// Responder is a text-message-respond app backed by Gemini.
type Responder struct {
	gen    Generator
	cfg    Config
	logger *logging.Logger
}

// Descriptor returns the app definition. Clients are shared per API key since
// app instances are rebuilt on every call.
func Descriptor(defaults Config) apps.Descriptor {
	clients := newClientPool()
	return apps.Descriptor{
		Name:   Name,
		Label:  "Google Gemini SMS responder",
		Scopes: []apps.Scope{apps.ScopeTextMessageRespond},
		Build: func(app *apps.ConnectedApp, env apps.Env) (any, error) {
			cfg := defaults
			if err := app.DecodeData(&cfg); err != nil {
				return nil, err
			}
			if strings.TrimSpace(cfg.APIKey) == "" {
				return nil, errors.New("gemini: api key is required")
			}
			return NewResponder(clients, cfg, env.Logger), nil
		},
	}
}

// NewResponder creates a responder.
func NewResponder(gen Generator, cfg Config, logger *logging.Logger) *Responder {
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Responder{gen: gen, cfg: cfg, logger: logger}
}

// Respond sends the inbound body as a single user turn.
func (r *Responder) Respond(ctx context.Context, in apps.InboundText) (string, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return "", nil
	}

	ctx, span := tracer.Start(ctx, "gemini.respond", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("medspa.model_id", r.cfg.ModelID))

	reply, err := r.gen.Generate(ctx, r.cfg, body)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	r.logger.Info("gemini reply generated", "model", r.cfg.ModelID)
	return strings.TrimSpace(reply), nil
}

// clientPool lazily creates one genai client per API key.
type clientPool struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
}

func newClientPool() *clientPool {
	return &clientPool{clients: make(map[string]*genai.Client)}
}

func (p *clientPool) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[apiKey]; ok {
		return c, nil
	}
	// The client outlives the request that created it.
	c, err := genai.NewClient(context.WithoutCancel(ctx), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	p.clients[apiKey] = c
	return c, nil
}

func (p *clientPool) Generate(ctx context.Context, cfg Config, text string) (string, error) {
	c, err := p.client(ctx, cfg.APIKey)
	if err != nil {
		return "", err
	}
	model := c.GenerativeModel(cfg.ModelID)
	model.SetMaxOutputTokens(cfg.MaxTokens)
	if prompt := strings.TrimSpace(cfg.SystemPrompt); prompt != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(prompt))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini: returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("gemini: returned empty content")
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New("gemini: response contained no text")
	}
	return b.String(), nil
}

var _ apps.TextResponder = (*Responder)(nil)
