// Package sendgrid exposes SendGrid as a mail-send app.
package sendgrid

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Name is the descriptor name.
const Name = "sendgrid"

// Config holds the platform defaults. Per-app data may override any field.
type Config struct {
	APIKey    string `json:"api_key,omitempty"`
	FromEmail string `json:"from_email,omitempty"`
	FromName  string `json:"from_name,omitempty"`
}

type sendClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Sender sends emails via the SendGrid API.
type Sender struct {
	client    sendClient
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// Descriptor returns the app definition built on cfg.
func Descriptor(cfg Config) apps.Descriptor {
	return apps.Descriptor{
		Name:   Name,
		Label:  "SendGrid",
		Scopes: []apps.Scope{apps.ScopeMailSend},
		Build: func(app *apps.ConnectedApp, env apps.Env) (any, error) {
			merged := cfg
			if err := app.DecodeData(&merged); err != nil {
				return nil, err
			}
			if merged.APIKey == "" {
				return nil, fmt.Errorf("sendgrid: api key not configured")
			}
			return newSender(sg.NewSendClient(merged.APIKey), merged, env.Logger), nil
		},
	}
}

func newSender(client sendClient, cfg Config, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "MedSpa Scheduling"
	}
	return &Sender{client: client, fromEmail: cfg.FromEmail, fromName: cfg.FromName, logger: logger}
}

// SendMail sends msg to every recipient in one request.
func (s *Sender) SendMail(ctx context.Context, msg apps.MailMessage) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("sendgrid: no recipients")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To[0])

	html := msg.HTML
	if html == "" {
		html = msg.Text
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, html)
	for _, extra := range msg.To[1:] {
		message.Personalizations[0].AddTos(mail.NewEmail("", extra))
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", strings.Join(msg.To, ","))
		return fmt.Errorf("sendgrid: send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
		return fmt.Errorf("sendgrid: returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "appointment_id", msg.AppointmentID, "subject", msg.Subject, "status", response.StatusCode)
	return nil
}

var _ apps.MailSender = (*Sender)(nil)
