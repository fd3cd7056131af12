// Package ses exposes AWS SES as a mail-send app.
package ses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Name is the descriptor name.
const Name = "ses"

// API is the subset of the SES client the sender uses.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Config holds the sender identity. Per-app data may override it.
type Config struct {
	FromEmail string `json:"from_email,omitempty"`
	FromName  string `json:"from_name,omitempty"`
}

// Sender sends emails via AWS SES.
type Sender struct {
	client    API
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// Descriptor returns the app definition. client is shared by every SES app.
func Descriptor(client API, cfg Config) apps.Descriptor {
	return apps.Descriptor{
		Name:   Name,
		Label:  "Amazon SES",
		Scopes: []apps.Scope{apps.ScopeMailSend},
		Build: func(app *apps.ConnectedApp, env apps.Env) (any, error) {
			if client == nil {
				return nil, fmt.Errorf("ses: client not configured")
			}
			merged := cfg
			if err := app.DecodeData(&merged); err != nil {
				return nil, err
			}
			if merged.FromEmail == "" {
				return nil, fmt.Errorf("ses: from_email required")
			}
			return NewSender(client, merged, env.Logger), nil
		},
	}
}

// NewSender creates an SES sender.
func NewSender(client API, cfg Config, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "MedSpa Scheduling"
	}
	return &Sender{client: client, fromEmail: cfg.FromEmail, fromName: cfg.FromName, logger: logger}
}

func utf8(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// SendMail sends msg to all recipients.
func (s *Sender) SendMail(ctx context.Context, msg apps.MailMessage) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("ses: no recipients")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: utf8(msg.Subject),
				Body:    &types.Body{},
			},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = utf8(msg.Text)
	}
	if msg.HTML != "" {
		input.Content.Simple.Body.Html = utf8(msg.HTML)
	}

	output, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("SES send failed", "error", err, "appointment_id", msg.AppointmentID)
		return fmt.Errorf("ses: send failed: %w", err)
	}

	s.logger.Info("email sent via SES", "appointment_id", msg.AppointmentID, "subject", msg.Subject, "message_id", aws.ToString(output.MessageId))
	return nil
}

var _ apps.MailSender = (*Sender)(nil)
