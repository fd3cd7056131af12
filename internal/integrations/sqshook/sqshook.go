// Package sqshook forwards appointment events to an SQS queue so downstream
// consumers can process them durably.
package sqshook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/events"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Name is the descriptor name.
const Name = "sqs-hook"

// API is the subset of the SQS client the hook uses.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Config is the per-app data.
type Config struct {
	QueueURL string `json:"queue_url"`
}

// Hook sends each event envelope as one message.
type Hook struct {
	client   API
	queueURL string
	logger   *logging.Logger
}

// Descriptor returns the app definition. client is shared by every SQS hook.
func Descriptor(client API) apps.Descriptor {
	return apps.Descriptor{
		Name:   Name,
		Label:  "Amazon SQS event queue",
		Scopes: []apps.Scope{apps.ScopeAppointmentHook},
		Build: func(app *apps.ConnectedApp, env apps.Env) (any, error) {
			if client == nil {
				return nil, errors.New("sqshook: client not configured")
			}
			var cfg Config
			if err := app.DecodeData(&cfg); err != nil {
				return nil, err
			}
			if cfg.QueueURL == "" {
				return nil, errors.New("sqshook: queue_url required")
			}
			logger := env.Logger
			if logger == nil {
				logger = logging.Default()
			}
			return &Hook{client: client, queueURL: cfg.QueueURL, logger: logger}, nil
		},
	}
}

func (h *Hook) OnAppointmentCreated(ctx context.Context, evt events.AppointmentCreatedV1) error {
	return h.send(ctx, events.Event{Type: events.TypeAppointmentCreated, Created: &evt})
}

func (h *Hook) OnAppointmentStatusChanged(ctx context.Context, evt events.AppointmentStatusChangedV1) error {
	return h.send(ctx, events.Event{Type: events.TypeAppointmentStatusChanged, StatusChanged: &evt})
}

func (h *Hook) OnAppointmentRescheduled(ctx context.Context, evt events.AppointmentRescheduledV1) error {
	return h.send(ctx, events.Event{Type: events.TypeAppointmentRescheduled, Rescheduled: &evt})
}

func (h *Hook) send(ctx context.Context, evt events.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("sqshook: marshal: %w", err)
	}
	out, err := h.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(evt.Type))},
			"event_id":   {DataType: aws.String("String"), StringValue: aws.String(evt.ID())},
		},
	})
	if err != nil {
		return fmt.Errorf("sqshook: failed to send SQS message: %w", err)
	}
	h.logger.Debug("event queued", "event", evt.Type, "message_id", aws.ToString(out.MessageId))
	return nil
}

// CheckHealth verifies the queue still exists and is reachable.
func (h *Hook) CheckHealth(ctx context.Context) error {
	_, err := h.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(h.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("sqshook: queue unreachable: %w", err)
	}
	return nil
}

var (
	_ apps.CreatedHook       = (*Hook)(nil)
	_ apps.StatusChangedHook = (*Hook)(nil)
	_ apps.RescheduledHook   = (*Hook)(nil)
	_ apps.HealthChecker     = (*Hook)(nil)
)
