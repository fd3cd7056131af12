package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

var sendTracer = otel.Tracer("medspa.internal.integrations.twilio")

const (
	defaultAPIBase = "https://api.twilio.com"
	maxAttempts    = 3
)

// Sender posts SMS messages using Twilio's REST API.
type Sender struct {
	accountSID string
	authToken  string
	from       string
	apiBase    string
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
	logger     *logging.Logger
}

// NewSender builds a sender with a 10s client timeout.
func NewSender(accountSID, authToken, defaultFrom string, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       defaultFrom,
		apiBase:    defaultAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		backoff: func(int) time.Duration {
			return time.Duration(200+rand.Intn(300)) * time.Millisecond
		},
		logger: logger,
	}
}

// SendText dispatches a single SMS, retrying transient failures.
func (s *Sender) SendText(ctx context.Context, msg apps.TextMessage) error {
	if msg.To == "" {
		return errors.New("twilio: to required")
	}
	if msg.From == "" {
		msg.From = s.from
	}
	if msg.From == "" {
		return errors.New("twilio: from required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("twilio: body required")
	}

	ctx, span := sendTracer.Start(ctx, "twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.appointment_id", msg.AppointmentID))

	payload := url.Values{}
	payload.Set("To", msg.To)
	payload.Set("From", msg.From)
	payload.Set("Body", msg.Body)
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.apiBase, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retry, err := s.post(ctx, endpoint, payload)
		if err == nil {
			s.logger.Info("twilio sms sent", "appointment_id", msg.AppointmentID, "attempt", attempt)
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				return ctx.Err()
			case <-time.After(s.backoff(attempt)):
			}
		}
	}

	span.RecordError(lastErr)
	return lastErr
}

// post sends one request and reports whether a failure is worth retrying.
func (s *Sender) post(ctx context.Context, endpoint string, payload url.Values) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return false, err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	err = fmt.Errorf("twilio: send failed: %s", formatError(resp.StatusCode, body))
	// 4xx other than rate limiting will not get better on retry.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return false, err
	}
	return true, err
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func formatError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed apiError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}

var _ apps.TextSender = (*Sender)(nil)
