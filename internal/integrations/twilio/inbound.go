package twilio

import (
	"context"
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/commlog"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Inbound answers Twilio's incoming-message webhook.
type Inbound struct {
	appID  string
	cfg    Config
	deps   Deps
	now    func() time.Time
	logger *logging.Logger
}

func newInbound(appID string, cfg Config, deps Deps, logger *logging.Logger) *Inbound {
	if logger == nil {
		logger = logging.Default()
	}
	return &Inbound{appID: appID, cfg: cfg, deps: deps, now: time.Now, logger: logger}
}

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// ProcessWebhook logs the inbound SMS, asks the responder for a reply and
// returns it as TwiML.
func (in *Inbound) ProcessWebhook(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
		return nil
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error": "invalid form"}`, http.StatusBadRequest)
		return nil
	}
	if !in.cfg.SkipSignature && !ValidSignature(r, in.cfg.AuthToken, in.cfg.WebhookURL) {
		in.logger.Warn("twilio signature rejected")
		http.Error(w, `{"error": "invalid signature"}`, http.StatusForbidden)
		return nil
	}

	msg := apps.InboundText{
		From:       r.PostForm.Get("From"),
		To:         r.PostForm.Get("To"),
		Body:       r.PostForm.Get("Body"),
		ReceivedAt: in.now().UTC(),
	}
	in.logger.Info("inbound sms received", "message_sid", r.PostForm.Get("MessageSid"))
	in.log(ctx, commlog.DirectionInbound, msg.From, msg.To, msg.Body, msg.ReceivedAt)

	reply := in.reply(ctx, msg)
	if reply != "" {
		in.log(ctx, commlog.DirectionOutbound, msg.To, msg.From, reply, in.now().UTC())
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	return xml.NewEncoder(w).Encode(twiml{Message: reply})
}

func (in *Inbound) reply(ctx context.Context, msg apps.InboundText) string {
	if in.deps.Responder == nil {
		return ""
	}
	responder, responderID, err := in.deps.Responder(ctx)
	if err != nil {
		in.logger.Error("responder lookup failed", "error", err)
		return ""
	}
	if responder == nil {
		return ""
	}
	text, err := responder.Respond(ctx, msg)
	if err != nil {
		in.logger.Error("responder failed", "responder_app_id", responderID, "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

func (in *Inbound) log(ctx context.Context, dir commlog.Direction, from, to, text string, at time.Time) {
	if in.deps.Logs == nil {
		return
	}
	entry := &commlog.Entry{
		Channel:   commlog.ChannelSMS,
		Direction: dir,
		From:      from,
		To:        []string{to},
		Text:      text,
		AppID:     in.appID,
		DateTime:  at,
	}
	if err := in.deps.Logs.Append(ctx, entry); err != nil {
		in.logger.Error("communication log append failed", "direction", dir, "error", err)
	}
}

var _ apps.WebhookProcessor = (*Inbound)(nil)
