package sendgrid

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medspa-scheduling/internal/apps"
)

type fakeClient struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (f *fakeClient) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, m)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendMailAddsEveryRecipient(t *testing.T) {
	client := &fakeClient{status: 202}
	s := newSender(client, Config{FromEmail: "spa@example.com"}, nil)

	err := s.SendMail(context.Background(), apps.MailMessage{
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "Reminder",
		Text:    "see you soon",
	})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)

	m := client.sent[0]
	assert.Equal(t, "spa@example.com", m.From.Address)
	assert.Equal(t, "MedSpa Scheduling", m.From.Name)
	require.Len(t, m.Personalizations[0].To, 2)
	assert.Equal(t, "b@example.com", m.Personalizations[0].To[1].Address)
}

func TestSendMailErrors(t *testing.T) {
	s := newSender(&fakeClient{status: 401}, Config{}, nil)
	assert.ErrorContains(t, s.SendMail(context.Background(), apps.MailMessage{To: []string{"a@example.com"}}), "status 401")

	s = newSender(&fakeClient{err: errors.New("dial")}, Config{}, nil)
	assert.ErrorContains(t, s.SendMail(context.Background(), apps.MailMessage{To: []string{"a@example.com"}}), "dial")

	assert.Error(t, s.SendMail(context.Background(), apps.MailMessage{}))
}

func TestDescriptorBuild(t *testing.T) {
	d := Descriptor(Config{FromEmail: "spa@example.com"})
	assert.Equal(t, []apps.Scope{apps.ScopeMailSend}, d.Scopes)

	_, err := d.Build(&apps.ConnectedApp{ID: "a1", Name: Name}, apps.Env{})
	assert.ErrorContains(t, err, "api key")

	impl, err := d.Build(&apps.ConnectedApp{ID: "a1", Name: Name, Data: json.RawMessage(`{"api_key":"SG.x"}`)}, apps.Env{})
	require.NoError(t, err)
	assert.Implements(t, (*apps.MailSender)(nil), impl)
}
