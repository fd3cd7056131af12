package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medspa-scheduling/internal/apps"
)

func newTestSender(t *testing.T, handler http.HandlerFunc) *Sender {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := NewSender("AC123", "secret", "+15550000000", nil)
	s.apiBase = srv.URL
	s.backoff = func(int) time.Duration { return 0 }
	return s
}

func TestSendTextPostsForm(t *testing.T) {
	var got *http.Request
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	})

	err := s.SendText(context.Background(), apps.TextMessage{To: "+15551112222", Body: "hello"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", got.URL.Path)
	assert.Equal(t, "+15550000000", got.PostForm.Get("From"))
	assert.Equal(t, "hello", got.PostForm.Get("Body"))
	user, pass, ok := got.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "AC123", user)
	assert.Equal(t, "secret", pass)
}

func TestSendTextRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, s.SendText(context.Background(), apps.TextMessage{To: "+1555", Body: "hi"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendTextDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	})

	err := s.SendText(context.Background(), apps.TextMessage{To: "bad", Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 21211")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendTextValidates(t *testing.T) {
	s := NewSender("AC1", "tok", "", nil)
	assert.ErrorContains(t, s.SendText(context.Background(), apps.TextMessage{Body: "x"}), "to required")
	assert.ErrorContains(t, s.SendText(context.Background(), apps.TextMessage{To: "+1", Body: "x"}), "from required")
	assert.ErrorContains(t, s.SendText(context.Background(), apps.TextMessage{To: "+1", From: "+2", Body: "  "}), "body required")
}

func TestFormatError(t *testing.T) {
	assert.Equal(t, "status 500", formatError(500, nil))
	assert.Equal(t, "status 502: bad gateway", formatError(502, []byte("bad gateway")))
	assert.Equal(t, "status 429: slow down", formatError(429, []byte(`{"message":"slow down"}`)))
}
